package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ruralpay/agentdesk/internal/models"
)

// maxTextBytes caps the response text stored with a ledger entry.
const maxTextBytes = 2048

// Envelope is the dashboard's response shape.
type Envelope struct {
	Result       json.RawMessage `json:"result"`
	Notification []Notification  `json:"notification"`
}

type Notification struct {
	Content string `json:"content"`
	Type    string `json:"type,omitempty"`
}

// Record is one row of the statistics endpoint.
type Record struct {
	ID      json.Number `json:"id"`
	Login   string      `json:"login"`
	Balance json.Number `json:"balance"`
}

// Player is a resolved statistics record.
type Player struct {
	ID      int64
	Login   string
	Balance int64 // in cents
}

func (r Record) Player() (*Player, error) {
	id, err := strconv.ParseInt(r.ID.String(), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid player id %q: %w", r.ID, err)
	}
	p := &Player{ID: id, Login: r.Login}
	if r.Balance != "" {
		balance, err := models.ParseMinor(r.Balance.String())
		if err != nil {
			return nil, fmt.Errorf("invalid balance for player %d: %w", id, err)
		}
		p.Balance = balance
	}
	return p, nil
}

// Response is the outcome of one Call.
type Response struct {
	StatusCode int
	Body       Envelope
	Raw        []byte
	// Sent is true once the request may have reached the dashboard.
	Sent bool
	// Parsed is true when Raw decoded as an Envelope.
	Parsed bool
}

// Succeeded reports a 200 whose result is true or {"success": true}.
func (r *Response) Succeeded() bool {
	if r == nil || r.StatusCode != http.StatusOK || !r.Parsed {
		return false
	}
	result := bytes.TrimSpace(r.Body.Result)
	if bytes.Equal(result, []byte("true")) {
		return true
	}
	var flagged struct {
		Success bool `json:"success"`
	}
	if len(result) > 0 && result[0] == '{' && json.Unmarshal(result, &flagged) == nil {
		return flagged.Success
	}
	return false
}

// Ambiguous reports whether the dashboard may have acted on the request
// without telling us the outcome.
func (r *Response) Ambiguous() bool {
	if r == nil || !r.Sent {
		return false
	}
	if r.StatusCode == http.StatusTooManyRequests {
		return false
	}
	if r.StatusCode >= 500 {
		return true
	}
	return r.StatusCode >= 200 && r.StatusCode < 300 && !r.Parsed
}

// Message joins the notification contents, as the dashboard wrote them.
func (r *Response) Message() string {
	if r == nil {
		return ""
	}
	parts := make([]string, 0, len(r.Body.Notification))
	for _, n := range r.Body.Notification {
		if content := strings.TrimSpace(n.Content); content != "" {
			parts = append(parts, content)
		}
	}
	return strings.Join(parts, "; ")
}

// Records decodes result.records.
func (r *Response) Records() ([]Record, error) {
	var result struct {
		Records []Record `json:"records"`
	}
	if len(r.Body.Result) == 0 || bytes.Equal(bytes.TrimSpace(r.Body.Result), []byte("null")) {
		return nil, nil
	}
	if err := json.Unmarshal(r.Body.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}
	return result.Records, nil
}

// Text returns the raw body for ledger capture, bounded in size.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	limit := maxTextBytes
	if len(r.Raw) <= limit {
		return strings.ToValidUTF8(string(r.Raw), "\uFFFD")
	}
	for limit > 0 && !utf8.RuneStart(r.Raw[limit]) {
		limit--
	}
	return strings.ToValidUTF8(string(r.Raw[:limit]), "\uFFFD")
}

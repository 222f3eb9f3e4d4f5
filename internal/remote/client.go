// Package remote talks to the agent dashboard API over an authenticated
// session. Every call returns a Response, failures included, so callers can
// branch on status without special-casing faults.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/ruralpay/agentdesk/internal/models"
	"golang.org/x/time/rate"
)

// SentinelStatus is reported when no usable HTTP response was received.
const SentinelStatus = http.StatusInternalServerError

const (
	maxBodyBytes     = 4 << 20
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// Outcome classifies an HTTP status from the dashboard.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeSessionInvalid
	OutcomeRemoteError
	OutcomeTransport
)

// ClassifyStatus maps a status code to an Outcome.
func ClassifyStatus(statusCode int) Outcome {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return OutcomeOK
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return OutcomeSessionInvalid
	case statusCode == http.StatusTooManyRequests:
		return OutcomeTransport
	case statusCode >= 500:
		return OutcomeTransport
	default:
		return OutcomeRemoteError
	}
}

// Endpoints holds the dashboard paths, relative to the base URL.
type Endpoints struct {
	SignIn       string
	CreatePlayer string
	PlayerStats  string
	Deposit      string
	Withdraw     string
	Balance      string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		SignIn:       "/api/agent/auth/sign-in",
		CreatePlayer: "/api/agent/players/create",
		PlayerStats:  "/api/agent/statistics/players",
		Deposit:      "/api/agent/cash/deposit",
		Withdraw:     "/api/agent/cash/withdraw",
		Balance:      "/api/agent/players/balance",
	}
}

// Config configures clients built by a Factory.
type Config struct {
	BaseURL       string
	Origin        string
	UserAgent     string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	Endpoints     Endpoints
}

// Factory builds clients bound to a session. Clients from one factory share
// the HTTP transport and the outbound rate limiter.
type Factory struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewFactory(cfg Config, httpClient *http.Client) *Factory {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Origin == "" {
		cfg.Origin = cfg.BaseURL
	}
	if cfg.Endpoints == (Endpoints{}) {
		cfg.Endpoints = DefaultEndpoints()
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Factory{
		cfg:        cfg,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// Config returns the effective configuration.
func (f *Factory) Config() Config {
	return f.cfg
}

// Client returns a client that sends the cookies of s.
func (f *Factory) Client(s *models.Session) *Client {
	return &Client{
		httpClient: f.httpClient,
		limiter:    f.limiter,
		cfg:        f.cfg,
		session:    s,
	}
}

// Client is bound to one session. Build a new one after renewal.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	cfg        Config
	session    *models.Session
}

// Session returns the session the client was built with.
func (c *Client) Session() *models.Session {
	return c.session
}

// Endpoints returns the configured dashboard paths.
func (c *Client) Endpoints() Endpoints {
	return c.cfg.Endpoints
}

// Call posts payload as JSON to endpoint. The returned Response is never nil.
// The error, when set, wraps one of models.ErrTransport,
// models.ErrSessionInvalid or models.ErrDomainRejection.
func (c *Client) Call(ctx context.Context, endpoint string, payload any) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return failedResponse(err, false), models.NewOpError(models.ErrTransport, endpoint, "rate limiter wait aborted", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return failedResponse(err, false), models.NewOpError(models.ErrTransport, endpoint, "failed to encode request", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+endpoint, bytes.NewReader(body))
	if err != nil {
		return failedResponse(err, false), models.NewOpError(models.ErrTransport, endpoint, "failed to build request", err)
	}
	c.setHeaders(req)
	if c.session != nil {
		for _, cookie := range c.session.HTTPCookies() {
			req.AddCookie(cookie)
		}
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[REMOTE] %s transport failure after %s: %v", endpoint, time.Since(started), err)
		return failedResponse(err, true), models.NewOpError(models.ErrTransport, endpoint, "agent dashboard unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		log.Printf("[REMOTE] %s failed reading body (status %d): %v", endpoint, resp.StatusCode, err)
		return failedResponse(err, true), models.NewOpError(models.ErrTransport, endpoint, "failed to read response", err)
	}

	out := &Response{StatusCode: resp.StatusCode, Raw: raw, Sent: true}
	if err := json.Unmarshal(raw, &out.Body); err == nil {
		out.Parsed = true
	}

	switch ClassifyStatus(resp.StatusCode) {
	case OutcomeOK:
		if !out.Parsed {
			log.Printf("[REMOTE] %s returned unparseable body (status %d)", endpoint, resp.StatusCode)
			return out, models.NewOpError(models.ErrTransport, endpoint, "unexpected response from agent dashboard", nil)
		}
		return out, nil
	case OutcomeSessionInvalid:
		log.Printf("[REMOTE] %s rejected session (status %d)", endpoint, resp.StatusCode)
		return out, models.NewOpError(models.ErrSessionInvalid, endpoint, "session rejected by agent dashboard", nil)
	case OutcomeTransport:
		log.Printf("[REMOTE] %s server failure (status %d)", endpoint, resp.StatusCode)
		return out, models.NewOpError(models.ErrTransport, endpoint, fmt.Sprintf("agent dashboard returned status %d", resp.StatusCode), nil)
	default:
		msg := out.Message()
		if msg == "" {
			msg = fmt.Sprintf("agent dashboard returned status %d", resp.StatusCode)
		}
		return out, models.NewOpError(models.ErrDomainRejection, endpoint, msg, nil)
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Origin", c.cfg.Origin)
	req.Header.Set("Referer", strings.TrimRight(c.cfg.Origin, "/")+"/")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
}

func failedResponse(err error, sent bool) *Response {
	env := Envelope{Notification: []Notification{{Content: err.Error()}}}
	raw, _ := json.Marshal(env)
	return &Response{
		StatusCode: SentinelStatus,
		Body:       env,
		Raw:        raw,
		Sent:       sent,
		Parsed:     true,
	}
}

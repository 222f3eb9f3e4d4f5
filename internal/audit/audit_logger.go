package audit

import (
	"encoding/json"
	"log"
	"time"

	"github.com/ruralpay/agentdesk/internal/models"
)

// Provisioning statuses. Adopted means the player was linked on the strength
// of a lookup after the create call went unanswered.
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
	StatusAdopted = "ADOPTED"
)

type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	EntryID   string    `json:"entry_id,omitempty"`
	UserID    int64     `json:"user_id"`
	PlayerID  int64     `json:"player_id,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Status    string    `json:"status"`
	Details   any       `json:"details,omitempty"`
}

// Logger writes one JSON line per money or provisioning outcome.
type Logger struct {
	now func() time.Time
}

func NewLogger() *Logger {
	return &Logger{now: time.Now}
}

// LogLedger records the terminal state of a ledger entry.
func (a *Logger) LogLedger(entry *models.LedgerEntry) {
	event := Event{
		Timestamp: a.now(),
		EventType: string(entry.Type),
		EntryID:   entry.ID,
		UserID:    entry.UserID,
		PlayerID:  entry.RemotePlayerID,
		Amount:    entry.Amount,
		Status:    string(entry.Status),
	}
	if entry.Status == models.StatusError {
		event.Details = map[string]string{"reconciliation": "required"}
	}
	a.log(event)
}

func (a *Logger) LogProvisioning(userID, playerID int64, login, status string) {
	details := map[string]string{"login": login}
	if status == StatusAdopted {
		details["reconciliation"] = "required"
	}
	a.log(Event{
		Timestamp: a.now(),
		EventType: "PROVISION",
		UserID:    userID,
		PlayerID:  playerID,
		Status:    status,
		Details:   details,
	})
}

func (a *Logger) LogError(operation string, userID int64, err error) {
	a.log(Event{
		Timestamp: a.now(),
		EventType: operation,
		UserID:    userID,
		Status:    StatusFailed,
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}

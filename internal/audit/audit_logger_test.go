package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/ruralpay/agentdesk/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureEvent runs fn and decodes the single AUDIT line it logged.
func captureEvent(t *testing.T, fn func(a *Logger)) Event {
	t.Helper()
	var buf bytes.Buffer
	defer func(w io.Writer, flags int) {
		log.SetOutput(w)
		log.SetFlags(flags)
	}(log.Writer(), log.Flags())
	log.SetOutput(&buf)
	log.SetFlags(0)

	a := NewLogger()
	a.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	fn(a)

	line := strings.TrimSpace(buf.String())
	require.True(t, strings.HasPrefix(line, "AUDIT: "), line)

	var event Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "AUDIT: ")), &event))
	return event
}

func TestLogger_LogLedger(t *testing.T) {
	t.Run("completed entry", func(t *testing.T) {
		event := captureEvent(t, func(a *Logger) {
			a.LogLedger(&models.LedgerEntry{ID: "e1", UserID: 1001, RemotePlayerID: 42, Amount: 5000,
				Type: models.EntryDeposit, Status: models.StatusCompleted})
		})
		assert.Equal(t, "deposit", event.EventType)
		assert.Equal(t, "completed", event.Status)
		assert.Nil(t, event.Details)
	})

	t.Run("error entry asks for reconciliation", func(t *testing.T) {
		event := captureEvent(t, func(a *Logger) {
			a.LogLedger(&models.LedgerEntry{ID: "e2", UserID: 1001, Type: models.EntryWithdraw, Status: models.StatusError})
		})
		assert.Equal(t, map[string]any{"reconciliation": "required"}, event.Details)
	})
}

func TestLogger_LogProvisioning(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		event := captureEvent(t, func(a *Logger) { a.LogProvisioning(1001, 77, "alice", StatusSuccess) })
		assert.Equal(t, "PROVISION", event.EventType)
		assert.Equal(t, StatusSuccess, event.Status)
		assert.Equal(t, map[string]any{"login": "alice"}, event.Details)
	})

	t.Run("adopted player asks for reconciliation", func(t *testing.T) {
		event := captureEvent(t, func(a *Logger) { a.LogProvisioning(1001, 90, "frank", StatusAdopted) })
		assert.Equal(t, StatusAdopted, event.Status)
		assert.Equal(t, map[string]any{"login": "frank", "reconciliation": "required"}, event.Details)
	})
}

func TestLogger_LogError(t *testing.T) {
	event := captureEvent(t, func(a *Logger) { a.LogError("deposit", 1001, errors.New("commit failed")) })
	assert.Equal(t, StatusFailed, event.Status)
	assert.Equal(t, map[string]any{"error": "commit failed"}, event.Details)
}

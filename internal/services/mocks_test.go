package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ruralpay/agentdesk/internal/models"
	"github.com/ruralpay/agentdesk/internal/remote"
	"github.com/stretchr/testify/mock"
)

// anything stands in for mock.Anything where a sqlmock named mock shadows
// the package.
const anything = mock.Anything

var _ SessionProvider = (*MockSessionProvider)(nil)

type MockSessionProvider struct {
	mock.Mock
}

func (m *MockSessionProvider) GetReadyClient(ctx context.Context) (*remote.Client, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*remote.Client), args.Error(1)
}

func (m *MockSessionProvider) Invalidate(ctx context.Context, s *models.Session) {
	m.Called(ctx, s)
}

// fakeDashboard serves routes keyed by dashboard path and returns a client
// bound to a throwaway session.
func fakeDashboard(t *testing.T, routes map[string]http.HandlerFunc) *remote.Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler, ok := routes[r.URL.Path]
		if !ok {
			t.Errorf("unexpected dashboard call to %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	factory := remote.NewFactory(remote.Config{BaseURL: server.URL, Timeout: 2 * time.Second}, server.Client())
	now := time.Now()
	return factory.Client(&models.Session{
		ID:        "sess-test",
		Cookies:   []models.Cookie{{Name: "sid", Value: "test"}},
		IssuedAt:  now,
		ExpiresAt: now.Add(30 * time.Minute),
	})
}

func readySessions(client *remote.Client) *MockSessionProvider {
	sessions := new(MockSessionProvider)
	sessions.On("GetReadyClient", mock.Anything).Return(client, nil)
	sessions.On("Invalidate", mock.Anything, mock.Anything).Return()
	return sessions
}

func reply(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}
}

func decodeBody(t *testing.T, r *http.Request, v any) {
	t.Helper()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		t.Errorf("failed to decode request body: %v", err)
	}
}

// recordingMetrics keeps provisioning results for assertions.
type recordingMetrics struct {
	mu           sync.Mutex
	provisioning []string
}

func (r *recordingMetrics) RecordRenewal(string)        {}
func (r *recordingMetrics) RecordAuthAttempt(bool)      {}
func (r *recordingMetrics) RecordLedger(string, string) {}

func (r *recordingMetrics) RecordProvisioning(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.provisioning = append(r.provisioning, result)
}

func (r *recordingMetrics) Provisioning() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.provisioning...)
}

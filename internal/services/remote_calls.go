package services

import (
	"context"
	"errors"
	"log"

	"github.com/ruralpay/agentdesk/internal/models"
	"github.com/ruralpay/agentdesk/internal/remote"
)

// SessionProvider hands out dashboard clients bound to a usable session.
// *session.Supervisor implements it.
type SessionProvider interface {
	GetReadyClient(ctx context.Context) (*remote.Client, error)
	Invalidate(ctx context.Context, s *models.Session)
}

// withClient runs call on a ready client. A rejected session is dropped and
// the call retried once on a fresh one; read-only calls also get one retry
// after a transport failure.
func withClient(ctx context.Context, sessions SessionProvider, readOnly bool, call func(ctx context.Context, c *remote.Client) error) error {
	return withReadyClient(ctx, sessions, nil, readOnly, call)
}

// withReadyClient is withClient with the first attempt made on client, which
// callers fetch before taking database locks. A nil client is fetched here.
func withReadyClient(ctx context.Context, sessions SessionProvider, client *remote.Client, readOnly bool, call func(ctx context.Context, c *remote.Client) error) error {
	for attempt := 0; ; attempt++ {
		if client == nil {
			var err error
			client, err = sessions.GetReadyClient(ctx)
			if err != nil {
				return err
			}
		}

		err := call(ctx, client)
		if err == nil || attempt > 0 {
			return err
		}

		switch {
		case errors.Is(err, models.ErrSessionInvalid):
			log.Printf("[REMOTE] Session %s rejected, retrying on a fresh session", client.Session().ID)
			sessions.Invalidate(ctx, client.Session())
		case readOnly && errors.Is(err, models.ErrTransport):
			log.Printf("[REMOTE] Retrying read after transport failure: %v", err)
		default:
			return err
		}
		client = nil
	}
}

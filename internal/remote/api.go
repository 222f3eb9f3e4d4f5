package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ruralpay/agentdesk/internal/models"
)

// NewPlayer is the payload for player creation.
type NewPlayer struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Email    string `json:"email"`
	Currency string `json:"currency,omitempty"`
}

type statsQuery struct {
	Login string `json:"login,omitempty"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
}

type cashRequest struct {
	PlayerID int64  `json:"playerId"`
	Amount   string `json:"amount"`
}

type balanceRequest struct {
	PlayerID int64 `json:"playerId"`
}

// FindPlayer searches the statistics endpoint for an exact login match. It
// returns nil without error when no such player exists.
func (c *Client) FindPlayer(ctx context.Context, login string) (*Player, *Response, error) {
	resp, err := c.Call(ctx, c.cfg.Endpoints.PlayerStats, statsQuery{Login: login, Page: 1, Limit: 50})
	if err != nil {
		return nil, resp, err
	}

	records, err := resp.Records()
	if err != nil {
		return nil, resp, models.NewOpError(models.ErrTransport, c.cfg.Endpoints.PlayerStats, "unexpected statistics payload", err)
	}

	for _, record := range records {
		if !strings.EqualFold(record.Login, login) {
			continue
		}
		player, err := record.Player()
		if err != nil {
			return nil, resp, models.NewOpError(models.ErrTransport, c.cfg.Endpoints.PlayerStats, "unexpected statistics record", err)
		}
		return player, resp, nil
	}
	return nil, resp, nil
}

// PlayerExists reports whether login is taken on the dashboard.
func (c *Client) PlayerExists(ctx context.Context, login string) (bool, error) {
	player, _, err := c.FindPlayer(ctx, login)
	if err != nil {
		return false, err
	}
	return player != nil, nil
}

// CreatePlayer registers a player. The dashboard does not return the new id.
func (c *Client) CreatePlayer(ctx context.Context, p NewPlayer) (*Response, error) {
	resp, err := c.Call(ctx, c.cfg.Endpoints.CreatePlayer, p)
	if err != nil {
		return resp, err
	}
	if !resp.Succeeded() {
		return resp, rejection(c.cfg.Endpoints.CreatePlayer, resp, "player creation rejected")
	}
	return resp, nil
}

// PlayerBalance returns the player's balance on the dashboard in cents.
func (c *Client) PlayerBalance(ctx context.Context, playerID int64) (int64, *Response, error) {
	endpoint := c.cfg.Endpoints.Balance
	resp, err := c.Call(ctx, endpoint, balanceRequest{PlayerID: playerID})
	if err != nil {
		return 0, resp, err
	}

	var result struct {
		Balance json.Number `json:"balance"`
	}
	if err := json.Unmarshal(resp.Body.Result, &result); err != nil || result.Balance == "" {
		if msg := resp.Message(); msg != "" {
			return 0, resp, models.NewOpError(models.ErrDomainRejection, endpoint, msg, nil)
		}
		return 0, resp, models.NewOpError(models.ErrTransport, endpoint, "unexpected balance payload", err)
	}

	balance, err := models.ParseMinor(result.Balance.String())
	if err != nil {
		return 0, resp, models.NewOpError(models.ErrTransport, endpoint, "unexpected balance value", err)
	}
	return balance, resp, nil
}

// Deposit moves amount cents onto the player's dashboard balance.
func (c *Client) Deposit(ctx context.Context, playerID, amount int64) (*Response, error) {
	return c.cash(ctx, c.cfg.Endpoints.Deposit, playerID, amount)
}

// Withdraw takes amount cents off the player's dashboard balance.
func (c *Client) Withdraw(ctx context.Context, playerID, amount int64) (*Response, error) {
	return c.cash(ctx, c.cfg.Endpoints.Withdraw, playerID, amount)
}

func (c *Client) cash(ctx context.Context, endpoint string, playerID, amount int64) (*Response, error) {
	resp, err := c.Call(ctx, endpoint, cashRequest{PlayerID: playerID, Amount: models.FormatMinor(amount)})
	if err != nil {
		return resp, err
	}
	if !resp.Succeeded() {
		return resp, rejection(endpoint, resp, "operation rejected by agent dashboard")
	}
	return resp, nil
}

// Ping issues the cheapest authenticated read to check the session.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Call(ctx, c.cfg.Endpoints.PlayerStats, statsQuery{Page: 1, Limit: 1})
	return err
}

func rejection(endpoint string, resp *Response, fallback string) error {
	msg := resp.Message()
	if msg == "" {
		msg = fallback
	}
	return models.NewOpError(models.ErrDomainRejection, endpoint, msg, fmt.Errorf("status %d", resp.StatusCode))
}

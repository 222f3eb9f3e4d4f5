package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/ruralpay/agentdesk/internal/audit"
	"github.com/ruralpay/agentdesk/internal/metrics"
	"github.com/ruralpay/agentdesk/internal/models"
	"github.com/ruralpay/agentdesk/internal/remote"
)

const defaultHistoryLimit = 20

// Result is the outcome of a completed money operation.
type Result struct {
	Entry   *models.LedgerEntry `json:"entry"`
	Balance int64               `json:"balance"` // local balance afterwards, in cents
	Message string              `json:"message,omitempty"`
}

// LedgerService moves money between a user's local balance and their
// dashboard player, recording every attempt as a ledger entry.
type LedgerService struct {
	db       *sql.DB
	sessions SessionProvider
	audit    *audit.Logger
	metrics  metrics.Recorder
	now      func() time.Time
}

func NewLedgerService(db *sql.DB, sessions SessionProvider, auditLogger *audit.Logger, recorder metrics.Recorder) *LedgerService {
	if auditLogger == nil {
		auditLogger = audit.NewLogger()
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &LedgerService{
		db:       db,
		sessions: sessions,
		audit:    auditLogger,
		metrics:  recorder,
		now:      time.Now,
	}
}

// Deposit debits the local balance and credits the player on the dashboard.
// The debit is only committed once the dashboard confirms; an unanswered
// request leaves the debit held and the entry in error for reconciliation.
func (s *LedgerService) Deposit(ctx context.Context, userID, playerID, amount int64) (*Result, error) {
	if amount <= 0 {
		return nil, models.NewOpError(models.ErrInvalidAmount, "deposit", "amount must be greater than zero", nil)
	}
	// The row lock and the remote call must outlive an abandoned request.
	ctx = context.WithoutCancel(ctx)

	entry := s.newEntry(userID, playerID, amount, models.EntryDeposit)
	if err := s.createLedgerEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to record deposit: %w", err)
	}

	// A renewal can take minutes; wait for it before holding a row lock.
	client, err := s.sessions.GetReadyClient(ctx)
	if err != nil {
		s.finish(ctx, entry, models.StatusFailed, models.MessageOf(err))
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.finish(ctx, entry, models.StatusFailed, err.Error())
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	account, err := s.lockAccount(ctx, tx, userID)
	if err != nil {
		tx.Rollback()
		s.finish(ctx, entry, models.StatusFailed, err.Error())
		return nil, err
	}

	if account.Balance < amount {
		tx.Rollback()
		s.finish(ctx, entry, models.StatusFailed, "insufficient local funds")
		return nil, models.NewOpError(models.ErrInsufficientLocalFunds, "deposit",
			fmt.Sprintf("insufficient balance: %s available", models.FormatMinor(account.Balance)), nil)
	}

	newBalance := account.Balance - amount
	if err := s.updateAccountBalance(ctx, tx, userID, newBalance, account.Version); err != nil {
		tx.Rollback()
		s.finish(ctx, entry, models.StatusFailed, err.Error())
		return nil, err
	}

	var resp *remote.Response
	err = withReadyClient(ctx, s.sessions, client, false, func(ctx context.Context, c *remote.Client) error {
		var callErr error
		resp, callErr = c.Deposit(ctx, playerID, amount)
		return callErr
	})

	switch {
	case err == nil:
		if err := s.updateLedgerEntryTx(ctx, tx, entry, models.StatusCompleted, resp.Text()); err != nil {
			return nil, s.unrecorded(ctx, entry, err)
		}
		if err := tx.Commit(); err != nil {
			return nil, s.unrecorded(ctx, entry, err)
		}
		s.record(entry)
		log.Printf("[LEDGER] Deposit %s completed: user %d -> player %d, %s", entry.ID, userID, playerID, models.FormatMinor(amount))
		return &Result{Entry: entry, Balance: newBalance, Message: resp.Message()}, nil

	case ambiguous(err, resp):
		// Keep the debit as a hold: the dashboard may have credited the player.
		if uerr := s.updateLedgerEntryTx(ctx, tx, entry, models.StatusError, responseText(resp, err)); uerr != nil {
			return nil, s.unrecorded(ctx, entry, uerr)
		}
		if cerr := tx.Commit(); cerr != nil {
			return nil, s.unrecorded(ctx, entry, cerr)
		}
		s.record(entry)
		log.Printf("[LEDGER] Deposit %s outcome unknown, %s held for reconciliation: %v", entry.ID, models.FormatMinor(amount), err)
		return &Result{Entry: entry, Balance: newBalance}, models.NewOpError(models.ErrIndeterminate, "deposit",
			"deposit outcome unknown; funds held pending reconciliation", err)

	default:
		// Rolling back restores the exact pre-debit balance; the row lock
		// kept anyone else from touching it.
		tx.Rollback()
		s.finish(ctx, entry, models.StatusFailed, responseText(resp, err))
		log.Printf("[LEDGER] Deposit %s failed: %v", entry.ID, err)
		return nil, err
	}
}

// Withdraw checks the player's dashboard balance, takes the money off the
// player and credits the local balance only once the dashboard confirms.
func (s *LedgerService) Withdraw(ctx context.Context, userID, playerID, amount int64) (*Result, error) {
	if amount <= 0 {
		return nil, models.NewOpError(models.ErrInvalidAmount, "withdraw", "amount must be greater than zero", nil)
	}
	ctx = context.WithoutCancel(ctx)

	entry := s.newEntry(userID, playerID, amount, models.EntryWithdraw)

	var remoteBalance int64
	var balanceResp *remote.Response
	err := withClient(ctx, s.sessions, true, func(ctx context.Context, c *remote.Client) error {
		var callErr error
		remoteBalance, balanceResp, callErr = c.PlayerBalance(ctx, playerID)
		return callErr
	})
	if err != nil {
		s.recordRejected(ctx, entry, responseText(balanceResp, err))
		return nil, err
	}
	if remoteBalance < amount {
		s.recordRejected(ctx, entry, "insufficient remote funds")
		return nil, models.NewOpError(models.ErrInsufficientRemoteFunds, "withdraw",
			fmt.Sprintf("insufficient player balance: %s available", models.FormatMinor(remoteBalance)), nil)
	}

	if err := s.createLedgerEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to record withdrawal: %w", err)
	}

	client, err := s.sessions.GetReadyClient(ctx)
	if err != nil {
		s.finish(ctx, entry, models.StatusFailed, models.MessageOf(err))
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.finish(ctx, entry, models.StatusFailed, err.Error())
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	account, err := s.lockAccount(ctx, tx, userID)
	if err != nil {
		tx.Rollback()
		s.finish(ctx, entry, models.StatusFailed, err.Error())
		return nil, err
	}

	var resp *remote.Response
	err = withReadyClient(ctx, s.sessions, client, false, func(ctx context.Context, c *remote.Client) error {
		var callErr error
		resp, callErr = c.Withdraw(ctx, playerID, amount)
		return callErr
	})

	switch {
	case err == nil:
		newBalance := account.Balance + amount
		if err := s.updateAccountBalance(ctx, tx, userID, newBalance, account.Version); err != nil {
			return nil, s.unrecorded(ctx, entry, err)
		}
		if err := s.updateLedgerEntryTx(ctx, tx, entry, models.StatusCompleted, resp.Text()); err != nil {
			return nil, s.unrecorded(ctx, entry, err)
		}
		if err := tx.Commit(); err != nil {
			return nil, s.unrecorded(ctx, entry, err)
		}
		s.record(entry)
		log.Printf("[LEDGER] Withdrawal %s completed: player %d -> user %d, %s", entry.ID, playerID, userID, models.FormatMinor(amount))
		return &Result{Entry: entry, Balance: newBalance, Message: resp.Message()}, nil

	case ambiguous(err, resp):
		tx.Rollback()
		s.finish(ctx, entry, models.StatusError, responseText(resp, err))
		log.Printf("[LEDGER] Withdrawal %s outcome unknown, needs reconciliation: %v", entry.ID, err)
		return &Result{Entry: entry, Balance: account.Balance}, models.NewOpError(models.ErrIndeterminate, "withdraw",
			"withdrawal outcome unknown; pending reconciliation", err)

	default:
		tx.Rollback()
		s.finish(ctx, entry, models.StatusFailed, responseText(resp, err))
		log.Printf("[LEDGER] Withdrawal %s failed: %v", entry.ID, err)
		return nil, err
	}
}

// Balance returns the user's local balance in cents.
func (s *LedgerService) Balance(ctx context.Context, userID int64) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `SELECT balance FROM users WHERE telegram_id = $1`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, models.NewOpError(models.ErrNotFound, "balance", fmt.Sprintf("user %d not found", userID), nil)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}

// History lists the user's ledger entries, newest first.
func (s *LedgerService) History(ctx context.Context, userID int64, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = defaultHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, remote_player_id, amount, type, status, remote_response, created_at, updated_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	entries := make([]models.LedgerEntry, 0)
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.RemotePlayerID, &e.Amount, &e.Type, &e.Status,
			&e.RemoteResponse, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *LedgerService) newEntry(userID, playerID, amount int64, entryType models.EntryType) *models.LedgerEntry {
	now := s.now()
	return &models.LedgerEntry{
		ID:             uuid.NewString(),
		UserID:         userID,
		RemotePlayerID: playerID,
		Amount:         amount,
		Type:           entryType,
		Status:         models.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (s *LedgerService) lockAccount(ctx context.Context, tx *sql.Tx, userID int64) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRowContext(ctx, `
		SELECT telegram_id, balance, version, updated_at
		FROM users
		WHERE telegram_id = $1
		FOR UPDATE`, userID).Scan(&account.UserID, &account.Balance, &account.Version, &account.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewOpError(models.ErrNotFound, "ledger", fmt.Sprintf("user %d not found", userID), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}
	return &account, nil
}

func (s *LedgerService) updateAccountBalance(ctx context.Context, tx *sql.Tx, userID, newBalance int64, version int) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE users
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE telegram_id = $3 AND version = $4`,
		newBalance, s.now(), userID, version)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for user %d", userID)
	}
	return nil
}

func (s *LedgerService) createLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, user_id, remote_player_id, amount, type, status, remote_response, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.UserID, entry.RemotePlayerID, entry.Amount, string(entry.Type), string(entry.Status),
		entry.RemoteResponse, entry.CreatedAt, entry.UpdatedAt)
	return err
}

func (s *LedgerService) updateLedgerEntryTx(ctx context.Context, tx *sql.Tx, entry *models.LedgerEntry, status models.EntryStatus, response string) error {
	now := s.now()
	_, err := tx.ExecContext(ctx, `
		UPDATE ledger_entries
		SET status = $1, remote_response = $2, updated_at = $3
		WHERE id = $4 AND status = 'pending'`,
		string(status), response, now, entry.ID)
	if err != nil {
		return fmt.Errorf("failed to update ledger entry: %w", err)
	}
	entry.Status, entry.RemoteResponse, entry.UpdatedAt = status, response, now
	return nil
}

// finish moves a pending entry to its terminal status outside any transaction.
func (s *LedgerService) finish(ctx context.Context, entry *models.LedgerEntry, status models.EntryStatus, response string) {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE ledger_entries
		SET status = $1, remote_response = $2, updated_at = $3
		WHERE id = $4 AND status = 'pending'`,
		string(status), response, now, entry.ID)
	if err != nil {
		log.Printf("[LEDGER] Failed to mark entry %s %s: %v", entry.ID, status, err)
	}
	entry.Status, entry.RemoteResponse, entry.UpdatedAt = status, response, now
	s.record(entry)
}

// recordRejected stores an entry that failed before any money moved.
func (s *LedgerService) recordRejected(ctx context.Context, entry *models.LedgerEntry, response string) {
	entry.Status = models.StatusFailed
	entry.RemoteResponse = response
	if err := s.createLedgerEntry(ctx, entry); err != nil {
		log.Printf("[LEDGER] Failed to record rejected %s %s: %v", entry.Type, entry.ID, err)
	}
	s.record(entry)
}

// unrecorded handles a local failure after the dashboard confirmed the
// operation: the money moved remotely but not locally.
func (s *LedgerService) unrecorded(ctx context.Context, entry *models.LedgerEntry, err error) error {
	s.finish(ctx, entry, models.StatusError, "confirmed by dashboard, local commit failed: "+err.Error())
	s.audit.LogError(string(entry.Type), entry.UserID, err)
	return models.NewOpError(models.ErrIndeterminate, string(entry.Type),
		"operation confirmed remotely but not recorded locally; pending reconciliation", err)
}

func (s *LedgerService) record(entry *models.LedgerEntry) {
	s.audit.LogLedger(entry)
	s.metrics.RecordLedger(string(entry.Type), string(entry.Status))
}

// ambiguous reports a transport failure after the request may have been acted on.
func ambiguous(err error, resp *remote.Response) bool {
	return errors.Is(err, models.ErrTransport) && resp.Ambiguous()
}

func responseText(resp *remote.Response, err error) string {
	if resp != nil && len(resp.Raw) > 0 && resp.StatusCode != remote.SentinelStatus {
		return resp.Text()
	}
	if err != nil {
		return models.MessageOf(err)
	}
	return ""
}

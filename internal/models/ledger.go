package models

import (
	"time"
)

type EntryType string

const (
	EntryDeposit  EntryType = "deposit"
	EntryWithdraw EntryType = "withdraw"
)

type EntryStatus string

const (
	StatusPending   EntryStatus = "pending"
	StatusCompleted EntryStatus = "completed"
	StatusFailed    EntryStatus = "failed"
	StatusError     EntryStatus = "error"
)

// Terminal reports whether the status can no longer change.
func (s EntryStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusError
}

// LedgerEntry records one attempted money-moving operation and its outcome.
type LedgerEntry struct {
	ID             string      `json:"id" db:"id"`
	UserID         int64       `json:"user_id" db:"user_id"`
	RemotePlayerID int64       `json:"remote_player_id" db:"remote_player_id"`
	Amount         int64       `json:"amount" db:"amount"` // in cents
	Type           EntryType   `json:"type" db:"type"`
	Status         EntryStatus `json:"status" db:"status"`
	RemoteResponse string      `json:"remote_response,omitempty" db:"remote_response"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"`
}

// Account is the locked view of a user's local balance.
type Account struct {
	UserID    int64     `json:"user_id" db:"telegram_id"`
	Balance   int64     `json:"balance" db:"balance"`
	Version   int       `json:"version" db:"version"` // for optimistic locking
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

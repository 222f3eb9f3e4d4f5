package models

import "time"

// User is a chat user known to the bot. Balance is the bot-side wallet in cents.
type User struct {
	TelegramID int64     `json:"telegramId" example:"123456789"`
	Balance    int64     `json:"balance" example:"10000"`
	Version    int       `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// PlayerAccount is a player provisioned on the agent dashboard for a user.
type PlayerAccount struct {
	ID             int64     `json:"id" db:"id"`
	UserID         int64     `json:"userId" db:"user_id"`
	RemotePlayerID int64     `json:"playerId" db:"remote_player_id"`
	Login          string    `json:"login" db:"login"`
	Password       string    `json:"password" db:"-"`
	Email          string    `json:"email" db:"email"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
}

package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is an account holder. The daily token allowance lives on the user row
// and is only ever changed through the atomic consume statement.
type User struct {
	ID             uuid.UUID `db:"id"               json:"id"`
	Email          string    `db:"email"            json:"email"`
	Role           string    `db:"role"             json:"role"`
	DailyTokens    int       `db:"daily_tokens"     json:"daily_tokens"`
	LastTokenReset time.Time `db:"last_token_reset" json:"last_token_reset"`
	CreatedAt      time.Time `db:"created_at"       json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"       json:"updated_at"`
}

// UserQuota is the slice of a user row the quota manager reads.
type UserQuota struct {
	UserID         uuid.UUID
	DailyTokens    int
	LastTokenReset time.Time
}

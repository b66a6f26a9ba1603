package users

import (
	"time"

	"github.com/google/uuid"
)

// User status values.
const (
	StatusActive    = "ACTIVE"
	StatusSuspended = "SUSPENDED"
)

type User struct {
	ID                uuid.UUID `json:"id"`
	Email             string    `json:"email"`
	PasswordHash      string    `json:"-"`
	MonthlyTokenLimit int64     `json:"monthly_token_limit"`
	MonthlyTokenUsed  int64     `json:"monthly_token_used"`
	QuotaResetDate    time.Time `json:"quota_reset_date"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type CreateUserRequest struct {
	Email             string `json:"email" validate:"required,email"`
	Password          string `json:"password" validate:"required,min=8"`
	MonthlyTokenLimit int64  `json:"monthly_token_limit" validate:"omitempty,gt=0"`
}

package quota

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrQuotaExceeded is terminal for the request: the caller must top up
	// or wait for the period reset. Never retried automatically.
	ErrQuotaExceeded = errors.New("monthly token quota exceeded")

	// ErrInvalidTokenDelta rejects zero or negative consumption amounts.
	ErrInvalidTokenDelta = errors.New("token delta must be positive")

	// ErrAccountNotFound means the user row does not exist.
	ErrAccountNotFound = errors.New("quota account not found")
)

// Usage is a snapshot of one account's monthly token accounting.
type Usage struct {
	UserID         uuid.UUID `json:"user_id"`
	TokenLimit     int64     `json:"monthly_token_limit"`
	TokenUsed      int64     `json:"monthly_token_used"`
	QuotaResetDate time.Time `json:"quota_reset_date"`
}

// Status is the API-facing quota report. Warning flips on once usage
// crosses the configured threshold while consumption is still allowed;
// Blocked means new consumption would be rejected outright.
type Status struct {
	TokenLimit     int64     `json:"monthly_token_limit"`
	TokenUsed      int64     `json:"monthly_token_used"`
	Remaining      int64     `json:"remaining"`
	QuotaResetDate time.Time `json:"quota_reset_date"`
	Warning        bool      `json:"warning"`
	Blocked        bool      `json:"blocked"`
}

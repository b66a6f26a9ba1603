package usage

import (
	"time"

	"github.com/google/uuid"
)

// Record is one persisted usage event: the token cost of a completed
// assistant turn, attributed to a user, provider, model, and credential
// tier for billing and audit.
type Record struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	SessionID    uuid.UUID `json:"session_id"`
	MessageID    uuid.UUID `json:"message_id"`
	ProviderCode string    `json:"provider_code"`
	ModelCode    string    `json:"model_code"`
	KeyType      string    `json:"key_type"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	OccurredAt   time.Time `json:"occurred_at"`
	CreatedAt    time.Time `json:"created_at"`
}

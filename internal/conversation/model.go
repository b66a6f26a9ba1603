package conversation

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Session states. DELETED is terminal; ARCHIVED can be reactivated.
const (
	SessionActive   = "ACTIVE"
	SessionArchived = "ARCHIVED"
	SessionDeleted  = "DELETED"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message delivery states.
const (
	MessageCompleted = "COMPLETED"
	MessageFailed    = "FAILED"
)

var (
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionNotActive rejects sends and archives on sessions that are
	// archived or deleted.
	ErrSessionNotActive = errors.New("session is not active")

	// ErrSessionOverQuota blocks new turns once a post-call quota failure
	// has flagged the session. The user must free up quota first.
	ErrSessionOverQuota = errors.New("session is over quota")
)

// Session is one conversation thread. It owns its messages through an
// ordered sequence; messages hold session_id as a lookup key only.
type Session struct {
	ID                   uuid.UUID   `json:"id"`
	UserID               uuid.UUID   `json:"user_id"`
	Title                string      `json:"title"`
	ProviderID           uuid.UUID   `json:"provider_id"`
	ModelCode            string      `json:"model_code"`
	CredentialPreference string      `json:"credential_preference"`
	SystemPrompt         string      `json:"system_prompt,omitempty"`
	KnowledgeBaseIDs     []uuid.UUID `json:"knowledge_base_ids,omitempty"`
	Status               string      `json:"status"`
	OverQuota            bool        `json:"over_quota"`
	MessageCount         int         `json:"message_count"`
	TotalInputTokens     int64       `json:"total_input_tokens"`
	TotalOutputTokens    int64       `json:"total_output_tokens"`
	LastMessageAt        *time.Time  `json:"last_message_at,omitempty"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

// Message is one turn. SequenceNumber runs from 1 with no gaps per session.
type Message struct {
	ID             uuid.UUID `json:"id"`
	SessionID      uuid.UUID `json:"session_id"`
	SequenceNumber int       `json:"sequence_number"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	InputTokens    int64     `json:"input_tokens"`
	OutputTokens   int64     `json:"output_tokens"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// TurnResult is what SendMessage hands back to the transport layer.
type TurnResult struct {
	UserMessage      *Message `json:"user_message"`
	AssistantMessage *Message `json:"assistant_message"`
	QuotaWarning     bool     `json:"quota_warning,omitempty"`
}

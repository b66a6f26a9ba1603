package nats

import (
	"time"

	"github.com/google/uuid"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// Stream names.
const (
	StreamIngest = "CLARITY_INGEST"
	StreamEvents = "CLARITY_EVENTS"
)

// Subject constants.
const (
	SubjectDocumentIngest = "clarity.ingest.document"
	SubjectUsageEvent     = "clarity.events.usage"
)

// DocumentIngestTask asks the ingestion consumer to chunk and embed a document.
type DocumentIngestTask struct {
	DocumentID      uuid.UUID `json:"document_id"`
	KnowledgeBaseID uuid.UUID `json:"knowledge_base_id"`
	OwnerUserID     uuid.UUID `json:"owner_user_id"`
	EnqueuedAt      time.Time `json:"enqueued_at"`
}

// UsageEvent records token consumption for one completed assistant turn.
type UsageEvent struct {
	UserID       uuid.UUID `json:"user_id"`
	SessionID    uuid.UUID `json:"session_id"`
	MessageID    uuid.UUID `json:"message_id"`
	ProviderCode string    `json:"provider_code"`
	ModelCode    string    `json:"model_code"`
	KeyType      string    `json:"key_type"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	Timestamp    time.Time `json:"timestamp"`
}

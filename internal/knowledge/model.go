package knowledge

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Document processing states. A document enters PENDING on upload and the
// ingestion worker moves it through PROCESSING to a terminal state.
const (
	ProcessingPending    = "PENDING"
	ProcessingInProgress = "PROCESSING"
	ProcessingCompleted  = "COMPLETED"
	ProcessingFailed     = "FAILED"
)

var (
	// ErrChunkConfig rejects an invalid chunk size/overlap pairing before
	// anything is persisted.
	ErrChunkConfig = errors.New("invalid chunk configuration")

	// ErrEmbeddingFailure wraps failures of the embedding collaborator so
	// callers can distinguish them from storage errors.
	ErrEmbeddingFailure = errors.New("embedding failure")

	ErrKnowledgeBaseNotFound = errors.New("knowledge base not found")

	// ErrEmptyQuery rejects a blank search query before any embedding
	// call is made.
	ErrEmptyQuery = errors.New("search query is empty")
)

// KnowledgeBase is a named collection of documents owned by one user.
type KnowledgeBase struct {
	ID          uuid.UUID `json:"id"`
	OwnerUserID uuid.UUID `json:"owner_user_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ChunkSize   int       `json:"chunk_size"`
	ChunkOverlap int      `json:"chunk_overlap"`
	DocumentCount int     `json:"document_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Document is one uploaded source text awaiting or finished ingestion.
type Document struct {
	ID               uuid.UUID `json:"id"`
	KnowledgeBaseID  uuid.UUID `json:"knowledge_base_id"`
	Title            string    `json:"title"`
	Content          string    `json:"-"`
	ProcessingStatus string    `json:"processing_status"`
	ProcessingError  string    `json:"processing_error,omitempty"`
	ChunkCount       int       `json:"chunk_count"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Chunk is a bounded, offset-tracked slice of a document used as the
// retrieval unit. StartOffset/EndOffset are rune indexes into the source
// text.
type Chunk struct {
	ID             uuid.UUID  `json:"id"`
	DocumentID     uuid.UUID  `json:"document_id"`
	KnowledgeBaseID uuid.UUID `json:"knowledge_base_id"`
	ChunkIndex     int        `json:"chunk_index"`
	Content        string     `json:"content"`
	StartOffset    int        `json:"start_offset"`
	EndOffset      int        `json:"end_offset"`
	Embedding      []float32  `json:"-"`
	SearchCount    int64      `json:"search_count"`
	LastSearchedAt *time.Time `json:"last_searched_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// SearchResult pairs a chunk with its cosine similarity to the query.
type SearchResult struct {
	Chunk      Chunk   `json:"chunk"`
	Similarity float64 `json:"similarity"`
}

package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	inats "github.com/clarity-platform/clarity/internal/nats"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
)

// Service owns knowledge base and document lifecycle. Chunking and
// embedding run asynchronously in the Ingestor; uploads only validate,
// persist, and enqueue.
type Service struct {
	repo      Repository
	retriever *Retriever
	publisher *inats.Publisher
	logger    *slog.Logger
}

func NewService(repo Repository, retriever *Retriever, publisher *inats.Publisher, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		retriever: retriever,
		publisher: publisher,
		logger:    logger,
	}
}

type CreateKnowledgeBaseInput struct {
	Name         string
	Description  string
	ChunkSize    int
	ChunkOverlap int
}

// CreateKnowledgeBase validates the chunk configuration up front so bad
// settings are rejected before any document can reference them.
func (s *Service) CreateKnowledgeBase(ctx context.Context, ownerUserID uuid.UUID, in CreateKnowledgeBaseInput) (*KnowledgeBase, error) {
	if in.ChunkSize == 0 && in.ChunkOverlap == 0 {
		in.ChunkSize = defaultChunkSize
		in.ChunkOverlap = defaultChunkOverlap
	}
	if in.ChunkSize <= 0 || in.ChunkOverlap < 0 || in.ChunkOverlap >= in.ChunkSize {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", ErrChunkConfig, in.ChunkSize, in.ChunkOverlap)
	}

	now := time.Now().UTC()
	kb := &KnowledgeBase{
		ID:           uuid.New(),
		OwnerUserID:  ownerUserID,
		Name:         in.Name,
		Description:  in.Description,
		ChunkSize:    in.ChunkSize,
		ChunkOverlap: in.ChunkOverlap,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.CreateKnowledgeBase(ctx, kb); err != nil {
		return nil, err
	}
	return kb, nil
}

func (s *Service) GetKnowledgeBase(ctx context.Context, id, ownerUserID uuid.UUID) (*KnowledgeBase, error) {
	kb, err := s.repo.GetKnowledgeBase(ctx, id)
	if err != nil {
		return nil, err
	}
	if kb == nil || kb.OwnerUserID != ownerUserID {
		return nil, nil
	}
	return kb, nil
}

func (s *Service) ListKnowledgeBases(ctx context.Context, ownerUserID uuid.UUID) ([]*KnowledgeBase, error) {
	return s.repo.ListKnowledgeBases(ctx, ownerUserID)
}

func (s *Service) DeleteKnowledgeBase(ctx context.Context, id, ownerUserID uuid.UUID) error {
	return s.repo.DeleteKnowledgeBase(ctx, id, ownerUserID)
}

// UploadDocument persists the raw text as PENDING and enqueues an ingest
// task; chunking and embedding happen in the background worker.
func (s *Service) UploadDocument(ctx context.Context, ownerUserID, kbID uuid.UUID, title, content string) (*Document, error) {
	kb, err := s.GetKnowledgeBase(ctx, kbID, ownerUserID)
	if err != nil {
		return nil, err
	}
	if kb == nil {
		return nil, ErrKnowledgeBaseNotFound
	}
	if content == "" {
		return nil, fmt.Errorf("document content is empty")
	}

	now := time.Now().UTC()
	doc := &Document{
		ID:               uuid.New(),
		KnowledgeBaseID:  kbID,
		Title:            title,
		Content:          content,
		ProcessingStatus: ProcessingPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}

	err = s.publisher.PublishDocumentIngest(ctx, inats.DocumentIngestTask{
		DocumentID:      doc.ID,
		KnowledgeBaseID: kbID,
		OwnerUserID:     ownerUserID,
		EnqueuedAt:      now,
	})
	if err != nil {
		// The document stays PENDING; a requeue sweep or re-upload can
		// recover it. Surface the failure so the caller knows.
		return nil, fmt.Errorf("enqueueing document ingest: %w", err)
	}
	return doc, nil
}

func (s *Service) ListDocuments(ctx context.Context, ownerUserID, kbID uuid.UUID) ([]*Document, error) {
	kb, err := s.GetKnowledgeBase(ctx, kbID, ownerUserID)
	if err != nil {
		return nil, err
	}
	if kb == nil {
		return nil, ErrKnowledgeBaseNotFound
	}
	return s.repo.ListDocuments(ctx, kbID)
}

// Search runs a similarity query over the caller's knowledge bases,
// silently dropping any IDs the caller does not own.
func (s *Service) Search(ctx context.Context, ownerUserID uuid.UUID, kbIDs []uuid.UUID, query string, limit int) ([]SearchResult, error) {
	owned, err := s.filterOwned(ctx, ownerUserID, kbIDs)
	if err != nil {
		return nil, err
	}
	return s.retriever.Search(ctx, owned, query, limit)
}

func (s *Service) filterOwned(ctx context.Context, ownerUserID uuid.UUID, kbIDs []uuid.UUID) ([]uuid.UUID, error) {
	owned := make([]uuid.UUID, 0, len(kbIDs))
	for _, id := range kbIDs {
		kb, err := s.repo.GetKnowledgeBase(ctx, id)
		if err != nil {
			return nil, err
		}
		if kb != nil && kb.OwnerUserID == ownerUserID {
			owned = append(owned, id)
		}
	}
	return owned, nil
}

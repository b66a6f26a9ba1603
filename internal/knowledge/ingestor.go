package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/clarity-platform/clarity/internal/metrics"
	inats "github.com/clarity-platform/clarity/internal/nats"
)

// embedBatchSize bounds one embedding API call during ingestion.
const embedBatchSize = 64

// Ingestor consumes document ingest tasks, splitting each document into
// chunks, embedding them, and persisting the results. Documents move
// PENDING -> PROCESSING -> COMPLETED or FAILED.
type Ingestor struct {
	repo        Repository
	embedder    Embedder
	consumerMgr *inats.ConsumerManager
}

func NewIngestor(repo Repository, embedder Embedder, consumerMgr *inats.ConsumerManager) *Ingestor {
	return &Ingestor{
		repo:        repo,
		embedder:    embedder,
		consumerMgr: consumerMgr,
	}
}

// Start begins the consume loop. Blocks until ctx is cancelled.
func (i *Ingestor) Start(ctx context.Context) error {
	consumer, err := i.consumerMgr.EnsureConsumer(ctx, inats.StreamIngest, "document-ingestor", inats.SubjectDocumentIngest)
	if err != nil {
		return err
	}

	slog.Info("document ingestor started", "consumer", "document-ingestor")

	for {
		msgs, err := consumer.Fetch(5, jetstream.FetchMaxWait(inats.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("ingestor: fetching tasks", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			i.handleTask(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (i *Ingestor) handleTask(ctx context.Context, msg jetstream.Msg) {
	var task inats.DocumentIngestTask
	if err := json.Unmarshal(msg.Data(), &task); err != nil {
		slog.Error("ingestor: unmarshaling task", "error", err)
		_ = msg.Nak()
		return
	}

	claimed, err := i.repo.ClaimDocument(ctx, task.DocumentID)
	if err != nil {
		slog.Error("ingestor: claiming document", "error", err, "document_id", task.DocumentID)
		_ = msg.Nak()
		return
	}
	if !claimed {
		// Already processed or gone; nothing to redeliver.
		_ = msg.Ack()
		return
	}

	if err := i.process(ctx, task.DocumentID); err != nil {
		slog.Error("ingestor: processing document", "error", err, "document_id", task.DocumentID)
		if ferr := i.repo.SetDocumentStatus(ctx, task.DocumentID, ProcessingFailed, err.Error(), 0); ferr != nil {
			slog.Error("ingestor: marking document failed", "error", ferr, "document_id", task.DocumentID)
		}
		// Terminal failure is recorded on the document row; redelivering
		// the task would just repeat it.
		_ = msg.Ack()
		return
	}

	_ = msg.Ack()
	slog.Info("ingestor: document processed", "document_id", task.DocumentID)
}

func (i *Ingestor) process(ctx context.Context, documentID uuid.UUID) error {
	doc, err := i.repo.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("document %s not found", documentID)
	}

	kb, err := i.repo.GetKnowledgeBase(ctx, doc.KnowledgeBaseID)
	if err != nil {
		return err
	}
	if kb == nil {
		return ErrKnowledgeBaseNotFound
	}

	spans, err := SplitDocument(doc.Content, kb.ChunkSize, kb.ChunkOverlap)
	if err != nil {
		return err
	}

	// Reprocessing replaces any chunks from an earlier failed run.
	if err := i.repo.DeleteChunksByDocument(ctx, documentID); err != nil {
		return err
	}

	now := time.Now().UTC()
	chunks := make([]*Chunk, len(spans))
	for idx, span := range spans {
		chunks[idx] = &Chunk{
			ID:              uuid.New(),
			DocumentID:      doc.ID,
			KnowledgeBaseID: kb.ID,
			ChunkIndex:      span.Index,
			Content:         span.Content,
			StartOffset:     span.StartOffset,
			EndOffset:       span.EndOffset,
			CreatedAt:       now,
		}
	}

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, end-start)
		for j := start; j < end; j++ {
			texts[j-start] = chunks[j].Content
		}
		vectors, err := i.embedder.Embed(ctx, texts)
		if err != nil {
			return err
		}
		for j := start; j < end; j++ {
			chunks[j].Embedding = vectors[j-start]
		}
	}

	if err := i.repo.InsertChunks(ctx, chunks); err != nil {
		return err
	}
	metrics.ChunksIngestedTotal.Add(float64(len(chunks)))

	return i.repo.SetDocumentStatus(ctx, documentID, ProcessingCompleted, "", len(chunks))
}

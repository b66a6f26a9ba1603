package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

type Repository interface {
	CreateKnowledgeBase(ctx context.Context, kb *KnowledgeBase) error
	GetKnowledgeBase(ctx context.Context, id uuid.UUID) (*KnowledgeBase, error)
	ListKnowledgeBases(ctx context.Context, ownerUserID uuid.UUID) ([]*KnowledgeBase, error)
	DeleteKnowledgeBase(ctx context.Context, id, ownerUserID uuid.UUID) error

	CreateDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id uuid.UUID) (*Document, error)
	ListDocuments(ctx context.Context, kbID uuid.UUID) ([]*Document, error)
	SetDocumentStatus(ctx context.Context, id uuid.UUID, status, processingError string, chunkCount int) error
	ClaimDocument(ctx context.Context, id uuid.UUID) (bool, error)

	InsertChunks(ctx context.Context, chunks []*Chunk) error
	DeleteChunksByDocument(ctx context.Context, documentID uuid.UUID) error
	SearchSimilar(ctx context.Context, embedding []float32, kbIDs []uuid.UUID, limit int) ([]SearchResult, error)
	BumpSearchCounts(ctx context.Context, chunkIDs []uuid.UUID) error
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

func (r *postgresRepository) CreateKnowledgeBase(ctx context.Context, kb *KnowledgeBase) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO knowledge_bases (id, owner_user_id, name, description, chunk_size, chunk_overlap, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		kb.ID, kb.OwnerUserID, kb.Name, kb.Description, kb.ChunkSize, kb.ChunkOverlap, kb.CreatedAt, kb.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting knowledge base: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetKnowledgeBase(ctx context.Context, id uuid.UUID) (*KnowledgeBase, error) {
	kb := &KnowledgeBase{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, owner_user_id, name, description, chunk_size, chunk_overlap, document_count, created_at, updated_at
		FROM knowledge_bases WHERE id = $1`, id).Scan(
		&kb.ID, &kb.OwnerUserID, &kb.Name, &kb.Description, &kb.ChunkSize, &kb.ChunkOverlap,
		&kb.DocumentCount, &kb.CreatedAt, &kb.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying knowledge base: %w", err)
	}
	return kb, nil
}

func (r *postgresRepository) ListKnowledgeBases(ctx context.Context, ownerUserID uuid.UUID) ([]*KnowledgeBase, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, owner_user_id, name, description, chunk_size, chunk_overlap, document_count, created_at, updated_at
		FROM knowledge_bases WHERE owner_user_id = $1 ORDER BY created_at DESC`, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("listing knowledge bases: %w", err)
	}
	defer rows.Close()

	var kbs []*KnowledgeBase
	for rows.Next() {
		kb := &KnowledgeBase{}
		if err := rows.Scan(&kb.ID, &kb.OwnerUserID, &kb.Name, &kb.Description, &kb.ChunkSize,
			&kb.ChunkOverlap, &kb.DocumentCount, &kb.CreatedAt, &kb.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning knowledge base: %w", err)
		}
		kbs = append(kbs, kb)
	}
	return kbs, rows.Err()
}

func (r *postgresRepository) DeleteKnowledgeBase(ctx context.Context, id, ownerUserID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM knowledge_bases WHERE id = $1 AND owner_user_id = $2`, id, ownerUserID)
	if err != nil {
		return fmt.Errorf("deleting knowledge base: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrKnowledgeBaseNotFound
	}
	return nil
}

func (r *postgresRepository) CreateDocument(ctx context.Context, doc *Document) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning document transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO documents (id, knowledge_base_id, title, content, processing_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		doc.ID, doc.KnowledgeBaseID, doc.Title, doc.Content, doc.ProcessingStatus, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE knowledge_bases SET document_count = document_count + 1, updated_at = NOW()
		WHERE id = $1`, doc.KnowledgeBaseID)
	if err != nil {
		return fmt.Errorf("bumping document count: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *postgresRepository) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	doc := &Document{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, knowledge_base_id, title, content, processing_status, COALESCE(processing_error, ''), chunk_count, created_at, updated_at
		FROM documents WHERE id = $1`, id).Scan(
		&doc.ID, &doc.KnowledgeBaseID, &doc.Title, &doc.Content, &doc.ProcessingStatus,
		&doc.ProcessingError, &doc.ChunkCount, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying document: %w", err)
	}
	return doc, nil
}

func (r *postgresRepository) ListDocuments(ctx context.Context, kbID uuid.UUID) ([]*Document, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, knowledge_base_id, title, processing_status, COALESCE(processing_error, ''), chunk_count, created_at, updated_at
		FROM documents WHERE knowledge_base_id = $1 ORDER BY created_at DESC`, kbID)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc := &Document{}
		if err := rows.Scan(&doc.ID, &doc.KnowledgeBaseID, &doc.Title, &doc.ProcessingStatus,
			&doc.ProcessingError, &doc.ChunkCount, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (r *postgresRepository) SetDocumentStatus(ctx context.Context, id uuid.UUID, status, processingError string, chunkCount int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE documents
		SET processing_status = $2, processing_error = NULLIF($3, ''), chunk_count = $4, updated_at = NOW()
		WHERE id = $1`, id, status, processingError, chunkCount)
	if err != nil {
		return fmt.Errorf("updating document status: %w", err)
	}
	return nil
}

// ClaimDocument flips a PENDING document to PROCESSING. A false return
// means another worker already holds it or it no longer exists.
func (r *postgresRepository) ClaimDocument(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE documents SET processing_status = $2, updated_at = NOW()
		WHERE id = $1 AND processing_status = $3`,
		id, ProcessingInProgress, ProcessingPending)
	if err != nil {
		return false, fmt.Errorf("claiming document: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *postgresRepository) InsertChunks(ctx context.Context, chunks []*Chunk) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning chunk transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range chunks {
		_, err := tx.Exec(ctx, `
			INSERT INTO document_chunks (id, document_id, knowledge_base_id, chunk_index, content, start_offset, end_offset, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			c.ID, c.DocumentID, c.KnowledgeBaseID, c.ChunkIndex, c.Content,
			c.StartOffset, c.EndOffset, pgvector.NewVector(c.Embedding), c.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting chunk %d: %w", c.ChunkIndex, err)
		}
	}

	return tx.Commit(ctx)
}

func (r *postgresRepository) DeleteChunksByDocument(ctx context.Context, documentID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("deleting document chunks: %w", err)
	}
	return nil
}

// SearchSimilar runs a cosine nearest-neighbor query restricted to the
// given knowledge bases. Ties order by chunk_index then document_id so
// equal-similarity results are stable across runs.
func (r *postgresRepository) SearchSimilar(ctx context.Context, embedding []float32, kbIDs []uuid.UUID, limit int) ([]SearchResult, error) {
	vec := pgvector.NewVector(embedding)
	rows, err := r.pool.Query(ctx, `
		SELECT id, document_id, knowledge_base_id, chunk_index, content, start_offset, end_offset,
		       search_count, last_searched_at, created_at,
		       1 - (embedding <=> $1) AS similarity
		FROM document_chunks
		WHERE knowledge_base_id = ANY($2)
		ORDER BY embedding <=> $1, chunk_index, document_id
		LIMIT $3`,
		vec, kbIDs, limit)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var res SearchResult
		if err := rows.Scan(&res.Chunk.ID, &res.Chunk.DocumentID, &res.Chunk.KnowledgeBaseID,
			&res.Chunk.ChunkIndex, &res.Chunk.Content, &res.Chunk.StartOffset, &res.Chunk.EndOffset,
			&res.Chunk.SearchCount, &res.Chunk.LastSearchedAt, &res.Chunk.CreatedAt,
			&res.Similarity); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

func (r *postgresRepository) BumpSearchCounts(ctx context.Context, chunkIDs []uuid.UUID) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE document_chunks
		SET search_count = search_count + 1, last_searched_at = NOW()
		WHERE id = ANY($1)`, chunkIDs)
	if err != nil {
		return fmt.Errorf("bumping search counts: %w", err)
	}
	return nil
}

package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)
	ListSessions(ctx context.Context, userID uuid.UUID) ([]*Session, error)
	UpdateSessionStatus(ctx context.Context, id uuid.UUID, from, to string) error
	MarkSessionOverQuota(ctx context.Context, id uuid.UUID) error

	// AppendMessage assigns the next gap-free sequence number under a row
	// lock on the session and updates the session aggregates in the same
	// transaction.
	AppendMessage(ctx context.Context, msg *Message) error

	ListMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]*Message, error)
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

const sessionColumns = `id, user_id, title, provider_id, model_code, credential_preference, system_prompt,
	knowledge_base_ids, status, over_quota, message_count, total_input_tokens, total_output_tokens,
	last_message_at, created_at, updated_at`

func (r *postgresRepository) CreateSession(ctx context.Context, s *Session) error {
	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := r.pool.Exec(ctx, query,
		s.ID, s.UserID, s.Title, s.ProviderID, s.ModelCode, s.CredentialPreference, s.SystemPrompt,
		s.KnowledgeBaseIDs, s.Status, s.OverQuota, s.MessageCount, s.TotalInputTokens, s.TotalOutputTokens,
		s.LastMessageAt, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSession(r.pool.QueryRow(ctx, query, id))
}

func (r *postgresRepository) ListSessions(ctx context.Context, userID uuid.UUID) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE user_id = $1 AND status != 'DELETED'
		ORDER BY COALESCE(last_message_at, created_at) DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// UpdateSessionStatus performs a guarded transition: the update applies
// only when the session currently holds the `from` state, so concurrent
// transitions cannot race past the state machine.
func (r *postgresRepository) UpdateSessionStatus(ctx context.Context, id uuid.UUID, from, to string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, from, to)
	if err != nil {
		return fmt.Errorf("updating session status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotActive
	}
	return nil
}

func (r *postgresRepository) MarkSessionOverQuota(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sessions SET over_quota = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("flagging session over quota: %w", err)
	}
	return nil
}

func (r *postgresRepository) AppendMessage(ctx context.Context, msg *Message) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning append transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// The row lock serializes concurrent appends to one session, so the
	// assigned sequence numbers form a contiguous range from 1.
	var messageCount int
	var status string
	err = tx.QueryRow(ctx, `
		SELECT message_count, status FROM sessions WHERE id = $1 FOR UPDATE`,
		msg.SessionID).Scan(&messageCount, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("locking session row: %w", err)
	}
	if status != SessionActive {
		return ErrSessionNotActive
	}

	msg.SequenceNumber = messageCount + 1
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (id, session_id, sequence_number, role, content, input_tokens, output_tokens, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		msg.ID, msg.SessionID, msg.SequenceNumber, msg.Role, msg.Content,
		msg.InputTokens, msg.OutputTokens, msg.Status, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE sessions
		SET message_count = message_count + 1,
		    total_input_tokens = total_input_tokens + $2,
		    total_output_tokens = total_output_tokens + $3,
		    last_message_at = $4,
		    updated_at = NOW()
		WHERE id = $1`,
		msg.SessionID, msg.InputTokens, msg.OutputTokens, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("updating session aggregates: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *postgresRepository) ListMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, session_id, sequence_number, role, content, input_tokens, output_tokens, status, created_at
		FROM (
			SELECT * FROM messages WHERE session_id = $1 ORDER BY sequence_number DESC LIMIT $2
		) recent
		ORDER BY sequence_number ASC`

	rows, err := r.pool.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.ID, &m.SessionID, &m.SequenceNumber, &m.Role, &m.Content,
			&m.InputTokens, &m.OutputTokens, &m.Status, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func scanSession(row pgx.Row) (*Session, error) {
	s := &Session{}
	err := row.Scan(
		&s.ID, &s.UserID, &s.Title, &s.ProviderID, &s.ModelCode, &s.CredentialPreference, &s.SystemPrompt,
		&s.KnowledgeBaseIDs, &s.Status, &s.OverQuota, &s.MessageCount, &s.TotalInputTokens, &s.TotalOutputTokens,
		&s.LastMessageAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	return s, nil
}

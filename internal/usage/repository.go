package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, rec *Record) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO usage_events (id, user_id, session_id, message_id, provider_code, model_code, key_type, input_tokens, output_tokens, occurred_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.UserID, rec.SessionID, rec.MessageID, rec.ProviderCode, rec.ModelCode,
		rec.KeyType, rec.InputTokens, rec.OutputTokens, rec.OccurredAt, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting usage event: %w", err)
	}
	return nil
}

// SumByUserSince aggregates token consumption per provider for one user,
// feeding the usage report endpoint.
func (r *Repository) SumByUserSince(ctx context.Context, userID uuid.UUID, since time.Time) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT provider_code, COALESCE(SUM(input_tokens + output_tokens), 0)
		FROM usage_events
		WHERE user_id = $1 AND occurred_at >= $2
		GROUP BY provider_code`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("summing usage: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]int64)
	for rows.Next() {
		var code string
		var total int64
		if err := rows.Scan(&code, &total); err != nil {
			return nil, fmt.Errorf("scanning usage sum: %w", err)
		}
		totals[code] = total
	}
	return totals, rows.Err()
}

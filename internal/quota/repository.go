package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository performs the atomic accounting operations on the users table.
type Repository interface {
	ResetMonthlyIfDue(ctx context.Context, userID uuid.UUID, now time.Time) (bool, error)
	ConsumeIfFits(ctx context.Context, userID uuid.UUID, tokens int64) (remaining int64, ok bool, err error)
	GetUsage(ctx context.Context, userID uuid.UUID) (*Usage, error)
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

// ResetMonthlyIfDue zeroes the used counter and advances the reset date
// when the current period has ended. The conditional UPDATE makes the
// reset race-free: concurrent callers see at most one row affected.
func (r *postgresRepository) ResetMonthlyIfDue(ctx context.Context, userID uuid.UUID, now time.Time) (bool, error) {
	var resetDate time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT quota_reset_date FROM users WHERE id = $1`, userID,
	).Scan(&resetDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrAccountNotFound
		}
		return false, fmt.Errorf("reading quota reset date: %w", err)
	}

	if !PeriodExpired(resetDate, now) {
		return false, nil
	}

	next := AdvanceResetDate(resetDate, now)
	tag, err := r.pool.Exec(ctx,
		`UPDATE users
		 SET monthly_token_used = 0,
		     quota_reset_date = $2,
		     updated_at = NOW()
		 WHERE id = $1 AND quota_reset_date <= $3`,
		userID, next, now)
	if err != nil {
		return false, fmt.Errorf("resetting monthly quota: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ConsumeIfFits is a single serialized check-and-increment: the row is
// updated only when the new total stays within the limit. ok=false with a
// nil error means the consumption was rejected with nothing charged.
func (r *postgresRepository) ConsumeIfFits(ctx context.Context, userID uuid.UUID, tokens int64) (int64, bool, error) {
	var remaining int64
	err := r.pool.QueryRow(ctx,
		`UPDATE users
		 SET monthly_token_used = monthly_token_used + $2,
		     updated_at = NOW()
		 WHERE id = $1 AND monthly_token_used + $2 <= monthly_token_limit
		 RETURNING monthly_token_limit - monthly_token_used`,
		userID, tokens,
	).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("consuming quota: %w", err)
	}
	return remaining, true, nil
}

func (r *postgresRepository) GetUsage(ctx context.Context, userID uuid.UUID) (*Usage, error) {
	u := &Usage{UserID: userID}
	err := r.pool.QueryRow(ctx,
		`SELECT monthly_token_limit, monthly_token_used, quota_reset_date
		 FROM users WHERE id = $1`, userID,
	).Scan(&u.TokenLimit, &u.TokenUsed, &u.QuotaResetDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("reading quota usage: %w", err)
	}
	return u, nil
}

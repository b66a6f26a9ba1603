package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	Create(ctx context.Context, cfg *Config) error
	GetByID(ctx context.Context, id uuid.UUID) (*Config, error)
	ListByUserProvider(ctx context.Context, userID, providerID uuid.UUID) ([]*Config, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Config, error)
	SetDefault(ctx context.Context, userID, providerID, credentialID uuid.UUID) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	Delete(ctx context.Context, id uuid.UUID) error
	AddFreeQuotaUsed(ctx context.Context, id uuid.UUID, tokens int64) error
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

const credentialColumns = `id, user_id, provider_id, key_type, encrypted_secret, is_default, priority,
	monthly_free_quota_used, quota_reset_date, status, created_at, updated_at`

func (r *postgresRepository) Create(ctx context.Context, cfg *Config) error {
	query := `
		INSERT INTO credential_configs (` + credentialColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.pool.Exec(ctx, query,
		cfg.ID, cfg.UserID, cfg.ProviderID, cfg.KeyType, cfg.EncryptedSecret,
		cfg.IsDefault, cfg.Priority, cfg.MonthlyFreeQuotaUsed, cfg.QuotaResetDate,
		cfg.Status, cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting credential: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Config, error) {
	query := `SELECT ` + credentialColumns + ` FROM credential_configs WHERE id = $1`
	return r.scan(r.pool.QueryRow(ctx, query, id))
}

func (r *postgresRepository) ListByUserProvider(ctx context.Context, userID, providerID uuid.UUID) ([]*Config, error) {
	query := `
		SELECT ` + credentialColumns + ` FROM credential_configs
		WHERE user_id = $1 AND provider_id = $2
		ORDER BY priority, created_at DESC`
	return r.list(ctx, query, userID, providerID)
}

func (r *postgresRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Config, error) {
	query := `
		SELECT ` + credentialColumns + ` FROM credential_configs
		WHERE user_id = $1
		ORDER BY provider_id, priority, created_at DESC`
	return r.list(ctx, query, userID)
}

// SetDefault clears any existing default for the (user, provider) pair and
// marks credentialID in one transaction, so at most one default ever holds.
func (r *postgresRepository) SetDefault(ctx context.Context, userID, providerID, credentialID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning set-default transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE credential_configs SET is_default = FALSE, updated_at = NOW()
		WHERE user_id = $1 AND provider_id = $2 AND is_default = TRUE`,
		userID, providerID)
	if err != nil {
		return fmt.Errorf("clearing previous default: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE credential_configs SET is_default = TRUE, updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND provider_id = $3`,
		credentialID, userID, providerID)
	if err != nil {
		return fmt.Errorf("setting default credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("setting default credential: %w", ErrNoAvailableCredential)
	}

	return tx.Commit(ctx)
}

func (r *postgresRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE credential_configs SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("updating credential status: %w", err)
	}
	return nil
}

func (r *postgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM credential_configs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	return nil
}

// AddFreeQuotaUsed records post-call consumption against a free-tier
// credential. Period reset and increment are one conditional UPDATE so a
// concurrent increment cannot land between a reset and the add and be
// wiped.
func (r *postgresRepository) AddFreeQuotaUsed(ctx context.Context, id uuid.UUID, tokens int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE credential_configs
		SET monthly_free_quota_used = CASE
		        WHEN quota_reset_date <= NOW() THEN $2
		        ELSE monthly_free_quota_used + $2
		    END,
		    quota_reset_date = CASE
		        WHEN quota_reset_date <= NOW()
		            THEN date_trunc('month', NOW() AT TIME ZONE 'UTC') + INTERVAL '1 month'
		        ELSE quota_reset_date
		    END,
		    updated_at = NOW()
		WHERE id = $1`, id, tokens)
	if err != nil {
		return fmt.Errorf("adding free quota used: %w", err)
	}
	return nil
}

func (r *postgresRepository) list(ctx context.Context, query string, args ...any) ([]*Config, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	defer rows.Close()

	var configs []*Config
	for rows.Next() {
		c, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

func (r *postgresRepository) scan(row pgx.Row) (*Config, error) {
	c := &Config{}
	err := row.Scan(
		&c.ID, &c.UserID, &c.ProviderID, &c.KeyType, &c.EncryptedSecret,
		&c.IsDefault, &c.Priority, &c.MonthlyFreeQuotaUsed, &c.QuotaResetDate,
		&c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning credential: %w", err)
	}
	return c, nil
}

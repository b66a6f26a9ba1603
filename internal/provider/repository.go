package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Provider, error)
	GetByCode(ctx context.Context, code string) (*Provider, error)
	GetSystemDefault(ctx context.Context) (*Provider, error)
	List(ctx context.Context) ([]*Provider, error)
	GetModel(ctx context.Context, providerID uuid.UUID, code string) (*Model, error)
	ListModels(ctx context.Context, providerID uuid.UUID) ([]*Model, error)
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

const providerColumns = `id, code, name, service_type, base_url, requests_per_minute, tokens_per_minute,
	timeout_seconds, max_retries, free_quota_per_user_monthly, is_system_default, is_active, created_at, updated_at`

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	query := `SELECT ` + providerColumns + ` FROM providers WHERE id = $1`
	return r.scanProvider(r.pool.QueryRow(ctx, query, id))
}

func (r *postgresRepository) GetByCode(ctx context.Context, code string) (*Provider, error) {
	query := `SELECT ` + providerColumns + ` FROM providers WHERE code = $1`
	return r.scanProvider(r.pool.QueryRow(ctx, query, code))
}

func (r *postgresRepository) GetSystemDefault(ctx context.Context) (*Provider, error) {
	query := `SELECT ` + providerColumns + ` FROM providers WHERE is_system_default = TRUE AND is_active = TRUE LIMIT 1`
	return r.scanProvider(r.pool.QueryRow(ctx, query))
}

func (r *postgresRepository) List(ctx context.Context) ([]*Provider, error) {
	query := `SELECT ` + providerColumns + ` FROM providers WHERE is_active = TRUE ORDER BY code`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing providers: %w", err)
	}
	defer rows.Close()

	var providers []*Provider
	for rows.Next() {
		p, err := r.scanProvider(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

const modelColumns = `id, provider_id, code, name, context_window, max_tokens,
	input_price_per_mtok, output_price_per_mtok, supports_streaming, supports_functions, supports_vision,
	is_active, created_at, updated_at`

func (r *postgresRepository) GetModel(ctx context.Context, providerID uuid.UUID, code string) (*Model, error) {
	query := `SELECT ` + modelColumns + ` FROM models WHERE provider_id = $1 AND code = $2`
	m := &Model{}
	err := r.pool.QueryRow(ctx, query, providerID, code).Scan(
		&m.ID, &m.ProviderID, &m.Code, &m.Name, &m.ContextWindow, &m.MaxTokens,
		&m.InputPricePerMTok, &m.OutputPricePerMTok, &m.SupportsStreaming, &m.SupportsFunctions, &m.SupportsVision,
		&m.IsActive, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting model: %w", err)
	}
	return m, nil
}

func (r *postgresRepository) ListModels(ctx context.Context, providerID uuid.UUID) ([]*Model, error) {
	query := `SELECT ` + modelColumns + ` FROM models WHERE provider_id = $1 AND is_active = TRUE ORDER BY code`
	rows, err := r.pool.Query(ctx, query, providerID)
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	defer rows.Close()

	var models []*Model
	for rows.Next() {
		m := &Model{}
		if err := rows.Scan(
			&m.ID, &m.ProviderID, &m.Code, &m.Name, &m.ContextWindow, &m.MaxTokens,
			&m.InputPricePerMTok, &m.OutputPricePerMTok, &m.SupportsStreaming, &m.SupportsFunctions, &m.SupportsVision,
			&m.IsActive, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning model: %w", err)
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

func (r *postgresRepository) scanProvider(row pgx.Row) (*Provider, error) {
	p := &Provider{}
	err := row.Scan(
		&p.ID, &p.Code, &p.Name, &p.ServiceType, &p.BaseURL, &p.RequestsPerMinute, &p.TokensPerMinute,
		&p.TimeoutSeconds, &p.MaxRetries, &p.FreeQuotaPerUserMonthly, &p.IsSystemDefault, &p.IsActive,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning provider: %w", err)
	}
	return p, nil
}

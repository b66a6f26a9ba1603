package credential

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clarity-platform/clarity/internal/auth"
	"github.com/clarity-platform/clarity/internal/provider"
	"github.com/clarity-platform/clarity/internal/quota"
)

// Resolved is a selected credential paired with the decrypted or platform
// API key the gateway will send upstream.
type Resolved struct {
	Credential *Config
	APIKey     string
}

// Service wraps the pure selector with storage reads, secret encryption,
// and platform key lookup for official tiers.
type Service struct {
	repo         Repository
	providers    provider.Repository
	encryptor    *auth.Encryptor
	officialKeys map[string]string
}

func NewService(repo Repository, providers provider.Repository, encryptor *auth.Encryptor, officialKeys map[string]string) *Service {
	return &Service{
		repo:         repo,
		providers:    providers,
		encryptor:    encryptor,
		officialKeys: officialKeys,
	}
}

// CreateInput is the validated shape for adding a credential.
type CreateInput struct {
	UserID     uuid.UUID
	ProviderID uuid.UUID
	KeyType    string
	Secret     string
	Priority   int
	IsDefault  bool
}

// Create stores a new credential. User-provided credentials require a
// secret, which is encrypted at rest; official tiers carry none because
// their keys live in platform configuration.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Config, error) {
	switch in.KeyType {
	case KeyUserProvided:
		if in.Secret == "" {
			return nil, fmt.Errorf("user-provided credential requires a secret")
		}
	case KeyOfficialFree, KeyOfficialPaid:
		if in.Secret != "" {
			return nil, fmt.Errorf("official credential must not carry a secret")
		}
	default:
		return nil, fmt.Errorf("invalid key type %q", in.KeyType)
	}

	p, err := s.providers.GetByID(ctx, in.ProviderID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("provider %s not found", in.ProviderID)
	}

	now := time.Now().UTC()
	cfg := &Config{
		ID:             uuid.New(),
		UserID:         in.UserID,
		ProviderID:     in.ProviderID,
		KeyType:        in.KeyType,
		Priority:       in.Priority,
		QuotaResetDate: quota.NextResetDate(now),
		Status:         StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.Secret != "" {
		encrypted, err := s.encryptor.Encrypt(in.Secret)
		if err != nil {
			return nil, fmt.Errorf("encrypting credential secret: %w", err)
		}
		cfg.EncryptedSecret = &encrypted
	}

	if err := s.repo.Create(ctx, cfg); err != nil {
		return nil, err
	}
	if in.IsDefault {
		if err := s.repo.SetDefault(ctx, in.UserID, in.ProviderID, cfg.ID); err != nil {
			return nil, err
		}
		cfg.IsDefault = true
	}
	return cfg, nil
}

// Resolve selects the credential serving a request and materializes its
// API key. Selection itself is read-only; free-tier consumption is
// recorded by the orchestrator after the provider call succeeds.
func (s *Service) Resolve(ctx context.Context, userID uuid.UUID, p *provider.Provider, preference string) (*Resolved, error) {
	snapshot, err := s.repo.ListByUserProvider(ctx, userID, p.ID)
	if err != nil {
		return nil, err
	}

	selected, err := Select(snapshot, p, preference, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	key, err := s.keyFor(selected, p)
	if err != nil {
		return nil, err
	}
	return &Resolved{Credential: selected, APIKey: key}, nil
}

// RecordUsage charges post-call token consumption against a free-tier
// credential. Other tiers are billed by the upstream or the user's quota,
// not here.
func (s *Service) RecordUsage(ctx context.Context, cred *Config, tokens int64) error {
	if cred.KeyType != KeyOfficialFree || tokens <= 0 {
		return nil
	}
	return s.repo.AddFreeQuotaUsed(ctx, cred.ID, tokens)
}

func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]*Config, error) {
	return s.repo.ListByUser(ctx, userID)
}

func (s *Service) SetDefault(ctx context.Context, userID, providerID, credentialID uuid.UUID) error {
	return s.repo.SetDefault(ctx, userID, providerID, credentialID)
}

func (s *Service) UpdateStatus(ctx context.Context, userID, credentialID uuid.UUID, status string) error {
	switch status {
	case StatusActive, StatusInactive, StatusExpired:
	default:
		return fmt.Errorf("invalid credential status %q", status)
	}
	cred, err := s.repo.GetByID(ctx, credentialID)
	if err != nil {
		return err
	}
	if cred == nil || cred.UserID != userID {
		return ErrNoAvailableCredential
	}
	return s.repo.UpdateStatus(ctx, credentialID, status)
}

func (s *Service) Delete(ctx context.Context, userID, credentialID uuid.UUID) error {
	cred, err := s.repo.GetByID(ctx, credentialID)
	if err != nil {
		return err
	}
	if cred == nil || cred.UserID != userID {
		return ErrNoAvailableCredential
	}
	return s.repo.Delete(ctx, credentialID)
}

func (s *Service) keyFor(cred *Config, p *provider.Provider) (string, error) {
	if cred.KeyType == KeyUserProvided {
		if cred.EncryptedSecret == nil {
			return "", fmt.Errorf("credential %s has no stored secret", cred.ID)
		}
		key, err := s.encryptor.Decrypt(*cred.EncryptedSecret)
		if err != nil {
			return "", fmt.Errorf("decrypting credential secret: %w", err)
		}
		return key, nil
	}
	key, ok := s.officialKeys[p.Code]
	if !ok || key == "" {
		return "", fmt.Errorf("no platform key configured for provider %s", p.Code)
	}
	return key, nil
}

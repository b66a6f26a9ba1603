package users

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clarity-platform/clarity/internal/quota"
)

type Service struct {
	repo                Repository
	defaultMonthlyLimit int64
}

func NewService(repo Repository, defaultMonthlyLimit int64) *Service {
	return &Service{repo: repo, defaultMonthlyLimit: defaultMonthlyLimit}
}

func (s *Service) Create(ctx context.Context, email, passwordHash string, monthlyLimit int64) (*User, error) {
	if monthlyLimit <= 0 {
		monthlyLimit = s.defaultMonthlyLimit
	}
	now := time.Now()
	user := &User{
		ID:                uuid.New(),
		Email:             email,
		PasswordHash:      passwordHash,
		MonthlyTokenLimit: monthlyLimit,
		MonthlyTokenUsed:  0,
		QuotaResetDate:    quota.NextResetDate(now),
		Status:            StatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.repo.GetByEmail(ctx, email)
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return s.repo.ExistsByEmail(ctx, email)
}

package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clarity-platform/clarity/internal/config"
	"github.com/clarity-platform/clarity/internal/metrics"
)

// Ledger is the token-budget accountant. All mutation goes through
// TryConsume; the check and the increment are one conditional UPDATE, so
// two concurrent consumptions that individually fit but jointly overflow
// can never both succeed.
type Ledger struct {
	repo Repository
	cfg  config.QuotaConfig
}

func NewLedger(repo Repository, cfg config.QuotaConfig) *Ledger {
	return &Ledger{repo: repo, cfg: cfg}
}

// TryConsume charges tokens against the user's monthly budget. A stale
// period is reset before the check; reset and check target the same row
// under read-committed isolation. Rejection is terminal for the request:
// nothing is charged and nothing is retried here.
func (l *Ledger) TryConsume(ctx context.Context, userID uuid.UUID, tokens int64) (int64, error) {
	if tokens <= 0 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidTokenDelta, tokens)
	}

	if _, err := l.repo.ResetMonthlyIfDue(ctx, userID, time.Now().UTC()); err != nil {
		return 0, fmt.Errorf("quota reset check: %w", err)
	}

	remaining, ok, err := l.repo.ConsumeIfFits(ctx, userID, tokens)
	if err != nil {
		return 0, err
	}
	if !ok {
		metrics.QuotaRejectionsTotal.Inc()
		usage, uErr := l.repo.GetUsage(ctx, userID)
		if uErr != nil {
			// Distinguish a missing account from a full one.
			return 0, uErr
		}
		slog.Info("quota consumption rejected",
			"user_id", userID,
			"requested", tokens,
			"used", usage.TokenUsed,
			"limit", usage.TokenLimit,
		)
		return 0, fmt.Errorf("%w: %d requested, %d of %d used",
			ErrQuotaExceeded, tokens, usage.TokenUsed, usage.TokenLimit)
	}

	return remaining, nil
}

// Status reports current usage with the warning flag evaluated against the
// configured threshold. A stale period is reset first so the report covers
// the live period.
func (l *Ledger) Status(ctx context.Context, userID uuid.UUID) (*Status, error) {
	if _, err := l.repo.ResetMonthlyIfDue(ctx, userID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("quota reset check: %w", err)
	}

	usage, err := l.repo.GetUsage(ctx, userID)
	if err != nil {
		return nil, err
	}

	return BuildStatus(usage, l.cfg.WarningThreshold), nil
}

// BuildStatus derives the warning/blocked flags from a usage snapshot.
// Kept pure for testability.
func BuildStatus(usage *Usage, warningThreshold float64) *Status {
	remaining := usage.TokenLimit - usage.TokenUsed
	if remaining < 0 {
		remaining = 0
	}
	return &Status{
		TokenLimit:     usage.TokenLimit,
		TokenUsed:      usage.TokenUsed,
		Remaining:      remaining,
		QuotaResetDate: usage.QuotaResetDate,
		Warning:        float64(usage.TokenUsed) >= warningThreshold*float64(usage.TokenLimit),
		Blocked:        usage.TokenUsed >= usage.TokenLimit,
	}
}

package credential

import (
	"fmt"
	"time"

	"github.com/clarity-platform/clarity/internal/provider"
	"github.com/clarity-platform/clarity/internal/quota"
)

// autoTierOrder fixes the AUTO walk: spend platform free quota first, then
// the user's own key, then platform paid access.
var autoTierOrder = []string{KeyOfficialFree, KeyUserProvided, KeyOfficialPaid}

// Select picks the credential that should serve a request. It is a pure
// function over a snapshot of the user's credentials for one provider:
// given identical state it always returns the same credential, and it
// never mutates anything. Quota consumption happens after the call
// succeeds, not here.
func Select(snapshot []*Config, p *provider.Provider, preference string, now time.Time) (*Config, error) {
	if !ValidPreference(preference) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPreference, preference)
	}

	active := make([]*Config, 0, len(snapshot))
	for _, c := range snapshot {
		if c.Status == StatusActive {
			active = append(active, c)
		}
	}

	if preference != PreferenceAuto {
		if best := bestInTier(active, preference, p, now); best != nil {
			return best, nil
		}
		return nil, fmt.Errorf("%w: no %s credential for provider %s", ErrNoAvailableCredential, preference, p.Code)
	}

	for _, tier := range autoTierOrder {
		if best := bestInTier(active, tier, p, now); best != nil {
			return best, nil
		}
	}
	return nil, fmt.Errorf("%w: provider %s", ErrNoAvailableCredential, p.Code)
}

// bestInTier returns the eligible credential with the lowest priority
// value, breaking ties by most recent creation. Exhausted free credentials
// are skipped rather than erroring so AUTO falls through to the next tier.
func bestInTier(candidates []*Config, keyType string, p *provider.Provider, now time.Time) *Config {
	var best *Config
	for _, c := range candidates {
		if c.KeyType != keyType {
			continue
		}
		if keyType == KeyOfficialFree && !freeQuotaAvailable(c, p, now) {
			continue
		}
		if best == nil ||
			c.Priority < best.Priority ||
			(c.Priority == best.Priority && c.CreatedAt.After(best.CreatedAt)) {
			best = c
		}
	}
	return best
}

// freeQuotaAvailable applies the monthly reset rule before comparing
// against the provider's per-user free allotment: a credential whose reset
// date has passed is treated as starting a fresh period.
func freeQuotaAvailable(c *Config, p *provider.Provider, now time.Time) bool {
	if p.FreeQuotaPerUserMonthly <= 0 {
		return false
	}
	if quota.PeriodExpired(c.QuotaResetDate, now) {
		return true
	}
	return c.MonthlyFreeQuotaUsed < p.FreeQuotaPerUserMonthly
}

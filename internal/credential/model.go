package credential

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Key types mirror the provider service tiers; they govern which secret a
// call carries and which quota rules apply.
const (
	KeyUserProvided = "USER_PROVIDED"
	KeyOfficialFree = "OFFICIAL_FREE"
	KeyOfficialPaid = "OFFICIAL_PAID"

	// PreferenceAuto walks the tiers OFFICIAL_FREE, USER_PROVIDED,
	// OFFICIAL_PAID in order.
	PreferenceAuto = "AUTO"
)

const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
	StatusExpired  = "EXPIRED"
)

// ErrNoAvailableCredential means no credential matched the user, provider,
// and preference. Never retried automatically; the user must add or
// reactivate a credential.
var ErrNoAvailableCredential = errors.New("no available credential")

// ErrInvalidPreference rejects an unknown preference value at the API edge.
var ErrInvalidPreference = errors.New("invalid credential preference")

// Config is one usable pairing of a user, a provider, and a secret or
// official access grant. EncryptedSecret is nil for official tiers, whose
// keys live in platform configuration rather than per-user rows.
type Config struct {
	ID                   uuid.UUID  `json:"id"`
	UserID               uuid.UUID  `json:"user_id"`
	ProviderID           uuid.UUID  `json:"provider_id"`
	KeyType              string     `json:"key_type"`
	EncryptedSecret      *string    `json:"-"`
	IsDefault            bool       `json:"is_default"`
	Priority             int        `json:"priority"`
	MonthlyFreeQuotaUsed int64      `json:"monthly_free_quota_used"`
	QuotaResetDate       time.Time  `json:"quota_reset_date"`
	Status               string     `json:"status"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// ValidPreference reports whether p is a selectable preference.
func ValidPreference(p string) bool {
	switch p {
	case PreferenceAuto, KeyUserProvided, KeyOfficialFree, KeyOfficialPaid:
		return true
	}
	return false
}

package provider

import (
	"time"

	"github.com/google/uuid"
)

// Service types govern billing and quota rules for credentials issued
// against a provider.
const (
	ServiceUserProvided = "USER_PROVIDED"
	ServiceOfficialFree = "OFFICIAL_FREE"
	ServiceOfficialPaid = "OFFICIAL_PAID"
)

// Provider is an upstream AI service (openai, anthropic, google, zhipu).
// At most one provider row carries IsSystemDefault.
type Provider struct {
	ID                      uuid.UUID `json:"id"`
	Code                    string    `json:"code"`
	Name                    string    `json:"name"`
	ServiceType             string    `json:"service_type"`
	BaseURL                 string    `json:"base_url"`
	RequestsPerMinute       int       `json:"requests_per_minute"`
	TokensPerMinute         int       `json:"tokens_per_minute"`
	TimeoutSeconds          int       `json:"timeout_seconds"`
	MaxRetries              int       `json:"max_retries"`
	FreeQuotaPerUserMonthly int64     `json:"free_quota_per_user_monthly"`
	IsSystemDefault         bool      `json:"is_system_default"`
	IsActive                bool      `json:"is_active"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// Model is one invocable model owned by a provider.
type Model struct {
	ID                 uuid.UUID `json:"id"`
	ProviderID         uuid.UUID `json:"provider_id"`
	Code               string    `json:"code"`
	Name               string    `json:"name"`
	ContextWindow      int       `json:"context_window"`
	MaxTokens          int       `json:"max_tokens"`
	InputPricePerMTok  float64   `json:"input_price_per_mtok"`
	OutputPricePerMTok float64   `json:"output_price_per_mtok"`
	SupportsStreaming  bool      `json:"supports_streaming"`
	SupportsFunctions  bool      `json:"supports_functions"`
	SupportsVision     bool      `json:"supports_vision"`
	IsActive           bool      `json:"is_active"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

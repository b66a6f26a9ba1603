package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clarity-platform/clarity/internal/config"
	"github.com/clarity-platform/clarity/internal/metrics"
	"github.com/clarity-platform/clarity/internal/provider"
)

// Call is one resolved upstream invocation: a provider row, the decrypted
// API key, a rate-limit scope (normally the credential ID), and the
// provider-neutral request.
type Call struct {
	Provider      *provider.Provider
	APIKey        string
	CredentialKey string
	Request       *provider.Request
}

// Gateway dispatches provider-neutral requests to registered backends,
// applying the provider row's timeout, retry, and rate-limit settings.
type Gateway struct {
	registry *provider.Registry
	limiter  *RateLimiter
	cfg      config.GatewayConfig
	logger   *slog.Logger
}

func New(registry *provider.Registry, limiter *RateLimiter, cfg config.GatewayConfig, logger *slog.Logger) *Gateway {
	return &Gateway{
		registry: registry,
		limiter:  limiter,
		cfg:      cfg,
		logger:   logger,
	}
}

// Invoke performs a buffered completion. Transient failures are retried
// with capped exponential backoff up to the provider's max_retries; fatal
// failures (auth, malformed request) surface immediately.
func (g *Gateway) Invoke(ctx context.Context, call *Call) (*provider.Response, error) {
	backend, err := g.registry.Get(call.Provider.Code)
	if err != nil {
		return nil, err
	}
	if err := g.reserve(ctx, call); err != nil {
		return nil, err
	}

	var resp *provider.Response
	attempts := g.maxRetries(call.Provider) + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			metrics.ProviderRetriesTotal.WithLabelValues(call.Provider.Code).Inc()
			if err := g.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		start := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, g.timeout(call.Provider))
		resp, err = backend.Complete(callCtx, call.APIKey, call.Request)
		cancel()
		metrics.ProviderCallDuration.WithLabelValues(call.Provider.Code).Observe(time.Since(start).Seconds())

		if err == nil {
			metrics.ProviderCallsTotal.WithLabelValues(call.Provider.Code, "success").Inc()
			return resp, nil
		}
		if !provider.IsTransient(err) || ctx.Err() != nil {
			metrics.ProviderCallsTotal.WithLabelValues(call.Provider.Code, "error").Inc()
			return nil, err
		}
		g.logger.Warn("transient provider failure",
			"provider", call.Provider.Code,
			"attempt", attempt+1,
			"error", err)
	}

	metrics.ProviderCallsTotal.WithLabelValues(call.Provider.Code, "error").Inc()
	return nil, fmt.Errorf("provider %s: retries exhausted: %w", call.Provider.Code, err)
}

// InvokeStream opens a streaming completion. Connection setup is retried
// like Invoke; once deltas start flowing, a failure mid-stream is final
// and arrives on the channel.
func (g *Gateway) InvokeStream(ctx context.Context, call *Call) (<-chan provider.StreamDelta, error) {
	backend, err := g.registry.Get(call.Provider.Code)
	if err != nil {
		return nil, err
	}
	if err := g.reserve(ctx, call); err != nil {
		return nil, err
	}

	var deltas <-chan provider.StreamDelta
	attempts := g.maxRetries(call.Provider) + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			metrics.ProviderRetriesTotal.WithLabelValues(call.Provider.Code).Inc()
			if err := g.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		// The stream outlives this call; the caller's ctx governs it.
		deltas, err = backend.Stream(ctx, call.APIKey, call.Request)
		if err == nil {
			metrics.ProviderCallsTotal.WithLabelValues(call.Provider.Code, "success").Inc()
			return deltas, nil
		}
		if !provider.IsTransient(err) || ctx.Err() != nil {
			metrics.ProviderCallsTotal.WithLabelValues(call.Provider.Code, "error").Inc()
			return nil, err
		}
		g.logger.Warn("transient provider failure opening stream",
			"provider", call.Provider.Code,
			"attempt", attempt+1,
			"error", err)
	}

	metrics.ProviderCallsTotal.WithLabelValues(call.Provider.Code, "error").Inc()
	return nil, fmt.Errorf("provider %s: retries exhausted: %w", call.Provider.Code, err)
}

// reserve occupies request and token budget in the local sliding windows
// before anything leaves the process.
func (g *Gateway) reserve(ctx context.Context, call *Call) error {
	ok, err := g.limiter.AllowRequest(ctx, call.Provider.Code, call.CredentialKey, call.Provider.RequestsPerMinute)
	if err != nil {
		return fmt.Errorf("checking request window: %w", err)
	}
	if !ok {
		return fmt.Errorf("provider %s: requests per minute: %w", call.Provider.Code, ErrRateLimitExceeded)
	}

	ok, err = g.limiter.AllowTokens(ctx, call.Provider.Code, call.CredentialKey, estimateTokens(call.Request), call.Provider.TokensPerMinute)
	if err != nil {
		return fmt.Errorf("checking token window: %w", err)
	}
	if !ok {
		return fmt.Errorf("provider %s: tokens per minute: %w", call.Provider.Code, ErrRateLimitExceeded)
	}
	return nil
}

func (g *Gateway) timeout(p *provider.Provider) time.Duration {
	if p.TimeoutSeconds > 0 {
		return time.Duration(p.TimeoutSeconds) * time.Second
	}
	return g.cfg.DefaultTimeout
}

func (g *Gateway) maxRetries(p *provider.Provider) int {
	if p.MaxRetries > 0 {
		return p.MaxRetries
	}
	return g.cfg.DefaultMaxRetries
}

// backoff sleeps base*2^(attempt-1) capped at cfg.BackoffCap, or returns
// early when the context ends.
func (g *Gateway) backoff(ctx context.Context, attempt int) error {
	d := g.cfg.BackoffBase << (attempt - 1)
	if d > g.cfg.BackoffCap || d <= 0 {
		d = g.cfg.BackoffCap
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// estimateTokens approximates the token weight of a request for the local
// token window: roughly four characters per prompt token plus the response
// ceiling.
func estimateTokens(req *provider.Request) int64 {
	var chars int64
	for _, m := range req.Messages {
		chars += int64(len(m.Content))
	}
	return chars/4 + int64(req.MaxTokens)
}

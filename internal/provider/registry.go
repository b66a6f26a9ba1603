package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// Backend is the capability interface one upstream implementation
// satisfies. The gateway selects a Backend by provider code; credentials
// are passed per call so one Backend instance serves every tenant.
type Backend interface {
	Complete(ctx context.Context, apiKey string, req *Request) (*Response, error)
	Stream(ctx context.Context, apiKey string, req *Request) (<-chan StreamDelta, error)
}

// Registry maps provider codes to Backend implementations.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register installs a backend under the given provider code.
func (r *Registry) Register(code string, b Backend) {
	code = strings.ToLower(strings.TrimSpace(code))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[code] = b
}

// Get returns the backend for a provider code, or ErrUnsupportedProvider.
func (r *Registry) Get(code string) (Backend, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	r.mu.RLock()
	b, ok := r.backends[code]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, code)
	}
	return b, nil
}

// Codes lists the registered provider codes.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.backends))
	for c := range r.backends {
		codes = append(codes, c)
	}
	return codes
}

// NewDefaultRegistry wires the built-in backends. Base URLs can be
// overridden per provider row; empty strings fall back to each backend's
// public endpoint.
func NewDefaultRegistry(client *http.Client) *Registry {
	r := NewRegistry()
	r.Register("openai", NewOpenAIBackend("", client))
	r.Register("anthropic", NewAnthropicBackend("", client))
	r.Register("google", NewGoogleBackend("", client))
	// Zhipu's GLM API speaks the OpenAI chat wire format.
	r.Register("zhipu", NewOpenAICompatibleBackend("zhipu", "https://open.bigmodel.cn/api/paas/v4", client))
	return r
}

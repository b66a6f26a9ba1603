package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clarity-platform/clarity/internal/config"
	"github.com/clarity-platform/clarity/internal/provider"
)

type scriptedBackend struct {
	calls     int
	responses []func() (*provider.Response, error)
}

func (b *scriptedBackend) Complete(_ context.Context, _ string, _ *provider.Request) (*provider.Response, error) {
	i := b.calls
	b.calls++
	if i >= len(b.responses) {
		i = len(b.responses) - 1
	}
	return b.responses[i]()
}

func (b *scriptedBackend) Stream(_ context.Context, _ string, _ *provider.Request) (<-chan provider.StreamDelta, error) {
	resp, err := b.Complete(nil, "", nil)
	if err != nil {
		return nil, err
	}
	ch := make(chan provider.StreamDelta, 2)
	ch <- provider.StreamDelta{Content: resp.Content}
	ch <- provider.StreamDelta{Done: true, Usage: &resp.Usage}
	close(ch)
	return ch, nil
}

func newTestGateway(t *testing.T, backend provider.Backend) (*Gateway, *provider.Provider) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	reg := provider.NewRegistry()
	reg.Register("test", backend)

	cfg := config.GatewayConfig{
		DefaultTimeout:    5 * time.Second,
		DefaultMaxRetries: 2,
		BackoffBase:       time.Millisecond,
		BackoffCap:        5 * time.Millisecond,
	}
	g := New(reg, NewRateLimiter(rdb), cfg, slog.Default())

	p := &provider.Provider{
		Code:              "test",
		RequestsPerMinute: 100,
		TokensPerMinute:   100000,
	}
	return g, p
}

func testCall(p *provider.Provider) *Call {
	return &Call{
		Provider:      p,
		APIKey:        "sk-test",
		CredentialKey: "cred-1",
		Request: &provider.Request{
			ModelCode: "test-model",
			Messages:  []provider.ChatMessage{{Role: "user", Content: "hi"}},
			MaxTokens: 64,
		},
	}
}

func TestInvokeSuccess(t *testing.T) {
	backend := &scriptedBackend{responses: []func() (*provider.Response, error){
		func() (*provider.Response, error) {
			return &provider.Response{Content: "done", Usage: provider.Usage{InputTokens: 5, OutputTokens: 2}}, nil
		},
	}}
	g, p := newTestGateway(t, backend)

	resp, err := g.Invoke(context.Background(), testCall(p))
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content)
	assert.Equal(t, 1, backend.calls)
}

func TestInvokeRetriesTransient(t *testing.T) {
	transient := func() (*provider.Response, error) {
		return nil, provider.NewCallError("test", http.StatusServiceUnavailable, "overloaded")
	}
	backend := &scriptedBackend{responses: []func() (*provider.Response, error){
		transient,
		transient,
		func() (*provider.Response, error) { return &provider.Response{Content: "third time"}, nil },
	}}
	g, p := newTestGateway(t, backend)

	resp, err := g.Invoke(context.Background(), testCall(p))
	require.NoError(t, err)
	assert.Equal(t, "third time", resp.Content)
	assert.Equal(t, 3, backend.calls)
}

func TestInvokeFatalNotRetried(t *testing.T) {
	backend := &scriptedBackend{responses: []func() (*provider.Response, error){
		func() (*provider.Response, error) {
			return nil, provider.NewCallError("test", http.StatusUnauthorized, "bad key")
		},
	}}
	g, p := newTestGateway(t, backend)

	_, err := g.Invoke(context.Background(), testCall(p))
	require.Error(t, err)
	assert.Equal(t, 1, backend.calls)

	var callErr *provider.CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, http.StatusUnauthorized, callErr.StatusCode)
}

func TestInvokeRetriesExhausted(t *testing.T) {
	backend := &scriptedBackend{responses: []func() (*provider.Response, error){
		func() (*provider.Response, error) {
			return nil, provider.NewCallError("test", http.StatusInternalServerError, "down")
		},
	}}
	g, p := newTestGateway(t, backend)
	p.MaxRetries = 2

	_, err := g.Invoke(context.Background(), testCall(p))
	require.Error(t, err)
	assert.Equal(t, 3, backend.calls) // initial attempt + 2 retries
	assert.Contains(t, err.Error(), "retries exhausted")
}

func TestInvokeRequestRateLimited(t *testing.T) {
	backend := &scriptedBackend{responses: []func() (*provider.Response, error){
		func() (*provider.Response, error) { return &provider.Response{Content: "ok"}, nil },
	}}
	g, p := newTestGateway(t, backend)
	p.RequestsPerMinute = 2

	call := testCall(p)
	for i := 0; i < 2; i++ {
		_, err := g.Invoke(context.Background(), call)
		require.NoError(t, err)
	}

	_, err := g.Invoke(context.Background(), call)
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.Equal(t, 2, backend.calls)
}

func TestInvokeTokenRateLimited(t *testing.T) {
	backend := &scriptedBackend{responses: []func() (*provider.Response, error){
		func() (*provider.Response, error) { return &provider.Response{Content: "ok"}, nil },
	}}
	g, p := newTestGateway(t, backend)
	p.TokensPerMinute = 100 // each call estimates 64 + len("hi")/4

	call := testCall(p)
	_, err := g.Invoke(context.Background(), call)
	require.NoError(t, err)

	_, err = g.Invoke(context.Background(), call)
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.Equal(t, 1, backend.calls)
}

func TestInvokeStreamSuccess(t *testing.T) {
	backend := &scriptedBackend{responses: []func() (*provider.Response, error){
		func() (*provider.Response, error) {
			return &provider.Response{Content: "streamed", Usage: provider.Usage{InputTokens: 3, OutputTokens: 1}}, nil
		},
	}}
	g, p := newTestGateway(t, backend)

	deltas, err := g.InvokeStream(context.Background(), testCall(p))
	require.NoError(t, err)

	var content string
	var usage *provider.Usage
	for d := range deltas {
		require.NoError(t, d.Err)
		content += d.Content
		if d.Done {
			usage = d.Usage
		}
	}
	assert.Equal(t, "streamed", content)
	require.NotNil(t, usage)
	assert.Equal(t, int64(3), usage.InputTokens)
}

func TestEstimateTokens(t *testing.T) {
	req := &provider.Request{
		Messages:  []provider.ChatMessage{{Role: "user", Content: "abcdefgh"}}, // 8 chars -> 2 tokens
		MaxTokens: 10,
	}
	assert.Equal(t, int64(12), estimateTokens(req))
}

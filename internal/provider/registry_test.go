package provider

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct{}

func (stubBackend) Complete(_ context.Context, _ string, _ *Request) (*Response, error) {
	return &Response{Content: "ok"}, nil
}

func (stubBackend) Stream(_ context.Context, _ string, _ *Request) (<-chan StreamDelta, error) {
	ch := make(chan StreamDelta)
	close(ch)
	return ch, nil
}

func TestRegistryGet(t *testing.T) {
	r := NewRegistry()
	r.Register("OpenAI", stubBackend{})

	b, err := r.Get("openai")
	require.NoError(t, err)
	assert.NotNil(t, b)

	b, err = r.Get("  OPENAI  ")
	require.NoError(t, err)
	assert.NotNil(t, b)

	_, err = r.Get("mystery")
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
}

func TestDefaultRegistryCodes(t *testing.T) {
	r := NewDefaultRegistry(&http.Client{Timeout: time.Second})
	for _, code := range []string{"openai", "anthropic", "google", "zhipu"} {
		_, err := r.Get(code)
		assert.NoError(t, err, code)
	}
}

func TestCallErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusForbidden, false},
		{http.StatusNotFound, false},
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		err := NewCallError("openai", tt.status, "boom")
		assert.Equal(t, tt.transient, IsTransient(err), "status %d", tt.status)
	}
}

func TestIsTransientDeadline(t *testing.T) {
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(errors.New("parse failure")))
	assert.False(t, IsTransient(nil))
}

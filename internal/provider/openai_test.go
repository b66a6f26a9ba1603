package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"choices": [{"message": {"role": "assistant", "content": "hello there"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3}
		}`)
	}))
	defer srv.Close()

	b := NewOpenAICompatibleBackend("openai", srv.URL, srv.Client())
	resp, err := b.Complete(context.Background(), "sk-test", &Request{
		ModelCode: "gpt-4o-mini",
		Messages:  []ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Content)
	assert.Equal(t, int64(12), resp.Usage.InputTokens)
	assert.Equal(t, int64(3), resp.Usage.OutputTokens)
}

func TestOpenAICompleteUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"message": "invalid key"}}`)
	}))
	defer srv.Close()

	b := NewOpenAICompatibleBackend("openai", srv.URL, srv.Client())
	_, err := b.Complete(context.Background(), "bad", &Request{ModelCode: "gpt-4o-mini"})
	require.Error(t, err)

	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, http.StatusUnauthorized, callErr.StatusCode)
	assert.False(t, callErr.Transient)
}

func TestOpenAIStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":2}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	b := NewOpenAICompatibleBackend("openai", srv.URL, srv.Client())
	deltas, err := b.Stream(context.Background(), "sk-test", &Request{
		ModelCode: "gpt-4o-mini",
		Messages:  []ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	var content string
	var usage *Usage
	for d := range deltas {
		require.NoError(t, d.Err)
		content += d.Content
		if d.Done {
			usage = d.Usage
		}
	}
	assert.Equal(t, "Hello", content)
	require.NotNil(t, usage)
	assert.Equal(t, int64(5), usage.InputTokens)
	assert.Equal(t, int64(2), usage.OutputTokens)
}

func TestAnthropicStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":9}}}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hi\"}}\n\n")
		fmt.Fprint(w, "event: message_delta\ndata: {\"type\":\"message_delta\",\"usage\":{\"output_tokens\":4}}\n\n")
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	}))
	defer srv.Close()

	b := NewAnthropicBackend(srv.URL, srv.Client())
	deltas, err := b.Stream(context.Background(), "sk-ant", &Request{
		ModelCode: "claude-sonnet",
		Messages:  []ChatMessage{{Role: "system", Content: "be brief"}, {Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	var content string
	var usage *Usage
	for d := range deltas {
		require.NoError(t, d.Err)
		content += d.Content
		if d.Done {
			usage = d.Usage
		}
	}
	assert.Equal(t, "Hi", content)
	require.NotNil(t, usage)
	assert.Equal(t, int64(9), usage.InputTokens)
	assert.Equal(t, int64(4), usage.OutputTokens)
}

func TestGoogleComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-pro:generateContent", r.URL.Path)
		assert.Equal(t, "gk-test", r.Header.Get("x-goog-api-key"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "bonjour"}]}}],
			"usageMetadata": {"promptTokenCount": 7, "candidatesTokenCount": 2}
		}`)
	}))
	defer srv.Close()

	b := NewGoogleBackend(srv.URL, srv.Client())
	resp, err := b.Complete(context.Background(), "gk-test", &Request{
		ModelCode: "gemini-pro",
		Messages:  []ChatMessage{{Role: "user", Content: "hello in french"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "bonjour", resp.Content)
	assert.Equal(t, int64(7), resp.Usage.InputTokens)
	assert.Equal(t, int64(2), resp.Usage.OutputTokens)
}

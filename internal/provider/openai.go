package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OpenAICompatibleBackend speaks the OpenAI chat-completions wire format.
// It also serves providers exposing OpenAI-compatible endpoints (zhipu).
type OpenAICompatibleBackend struct {
	code    string
	baseURL string
	client  *http.Client
}

func NewOpenAIBackend(baseURL string, client *http.Client) *OpenAICompatibleBackend {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return NewOpenAICompatibleBackend("openai", baseURL, client)
}

func NewOpenAICompatibleBackend(code, baseURL string, client *http.Client) *OpenAICompatibleBackend {
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenAICompatibleBackend{code: code, baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type openAIChatRequest struct {
	Model         string            `json:"model"`
	Messages      []ChatMessage     `json:"messages"`
	Temperature   float64           `json:"temperature,omitempty"`
	MaxTokens     int               `json:"max_tokens,omitempty"`
	Stream        bool              `json:"stream,omitempty"`
	StreamOptions *openAIStreamOpts `json:"stream_options,omitempty"`
}

type openAIStreamOpts struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
	Usage openAIUsage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
}

func (b *OpenAICompatibleBackend) Complete(ctx context.Context, apiKey string, req *Request) (*Response, error) {
	resp, err := b.send(ctx, apiKey, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var decoded openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%s: decoding response: %w", b.code, err)
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return nil, NewCallError(b.code, http.StatusOK, decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return nil, NewCallError(b.code, http.StatusOK, "empty choices in response")
	}

	return &Response{
		Content: decoded.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:  decoded.Usage.PromptTokens,
			OutputTokens: decoded.Usage.CompletionTokens,
		},
	}, nil
}

func (b *OpenAICompatibleBackend) Stream(ctx context.Context, apiKey string, req *Request) (<-chan StreamDelta, error) {
	resp, err := b.send(ctx, apiKey, req, true)
	if err != nil {
		return nil, err
	}

	deltas := make(chan StreamDelta, 16)
	go func() {
		defer close(deltas)
		defer resp.Body.Close()

		var usage *Usage
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				break
			}

			var chunk openAIStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue // tolerate malformed keepalive frames
			}
			if chunk.Usage != nil {
				usage = &Usage{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens}
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				select {
				case deltas <- StreamDelta{Content: chunk.Choices[0].Delta.Content}:
				case <-ctx.Done():
					deltas <- StreamDelta{Done: true, Err: ctx.Err()}
					return
				}
			}
		}
		if err := sc.Err(); err != nil {
			deltas <- StreamDelta{Done: true, Err: fmt.Errorf("%s: reading stream: %w", b.code, err)}
			return
		}
		deltas <- StreamDelta{Done: true, Usage: usage}
	}()

	return deltas, nil
}

func (b *OpenAICompatibleBackend) send(ctx context.Context, apiKey string, req *Request, stream bool) (*http.Response, error) {
	payload := openAIChatRequest{
		Model:       req.ModelCode,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	if stream {
		payload.StreamOptions = &openAIStreamOpts{IncludeUsage: true}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: marshaling request: %w", b.code, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: building request: %w", b.code, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.code, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg := readErrorBody(resp.Body)
		return nil, NewCallError(b.code, resp.StatusCode, msg)
	}
	return resp, nil
}

func readErrorBody(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, 4*1024))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = "no error body"
	}
	return msg
}

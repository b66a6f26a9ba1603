package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const anthropicVersion = "2023-06-01"

// AnthropicBackend speaks the Anthropic messages API. System messages are
// lifted into the top-level system field as that API requires.
type AnthropicBackend struct {
	baseURL string
	client  *http.Client
}

func NewAnthropicBackend(baseURL string, client *http.Client) *AnthropicBackend {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &AnthropicBackend{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type anthropicRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage anthropicUsage `json:"usage"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Message struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
	Usage *anthropicUsage `json:"usage"`
}

func (b *AnthropicBackend) Complete(ctx context.Context, apiKey string, req *Request) (*Response, error) {
	resp, err := b.send(ctx, apiKey, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var decoded anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("anthropic: decoding response: %w", err)
	}

	var sb strings.Builder
	for _, block := range decoded.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return &Response{
		Content: sb.String(),
		Usage: Usage{
			InputTokens:  decoded.Usage.InputTokens,
			OutputTokens: decoded.Usage.OutputTokens,
		},
	}, nil
}

func (b *AnthropicBackend) Stream(ctx context.Context, apiKey string, req *Request) (<-chan StreamDelta, error) {
	resp, err := b.send(ctx, apiKey, req, true)
	if err != nil {
		return nil, err
	}

	deltas := make(chan StreamDelta, 16)
	go func() {
		defer close(deltas)
		defer resp.Body.Close()

		usage := &Usage{}
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			var event anthropicStreamEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
				continue
			}

			switch event.Type {
			case "message_start":
				usage.InputTokens = event.Message.Usage.InputTokens
			case "content_block_delta":
				if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
					select {
					case deltas <- StreamDelta{Content: event.Delta.Text}:
					case <-ctx.Done():
						deltas <- StreamDelta{Done: true, Err: ctx.Err()}
						return
					}
				}
			case "message_delta":
				if event.Usage != nil {
					usage.OutputTokens = event.Usage.OutputTokens
				}
			}
		}
		if err := sc.Err(); err != nil {
			deltas <- StreamDelta{Done: true, Err: fmt.Errorf("anthropic: reading stream: %w", err)}
			return
		}
		deltas <- StreamDelta{Done: true, Usage: usage}
	}()

	return deltas, nil
}

func (b *AnthropicBackend) send(ctx context.Context, apiKey string, req *Request, stream bool) (*http.Response, error) {
	payload := anthropicRequest{
		Model:       req.ModelCode,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if payload.MaxTokens == 0 {
		payload.MaxTokens = 4096 // required field on this API
	}
	for _, m := range req.Messages {
		if m.Role == "system" {
			if payload.System != "" {
				payload.System += "\n\n"
			}
			payload.System += m.Content
			continue
		}
		payload.Messages = append(payload.Messages, m)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, NewCallError("anthropic", resp.StatusCode, readErrorBody(resp.Body))
	}
	return resp, nil
}

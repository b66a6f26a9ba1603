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

// GoogleBackend speaks the Gemini generateContent API. OpenAI-style roles map
// onto user/model parts, with system messages carried as systemInstruction.
type GoogleBackend struct {
	baseURL string
	client  *http.Client
}

func NewGoogleBackend(baseURL string, client *http.Client) *GoogleBackend {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &GoogleBackend{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type googlePart struct {
	Text string `json:"text"`
}

type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts"`
}

type googleRequest struct {
	SystemInstruction *googleContent `json:"systemInstruction,omitempty"`
	Contents          []googleContent `json:"contents"`
	GenerationConfig  struct {
		Temperature     float64 `json:"temperature,omitempty"`
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

type googleResponse struct {
	Candidates []struct {
		Content googleContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int64 `json:"promptTokenCount"`
		CandidatesTokenCount int64 `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

func (b *GoogleBackend) Complete(ctx context.Context, apiKey string, req *Request) (*Response, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent", b.baseURL, req.ModelCode)
	resp, err := b.send(ctx, apiKey, url, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var decoded googleResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("google: decoding response: %w", err)
	}

	var sb strings.Builder
	if len(decoded.Candidates) > 0 {
		for _, part := range decoded.Candidates[0].Content.Parts {
			sb.WriteString(part.Text)
		}
	}

	return &Response{
		Content: sb.String(),
		Usage: Usage{
			InputTokens:  decoded.UsageMetadata.PromptTokenCount,
			OutputTokens: decoded.UsageMetadata.CandidatesTokenCount,
		},
	}, nil
}

func (b *GoogleBackend) Stream(ctx context.Context, apiKey string, req *Request) (<-chan StreamDelta, error) {
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", b.baseURL, req.ModelCode)
	resp, err := b.send(ctx, apiKey, url, req)
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

			var chunk googleResponse
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil {
				continue
			}
			// usageMetadata accumulates across chunks; the last value wins.
			if chunk.UsageMetadata.PromptTokenCount > 0 {
				usage.InputTokens = chunk.UsageMetadata.PromptTokenCount
			}
			if chunk.UsageMetadata.CandidatesTokenCount > 0 {
				usage.OutputTokens = chunk.UsageMetadata.CandidatesTokenCount
			}
			if len(chunk.Candidates) == 0 {
				continue
			}
			for _, part := range chunk.Candidates[0].Content.Parts {
				if part.Text == "" {
					continue
				}
				select {
				case deltas <- StreamDelta{Content: part.Text}:
				case <-ctx.Done():
					deltas <- StreamDelta{Done: true, Err: ctx.Err()}
					return
				}
			}
		}
		if err := sc.Err(); err != nil {
			deltas <- StreamDelta{Done: true, Err: fmt.Errorf("google: reading stream: %w", err)}
			return
		}
		deltas <- StreamDelta{Done: true, Usage: usage}
	}()

	return deltas, nil
}

func (b *GoogleBackend) send(ctx context.Context, apiKey, url string, req *Request) (*http.Response, error) {
	payload := googleRequest{}
	payload.GenerationConfig.Temperature = req.Temperature
	payload.GenerationConfig.MaxOutputTokens = req.MaxTokens

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			if payload.SystemInstruction == nil {
				payload.SystemInstruction = &googleContent{}
			}
			payload.SystemInstruction.Parts = append(payload.SystemInstruction.Parts, googlePart{Text: m.Content})
		case "assistant":
			payload.Contents = append(payload.Contents, googleContent{Role: "model", Parts: []googlePart{{Text: m.Content}}})
		default:
			payload.Contents = append(payload.Contents, googleContent{Role: "user", Parts: []googlePart{{Text: m.Content}}})
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("google: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("google: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", apiKey)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("google: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, NewCallError("google", resp.StatusCode, readErrorBody(resp.Body))
	}
	return resp, nil
}

package provider

// ChatMessage is one turn of a provider-neutral conversation.
type ChatMessage struct {
	Role    string `json:"role"` // system, user, assistant, function
	Content string `json:"content"`
}

// Request is the provider-neutral completion request built by the gateway.
type Request struct {
	ModelCode   string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// Usage reports the token counts billed by the upstream for one call.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Response is a buffered completion result.
type Response struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// StreamDelta is one increment of a streaming completion. The final delta
// carries Done=true and, when the upstream reports it, the total Usage.
type StreamDelta struct {
	Content string
	Usage   *Usage
	Done    bool
	Err     error
}

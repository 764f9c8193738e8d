// Package streaming turns the upstream SSE byte stream into typed
// events and applies the configured thinking output policy.
package streaming

// EventKind discriminates Event payloads.
type EventKind int

const (
	// EventText carries visible answer text.
	EventText EventKind = iota
	// EventThinking carries reasoning text the model marked as thought.
	EventThinking
	// EventToolCalls carries one or more function call requests.
	EventToolCalls
	// EventFinish carries the upstream finish reason and, when present,
	// token usage.
	EventFinish
)

// Event is one unit of upstream output.
type Event struct {
	Kind         EventKind
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        *Usage
}

// ToolCall is an OpenAI-shaped function call. Index is set only on
// streaming deltas; non-streaming responses omit it.
type ToolCall struct {
	Index    *int         `json:"index,omitempty"`
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall holds the call target and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Usage reports token counts from the upstream usage metadata.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

package openai

import (
	"time"

	"github.com/google/uuid"

	"antigravity2api-go/internal/streaming"
)

// ChatCompletion is the non-streaming response body.
type ChatCompletion struct {
	ID      string           `json:"id"`
	Object  string           `json:"object"`
	Created int64            `json:"created"`
	Model   string           `json:"model"`
	Choices []Choice         `json:"choices"`
	Usage   *streaming.Usage `json:"usage,omitempty"`
}

// Choice is the single completion choice.
type Choice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

// ResponseMessage is the assistant message of a completed response.
type ResponseMessage struct {
	Role             string               `json:"role"`
	Content          string               `json:"content"`
	ReasoningContent string               `json:"reasoning_content,omitempty"`
	ToolCalls        []streaming.ToolCall `json:"tool_calls,omitempty"`
}

// ChatCompletionChunk is one streaming frame.
type ChatCompletionChunk struct {
	ID      string           `json:"id"`
	Object  string           `json:"object"`
	Created int64            `json:"created"`
	Model   string           `json:"model"`
	Choices []ChunkChoice    `json:"choices"`
	Usage   *streaming.Usage `json:"usage,omitempty"`
}

// ChunkChoice wraps the delta of a streaming frame.
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Delta carries the incremental assistant output.
type Delta struct {
	Role             string               `json:"role,omitempty"`
	Content          string               `json:"content,omitempty"`
	ReasoningContent string               `json:"reasoning_content,omitempty"`
	ToolCalls        []streaming.ToolCall `json:"tool_calls,omitempty"`
}

func newCompletionID() string {
	return "chatcmpl-" + uuid.NewString()
}

func nowUnix() int64 {
	return time.Now().Unix()
}

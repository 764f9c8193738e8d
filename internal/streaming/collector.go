package streaming

import (
	"strings"

	"antigravity2api-go/internal/config"
)

// Collector accumulates a whole stream into one response, used for
// non-streaming completions.
type Collector struct {
	mode string

	text     strings.Builder
	thinking strings.Builder
	tools    []ToolCall

	finishReason string
	usage        *Usage
}

// NewCollector builds a Collector honoring the thinking output mode.
func NewCollector(mode string) *Collector {
	return &Collector{mode: mode}
}

// Add folds one event into the accumulated response.
func (c *Collector) Add(ev Event) {
	switch ev.Kind {
	case EventText:
		c.text.WriteString(ev.Text)
	case EventThinking:
		c.thinking.WriteString(ev.Text)
	case EventToolCalls:
		c.tools = append(c.tools, ev.ToolCalls...)
	case EventFinish:
		c.finishReason = ev.FinishReason
		if ev.Usage != nil {
			c.usage = ev.Usage
		}
	}
}

// Content returns the final message text. In raw mode the thinking is
// folded back into the text inside think tags; in filter mode it is
// dropped.
func (c *Collector) Content() string {
	if c.mode == config.ThinkingRaw && c.thinking.Len() > 0 {
		return thinkOpenTag + c.thinking.String() + thinkCloseTag + c.text.String()
	}
	return c.text.String()
}

// ReasoningContent returns the separated thinking text, or empty when
// the mode does not expose it as a separate field.
func (c *Collector) ReasoningContent() string {
	if c.mode != config.ThinkingReasoningContent {
		return ""
	}
	return c.thinking.String()
}

// ToolCalls returns the accumulated calls with streaming indexes
// stripped, matching the non-streaming response shape.
func (c *Collector) ToolCalls() []ToolCall {
	if len(c.tools) == 0 {
		return nil
	}
	out := make([]ToolCall, len(c.tools))
	for i, t := range c.tools {
		t.Index = nil
		out[i] = t
	}
	return out
}

// FinishReason returns the normalized finish reason, defaulting to
// stop when the stream ended without one.
func (c *Collector) FinishReason() string {
	if c.finishReason == "" {
		if len(c.tools) > 0 {
			return "tool_calls"
		}
		return "stop"
	}
	return c.finishReason
}

// Usage returns the token usage reported upstream, if any.
func (c *Collector) Usage() *Usage { return c.usage }

package streaming

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// Parser converts upstream SSE payloads into Events. One Parser serves
// one response stream; it carries the think-tag splitter state, the
// tool call buffer and the sequence counter across payloads.
type Parser struct {
	splitter *TagSplitter
	toolSeq  int
	// tools accumulates function calls until a finishReason arrives;
	// they are emitted as one tool_calls event.
	tools    []ToolCall
	sawTools bool
	nowMS    func() int64
}

// NewParser builds a Parser. nowMS feeds tool call identifiers; tests
// pass a fixed clock.
func NewParser(nowMS func() int64) *Parser {
	return &Parser{
		splitter: NewTagSplitter(),
		nowMS:    nowMS,
	}
}

// ParseData decodes one SSE data payload. Payloads that carry no
// recognizable content yield no events.
func (p *Parser) ParseData(payload []byte) []Event {
	root := gjson.GetBytes(payload, "response")
	if !root.Exists() {
		root = gjson.ParseBytes(payload)
	}

	candidate := root.Get("candidates.0")
	var out []Event

	candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		switch {
		case part.Get("functionCall").Exists():
			p.tools = append(p.tools, p.toolCall(part))
		case part.Get("thought").Bool():
			// Release any text held back as a possible partial tag so
			// it is not reordered after the thinking event.
			for _, seg := range p.splitter.Flush() {
				out = append(out, segmentEvent(seg))
			}
			if text := part.Get("text").String(); text != "" {
				out = append(out, Event{Kind: EventThinking, Text: text})
			}
		case part.Get("text").Exists():
			out = append(out, p.splitText(part.Get("text").String())...)
		}
		return true
	})

	if reason := candidate.Get("finishReason"); reason.Exists() {
		out = append(out, p.drainTools()...)
		ev := Event{Kind: EventFinish, FinishReason: p.finishReason(reason.String())}
		if usage := root.Get("usageMetadata"); usage.Exists() {
			ev.Usage = &Usage{
				PromptTokens:     usage.Get("promptTokenCount").Int(),
				CompletionTokens: usage.Get("candidatesTokenCount").Int(),
				TotalTokens:      usage.Get("totalTokenCount").Int(),
			}
		}
		out = append(out, ev)
	}
	return out
}

// Flush drains the splitter, and any tool calls a truncated stream
// never closed with a finishReason, once the stream ends.
func (p *Parser) Flush() []Event {
	var out []Event
	for _, seg := range p.splitter.Flush() {
		out = append(out, segmentEvent(seg))
	}
	return append(out, p.drainTools()...)
}

// drainTools emits the buffered function calls as a single event.
func (p *Parser) drainTools() []Event {
	if len(p.tools) == 0 {
		return nil
	}
	ev := Event{Kind: EventToolCalls, ToolCalls: p.tools}
	p.tools = nil
	return []Event{ev}
}

func (p *Parser) splitText(text string) []Event {
	var out []Event
	for _, seg := range p.splitter.Write(text) {
		out = append(out, segmentEvent(seg))
	}
	return out
}

func segmentEvent(seg Segment) Event {
	if seg.Thinking {
		return Event{Kind: EventThinking, Text: seg.Text}
	}
	return Event{Kind: EventText, Text: seg.Text}
}

// toolCall shapes one functionCall part. The upstream call id is used
// when present; otherwise one is synthesized from the wall clock and a
// per-stream sequence. A thought signature is appended after a double
// colon separator so the request translator can round-trip it.
func (p *Parser) toolCall(part gjson.Result) ToolCall {
	p.sawTools = true
	index := p.toolSeq
	id := part.Get("functionCall.id").String()
	if id == "" {
		id = fmt.Sprintf("call_%d_%d", p.nowMS(), p.toolSeq)
	}
	p.toolSeq++

	if sig := thoughtSignature(part); sig != "" {
		id = id + "::" + sig
	}

	args := part.Get("functionCall.args").Raw
	if args == "" {
		args = "{}"
	}
	return ToolCall{
		Index: &index,
		ID:    id,
		Type:  "function",
		Function: FunctionCall{
			Name:      part.Get("functionCall.name").String(),
			Arguments: args,
		},
	}
}

// thoughtSignature reads the signature from inside the functionCall,
// accepting both key spellings, with the part level as a fallback.
func thoughtSignature(part gjson.Result) string {
	if sig := part.Get("functionCall.thoughtSignature").String(); sig != "" {
		return sig
	}
	if sig := part.Get("functionCall.thought_signature").String(); sig != "" {
		return sig
	}
	return part.Get("thoughtSignature").String()
}

// finishReason maps upstream finish labels onto the OpenAI vocabulary.
// A stream that produced tool calls always finishes with tool_calls.
func (p *Parser) finishReason(upstream string) string {
	if p.sawTools {
		return "tool_calls"
	}
	switch upstream {
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST":
		return "content_filter"
	default:
		return "stop"
	}
}

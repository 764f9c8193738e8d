// Package openai implements the OpenAI-compatible chat completions
// surface in front of the upstream generation API.
package openai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"antigravity2api-go/internal/config"
	"antigravity2api-go/internal/credential"
	"antigravity2api-go/internal/upstream"
)

// ChatRequest is the accepted subset of the Chat Completions request.
type ChatRequest struct {
	Model       string          `json:"model"`
	Messages    []ChatMessage   `json:"messages"`
	Stream      bool            `json:"stream"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	TopK        *int            `json:"top_k,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Tools       []ChatTool      `json:"tools,omitempty"`
	ToolChoice  json.RawMessage `json:"tool_choice,omitempty"`
	// ResponseFormat carries the optional {"type": ...} object; json_object
	// and json_schema enable structured output upstream.
	ResponseFormat json.RawMessage `json:"response_format,omitempty"`
}

// ChatMessage is one conversation turn. Content may be a JSON string
// or an array of typed parts.
type ChatMessage struct {
	Role       string            `json:"role"`
	Content    json.RawMessage   `json:"content,omitempty"`
	ToolCalls  []MessageToolCall `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	Name       string            `json:"name,omitempty"`
}

// MessageToolCall is a historical assistant tool call replayed by the
// client.
type MessageToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// ChatTool declares one callable function.
type ChatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

// Validate checks the request shape.
func (r *ChatRequest) Validate() error {
	if r.Model == "" {
		return fmt.Errorf("model is required")
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("messages must not be empty")
	}
	for i, m := range r.Messages {
		switch m.Role {
		case "system", "user", "assistant", "tool", "developer":
		default:
			return fmt.Errorf("messages[%d]: unsupported role %q", i, m.Role)
		}
	}
	return nil
}

// BuildUpstreamBody translates the request into the upstream wire
// format for the given credential. Sampling knobs absent from the
// request fall back to the configured defaults.
func BuildUpstreamBody(req *ChatRequest, defaults config.DefaultsConfig, cred *credential.Credential) ([]byte, error) {
	generate := upstream.GenerateRequest{
		SessionID: cred.SessionID,
	}

	for i := range req.Messages {
		msg := &req.Messages[i]
		switch msg.Role {
		case "system", "developer":
			appendSystemText(&generate, contentText(msg.Content))
		case "user":
			generate.Contents = append(generate.Contents, upstream.Content{
				Role:  "user",
				Parts: userParts(msg.Content),
			})
		case "assistant":
			content, err := assistantContent(msg)
			if err != nil {
				return nil, fmt.Errorf("messages[%d]: %w", i, err)
			}
			generate.Contents = append(generate.Contents, content)
		case "tool":
			generate.Contents = append(generate.Contents, toolResultContent(msg))
		}
	}

	generate.Tools = translateTools(req.Tools)
	generate.GenerationConfig = generationConfig(req, defaults)

	body := upstream.Request{
		Project: cred.ProjectID,
		Model:   req.Model,
		Request: generate,
	}
	marshaled, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return applyResponseFormat(marshaled, req.ResponseFormat)
}

// applyResponseFormat maps response_format onto the generation config
// of an already marshaled body.
func applyResponseFormat(body []byte, responseFormat json.RawMessage) ([]byte, error) {
	if len(responseFormat) == 0 {
		return body, nil
	}
	format := gjson.ParseBytes(responseFormat)
	switch format.Get("type").String() {
	case "json_object":
		return sjson.SetBytes(body, "request.generationConfig.responseMimeType", "application/json")
	case "json_schema":
		body, err := sjson.SetBytes(body, "request.generationConfig.responseMimeType", "application/json")
		if err != nil {
			return nil, err
		}
		if schema := format.Get("json_schema.schema"); schema.Exists() {
			return sjson.SetRawBytes(body, "request.generationConfig.responseSchema", []byte(schema.Raw))
		}
		return body, nil
	default:
		return body, nil
	}
}

func appendSystemText(generate *upstream.GenerateRequest, text string) {
	if text == "" {
		return
	}
	if generate.SystemInstruction == nil {
		generate.SystemInstruction = &upstream.Content{}
	}
	generate.SystemInstruction.Parts = append(generate.SystemInstruction.Parts, upstream.Part{Text: text})
}

// contentText flattens string-or-parts content to plain text.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	parsed := gjson.ParseBytes(raw)
	if parsed.Type == gjson.String {
		return parsed.String()
	}
	var sb strings.Builder
	parsed.ForEach(func(_, part gjson.Result) bool {
		if part.Get("type").String() == "text" {
			sb.WriteString(part.Get("text").String())
		}
		return true
	})
	return sb.String()
}

// userParts maps user content to parts, carrying data-URL images as
// inline blobs.
func userParts(raw json.RawMessage) []upstream.Part {
	parsed := gjson.ParseBytes(raw)
	if parsed.Type == gjson.String {
		return []upstream.Part{{Text: parsed.String()}}
	}

	var parts []upstream.Part
	parsed.ForEach(func(_, part gjson.Result) bool {
		switch part.Get("type").String() {
		case "text":
			parts = append(parts, upstream.Part{Text: part.Get("text").String()})
		case "image_url":
			if blob := parseDataURL(part.Get("image_url.url").String()); blob != nil {
				parts = append(parts, upstream.Part{InlineData: blob})
			}
		}
		return true
	})
	if len(parts) == 0 {
		parts = []upstream.Part{{Text: ""}}
	}
	return parts
}

// parseDataURL decodes data:<mime>;base64,<payload> image references.
func parseDataURL(url string) *upstream.Blob {
	if !strings.HasPrefix(url, "data:") {
		return nil
	}
	rest := url[len("data:"):]
	sep := strings.Index(rest, ";base64,")
	if sep < 0 {
		return nil
	}
	return &upstream.Blob{
		MimeType: rest[:sep],
		Data:     rest[sep+len(";base64,"):],
	}
}

// assistantContent rebuilds a model turn, splitting tool call
// identifiers back into sequence id and thought signature.
func assistantContent(msg *ChatMessage) (upstream.Content, error) {
	content := upstream.Content{Role: "model"}

	if text := contentText(msg.Content); text != "" {
		content.Parts = append(content.Parts, upstream.Part{Text: text})
	}

	for _, call := range msg.ToolCalls {
		args := call.Function.Arguments
		if args == "" {
			args = "{}"
		}
		if !gjson.Valid(args) {
			return content, fmt.Errorf("tool call %s: arguments are not valid JSON", call.ID)
		}
		_, signature := splitToolCallID(call.ID)
		content.Parts = append(content.Parts, upstream.Part{
			ThoughtSignature: signature,
			FunctionCall: &upstream.FunctionCall{
				Name: call.Function.Name,
				Args: json.RawMessage(args),
			},
		})
	}

	if len(content.Parts) == 0 {
		content.Parts = []upstream.Part{{Text: ""}}
	}
	return content, nil
}

// splitToolCallID separates "<id>::<signature>" identifiers.
func splitToolCallID(id string) (string, string) {
	if i := strings.Index(id, "::"); i >= 0 {
		return id[:i], id[i+2:]
	}
	return id, ""
}

// toolResultContent wraps a tool reply as a functionResponse turn.
func toolResultContent(msg *ChatMessage) upstream.Content {
	name := msg.Name
	if name == "" {
		name, _ = splitToolCallID(msg.ToolCallID)
	}

	result := contentText(msg.Content)
	response, _ := json.Marshal(map[string]string{"result": result})

	return upstream.Content{
		Role: "user",
		Parts: []upstream.Part{{
			FunctionResponse: &upstream.FunctionResponse{
				Name:     name,
				Response: response,
			},
		}},
	}
}

func translateTools(tools []ChatTool) []upstream.Tool {
	var decls []upstream.FunctionDeclaration
	for _, t := range tools {
		if t.Type != "function" || t.Function.Name == "" {
			continue
		}
		decls = append(decls, upstream.FunctionDeclaration{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}
	if len(decls) == 0 {
		return nil
	}
	return []upstream.Tool{{FunctionDeclarations: decls}}
}

func generationConfig(req *ChatRequest, defaults config.DefaultsConfig) *upstream.GenerationConfig {
	cfg := &upstream.GenerationConfig{
		Temperature:     firstFloat(req.Temperature, defaults.Temperature),
		TopP:            firstFloat(req.TopP, defaults.TopP),
		TopK:            firstInt(req.TopK, defaults.TopK),
		MaxOutputTokens: firstInt(req.MaxTokens, defaults.MaxTokens),
		ThinkingConfig:  &upstream.ThinkingConfig{IncludeThoughts: true},
	}
	return cfg
}

func firstFloat(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstInt(vals ...*int) *int {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

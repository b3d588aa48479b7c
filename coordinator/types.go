package coordinator

import (
	"context"
	"encoding/json"
	"slices"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"

	"diningagent/tools"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"

	PartText       = "text"
	PartToolUse    = "tool_use"
	PartToolResult = "tool_result"
)

// LLMClient is a model provider. Invoke blocks until the full response is
// available.
type LLMClient interface {
	Invoke(ctx context.Context, prompt Prompt) (Response, error)
}

type MessagePart struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

type MessageParts []MessagePart

// Join concatenates the text parts.
func (mp MessageParts) Join() string {
	var b strings.Builder
	for _, part := range mp {
		if part.Type == PartText {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

type Message struct {
	Role    string       `json:"role"`
	Content MessageParts `json:"content"`
}

func NewTextMessage(role, text string) Message {
	return Message{Role: role, Content: MessageParts{{Type: PartText, Text: text}}}
}

// Tool is the provider-neutral description of a tool offered to the model.
type Tool struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"input_schema"`
}

// Prompt is the conversation so far. It is passed by value and never
// modified in place: Append returns a new Prompt that shares no message
// slice with the receiver.
type Prompt struct {
	Messages []Message `json:"messages"`
	Tools    []Tool    `json:"tools,omitempty"`
}

// Append returns a copy of p with msgs added at the end.
func (p Prompt) Append(msgs ...Message) Prompt {
	out := Prompt{
		Messages: make([]Message, 0, len(p.Messages)+len(msgs)),
		Tools:    p.Tools,
	}
	out.Messages = append(out.Messages, p.Messages...)
	out.Messages = append(out.Messages, msgs...)
	return out
}

// System returns the joined text of every system message.
func (p Prompt) System() string {
	var parts []string
	for _, m := range p.Messages {
		if m.Role == RoleSystem {
			parts = append(parts, m.Content.Join())
		}
	}
	return strings.Join(parts, "\n\n")
}

// ToolResults returns every tool result part in the conversation for the
// named tool, oldest first.
func (p Prompt) ToolResults(tool string) []MessagePart {
	var out []MessagePart
	for _, m := range p.Messages {
		for _, part := range m.Content {
			if part.Type == PartToolResult && part.ToolName == tool {
				out = append(out, part)
			}
		}
	}
	return out
}

// HasToolResult reports whether a successful result for tool is present.
func (p Prompt) HasToolResult(tool string) bool {
	return slices.ContainsFunc(p.ToolResults(tool), func(part MessagePart) bool { return !part.IsError })
}

type ToolResult struct {
	ToolUseID string
	ToolName  string
	Data      map[string]any
	IsError   bool
}

// NewToolResultMessage wraps tool observations in a user turn.
func NewToolResultMessage(results []ToolResult) Message {
	var parts MessageParts
	for _, result := range results {
		parts = append(parts, MessagePart{
			Type:      PartToolResult,
			ToolUseID: result.ToolUseID,
			ToolName:  result.ToolName,
			Data:      result.Data,
			IsError:   result.IsError,
		})
	}
	return Message{
		Role:    RoleUser,
		Content: parts,
	}
}

// Response represents the model's response structure.
type Response struct {
	Content    string       `json:"content,omitempty"`
	ToolCalls  []tools.Call `json:"tool_calls,omitempty"`
	StopReason string       `json:"stop_reason,omitempty"`
}

// ParseModelOutput extracts {"tool_calls":[...]} objects embedded in the
// response text, for models that describe tool calls in prose instead of
// using native tool calling. Text outside those objects stays in Content.
func (r *Response) ParseModelOutput() error {
	s := strings.TrimSpace(r.Content)
	if s == "" {
		r.Content = ""
		return nil
	}

	var content strings.Builder
	var calls []tools.Call

	i := 0
	for i < len(s) {
		start := strings.IndexByte(s[i:], '{')
		if start == -1 {
			content.WriteString(s[i:])
			break
		}
		start += i
		content.WriteString(s[i:start])

		end, ok := matchingBrace(s, start)
		if !ok {
			// Unbalanced: keep the rest as text.
			content.WriteString(s[start:])
			break
		}

		obj := s[start : end+1]
		var envelope struct {
			ToolCalls []tools.Call `json:"tool_calls"`
		}
		if err := json.Unmarshal([]byte(obj), &envelope); err == nil && len(envelope.ToolCalls) > 0 {
			for _, tc := range envelope.ToolCalls {
				if tc.Input == nil {
					tc.Input = map[string]any{}
				}
				calls = append(calls, tools.Call{Name: tc.Name, Input: tc.Input})
			}
		} else {
			content.WriteString(obj)
		}
		i = end + 1
	}

	r.Content = strings.TrimSpace(content.String())
	r.ToolCalls = append(r.ToolCalls, calls...)
	return nil
}

// matchingBrace returns the index of the brace closing the object opened at
// start, honoring JSON string escapes.
func matchingBrace(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for j := start; j < len(s); j++ {
		c := s[j]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return j, true
			}
		}
	}
	return 0, false
}

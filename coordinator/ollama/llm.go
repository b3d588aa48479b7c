// Package ollama talks to a local Ollama server through its /api/chat
// endpoint, using native tool calling where the model supports it.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"diningagent"
	"diningagent/coordinator"
	"diningagent/tools"
)

// toolCallAddendum is appended to the system prompt. Smaller local models
// often ignore the native tools field and write calls into their text.
const toolCallAddendum = `If you cannot call a tool natively, write the call as a single JSON object on its own line:
{"tool_calls":[{"name":"<tool name>","input":{...}}]}
Write nothing else in that turn.`

type options struct {
	Temperature   float64 `json:"temperature,omitempty"`
	TopP          float64 `json:"top_p,omitempty"`
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"`
	NumCtx        int     `json:"num_ctx,omitempty"`
}

type Client struct {
	endpoint   string
	model      string
	httpClient diningagent.HTTPClient
	options    options
}

type ClientOpts struct {
	BaseEndpoint string
	ModelID      string
	HTTPClient   diningagent.HTTPClient
}

func NewClient(opts ClientOpts) (*Client, error) {
	if strings.TrimSpace(opts.ModelID) == "" {
		return nil, fmt.Errorf("ollama: model id is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Client{
		model:      opts.ModelID,
		httpClient: opts.HTTPClient,
		endpoint:   strings.TrimRight(opts.BaseEndpoint, "/") + "/api/chat",
		options: options{
			Temperature:   0.2,
			TopP:          0.9,
			RepeatPenalty: 1.05,
			NumCtx:        16384, // raise if the machine can handle it
		},
	}, nil
}

type wireFunction struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type wireToolCall struct {
	Function wireFunction `json:"function"`
}

type wireMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Name      string         `json:"name,omitempty"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
}

type wireToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type wireTool struct {
	Type     string         `json:"type"`
	Function wireToolSchema `json:"function"`
}

type wireRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools    []wireTool    `json:"tools,omitempty"`
	Stream   bool          `json:"stream"`
	Options  options       `json:"options,omitempty"`
}

type wireResponse struct {
	Message    wireMessage `json:"message"`
	DoneReason string      `json:"done_reason,omitempty"`
	// other metadata omitted but available
}

// Invoke sends the conversation to Ollama. Native tool calls are returned as
// is; calls the model wrote into its text are extracted with
// Response.ParseModelOutput.
func (c *Client) Invoke(ctx context.Context, prompt coordinator.Prompt) (coordinator.Response, error) {
	slog.Info("LLM_CLIENT: Invoked", "messages_len", len(prompt.Messages))

	reqBody, err := c.buildRequest(prompt)
	if err != nil {
		return coordinator.Response{}, err
	}
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return coordinator.Response{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(reqBytes))
	if err != nil {
		return coordinator.Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return coordinator.Response{}, fmt.Errorf("ollama chat: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return coordinator.Response{}, fmt.Errorf("ollama chat: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return coordinator.Response{}, fmt.Errorf("ollama chat: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var wr wireResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		slog.Warn("LLM_CLIENT: decode failed", "err", err, "body", string(body))
		return coordinator.Response{}, fmt.Errorf("ollama chat: %v: %w", err, coordinator.ErrMalformedResponse)
	}

	out := coordinator.Response{Content: wr.Message.Content, StopReason: wr.DoneReason}
	if len(wr.Message.ToolCalls) > 0 {
		for _, call := range wr.Message.ToolCalls {
			input := call.Function.Arguments
			if input == nil {
				input = map[string]any{}
			}
			out.ToolCalls = append(out.ToolCalls, tools.Call{Name: call.Function.Name, Input: input})
		}
		slog.Info("LLM_CLIENT: Extracted native tool calls", "calls_len", len(out.ToolCalls))
		return out, nil
	}

	if err := out.ParseModelOutput(); err != nil {
		return coordinator.Response{}, err
	}
	return out, nil
}

// buildRequest converts the provider-neutral prompt into Ollama chat
// messages. Tool results become role=tool messages named after their tool.
func (c *Client) buildRequest(prompt coordinator.Prompt) (wireRequest, error) {
	messages := make([]wireMessage, 0, len(prompt.Messages)+1)

	system := strings.TrimSpace(prompt.System())
	if len(prompt.Tools) > 0 {
		system = strings.TrimSpace(system + "\n\n" + toolCallAddendum)
	}
	if system != "" {
		messages = append(messages, wireMessage{Role: "system", Content: system})
	}

	for _, m := range prompt.Messages {
		switch m.Role {
		case coordinator.RoleSystem:
			continue

		case coordinator.RoleUser, coordinator.RoleAssistant:
			msg := wireMessage{Role: m.Role, Content: m.Content.Join()}
			for _, part := range m.Content {
				switch part.Type {
				case coordinator.PartToolUse:
					msg.ToolCalls = append(msg.ToolCalls, wireToolCall{Function: wireFunction{
						Name:      part.ToolName,
						Arguments: part.Data,
					}})
				case coordinator.PartToolResult:
					content, err := json.Marshal(part.Data)
					if err != nil {
						return wireRequest{}, fmt.Errorf("tool result %s: %w", part.ToolUseID, err)
					}
					messages = append(messages, wireMessage{
						Role:    "tool",
						Name:    part.ToolName,
						Content: string(content),
					})
				}
			}
			if msg.Content != "" || len(msg.ToolCalls) > 0 {
				messages = append(messages, msg)
			}

		default:
			slog.Warn("ollama: unknown role, coercing to user", "role", m.Role)
			messages = append(messages, wireMessage{Role: coordinator.RoleUser, Content: m.Content.Join()})
		}
	}

	wireTools := make([]wireTool, 0, len(prompt.Tools))
	for _, t := range prompt.Tools {
		params, err := parameters(t)
		if err != nil {
			return wireRequest{}, err
		}
		wireTools = append(wireTools, wireTool{
			Type: "function",
			Function: wireToolSchema{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}

	return wireRequest{
		Model:    c.model,
		Messages: messages,
		Tools:    wireTools,
		Stream:   false,
		Options:  c.options,
	}, nil
}

func parameters(t coordinator.Tool) (map[string]any, error) {
	params := map[string]any{"type": "object", "properties": map[string]any{}}
	if t.InputSchema == nil {
		return params, nil
	}
	b, err := json.Marshal(t.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("tool %s schema: %w", t.Name, err)
	}
	if err := json.Unmarshal(b, &params); err != nil {
		return nil, fmt.Errorf("tool %s schema: %w", t.Name, err)
	}
	return params, nil
}

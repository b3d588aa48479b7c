// Package bedrock adapts the Amazon Bedrock Converse API to the coordinator's
// model client interface.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithydocument "github.com/aws/smithy-go/document"

	"diningagent/coordinator"
	"diningagent/tools"
)

const (
	// defaultModelID is the default model ID for Bedrock Claude.
	// It's an inference profile ID or ARN, not the foundation model's ID.
	// See https://docs.aws.amazon.com/bedrock/latest/userguide/inference-profiles.html.
	defaultModelID = "us.anthropic.claude-3-7-sonnet-20250219-v1:0"

	// Plans are short prose; 1k tokens leaves room for a few tool calls.
	defaultMaxTokens = 1024

	// Low temperature keeps tool arguments and dish names stable between runs.
	defaultTemperature = 0.2

	defaultTopP = 0.9
)

type bedrockRuntimeClient interface {
	Converse(context.Context, *bedrockruntime.ConverseInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

type LLMOptions struct {
	ModelID     string
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

type LLMClient struct {
	brc  bedrockRuntimeClient
	opts LLMOptions
}

func NewLLMClient(brc bedrockRuntimeClient, opts LLMOptions) *LLMClient {
	if opts.ModelID == "" {
		opts.ModelID = defaultModelID
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.Temperature == 0 {
		opts.Temperature = defaultTemperature
	}
	if opts.TopP == 0 {
		opts.TopP = defaultTopP
	}
	return &LLMClient{
		brc:  brc,
		opts: opts,
	}
}

func (c *LLMClient) Invoke(ctx context.Context, prompt coordinator.Prompt) (coordinator.Response, error) {
	slog.Info("LLM_CLIENT: Invoked", "messages_len", len(prompt.Messages))

	in, err := c.buildInput(prompt)
	if err != nil {
		return coordinator.Response{}, err
	}

	out, err := c.brc.Converse(ctx, in)
	if err != nil {
		slog.Error("LLM_CLIENT: Bedrock Claude invoke failed", "error", err, "model_id", c.opts.ModelID)
		return coordinator.Response{}, fmt.Errorf("bedrock converse: %w", err)
	}

	attrs := []any{"stop_reason", out.StopReason}
	if out.Metrics != nil {
		attrs = append(attrs, "latency_ms", aws.ToInt64(out.Metrics.LatencyMs))
	}
	if out.Usage != nil {
		attrs = append(attrs,
			"input_tokens", aws.ToInt32(out.Usage.InputTokens),
			"output_tokens", aws.ToInt32(out.Usage.OutputTokens),
		)
	}
	slog.Info("LLM_CLIENT: Bedrock Claude invoke succeeded", attrs...)

	switch out.StopReason {
	case types.StopReasonToolUse:
		calls, err := toolCallsFromOutput(out)
		if err != nil {
			return coordinator.Response{}, fmt.Errorf("failed to parse tool calls: %w", err)
		}
		slog.Info("LLM_CLIENT: Extracted tool calls", "calls_len", len(calls))
		return coordinator.Response{
			Content:    textFromOutput(out),
			ToolCalls:  calls,
			StopReason: string(out.StopReason),
		}, nil

	case types.StopReasonEndTurn, types.StopReasonStopSequence:
		text := textFromOutput(out)
		slog.Info("LLM_CLIENT: Extracted final text", "text_len", len(text))
		return coordinator.Response{Content: text, StopReason: string(out.StopReason)}, nil

	case types.StopReasonMaxTokens:
		slog.Warn("LLM_CLIENT: Model hit MaxTokens limit", "max_tokens", c.opts.MaxTokens)
		return coordinator.Response{}, fmt.Errorf("model hit MaxTokens limit (%d): %w", c.opts.MaxTokens, coordinator.ErrMalformedResponse)

	case types.StopReasonGuardrailIntervened, types.StopReasonContentFiltered:
		slog.Warn("LLM_CLIENT: Model response blocked by Bedrock safety filters")
		return coordinator.Response{}, fmt.Errorf("model response blocked by Bedrock safety filters: %w", coordinator.ErrMalformedResponse)

	default:
		calls, err := toolCallsFromOutput(out)
		if err != nil {
			return coordinator.Response{}, fmt.Errorf("failed to parse tool calls: %w", err)
		}
		return coordinator.Response{
			Content:    textFromOutput(out),
			ToolCalls:  calls,
			StopReason: string(out.StopReason),
		}, nil
	}
}

func (c *LLMClient) buildInput(prompt coordinator.Prompt) (*bedrockruntime.ConverseInput, error) {
	var sys []types.SystemContentBlock
	if system := prompt.System(); system != "" {
		sys = append(sys, &types.SystemContentBlockMemberText{Value: system})
	}

	var msgs []types.Message
	for _, m := range prompt.Messages {
		if m.Role == coordinator.RoleSystem {
			continue
		}
		msg := types.Message{Role: types.ConversationRole(m.Role)}

		for _, part := range m.Content {
			switch part.Type {
			case coordinator.PartText:
				if part.Text == "" {
					continue
				}
				msg.Content = append(msg.Content, &types.ContentBlockMemberText{Value: part.Text})

			case coordinator.PartToolUse:
				input, err := cloneDocument(part.Data)
				if err != nil {
					return nil, fmt.Errorf("tool use %s input: %w", part.ToolUseID, err)
				}
				msg.Content = append(msg.Content, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
					ToolUseId: aws.String(part.ToolUseID),
					Name:      aws.String(part.ToolName),
					Input:     document.NewLazyDocument(input),
				}})

			case coordinator.PartToolResult:
				result, err := cloneDocument(part.Data)
				if err != nil {
					return nil, fmt.Errorf("tool result %s: %w", part.ToolUseID, err)
				}
				status := types.ToolResultStatusSuccess
				if part.IsError {
					status = types.ToolResultStatusError
				}
				msg.Content = append(msg.Content, &types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
					ToolUseId: aws.String(part.ToolUseID),
					Status:    status,
					Content: []types.ToolResultContentBlock{
						&types.ToolResultContentBlockMemberJson{Value: document.NewLazyDocument(result)},
					},
				}})
			}
		}

		if len(msg.Content) > 0 {
			msgs = append(msgs, msg)
		}
	}

	var specs []types.Tool
	for _, t := range prompt.Tools {
		spec, err := buildToolSpec(t)
		if err != nil {
			slog.Error("LLM_CLIENT: Failed to build tool spec", "error", err)
			continue
		}
		specs = append(specs, &types.ToolMemberToolSpec{Value: spec})
	}

	in := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(c.opts.ModelID),
		System:   sys,
		Messages: msgs,
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(c.opts.MaxTokens),
			Temperature: aws.Float32(c.opts.Temperature),
			TopP:        aws.Float32(c.opts.TopP),
		},
	}
	if len(specs) > 0 {
		in.ToolConfig = &types.ToolConfiguration{Tools: specs, ToolChoice: &types.ToolChoiceMemberAuto{}}
	}
	return in, nil
}

// cloneDocument deep-copies tool data through JSON so the SDK never shares
// maps with the conversation.
func cloneDocument(data map[string]any) (map[string]any, error) {
	out := map[string]any{}
	if data == nil {
		return out, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// buildToolSpec constructs a ToolSpecification for a tool. The schema is
// round-tripped through JSON so its own MarshalJSON decides the wire shape.
func buildToolSpec(t coordinator.Tool) (types.ToolSpecification, error) {
	schemaJSON, err := json.Marshal(t.InputSchema)
	if err != nil {
		return types.ToolSpecification{}, fmt.Errorf("failed to marshal tool schema for %s: %w", t.Name, err)
	}

	var schemaMap map[string]any
	if err := json.Unmarshal(schemaJSON, &schemaMap); err != nil {
		return types.ToolSpecification{}, fmt.Errorf("failed to unmarshal tool schema for %s: %w", t.Name, err)
	}

	return types.ToolSpecification{
		Name:        aws.String(t.Name),
		Description: aws.String(t.Description),
		InputSchema: &types.ToolInputSchemaMemberJson{
			Value: document.NewLazyDocument(schemaMap),
		},
	}, nil
}

// textFromOutput joins the assistant's text blocks with newlines.
func textFromOutput(out *bedrockruntime.ConverseOutput) string {
	if out == nil || out.Output == nil {
		return ""
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok || msg == nil {
		return ""
	}

	texts := make([]string, 0, len(msg.Value.Content))
	for _, cb := range msg.Value.Content {
		if t, ok := cb.(*types.ContentBlockMemberText); ok && t != nil && t.Value != "" {
			texts = append(texts, t.Value)
		}
	}
	return strings.Join(texts, "\n")
}

// toolCallsFromOutput extracts tool uses emitted by the assistant.
func toolCallsFromOutput(out *bedrockruntime.ConverseOutput) ([]tools.Call, error) {
	var calls []tools.Call

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok || msg == nil || msg.Value.Content == nil {
		return calls, nil
	}

	for _, cb := range msg.Value.Content {
		tu, ok := cb.(*types.ContentBlockMemberToolUse)
		if !ok || tu == nil {
			continue
		}

		input := map[string]any{}
		if tu.Value.Input != nil {
			if err := tu.Value.Input.UnmarshalSmithyDocument(&input); err != nil {
				return nil, fmt.Errorf("tool %s input: %w", aws.ToString(tu.Value.Name), err)
			}
		}

		calls = append(calls, tools.Call{
			Name:      aws.ToString(tu.Value.Name),
			Input:     normalizeInput(input).(map[string]any),
			ToolUseID: aws.ToString(tu.Value.ToolUseId),
		})
	}

	return calls, nil
}

// normalizeInput recursively coerces types for safe downstream use.
func normalizeInput(val any) any {
	switch v := val.(type) {
	case float64:
		// Convert whole numbers like 2.0 → 2
		if v == float64(int(v)) {
			return int(v)
		}
		return v

	case smithydocument.Number:
		if i, err := v.Int64(); err == nil {
			return int(i)
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()

	case string:
		// Models sometimes send arrays and objects as JSON strings.
		s := strings.TrimSpace(v)
		if strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{") {
			var decoded any
			if json.Unmarshal([]byte(s), &decoded) == nil {
				return normalizeInput(decoded)
			}
		}
		return v

	case []any:
		for i := range v {
			v[i] = normalizeInput(v[i])
		}
		return v

	case map[string]any:
		for key, val := range v {
			v[key] = normalizeInput(val)
		}
		return v

	default:
		return v
	}
}

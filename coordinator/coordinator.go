// Package coordinator runs the tool-use agent loop: it drives a language
// model through bounded rounds of menu tool calls and turns the model's final
// answer into a validated plate.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"diningagent"
	"diningagent/diet"
	"diningagent/menu"
	"diningagent/recommend"
	"diningagent/search"
	"diningagent/tools"
)

const (
	DefaultMaxRounds    = 6
	DefaultModelTimeout = 60 * time.Second

	// FallbackRoundBound is reported when the model never produced a final
	// plan within the round bound.
	FallbackRoundBound = "round_bound_exceeded"

	// FallbackProviderFailure is reported when a caller answered a
	// *ProviderError with the rules-based picks.
	FallbackProviderFailure = "provider_failure"

	ModeAgent = "agent"
	ModeRules = "rules"

	// Identical calls (same tool, same input) beyond this count are answered
	// with a hint instead of being executed again.
	maxRepeatedCalls = 2
)

type Options struct {
	MaxRounds      int
	ModelTimeout   time.Duration
	RecommendLimit int
	Params         search.Params
	Logger         diningagent.CoordinationLogger
	Tracer         trace.Tracer
	Meter          metric.Meter
}

// Result is the outcome of one planning run.
type Result struct {
	Meal menu.Meal `json:"meal"`
	// Mode is ModeAgent for Run and ModeRules for Recommend.
	Mode string `json:"mode"`
	// Plan is the model-authored text, or a generated summary on fallback.
	Plan string `json:"plan"`
	// Picks are the admissible items the plan mentions, in order of mention.
	Picks []menu.Item `json:"picks"`
	// Plate pairs each pick with the portion the plan asked for.
	Plate          menu.Plate                `json:"plate"`
	Fallback       bool                      `json:"fallback"`
	FallbackReason string                    `json:"fallback_reason,omitempty"`
	ProviderError  string                    `json:"provider_error,omitempty"`
	Rounds         int                       `json:"rounds"`
	ToolLog        []diningagent.ToolCallLog `json:"tool_log,omitempty"`
	Target         diet.Target               `json:"target"`
}

// Coordinator is safe for concurrent use: every Run builds its own catalog,
// registry and conversation.
type Coordinator struct {
	llm         LLMClient
	opts        Options
	recommender *recommend.Recommender
	tracer      trace.Tracer
	metrics     instruments
}

type instruments struct {
	runs            metric.Int64Counter
	runsFailed      metric.Int64Counter
	fallbacks       metric.Int64Counter
	rounds          metric.Int64Counter
	toolCalls       metric.Int64Counter
	toolCallsFailed metric.Int64Counter
	runDuration     metric.Float64Histogram
	llmResponseTime metric.Float64Histogram
	toolTime        metric.Float64Histogram
}

func New(llm LLMClient, opts Options) *Coordinator {
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = DefaultMaxRounds
	}
	if opts.ModelTimeout <= 0 {
		opts.ModelTimeout = DefaultModelTimeout
	}
	if opts.Params == (search.Params{}) {
		opts.Params = search.DefaultParams()
	}
	if opts.Logger == nil {
		opts.Logger = diningagent.NewNoOpCoordinationLogger()
	}
	if opts.Tracer == nil {
		opts.Tracer = tracenoop.NewTracerProvider().Tracer("")
	}
	if opts.Meter == nil {
		opts.Meter = metricnoop.NewMeterProvider().Meter("")
	}

	return &Coordinator{
		llm:         llm,
		opts:        opts,
		recommender: recommend.New(recommend.Options{Limit: opts.RecommendLimit, Params: opts.Params}),
		tracer:      opts.Tracer,
		metrics:     newInstruments(opts.Meter),
	}
}

func newInstruments(meter metric.Meter) instruments {
	var m instruments
	m.runs, _ = meter.Int64Counter("agent_runs_total",
		metric.WithDescription("Total number of agent runs started"))
	m.runsFailed, _ = meter.Int64Counter("agent_runs_failed_total",
		metric.WithDescription("Total number of agent runs that ended in a provider failure"))
	m.fallbacks, _ = meter.Int64Counter("agent_fallbacks_total",
		metric.WithDescription("Total number of runs resolved by the rules-based fallback"))
	m.rounds, _ = meter.Int64Counter("agent_rounds_total",
		metric.WithDescription("Total number of model round trips"))
	m.toolCalls, _ = meter.Int64Counter("tool_calls_total",
		metric.WithDescription("Total number of tool calls requested by the model"))
	m.toolCallsFailed, _ = meter.Int64Counter("tool_calls_failed_total",
		metric.WithDescription("Total number of tool calls answered with an error observation"))
	m.runDuration, _ = meter.Float64Histogram("agent_run_duration_seconds",
		metric.WithDescription("Duration of an agent run in seconds"))
	m.llmResponseTime, _ = meter.Float64Histogram("llm_response_time_seconds",
		metric.WithDescription("Time taken to receive response from LLM in seconds"))
	m.toolTime, _ = meter.Float64Histogram("tool_execution_time_seconds",
		metric.WithDescription("Time taken to execute individual tools in seconds"))
	return m
}

// run is the per-call state of one planning run.
type run struct {
	meal    menu.Meal
	prompt  Prompt
	tools   diningagent.ToolProvider
	calls   map[string]int
	toolLog []diningagent.ToolCallLog
}

// Run plans meal for goals from corpus. An empty or fully filtered corpus
// returns an empty result without contacting the model. Running out of
// rounds is not an error: the result is then marked as a fallback and its
// picks come from the rules-based recommender. The only error returned is a
// *ProviderError.
func (c *Coordinator) Run(ctx context.Context, corpus menu.Corpus, goals diet.Goals, meal menu.Meal) (Result, error) {
	ctx, span := c.tracer.Start(ctx, "Coordinator.Run", trace.WithAttributes(
		attribute.String("meal", string(meal)),
		attribute.Int("corpus_size", corpus.Len()),
	))
	defer span.End()

	goals = goals.Normalized()
	result := Result{
		Meal:   meal,
		Mode:   ModeAgent,
		Picks:  []menu.Item{},
		Plate:  menu.Plate{Portions: []menu.Portion{}},
		Target: goals.MealTarget(),
	}

	start := time.Now()
	c.metrics.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("meal", string(meal))))
	defer func() {
		c.metrics.runDuration.Record(ctx, time.Since(start).Seconds())
	}()

	catalog := tools.NewCatalog(corpus, goals, meal, c.opts.Params)
	if catalog.Len() == 0 {
		slog.Info("COORDINATOR: No admissible items, skipping model", "meal", meal, "corpus_size", corpus.Len())
		span.AddEvent("No admissible items")
		result.Plan = fmt.Sprintf("Nothing on today's %s menu fits your dietary needs.", meal)
		return result, nil
	}

	registry := tools.NewRegistry(catalog)
	r := &run{
		meal:   meal,
		prompt: NewPrompt(goals, meal, registry),
		tools:  registry,
		calls:  make(map[string]int),
	}

	slog.Info("COORDINATOR: Starting run", "meal", meal, "admissible_items", catalog.Len(), "max_rounds", c.opts.MaxRounds)

	for n := 1; n <= c.opts.MaxRounds; n++ {
		result.Rounds = n
		plan, err := c.round(ctx, r, n)
		if err != nil {
			c.metrics.runsFailed.Add(ctx, 1)
			span.SetStatus(codes.Error, "model provider failure")
			span.RecordError(err)
			return Result{}, err
		}
		if plan == "" {
			continue
		}

		plate := Reconcile(plan, catalog.Items())
		result.Plan = plan
		result.Plate = plate
		result.Picks = plate.Items()
		result.ToolLog = r.toolLog

		slog.Info("COORDINATOR: Plan accepted",
			"round", n,
			"picks", len(result.Picks),
			"calories", plate.Calories(),
			"protein_g", plate.ProteinG(),
		)
		span.AddEvent("Plan accepted", trace.WithAttributes(
			attribute.Int("round", n),
			attribute.Int("picks", len(result.Picks)),
		))
		return result, nil
	}

	slog.Warn("COORDINATOR: Round bound reached, using rules-based fallback", "max_rounds", c.opts.MaxRounds)
	c.metrics.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", FallbackRoundBound)))
	span.AddEvent("Fallback", trace.WithAttributes(attribute.String("reason", FallbackRoundBound)))

	picks := c.recommender.Recommend(corpus, goals, meal)
	result.Fallback = true
	result.FallbackReason = FallbackRoundBound
	result.Picks = picks
	result.Plate = menu.NewPlate(picks)
	result.Plan = FallbackPlan(meal, picks)
	result.ToolLog = r.toolLog
	return result, nil
}

// round performs one model round trip. It returns the plan text once the
// model stops requesting tools and "" while the conversation continues.
func (c *Coordinator) round(ctx context.Context, r *run, n int) (string, error) {
	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("Coordinator.Round.%d", n))
	defer span.End()

	c.metrics.rounds.Add(ctx, 1)
	roundLog := diningagent.RoundLog{Round: n, Timestamp: time.Now(), Meal: r.meal}

	promptJSON, err := json.Marshal(r.prompt)
	if err == nil {
		roundLog.LLMInput = string(promptJSON)
	}
	slog.Info("COORDINATOR: Sending prompt to LLM",
		"round", n,
		"messages_count", len(r.prompt.Messages),
		"tools_count", len(r.prompt.Tools),
		"prompt_size_bytes", len(promptJSON),
	)

	callCtx, cancel := context.WithTimeout(ctx, c.opts.ModelTimeout)
	start := time.Now()
	res, err := c.llm.Invoke(callCtx, r.prompt)
	elapsed := time.Since(start)
	cancel()
	c.metrics.llmResponseTime.Record(ctx, elapsed.Seconds())

	if err != nil {
		perr := newProviderError(n, err)
		roundLog.Error = perr.Error()
		c.logRound(roundLog)
		span.SetStatus(codes.Error, perr.Reason)
		span.RecordError(perr)
		return "", perr
	}
	roundLog.LLMOutput = res

	slog.Info("COORDINATOR: LLM response received",
		"round", n,
		"content_length", len(res.Content),
		"tool_calls", len(res.ToolCalls),
		"llm_response_time_ms", elapsed.Milliseconds(),
	)
	span.AddEvent("LLM response received", trace.WithAttributes(
		attribute.Int("response_content_length", len(res.Content)),
		attribute.Int("response_tool_calls_length", len(res.ToolCalls)),
		attribute.Float64("llm_response_time_seconds", elapsed.Seconds()),
	))

	if len(res.ToolCalls) == 0 {
		plan := strings.TrimSpace(res.Content)
		if plan == "" {
			perr := &ProviderError{Round: n, Reason: ReasonMalformed, Err: errors.New("empty final answer")}
			roundLog.Error = perr.Error()
			c.logRound(roundLog)
			span.SetStatus(codes.Error, perr.Reason)
			return "", perr
		}
		roundLog.Final = true
		c.logRound(roundLog)
		return plan, nil
	}

	assistant := Message{Role: RoleAssistant, Content: MessageParts{}}
	if text := strings.TrimSpace(res.Content); text != "" {
		assistant.Content = append(assistant.Content, MessagePart{Type: PartText, Text: text})
	}
	results := make([]ToolResult, 0, len(res.ToolCalls))
	for i, call := range res.ToolCalls {
		if call.ToolUseID == "" {
			call.ToolUseID = fmt.Sprintf("call_%d_%d", n, i+1)
		}
		if call.Input == nil {
			call.Input = map[string]any{}
		}
		slog.Info("COORDINATOR: Handling tool call", "name", call.Name, "round", n)
		assistant.Content = append(assistant.Content, MessagePart{
			Type:      PartToolUse,
			ToolUseID: call.ToolUseID,
			ToolName:  call.Name,
			Data:      call.Input,
		})

		result, tlog := c.execute(ctx, r, call)
		results = append(results, result)
		roundLog.ToolCalls = append(roundLog.ToolCalls, tlog)
	}

	r.toolLog = append(r.toolLog, roundLog.ToolCalls...)
	r.prompt = r.prompt.Append(assistant, NewToolResultMessage(results))
	c.logRound(roundLog)
	return "", nil
}

// execute dispatches one tool call. Every failure becomes an error
// observation for the model rather than an error for the caller.
func (c *Coordinator) execute(ctx context.Context, r *run, call tools.Call) (ToolResult, diningagent.ToolCallLog) {
	tlog := diningagent.ToolCallLog{Name: call.Name, Input: call.Input}
	c.metrics.toolCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("tool_name", call.Name)))

	fail := func(errorType string, data map[string]any) (ToolResult, diningagent.ToolCallLog) {
		c.metrics.toolCallsFailed.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool_name", call.Name),
			attribute.String("error_type", errorType),
		))
		tlog.Error = fmt.Sprint(data["error"])
		tlog.Output = data
		return ToolResult{ToolUseID: call.ToolUseID, ToolName: call.Name, Data: data, IsError: true}, tlog
	}

	key := callKey(call)
	r.calls[key]++
	if count := r.calls[key]; count > maxRepeatedCalls {
		slog.Warn("COORDINATOR: Repeated tool call", "tool", call.Name, "count", count)
		return fail("repeated_tool_call", map[string]any{
			"error": "repeated_tool_call",
			"hint":  "You already have this result. Use the dishes from earlier tool results and write the final plan.",
		})
	}

	tool, err := r.tools.GetTool(call.Name)
	if err != nil {
		slog.Warn("COORDINATOR: Unknown tool requested", "tool", call.Name)
		return fail("tool_not_found", map[string]any{"error": fmt.Sprintf("unknown tool %q", call.Name)})
	}

	start := time.Now()
	out, err := tool.Run(ctx, call.Input)
	tlog.Duration = time.Since(start)
	c.metrics.toolTime.Record(ctx, tlog.Duration.Seconds(), metric.WithAttributes(attribute.String("tool_name", call.Name)))

	if err != nil {
		errorType := "tool_execution_failed"
		if errors.Is(err, tools.ErrInvalidInput) {
			errorType = "invalid_input"
		}
		slog.Warn("COORDINATOR: Tool call failed", "tool", call.Name, "error", err)
		return fail(errorType, map[string]any{"error": fmt.Sprintf("tool %q failed: %v", call.Name, err)})
	}

	tlog.Output = out
	return ToolResult{ToolUseID: call.ToolUseID, ToolName: call.Name, Data: out}, tlog
}

// callKey identifies a call by tool name and canonical input. Map keys are
// sorted by encoding/json, so equal inputs produce equal keys.
func callKey(call tools.Call) string {
	b, err := json.Marshal(call.Input)
	if err != nil {
		return call.Name
	}
	return call.Name + ":" + string(b)
}

func newProviderError(round int, err error) *ProviderError {
	reason := ReasonInvoke
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		reason = ReasonTimeout
	case errors.Is(err, ErrMalformedResponse):
		reason = ReasonMalformed
	}
	return &ProviderError{Round: round, Reason: reason, Err: err}
}

// Recommend answers with the rules-based path only. It never contacts the
// model.
func (c *Coordinator) Recommend(ctx context.Context, corpus menu.Corpus, goals diet.Goals, meal menu.Meal) Result {
	_, span := c.tracer.Start(ctx, "Coordinator.Recommend", trace.WithAttributes(
		attribute.String("meal", string(meal)),
		attribute.Int("corpus_size", corpus.Len()),
	))
	defer span.End()

	picks := c.recommender.Recommend(corpus, goals, meal)
	span.SetAttributes(attribute.Int("picks", len(picks)))
	return Result{
		Meal:   meal,
		Mode:   ModeRules,
		Plan:   RulesPlan(meal, picks),
		Picks:  picks,
		Plate:  menu.NewPlate(picks),
		Target: goals.MealTarget(),
	}
}

// RulesPlan renders the rules-based picks as plan text.
func RulesPlan(meal menu.Meal, picks []menu.Item) string {
	if len(picks) == 0 {
		return fmt.Sprintf("Nothing on today's %s menu fits your dietary needs.", meal)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Top protein picks for %s:\n", meal)
	for _, it := range picks {
		fmt.Fprintf(&b, "- %s (%s, %.0f kcal, %.0f g protein)\n", it.Name, it.DiningHall, it.Calories, it.ProteinG)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FallbackPlan is RulesPlan for a run the model did not finish.
func FallbackPlan(meal menu.Meal, picks []menu.Item) string {
	if len(picks) == 0 {
		return RulesPlan(meal, picks)
	}
	return "Automatic planning did not finish. " + RulesPlan(meal, picks)
}

func (c *Coordinator) logRound(round diningagent.RoundLog) {
	if err := c.opts.Logger.LogRound(round); err != nil {
		slog.Error("Failed to log coordination round", "error", err, "round", round.Round)
	}
}

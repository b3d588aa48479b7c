package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"diningagent"
	"diningagent/diet"
	"diningagent/menu"
	"diningagent/recommend"
	"diningagent/search"
	"diningagent/tools"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// scriptedLLM replays canned responses and records every prompt it receives.
// Once the script runs out the last step repeats.
type scriptedLLM struct {
	mu      sync.Mutex
	steps   []func(ctx context.Context) (Response, error)
	prompts []Prompt
}

func newScriptedLLM(responses ...Response) *scriptedLLM {
	s := &scriptedLLM{}
	for _, r := range responses {
		s.steps = append(s.steps, func(context.Context) (Response, error) { return r, nil })
	}
	return s
}

func (s *scriptedLLM) Invoke(ctx context.Context, prompt Prompt) (Response, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	i := min(len(s.prompts), len(s.steps)) - 1
	step := s.steps[i]
	s.mu.Unlock()
	return step(ctx)
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

func toolCall(name string, input map[string]any) Response {
	return Response{ToolCalls: []tools.Call{{Name: name, Input: input}}}
}

func final(text string) Response {
	return Response{Content: text}
}

var lunchDate = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

func testCorpus() menu.Corpus {
	return menu.NewCorpus(lunchDate, []menu.Item{
		{Name: "Grilled Chicken", Station: "Grill", DiningHall: "Commons", Calories: 320, ProteinG: 45, FatG: 8,
			DietaryFlags: []string{"gluten-free", "halal"}, Allergens: []string{}, Meal: menu.Lunch, Date: lunchDate},
		{Name: "Veggie Wrap", Station: "Deli", DiningHall: "Commons", Calories: 280, ProteinG: 12, CarbsG: 40,
			DietaryFlags: []string{"vegan", "vegetarian"}, Allergens: []string{"wheat"}, Meal: menu.Lunch, Date: lunchDate},
		{Name: "Tofu Stir Fry", Station: "Wok", DiningHall: "Berkeley", Calories: 410, ProteinG: 22,
			DietaryFlags: []string{"vegan", "vegetarian"}, Allergens: []string{"soy"}, Meal: menu.Lunch, Date: lunchDate},
		{Name: "Chicken Caesar Salad", Station: "Salad Bar", DiningHall: "Commons", Calories: 450, ProteinG: 30,
			DietaryFlags: []string{}, Allergens: []string{"egg", "milk"}, Meal: menu.Lunch, Date: lunchDate},
		{Name: "Oatmeal", Station: "Hot Cereal", DiningHall: "Commons", Calories: 150, ProteinG: 5,
			DietaryFlags: []string{"vegan"}, Allergens: []string{}, Meal: menu.Breakfast, Date: lunchDate},
	})
}

func pickNames(items []menu.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Name)
	}
	return out
}

func TestCoordinatorRun(t *testing.T) {
	tests := []struct {
		name         string
		goals        diet.Goals
		responses    []Response
		wantPicks    []string
		wantPortions []string
		wantRounds   int
	}{
		{
			name: "search then plan",
			responses: []Response{
				toolCall("search_menu", map[string]any{"query": "chicken"}),
				final("Here's your lunch:\n- Grilled Chicken, 2 servings at Commons\n- Veggie Wrap, half portion\n- Sushi Roll (1 serving)"),
			},
			wantPicks:    []string{"Grilled Chicken", "Veggie Wrap"},
			wantPortions: []string{"2 servings", "half portion"},
			wantRounds:   2,
		},
		{
			name:  "inadmissible mentions are dropped",
			goals: diet.Goals{Restrictions: []string{"vegan"}, Allergies: []string{"soy"}},
			responses: []Response{
				toolCall("filter_by_dietary_need", map[string]any{"restriction": "vegan"}),
				final("- Tofu Stir Fry\n- Veggie Wrap\n- Grilled Chicken"),
			},
			wantPicks:    []string{"Veggie Wrap"},
			wantPortions: []string{"1 serving"},
			wantRounds:   2,
		},
		{
			name:         "immediate answer",
			responses:    []Response{final("Try the Tofu Stir Fry and the Chicken Caesar Salad.")},
			wantPicks:    []string{"Tofu Stir Fry", "Chicken Caesar Salad"},
			wantPortions: []string{"1 serving", "1 serving"},
			wantRounds:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := newScriptedLLM(tt.responses...)
			c := New(llm, Options{Tracer: trace.NewTracerProvider().Tracer("test")})

			result, err := c.Run(context.Background(), testCorpus(), tt.goals, menu.Lunch)
			require.NoError(t, err)

			assert.False(t, result.Fallback)
			assert.Equal(t, tt.wantRounds, result.Rounds)
			assert.Equal(t, tt.wantPicks, pickNames(result.Picks))
			require.Len(t, result.Plate.Portions, len(tt.wantPortions))
			for i, p := range result.Plate.Portions {
				assert.Equal(t, tt.wantPortions[i], p.Label)
			}
			assert.Equal(t, tt.goals.MealTarget(), result.Target)

			goals := tt.goals.Normalized()
			corpus := testCorpus()
			for _, pick := range result.Picks {
				assert.Contains(t, corpus.Items, pick)
				assert.True(t, goals.Admits(pick), "%s must satisfy the goals", pick.Name)
			}
		})
	}
}

func TestCoordinatorRun_Totals(t *testing.T) {
	llm := newScriptedLLM(final("- Grilled Chicken (2x)\n- Veggie Wrap, half portion"))
	result, err := New(llm, Options{}).Run(context.Background(), testCorpus(), diet.Goals{}, menu.Lunch)
	require.NoError(t, err)

	assert.InDelta(t, 2*320+0.5*280, result.Plate.Calories(), 1e-9)
	assert.InDelta(t, 2*45+0.5*12, result.Plate.ProteinG(), 1e-9)
}

func TestCoordinatorRun_Conversation(t *testing.T) {
	llm := newScriptedLLM(
		Response{
			Content: "Let me look.",
			ToolCalls: []tools.Call{
				{Name: "search_menu", Input: map[string]any{"query": "chicken"}, ToolUseID: "tu-1"},
				{Name: "compare_nutrition", Input: map[string]any{"item_names": []any{"Grilled Chicken"}}},
			},
		},
		final("- Grilled Chicken"),
	)
	c := New(llm, Options{})
	result, err := c.Run(context.Background(), testCorpus(), diet.Goals{}, menu.Lunch)
	require.NoError(t, err)
	require.Equal(t, 2, llm.calls())

	first, second := llm.prompts[0], llm.prompts[1]
	require.Len(t, first.Messages, 2, "earlier prompts are never mutated")
	assert.Equal(t, RoleSystem, first.Messages[0].Role)
	assert.Equal(t, RoleUser, first.Messages[1].Role)
	assert.Len(t, first.Tools, 3)

	require.Len(t, second.Messages, 4)
	assistant := second.Messages[2]
	assert.Equal(t, RoleAssistant, assistant.Role)
	require.Len(t, assistant.Content, 3)
	assert.Equal(t, "Let me look.", assistant.Content[0].Text)
	assert.Equal(t, "tu-1", assistant.Content[1].ToolUseID)
	assert.Equal(t, "call_1_2", assistant.Content[2].ToolUseID, "missing ids are generated")

	observations := second.Messages[3]
	assert.Equal(t, RoleUser, observations.Role)
	require.Len(t, observations.Content, 2)
	for i, part := range observations.Content {
		assert.Equal(t, PartToolResult, part.Type)
		assert.Equal(t, assistant.Content[i+1].ToolUseID, part.ToolUseID)
		assert.False(t, part.IsError)
	}
	assert.True(t, second.HasToolResult("search_menu"))
	assert.True(t, second.HasToolResult("compare_nutrition"))

	require.Len(t, result.ToolLog, 2)
	assert.Equal(t, "search_menu", result.ToolLog[0].Name)
	assert.NotEmpty(t, result.ToolLog[0].Output)
}

func TestCoordinatorRun_ToolErrorsAreObservations(t *testing.T) {
	llm := newScriptedLLM(
		Response{ToolCalls: []tools.Call{
			{Name: "order_pizza", Input: map[string]any{"size": "large"}},
			{Name: "search_menu", Input: map[string]any{}},
		}},
		final("- Tofu Stir Fry"),
	)
	result, err := New(llm, Options{}).Run(context.Background(), testCorpus(), diet.Goals{}, menu.Lunch)
	require.NoError(t, err)
	assert.Equal(t, []string{"Tofu Stir Fry"}, pickNames(result.Picks))

	observations := llm.prompts[1].Messages[3].Content
	require.Len(t, observations, 2)
	for _, part := range observations {
		assert.True(t, part.IsError)
		assert.Contains(t, part.Data, "error")
	}
	assert.Contains(t, observations[0].Data["error"], "unknown tool")
	assert.Contains(t, observations[1].Data["error"], "invalid tool input")

	require.Len(t, result.ToolLog, 2)
	assert.NotEmpty(t, result.ToolLog[0].Error)
	assert.NotEmpty(t, result.ToolLog[1].Error)
}

func TestCoordinatorRun_Fallback(t *testing.T) {
	goals := diet.Goals{Restrictions: []string{"vegetarian"}, Preferences: "spicy tofu"}
	llm := newScriptedLLM(toolCall("search_menu", map[string]any{"query": "chicken"}))
	c := New(llm, Options{MaxRounds: 4, RecommendLimit: 10})

	result, err := c.Run(context.Background(), testCorpus(), goals, menu.Lunch)
	require.NoError(t, err)

	assert.True(t, result.Fallback)
	assert.Equal(t, ModeAgent, result.Mode)
	assert.Equal(t, FallbackRoundBound, result.FallbackReason)
	assert.True(t, strings.HasPrefix(result.Plan, "Automatic planning did not finish."))
	assert.Equal(t, 4, result.Rounds)
	assert.Equal(t, 4, llm.calls())

	want := recommend.New(recommend.Options{Limit: 10, Params: search.DefaultParams()}).Recommend(testCorpus(), goals, menu.Lunch)
	assert.Equal(t, want, result.Picks)
	assert.Equal(t, pickNames(want), pickNames(result.Plate.Items()))
	assert.Contains(t, result.Plan, "Tofu Stir Fry")

	require.Len(t, result.ToolLog, 4)
	assert.Empty(t, result.ToolLog[1].Error)
	assert.Equal(t, "repeated_tool_call", result.ToolLog[2].Error)
	assert.Equal(t, "repeated_tool_call", result.ToolLog[3].Error)
}

func TestCoordinatorRecommend(t *testing.T) {
	goals := diet.Goals{Restrictions: []string{"vegan"}, CalorieGoal: 2400, ProteinGoal: 90}
	llm := newScriptedLLM(final("- Grilled Chicken"))
	c := New(llm, Options{RecommendLimit: 10})

	result := c.Recommend(context.Background(), testCorpus(), goals, menu.Lunch)

	assert.Equal(t, 0, llm.calls(), "the rules path never contacts the model")
	assert.Equal(t, ModeRules, result.Mode)
	assert.False(t, result.Fallback)
	assert.Equal(t, []string{"Tofu Stir Fry", "Veggie Wrap"}, pickNames(result.Picks))
	assert.Equal(t, 690.0, result.Plate.Calories())
	assert.Equal(t, diet.Target{Calories: 800, ProteinG: 30}, result.Target)
	assert.Equal(t, "Top protein picks for lunch:\n"+
		"- Tofu Stir Fry (Berkeley, 410 kcal, 22 g protein)\n"+
		"- Veggie Wrap (Commons, 280 kcal, 12 g protein)", result.Plan)

	empty := c.Recommend(context.Background(), testCorpus(), diet.Goals{Restrictions: []string{"kosher"}}, menu.Lunch)
	assert.NotNil(t, empty.Picks)
	assert.Empty(t, empty.Picks)
	assert.Equal(t, "Nothing on today's lunch menu fits your dietary needs.", empty.Plan)
}

func TestCoordinatorRun_ShortCircuit(t *testing.T) {
	tests := []struct {
		name   string
		corpus menu.Corpus
		goals  diet.Goals
		meal   menu.Meal
	}{
		{name: "empty corpus", corpus: menu.NewCorpus(lunchDate, nil), meal: menu.Lunch},
		{name: "meal not served", corpus: testCorpus(), meal: menu.Dinner},
		{name: "nothing admissible", corpus: testCorpus(), goals: diet.Goals{Restrictions: []string{"kosher"}}, meal: menu.Lunch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := newScriptedLLM(final("- Grilled Chicken"))
			result, err := New(llm, Options{}).Run(context.Background(), tt.corpus, tt.goals, tt.meal)
			require.NoError(t, err)

			assert.Equal(t, 0, llm.calls(), "the model is never contacted")
			assert.NotNil(t, result.Picks)
			assert.Empty(t, result.Picks)
			assert.False(t, result.Fallback)
			assert.NotEmpty(t, result.Plan)
		})
	}
}

func TestCoordinatorRun_ProviderErrors(t *testing.T) {
	tests := []struct {
		name       string
		step       func(ctx context.Context) (Response, error)
		wantReason string
		wantCause  error
	}{
		{
			name:       "invoke error",
			step:       func(context.Context) (Response, error) { return Response{}, errors.New("throttled") },
			wantReason: ReasonInvoke,
		},
		{
			name: "timeout",
			step: func(ctx context.Context) (Response, error) {
				<-ctx.Done()
				return Response{}, fmt.Errorf("converse: %w", ctx.Err())
			},
			wantReason: ReasonTimeout,
			wantCause:  context.DeadlineExceeded,
		},
		{
			name:       "blank final answer",
			step:       func(context.Context) (Response, error) { return Response{Content: "  \n"}, nil },
			wantReason: ReasonMalformed,
		},
		{
			name: "malformed response",
			step: func(context.Context) (Response, error) {
				return Response{}, fmt.Errorf("stop reason max_tokens: %w", ErrMalformedResponse)
			},
			wantReason: ReasonMalformed,
			wantCause:  ErrMalformedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &scriptedLLM{steps: []func(context.Context) (Response, error){tt.step}}
			c := New(llm, Options{ModelTimeout: 20 * time.Millisecond})

			result, err := c.Run(context.Background(), testCorpus(), diet.Goals{}, menu.Lunch)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrProvider)
			assert.Equal(t, Result{}, result)
			assert.Equal(t, 1, llm.calls(), "provider failures are not retried")

			var perr *ProviderError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.wantReason, perr.Reason)
			assert.Equal(t, 1, perr.Round)
			if tt.wantCause != nil {
				assert.ErrorIs(t, err, tt.wantCause)
			}
		})
	}
}

type recordingLogger struct {
	rounds []int
	final  []bool
}

func (l *recordingLogger) LogRound(round diningagent.RoundLog) error {
	l.rounds = append(l.rounds, round.Round)
	l.final = append(l.final, round.Final)
	return nil
}

func TestCoordinatorRun_Instrumentation(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	tp := trace.NewTracerProvider(trace.WithSpanProcessor(spans))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	logger := &recordingLogger{}

	llm := newScriptedLLM(
		toolCall("search_menu", map[string]any{"query": "tofu"}),
		final("- Tofu Stir Fry"),
	)
	c := New(llm, Options{
		Logger: logger,
		Tracer: tp.Tracer("test"),
		Meter:  mp.Meter("test"),
	})
	_, err := c.Run(context.Background(), testCorpus(), diet.Goals{}, menu.Lunch)
	require.NoError(t, err)

	var names []string
	for _, s := range spans.Ended() {
		names = append(names, s.Name())
	}
	assert.ElementsMatch(t, []string{"Coordinator.Round.1", "Coordinator.Round.2", "Coordinator.Run"}, names)

	assert.Equal(t, []int{1, 2}, logger.rounds)
	assert.Equal(t, []bool{false, true}, logger.final)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	counters := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					counters[m.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(1), counters["agent_runs_total"])
	assert.Equal(t, int64(2), counters["agent_rounds_total"])
	assert.Equal(t, int64(1), counters["tool_calls_total"])
	assert.Zero(t, counters["agent_fallbacks_total"])
}

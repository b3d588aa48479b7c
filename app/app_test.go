package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diningagent"
	"diningagent/coordinator"
	"diningagent/coordinator/mock"
	"diningagent/menu"
	"diningagent/slack"
)

var noon = time.Date(2025, 9, 15, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	corpus  menu.Corpus
	err     error
	gotMeal menu.Meal
	gotDate time.Time
}

func (f *fakeSource) FetchCorpus(ctx context.Context, meal menu.Meal, date time.Time) (menu.Corpus, error) {
	f.gotMeal, f.gotDate = meal, date
	return f.corpus, f.err
}

type recordingSlack struct {
	channel string
	message string
	err     error
}

func (r *recordingSlack) PostPlan(ctx context.Context, channel string, res coordinator.Result) error {
	r.channel, r.message = channel, slack.FormatPlan(res)
	return r.err
}

// clockedSource is a fakeSource that also knows serving hours.
type clockedSource struct {
	fakeSource
	meal menu.Meal
}

func (c *clockedSource) CurrentMeal(ctx context.Context, t time.Time) menu.Meal { return c.meal }

type failingLLM struct{}

func (failingLLM) Invoke(ctx context.Context, prompt coordinator.Prompt) (coordinator.Response, error) {
	return coordinator.Response{}, errors.New("connection refused")
}

func lunchCorpus() menu.Corpus {
	return menu.NewCorpus(noon, []menu.Item{
		{Name: "Grilled Chicken", DiningHall: "Commons", Calories: 320, ProteinG: 45, Meal: menu.Lunch},
		{Name: "Tofu Stir Fry", DiningHall: "Berkeley", Calories: 410, ProteinG: 22,
			DietaryFlags: []string{"vegan"}, Allergens: []string{"soy"}, Meal: menu.Lunch},
	})
}

func TestRequest_Merge(t *testing.T) {
	base := diningagent.GoalsConfig{CalorieGoal: 2000, ProteinGoal: 50, Meal: "lunch"}

	got := Request{Restrictions: []string{"vegan"}, ProteinGoal: 120, Meal: "dinner"}.Merge(base)
	assert.Equal(t, []string{"vegan"}, got.Restrictions)
	assert.Equal(t, 2000.0, got.CalorieGoal)
	assert.Equal(t, 120.0, got.ProteinGoal)
	assert.Equal(t, "dinner", got.Meal)

	assert.Equal(t, base, Request{}.Merge(base))
}

func TestPlanner_Plan(t *testing.T) {
	tests := []struct {
		name      string
		goals     diningagent.GoalsConfig
		sourceErr error
		slackErr  error
		wantMeal  menu.Meal
		wantPicks []string
		wantErr   bool
	}{
		{
			name:      "current meal from the clock",
			goals:     diningagent.GoalsConfig{CalorieGoal: 2100, ProteinGoal: 90},
			wantMeal:  menu.Lunch,
			wantPicks: []string{"Grilled Chicken", "Tofu Stir Fry"},
		},
		{
			name:      "vegan request",
			goals:     diningagent.GoalsConfig{Restrictions: []string{"Vegan"}, Meal: "lunch"},
			wantMeal:  menu.Lunch,
			wantPicks: []string{"Tofu Stir Fry"},
		},
		{
			name:      "slack failure does not fail the plan",
			goals:     diningagent.GoalsConfig{Meal: "lunch"},
			slackErr:  errors.New("webhook down"),
			wantMeal:  menu.Lunch,
			wantPicks: []string{"Grilled Chicken", "Tofu Stir Fry"},
		},
		{
			name:      "menu source failure",
			goals:     diningagent.GoalsConfig{Meal: "lunch"},
			sourceErr: errors.New("nutrislice unavailable"),
			wantErr:   true,
		},
		{
			name:    "bad meal",
			goals:   diningagent.GoalsConfig{Meal: "brunch"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{corpus: lunchCorpus(), err: tt.sourceErr}
			sl := &recordingSlack{err: tt.slackErr}
			p := NewPlanner(PlannerOpts{
				Source:      src,
				Coordinator: coordinator.New(mock.NewLLMClient(), coordinator.Options{}),
				Slack:       sl,
				Channel:     "#dining",
				Now:         func() time.Time { return noon },
			})

			res, err := p.Plan(context.Background(), tt.goals)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Empty(t, sl.message)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMeal, src.gotMeal)
			assert.True(t, src.gotDate.Equal(noon))

			names := make([]string, 0, len(res.Picks))
			for _, it := range res.Picks {
				names = append(names, it.Name)
			}
			assert.ElementsMatch(t, tt.wantPicks, names)

			assert.Equal(t, "#dining", sl.channel)
			assert.Contains(t, sl.message, "*Your lunch plan*")
		})
	}
}

func TestResolveMeal(t *testing.T) {
	evening := time.Date(2025, 9, 15, 18, 30, 0, 0, time.UTC)
	clocked := &clockedSource{meal: menu.Lunch}

	tests := []struct {
		name   string
		source diningagent.MenuSource
		meal   string
		want   menu.Meal
	}{
		{name: "source serving hours", source: clocked, want: menu.Lunch},
		{name: "standard windows without hours", source: &fakeSource{}, want: menu.Dinner},
		{name: "configured meal wins over hours", source: clocked, meal: "breakfast", want: menu.Breakfast},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveMeal(context.Background(), tt.source, diningagent.GoalsConfig{Meal: tt.meal}, evening)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlanner_Handle(t *testing.T) {
	newPlanner := func(src diningagent.MenuSource, llm coordinator.LLMClient, sl Notifier) *Planner {
		return NewPlanner(PlannerOpts{
			Source:      src,
			Coordinator: coordinator.New(llm, coordinator.Options{}),
			Slack:       sl,
			Channel:     "#dining",
			Now:         func() time.Time { return noon },
		})
	}
	defaults := diningagent.GoalsConfig{Meal: "lunch"}
	ctx := context.Background()

	t.Run("agent is the default mode", func(t *testing.T) {
		sl := &recordingSlack{}
		resp, err := newPlanner(&fakeSource{corpus: lunchCorpus()}, mock.NewLLMClient(), sl).Handle(ctx, Request{}, defaults)
		require.NoError(t, err)
		assert.Equal(t, ModeAgent, resp.Mode)
		require.NotNil(t, resp.Result)
		assert.Equal(t, coordinator.ModeAgent, resp.Result.Mode)
		assert.Contains(t, sl.message, "*Your lunch plan*")
	})

	t.Run("rules mode never calls the model", func(t *testing.T) {
		sl := &recordingSlack{}
		resp, err := newPlanner(&fakeSource{corpus: lunchCorpus()}, failingLLM{}, sl).
			Handle(ctx, Request{Mode: "Rules", Restrictions: []string{"vegan"}}, defaults)
		require.NoError(t, err)
		require.NotNil(t, resp.Result)
		assert.Equal(t, coordinator.ModeRules, resp.Result.Mode)
		require.Len(t, resp.Result.Picks, 1)
		assert.Equal(t, "Tofu Stir Fry", resp.Result.Picks[0].Name)
		assert.Contains(t, sl.message, "_(rules-based)_")
	})

	t.Run("halls", func(t *testing.T) {
		resp, err := newPlanner(&fakeSource{corpus: lunchCorpus()}, failingLLM{}, nil).Handle(ctx, Request{Mode: ModeHalls}, defaults)
		require.NoError(t, err)
		assert.Equal(t, []string{"Commons", "Berkeley"}, resp.Halls)
		assert.Nil(t, resp.Result)
	})

	t.Run("hall menu", func(t *testing.T) {
		p := newPlanner(&fakeSource{corpus: lunchCorpus()}, failingLLM{}, nil)

		resp, err := p.Handle(ctx, Request{Mode: ModeMenu, Hall: "berkeley"}, defaults)
		require.NoError(t, err)
		require.Len(t, resp.Items, 1)
		assert.Equal(t, "Tofu Stir Fry", resp.Items[0].Name)

		_, err = p.Handle(ctx, Request{Mode: ModeMenu, Hall: "Narnia"}, defaults)
		assert.ErrorIs(t, err, ErrUnknownHall)
		_, err = p.Handle(ctx, Request{Mode: ModeMenu}, defaults)
		assert.ErrorIs(t, err, ErrUnknownHall)
	})

	t.Run("search respects goals", func(t *testing.T) {
		p := newPlanner(&fakeSource{corpus: lunchCorpus()}, failingLLM{}, nil)

		resp, err := p.Handle(ctx, Request{Mode: ModeSearch, Query: "chicken"}, defaults)
		require.NoError(t, err)
		require.Len(t, resp.Items, 1)
		assert.Equal(t, "Grilled Chicken", resp.Items[0].Name)

		resp, err = p.Handle(ctx, Request{Mode: ModeSearch, Preferences: "chicken", Restrictions: []string{"vegan"}}, defaults)
		require.NoError(t, err)
		assert.Empty(t, resp.Items)
	})

	t.Run("unknown mode", func(t *testing.T) {
		_, err := newPlanner(&fakeSource{corpus: lunchCorpus()}, failingLLM{}, nil).Handle(ctx, Request{Mode: "dessert"}, defaults)
		assert.ErrorIs(t, err, ErrUnknownMode)
	})
}

func TestPlanner_ProviderFailure(t *testing.T) {
	newPlanner := func(fallback bool) *Planner {
		return NewPlanner(PlannerOpts{
			Source:                  &fakeSource{corpus: lunchCorpus()},
			Coordinator:             coordinator.New(failingLLM{}, coordinator.Options{}),
			FallbackOnProviderError: fallback,
			Now:                     func() time.Time { return noon },
		})
	}
	goals := diningagent.GoalsConfig{Meal: "lunch"}

	_, err := newPlanner(false).Plan(context.Background(), goals)
	assert.ErrorIs(t, err, coordinator.ErrProvider)

	res, err := newPlanner(true).Plan(context.Background(), goals)
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, coordinator.FallbackProviderFailure, res.FallbackReason)
	assert.Contains(t, res.ProviderError, "connection refused")
	require.Len(t, res.Picks, 2)
	assert.Equal(t, []string{"Grilled Chicken", "Tofu Stir Fry"}, []string{res.Picks[0].Name, res.Picks[1].Name})
	assert.True(t, strings.HasPrefix(res.Plan, "Automatic planning did not finish."))
}

func TestFormatResponse(t *testing.T) {
	items := lunchCorpus().ForMeal(menu.Lunch)

	tests := []struct {
		name string
		resp Response
		want string
	}{
		{
			name: "halls",
			resp: Response{Mode: ModeHalls, Meal: menu.Lunch, Halls: []string{"Commons", "Berkeley"}},
			want: "Dining halls serving lunch:\n- Commons\n- Berkeley",
		},
		{
			name: "no halls",
			resp: Response{Mode: ModeHalls, Meal: menu.Dinner},
			want: "No dining hall is serving dinner.",
		},
		{
			name: "items",
			resp: Response{Mode: ModeSearch, Meal: menu.Lunch, Items: items},
			want: "2 lunch items:\n" +
				"- Grilled Chicken (Commons, 320 kcal, 45 g protein)\n" +
				"- Tofu Stir Fry (Berkeley, 410 kcal, 22 g protein) [vegan]",
		},
		{
			name: "no items",
			resp: Response{Mode: ModeMenu, Meal: menu.Lunch},
			want: "No lunch items found.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatResponse(tt.resp))
		})
	}

	res := coordinator.Result{Meal: menu.Lunch, Mode: coordinator.ModeRules, Plan: "Top protein picks for lunch:"}
	assert.Equal(t, slack.FormatPlan(res), FormatResponse(Response{Mode: ModeRules, Result: &res}))
}

// Package app wires a menu source, the coordinator and the Slack notifier
// into one recommendation request. The cmd binaries differ only in which
// model client they hand it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"diningagent"
	"diningagent/coordinator"
	"diningagent/diet"
	"diningagent/menu"
	"diningagent/search"
	"diningagent/tools"
)

// Request modes. Agent and rules produce a plan; halls, menu and search
// browse the menu without planning.
const (
	ModeAgent  = coordinator.ModeAgent
	ModeRules  = coordinator.ModeRules
	ModeHalls  = "halls"
	ModeMenu   = "menu"
	ModeSearch = "search"
)

var (
	ErrUnknownMode = errors.New("unknown mode")
	ErrUnknownHall = errors.New("unknown dining hall")
)

// Notifier posts a finished recommendation. *slack.Client implements it.
type Notifier interface {
	PostPlan(ctx context.Context, channel string, res coordinator.Result) error
}

// MealClock knows which meal is being served at a time. Sources with real
// serving hours implement it.
type MealClock interface {
	CurrentMeal(ctx context.Context, t time.Time) menu.Meal
}

// Request is one student's ask. Empty goal fields fall back to the
// configured goals.
type Request struct {
	Restrictions []string `json:"restrictions,omitempty"`
	Allergies    []string `json:"allergies,omitempty"`
	CalorieGoal  float64  `json:"calorie_goal,omitempty"`
	ProteinGoal  float64  `json:"protein_goal,omitempty"`
	Preferences  string   `json:"preferences,omitempty"`
	Meal         string   `json:"meal,omitempty"`

	Mode  string `json:"mode,omitempty"`
	Hall  string `json:"hall,omitempty"`
	Query string `json:"query,omitempty"`
	TopK  int    `json:"top_k,omitempty"`
}

// Merge overlays the request on the configured goals.
func (r Request) Merge(cfg diningagent.GoalsConfig) diningagent.GoalsConfig {
	if len(r.Restrictions) > 0 {
		cfg.Restrictions = r.Restrictions
	}
	if len(r.Allergies) > 0 {
		cfg.Allergies = r.Allergies
	}
	if r.CalorieGoal > 0 {
		cfg.CalorieGoal = r.CalorieGoal
	}
	if r.ProteinGoal > 0 {
		cfg.ProteinGoal = r.ProteinGoal
	}
	if strings.TrimSpace(r.Preferences) != "" {
		cfg.Preferences = r.Preferences
	}
	if strings.TrimSpace(r.Meal) != "" {
		cfg.Meal = r.Meal
	}
	return cfg
}

// Response is what one request produced. Plan modes fill Result; browse
// modes fill Halls or Items.
type Response struct {
	Mode   string              `json:"mode"`
	Meal   menu.Meal           `json:"meal"`
	Result *coordinator.Result `json:"result,omitempty"`
	Halls  []string            `json:"halls,omitempty"`
	Items  []menu.Item         `json:"items,omitempty"`
}

type Planner struct {
	source                  diningagent.MenuSource
	coordinator             *coordinator.Coordinator
	notifier                Notifier
	channel                 string
	params                  search.Params
	fallbackOnProviderError bool
	now                     func() time.Time
}

type PlannerOpts struct {
	Source      diningagent.MenuSource
	Coordinator *coordinator.Coordinator
	// Slack is optional. When set, every plan is posted to Channel.
	Slack   Notifier
	Channel string
	// Params tune keyword search in search mode.
	Params search.Params
	// FallbackOnProviderError answers a model failure with the rules-based
	// picks instead of an error. The failure stays visible on the result.
	FallbackOnProviderError bool
	Now                     func() time.Time
}

func NewPlanner(opts PlannerOpts) *Planner {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Params == (search.Params{}) {
		opts.Params = search.DefaultParams()
	}
	return &Planner{
		source:                  opts.Source,
		coordinator:             opts.Coordinator,
		notifier:                opts.Slack,
		channel:                 opts.Channel,
		params:                  opts.Params,
		fallbackOnProviderError: opts.FallbackOnProviderError,
		now:                     opts.Now,
	}
}

// ResolveMeal returns the configured meal. When none is configured it asks
// the source for the meal being served at now, and falls back to the
// standard serving windows for sources that cannot tell.
func ResolveMeal(ctx context.Context, source diningagent.MenuSource, cfg diningagent.GoalsConfig, now time.Time) (menu.Meal, error) {
	if cfg.MealIsCurrent() {
		if clock, ok := source.(MealClock); ok {
			return clock.CurrentMeal(ctx, now), nil
		}
	}
	return cfg.MealAt(now)
}

// Handle serves req in its mode, with defaults supplying the goals the
// request leaves out.
func (p *Planner) Handle(ctx context.Context, req Request, defaults diningagent.GoalsConfig) (Response, error) {
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	if mode == "" {
		mode = ModeAgent
	}
	switch mode {
	case ModeAgent, ModeRules, ModeHalls, ModeMenu, ModeSearch:
	default:
		return Response{}, fmt.Errorf("%w %q", ErrUnknownMode, req.Mode)
	}

	cfg := req.Merge(defaults)
	now := p.now()
	meal, err := ResolveMeal(ctx, p.source, cfg, now)
	if err != nil {
		return Response{}, err
	}
	slog.Info("APP: Handling request", "mode", mode, "meal", meal)

	resp := Response{Mode: mode, Meal: meal}
	switch mode {
	case ModeAgent:
		var res coordinator.Result
		res, err = p.PlanMeal(ctx, cfg.Goals(), meal, now)
		resp.Result = &res
	case ModeRules:
		var res coordinator.Result
		res, err = p.RecommendMeal(ctx, cfg.Goals(), meal, now)
		resp.Result = &res
	case ModeHalls:
		resp.Halls, err = p.Halls(ctx, meal, now)
	case ModeMenu:
		resp.Items, err = p.HallMenu(ctx, req.Hall, meal, now)
	case ModeSearch:
		query := req.Query
		if strings.TrimSpace(query) == "" {
			query = cfg.Preferences
		}
		resp.Items, err = p.Search(ctx, cfg.Goals(), query, req.TopK, meal, now)
	}
	if err != nil {
		return Response{}, err
	}
	return resp, nil
}

// Plan fetches the menu for the requested meal and runs the agent over it.
// A failed Slack post is logged and does not fail the plan.
func (p *Planner) Plan(ctx context.Context, goalsCfg diningagent.GoalsConfig) (coordinator.Result, error) {
	now := p.now()
	meal, err := ResolveMeal(ctx, p.source, goalsCfg, now)
	if err != nil {
		return coordinator.Result{}, err
	}
	return p.PlanMeal(ctx, goalsCfg.Goals(), meal, now)
}

func (p *Planner) PlanMeal(ctx context.Context, goals diet.Goals, meal menu.Meal, date time.Time) (coordinator.Result, error) {
	corpus, err := p.load(ctx, meal, date)
	if err != nil {
		return coordinator.Result{}, err
	}

	res, err := p.coordinator.Run(ctx, corpus, goals, meal)
	var perr *coordinator.ProviderError
	switch {
	case err == nil:
	case p.fallbackOnProviderError && errors.As(err, &perr):
		slog.Warn("APP: Model failed, answering with rules-based picks", "error", err)
		res = p.coordinator.Recommend(ctx, corpus, goals, meal)
		res.Mode = coordinator.ModeAgent
		res.Fallback = true
		res.FallbackReason = coordinator.FallbackProviderFailure
		res.ProviderError = perr.Error()
		res.Plan = coordinator.FallbackPlan(meal, res.Picks)
	default:
		return coordinator.Result{}, err
	}

	p.notify(ctx, res)
	return res, nil
}

// Recommend is Plan on the rules-based path. It never contacts the model.
func (p *Planner) Recommend(ctx context.Context, goalsCfg diningagent.GoalsConfig) (coordinator.Result, error) {
	now := p.now()
	meal, err := ResolveMeal(ctx, p.source, goalsCfg, now)
	if err != nil {
		return coordinator.Result{}, err
	}
	return p.RecommendMeal(ctx, goalsCfg.Goals(), meal, now)
}

func (p *Planner) RecommendMeal(ctx context.Context, goals diet.Goals, meal menu.Meal, date time.Time) (coordinator.Result, error) {
	corpus, err := p.load(ctx, meal, date)
	if err != nil {
		return coordinator.Result{}, err
	}
	res := p.coordinator.Recommend(ctx, corpus, goals, meal)
	p.notify(ctx, res)
	return res, nil
}

// Halls lists the dining halls serving meal, in menu order.
func (p *Planner) Halls(ctx context.Context, meal menu.Meal, date time.Time) ([]string, error) {
	corpus, err := p.load(ctx, meal, date)
	if err != nil {
		return nil, err
	}
	halls := corpus.Halls()
	if halls == nil {
		halls = []string{}
	}
	return halls, nil
}

// HallMenu returns everything one hall serves for meal. Hall names match
// case-insensitively.
func (p *Planner) HallMenu(ctx context.Context, hall string, meal menu.Meal, date time.Time) ([]menu.Item, error) {
	hall = strings.TrimSpace(hall)
	if hall == "" {
		return nil, fmt.Errorf("%w: no hall given", ErrUnknownHall)
	}
	corpus, err := p.load(ctx, meal, date)
	if err != nil {
		return nil, err
	}

	items := make([]menu.Item, 0)
	for _, it := range corpus.ForMeal(meal) {
		if strings.EqualFold(it.DiningHall, hall) {
			items = append(items, it)
		}
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w %q for %s", ErrUnknownHall, hall, meal)
	}
	return items, nil
}

// Search runs a keyword query over the items goals admit for meal. k <= 0
// uses the search tool's default.
func (p *Planner) Search(ctx context.Context, goals diet.Goals, query string, k int, meal menu.Meal, date time.Time) ([]menu.Item, error) {
	corpus, err := p.load(ctx, meal, date)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		k = tools.DefaultSearchTopK
	}

	hits := tools.NewCatalog(corpus, goals, meal, p.params).Search(query, k)
	items := make([]menu.Item, 0, len(hits))
	for _, h := range hits {
		items = append(items, h.Item)
	}
	return items, nil
}

func (p *Planner) load(ctx context.Context, meal menu.Meal, date time.Time) (menu.Corpus, error) {
	corpus, err := p.source.FetchCorpus(ctx, meal, date)
	if err != nil {
		return menu.Corpus{}, fmt.Errorf("load %s menu: %w", meal, err)
	}
	slog.Info("APP: Menu loaded", "meal", meal, "date", date.Format(time.DateOnly), "items", corpus.Len())
	return corpus, nil
}

func (p *Planner) notify(ctx context.Context, res coordinator.Result) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.PostPlan(ctx, p.channel, res); err != nil {
		slog.Error("APP: Failed to post plan to Slack", "error", err)
	}
}

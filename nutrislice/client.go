// Package nutrislice fetches dining hall menus from a Nutrislice tenant.
package nutrislice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"diningagent"
	"diningagent/menu"
)

const (
	DefaultBaseURL     = "https://yalehospitality.api.nutrislice.com"
	DefaultConcurrency = 8
	DefaultRPS         = 10.0

	schoolsPath = "/menu/api/schools/"
)

// ErrAllHallsFailed is returned when no hall serving the meal could be fetched.
var ErrAllHallsFailed = errors.New("every hall menu fetch failed")

// Stations served only at lunch and dinner but still listed on breakfast menus.
var breakfastSkipStations = map[string]bool{
	"smartmeals":  true,
	"smart meals": true,
}

// School is one dining hall as advertised by the schools endpoint.
type School struct {
	Name string
	Slug string
	// MenuURLs maps a meal to a path template containing {year}, {month}
	// and {day} placeholders.
	MenuURLs map[menu.Meal]string
	// Hours maps a meal to its serving window per weekday ("mon".."sun").
	Hours map[menu.Meal]map[string]Window
}

// Window is a serving window in minutes since midnight.
type Window struct {
	Start int
	End   int
}

// Client talks to the Nutrislice API. It is safe for concurrent use.
type Client struct {
	baseURL     string
	httpClient  diningagent.HTTPClient
	limiter     *rate.Limiter
	concurrency int
}

type Option func(*Client)

// WithRateLimit paces outgoing requests.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
		}
	}
}

// WithConcurrency bounds how many halls are fetched at once.
func WithConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

func NewClient(httpClient diningagent.HTTPClient, baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  httpClient,
		limiter:     rate.NewLimiter(rate.Limit(DefaultRPS), 1),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Schools lists the dining halls and their menu endpoints.
func (c *Client) Schools(ctx context.Context) ([]School, error) {
	var raw []schoolResponse
	if err := c.get(ctx, c.baseURL+schoolsPath, &raw); err != nil {
		return nil, fmt.Errorf("fetch schools: %w", err)
	}

	schools := make([]School, 0, len(raw))
	for _, s := range raw {
		if s.Name == "" || s.Slug == "" {
			continue
		}
		school := School{
			Name:     s.Name,
			Slug:     s.Slug,
			MenuURLs: make(map[menu.Meal]string),
			Hours:    make(map[menu.Meal]map[string]Window),
		}
		for _, mt := range s.ActiveMenuTypes {
			meal, err := menu.ParseMeal(mt.Name)
			if err != nil || mt.URLs.FullMenuByDate == "" {
				continue
			}
			school.MenuURLs[meal] = mt.URLs.FullMenuByDate
		}
		for _, od := range s.OperatingDays {
			name, _ := od["menu_type_name"].(string)
			meal, err := menu.ParseMeal(name)
			if err != nil {
				continue
			}
			school.Hours[meal] = parseWindows(od)
		}
		schools = append(schools, school)
	}
	return schools, nil
}

// HallMenu fetches the items one hall serves for meal on date.
func (c *Client) HallMenu(ctx context.Context, school School, meal menu.Meal, date time.Time) ([]menu.Item, error) {
	template, ok := school.MenuURLs[meal]
	if !ok {
		return []menu.Item{}, nil
	}
	path := strings.NewReplacer(
		"{year}", fmt.Sprintf("%d", date.Year()),
		"{month}", fmt.Sprintf("%02d", int(date.Month())),
		"{day}", fmt.Sprintf("%02d", date.Day()),
	).Replace(template)

	var week weekResponse
	if err := c.get(ctx, c.baseURL+path, &week); err != nil {
		return nil, fmt.Errorf("fetch %s %s menu: %w", school.Name, meal, err)
	}
	return parseWeek(week, school.Name, meal, date), nil
}

// FetchCorpus fetches every hall's menu for meal on date in parallel. A hall
// that fails is logged and left out, but if every hall serving meal fails the
// result is ErrAllHallsFailed rather than an empty corpus.
func (c *Client) FetchCorpus(ctx context.Context, meal menu.Meal, date time.Time) (menu.Corpus, error) {
	schools, err := c.Schools(ctx)
	if err != nil {
		return menu.Corpus{}, err
	}

	slog.Info("MENU: Fetching hall menus", "meal", meal, "date", date.Format(time.DateOnly), "halls", len(schools))

	perHall := make([][]menu.Item, len(schools))
	perHallErr := make([]error, len(schools))
	attempted := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, school := range schools {
		if _, ok := school.MenuURLs[meal]; ok {
			attempted++
		}
		g.Go(func() error {
			items, err := c.HallMenu(gctx, school, meal, date)
			if err != nil {
				slog.Warn("MENU: Skipping hall", "hall", school.Name, "error", err)
				perHallErr[i] = err
				return nil
			}
			slog.Debug("MENU: Hall fetched", "hall", school.Name, "items", len(items))
			perHall[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return menu.Corpus{}, err
	}
	if err := ctx.Err(); err != nil {
		return menu.Corpus{}, fmt.Errorf("fetch menus: %w", err)
	}
	if failed := errors.Join(perHallErr...); failed != nil && countErrors(perHallErr) == attempted {
		return menu.Corpus{}, fmt.Errorf("%w: %w", ErrAllHallsFailed, failed)
	}

	var items []menu.Item
	for _, hall := range perHall {
		items = append(items, hall...)
	}
	slog.Info("MENU: Corpus built", "meal", meal, "items", len(items))
	return menu.NewCorpus(date, items), nil
}

func countErrors(errs []error) int {
	n := 0
	for _, err := range errs {
		if err != nil {
			n++
		}
	}
	return n
}

// CurrentMeal uses the first hall's advertised serving hours and falls back
// to menu.CurrentMeal when none cover t.
func (c *Client) CurrentMeal(ctx context.Context, t time.Time) menu.Meal {
	schools, err := c.Schools(ctx)
	if err != nil || len(schools) == 0 {
		return menu.CurrentMeal(t)
	}
	if meal, ok := schools[0].MealAt(t); ok {
		return meal
	}
	return menu.CurrentMeal(t)
}

// MealAt reports which meal the school serves at t, if any.
func (s School) MealAt(t time.Time) (menu.Meal, bool) {
	day := strings.ToLower(t.Weekday().String()[:3])
	mins := t.Hour()*60 + t.Minute()
	for _, meal := range menu.Meals {
		w, ok := s.Hours[meal][day]
		if ok && w.Start <= mins && mins < w.End {
			return meal, true
		}
	}
	return "", false
}

func (c *Client) get(ctx context.Context, url string, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d from %s: %s", resp.StatusCode, url, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

func parseWeek(week weekResponse, hall string, meal menu.Meal, date time.Time) []menu.Item {
	target := date.Format(time.DateOnly)
	items := make([]menu.Item, 0)
	for _, day := range week.Days {
		if day.Date != target {
			continue
		}
		station := "General"
		for _, mi := range day.MenuItems {
			if mi.IsStationHeader {
				if mi.Text != "" {
					station = mi.Text
				}
				continue
			}
			if mi.Food == nil || strings.TrimSpace(mi.Food.Name) == "" {
				continue
			}
			if meal == menu.Breakfast && breakfastSkipStations[strings.ToLower(strings.TrimSpace(station))] {
				continue
			}
			items = append(items, menu.Ingest(rawItem(mi.Food), hall, station, meal, date))
		}
	}
	return items
}

func rawItem(f *foodResponse) menu.RawItem {
	raw := menu.RawItem{
		Name:        f.Name,
		Description: f.Description,
	}
	var nutritionServing json.RawMessage
	if n := f.Nutrition; n != nil {
		raw.Calories = n.Calories
		raw.ProteinG = n.ProteinG
		raw.CarbsG = n.CarbsG
		raw.FatG = n.FatG
		raw.FiberG = n.FiberG
		raw.SodiumMG = n.SodiumMG
		nutritionServing = n.ServingSize
	}
	raw.ServingSize = servingSize(nutritionServing, f.ServingSizeInfo, f.ServingSize)
	for _, icon := range f.Icons.FoodIcons {
		if icon.Name != "" {
			raw.Icons = append(raw.Icons, icon.Name)
		}
	}
	return raw
}

func parseWindows(od operatingDays) map[string]Window {
	out := make(map[string]Window)
	for _, day := range []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"} {
		enabled, _ := od[day+"_enabled"].(bool)
		if !enabled {
			continue
		}
		start, okStart := parseClock(od[day+"_start"])
		end, okEnd := parseClock(od[day+"_end"])
		if okStart && okEnd {
			out[day] = Window{Start: start, End: end}
		}
	}
	return out
}

// parseClock reads "HH:MM" or "HH:MM:SS" into minutes since midnight.
func parseClock(v any) (int, bool) {
	s, _ := v.(string)
	if len(s) < 5 {
		return 0, false
	}
	t, err := time.Parse("15:04", s[:5])
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

// Package menusource picks where menu snapshots come from: the live
// Nutrislice API, a JSON file, or an object in S3. Every source is served
// through a freshness cache.
package menusource

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"diningagent"
	"diningagent/menu"
	"diningagent/menucache"
	"diningagent/nutrislice"
	"diningagent/tools/storage"
)

const (
	SourceNutrislice = "nutrislice"
	SourceFile       = "file"
	SourceS3         = "s3"
)

// Deps carries the clients a source may need. Only the client for the
// configured source has to be set.
type Deps struct {
	HTTPClient diningagent.HTTPClient
	S3Client   storage.S3GetObjectAPI
	Cache      *menucache.Cache
}

// New builds the source named by cfg.Source wrapped in a cache.
func New(cfg diningagent.MenuConfig, deps Deps) (*Cached, error) {
	var src diningagent.MenuSource
	switch strings.ToLower(strings.TrimSpace(cfg.Source)) {
	case SourceNutrislice, "":
		if deps.HTTPClient == nil {
			return nil, fmt.Errorf("menu source %s: http client is required", SourceNutrislice)
		}
		src = nutrislice.NewClient(deps.HTTPClient, cfg.NutrisliceBaseURL,
			nutrislice.WithRateLimit(cfg.FetchRPS, cfg.FetchConcurrency),
			nutrislice.WithConcurrency(cfg.FetchConcurrency),
		)
	case SourceFile:
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, fmt.Errorf("menu source %s: path is required", SourceFile)
		}
		src = NewSnapshot(storage.NewFileMenuState(cfg.Path))
	case SourceS3:
		if cfg.S3Bucket == "" || cfg.S3Key == "" {
			return nil, fmt.Errorf("menu source %s: bucket and key are required", SourceS3)
		}
		if deps.S3Client == nil {
			return nil, fmt.Errorf("menu source %s: s3 client is required", SourceS3)
		}
		src = NewSnapshot(storage.NewS3MenuState(deps.S3Client, cfg.S3Bucket, cfg.S3Key))
	default:
		return nil, fmt.Errorf("unknown menu source %q", cfg.Source)
	}

	cache := deps.Cache
	if cache == nil {
		cache = menucache.New()
	}
	slog.Info("MENU_SOURCE: Configured", "source", cfg.Source, "cache_ttl", cfg.CacheTTL)
	return NewCached(src, cache, cfg.CacheTTL), nil
}

// Snapshot serves a stored corpus. The stored snapshot may hold several
// meals; FetchCorpus keeps only the requested one.
type Snapshot struct {
	state storage.MenuState
}

func NewSnapshot(state storage.MenuState) *Snapshot {
	return &Snapshot{state: state}
}

func (s *Snapshot) FetchCorpus(ctx context.Context, meal menu.Meal, date time.Time) (menu.Corpus, error) {
	corpus, err := storage.LoadCorpus(ctx, s.state)
	if err != nil {
		return menu.Corpus{}, err
	}
	if !corpus.Date.IsZero() && !date.IsZero() && corpus.Date.Format(time.DateOnly) != date.Format(time.DateOnly) {
		slog.Warn("MENU_SOURCE: Snapshot date differs from requested date",
			"snapshot_date", corpus.Date.Format(time.DateOnly), "requested_date", date.Format(time.DateOnly))
	}
	return menu.NewCorpus(corpus.Date, corpus.ForMeal(meal)), nil
}

// Cached serves snapshots from a menucache.Cache, falling through to the
// wrapped source on a miss or after ttl.
type Cached struct {
	src   diningagent.MenuSource
	cache *menucache.Cache
	ttl   time.Duration
}

func NewCached(src diningagent.MenuSource, cache *menucache.Cache, ttl time.Duration) *Cached {
	if ttl == 0 {
		ttl = menucache.DefaultTTL
	}
	return &Cached{src: src, cache: cache, ttl: ttl}
}

func (c *Cached) FetchCorpus(ctx context.Context, meal menu.Meal, date time.Time) (menu.Corpus, error) {
	return c.cache.GetOrFetch(ctx, menucache.Key(meal, date), c.ttl, func(ctx context.Context) (menu.Corpus, error) {
		return c.src.FetchCorpus(ctx, meal, date)
	})
}

type mealClock interface {
	CurrentMeal(ctx context.Context, t time.Time) menu.Meal
}

// CurrentMeal asks the wrapped source which meal is served at t. Sources
// without serving hours use the standard windows.
func (c *Cached) CurrentMeal(ctx context.Context, t time.Time) menu.Meal {
	if clock, ok := c.src.(mealClock); ok {
		return clock.CurrentMeal(ctx, t)
	}
	return menu.CurrentMeal(t)
}

// Invalidate forces the next fetch of meal on date to hit the source.
func (c *Cached) Invalidate(meal menu.Meal, date time.Time) {
	c.cache.Invalidate(menucache.Key(meal, date))
}

package diningagent

import (
	"strings"
	"time"

	"diningagent/diet"
	"diningagent/menu"
	"diningagent/search"
)

type ModelConfig struct {
	ModelID     string        `env:"MODEL_ID,required"`
	MaxTokens   int32         `env:"MAX_TOKENS,default=1024"`
	Temperature float32       `env:"TEMPERATURE,default=0.2"`
	TopP        float32       `env:"TOP_P,default=0.9"`
	Timeout     time.Duration `env:"MODEL_TIMEOUT,default=60s"`
}

type AgentConfig struct {
	MaxRounds          int     `env:"MAX_ROUNDS,default=6"`
	RecommendLimit     int     `env:"RECOMMEND_LIMIT,default=25"`
	BM25K1             float64 `env:"BM25_K1,default=1.5"`
	BM25B              float64 `env:"BM25_B,default=0.75"`
	BaseOllamaEndpoint string  `env:"BASE_OLLAMA_ENDPOINT,default=http://localhost:11434"`
	LogDir             string  `env:"LOG_DIR,default=logs"`
	DebugDump          bool    `env:"DEBUG_DUMP,default=false"`

	// Mode picks what a run does: agent, rules, halls, menu or search.
	Mode                    string `env:"MODE,default=agent"`
	Hall                    string `env:"HALL"`
	SearchTopK              int    `env:"SEARCH_TOP_K,default=10"`
	FallbackOnProviderError bool   `env:"FALLBACK_ON_PROVIDER_ERROR,default=false"`
}

// SearchParams returns the configured BM25 constants.
func (c AgentConfig) SearchParams() search.Params {
	return search.Params{K1: c.BM25K1, B: c.BM25B}
}

type MenuConfig struct {
	Source            string        `env:"MENU_SOURCE,default=nutrislice"`
	Path              string        `env:"MENU_PATH,default=artifacts/menu.json"`
	S3Bucket          string        `env:"MENU_S3_BUCKET"`
	S3Key             string        `env:"MENU_S3_KEY"`
	NutrisliceBaseURL string        `env:"NUTRISLICE_BASE_URL,default=https://yalehospitality.api.nutrislice.com"`
	CacheTTL          time.Duration `env:"MENU_CACHE_TTL,default=10m"`
	FetchConcurrency  int           `env:"MENU_FETCH_CONCURRENCY,default=8"`
	FetchRPS          float64       `env:"MENU_FETCH_RPS,default=10"`
}

// GoalsConfig carries a user's goals from the environment. List values are
// separated by semicolons.
type GoalsConfig struct {
	Restrictions []string `env:"RESTRICTIONS"`
	Allergies    []string `env:"ALLERGIES"`
	CalorieGoal  float64  `env:"CALORIE_GOAL,default=2000"`
	ProteinGoal  float64  `env:"PROTEIN_GOAL,default=50"`
	Preferences  string   `env:"PREFERENCES"`
	Meal         string   `env:"MEAL"`
}

// Goals converts the configuration into normalized diet goals.
func (c GoalsConfig) Goals() diet.Goals {
	return diet.Goals{
		Restrictions: c.Restrictions,
		Allergies:    c.Allergies,
		CalorieGoal:  c.CalorieGoal,
		ProteinGoal:  c.ProteinGoal,
		Preferences:  c.Preferences,
	}.Normalized()
}

// MealAt returns the configured meal, or the meal being served at t when
// none is configured.
func (c GoalsConfig) MealAt(t time.Time) (menu.Meal, error) {
	if c.MealIsCurrent() {
		return menu.CurrentMeal(t), nil
	}
	return menu.ParseMeal(c.Meal)
}

// MealIsCurrent reports whether the meal is left to the clock.
func (c GoalsConfig) MealIsCurrent() bool {
	meal := strings.TrimSpace(c.Meal)
	return meal == "" || strings.EqualFold(meal, "current")
}

type SlackConfig struct {
	WebhookURL string `env:"SLACK_WEBHOOK_URL"`
	Channel    string `env:"SLACK_CHANNEL,default=#dining"`
}

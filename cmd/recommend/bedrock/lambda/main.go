package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joeshaw/envdecode"

	"diningagent"
	"diningagent/app"
	"diningagent/coordinator"
	"diningagent/coordinator/bedrock"
	"diningagent/menu"
	"diningagent/menucache"
	"diningagent/menusource"
	"diningagent/slack"
)

type Results struct {
	Mode           string      `json:"mode"`
	Meal           menu.Meal   `json:"meal"`
	Plan           string      `json:"plan,omitempty"`
	Plate          menu.Plate  `json:"plate,omitzero"`
	TotalCalories  float64     `json:"total_calories,omitempty"`
	TotalProteinG  float64     `json:"total_protein_g,omitempty"`
	Fallback       bool        `json:"fallback"`
	FallbackReason string      `json:"fallback_reason,omitempty"`
	ProviderError  string      `json:"provider_error,omitempty"`
	Rounds         int         `json:"rounds"`
	Halls          []string    `json:"halls,omitempty"`
	Items          []menu.Item `json:"items,omitempty"`
	Message        string      `json:"message"`
}

func main() {
	var modelConfig diningagent.ModelConfig
	if err := envdecode.Decode(&modelConfig); err != nil {
		log.Fatalf("Failed to decode: %s", err)
	}

	var agentConfig diningagent.AgentConfig
	if err := envdecode.Decode(&agentConfig); err != nil {
		log.Fatalf("Failed to decode: %s", err)
	}

	var menuConfig diningagent.MenuConfig
	if err := envdecode.Decode(&menuConfig); err != nil {
		log.Fatalf("Failed to decode: %s", err)
	}

	var goalsConfig diningagent.GoalsConfig
	if err := envdecode.Decode(&goalsConfig); err != nil {
		log.Fatalf("Failed to decode: %s", err)
	}

	var slackConfig diningagent.SlackConfig
	if err := envdecode.Decode(&slackConfig); err != nil {
		log.Fatalf("Failed to decode: %s", err)
	}

	ctx := context.Background()
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRetryMaxAttempts(5))
	if err != nil {
		log.Fatalf("Failed to load AWS config: %s", err)
	}

	// Warm invocations share the cache, so a busy meal period fetches the
	// menu once per TTL.
	source, err := menusource.New(menuConfig, menusource.Deps{
		HTTPClient: http.DefaultClient,
		S3Client:   s3.NewFromConfig(awsCfg),
		Cache:      menucache.New(),
	})
	if err != nil {
		log.Fatalf("Failed to create menu source: %s", err)
	}

	llm := bedrock.NewLLMClient(bedrockruntime.NewFromConfig(awsCfg), bedrock.LLMOptions{
		ModelID:     modelConfig.ModelID,
		MaxTokens:   modelConfig.MaxTokens,
		Temperature: modelConfig.Temperature,
		TopP:        modelConfig.TopP,
	})

	tracerProvider, meterProvider, otelShutdown, err := diningagent.InitOtel(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize OpenTelemetry: %s", err)
	}

	coord := coordinator.New(llm, coordinator.Options{
		MaxRounds:      agentConfig.MaxRounds,
		ModelTimeout:   modelConfig.Timeout,
		RecommendLimit: agentConfig.RecommendLimit,
		Params:         agentConfig.SearchParams(),
		Logger:         diningagent.NewStdoutCoordinationLogger(),
		Tracer:         tracerProvider.Tracer(diningagent.TracerNameBedrock),
		Meter:          meterProvider.Meter(diningagent.TracerNameBedrock),
	})

	var notifier app.Notifier
	if slackConfig.WebhookURL != "" {
		notifier = slack.NewClient(slackConfig.WebhookURL, http.DefaultClient)
	}

	planner := app.NewPlanner(app.PlannerOpts{
		Source:                  source,
		Coordinator:             coord,
		Slack:                   notifier,
		Channel:                 slackConfig.Channel,
		Params:                  agentConfig.SearchParams(),
		FallbackOnProviderError: agentConfig.FallbackOnProviderError,
	})

	fn := func(ctx context.Context, req app.Request) (Results, error) {
		// Spans are exported per invocation; the sandbox may freeze after return.
		defer func() {
			if err := tracerProvider.ForceFlush(ctx); err != nil {
				slog.Error("Failed to flush traces", "error", err)
			}
		}()

		if req.Mode == "" {
			req.Mode = agentConfig.Mode
		}
		resp, err := planner.Handle(ctx, req, goalsConfig)
		if err != nil {
			slog.Error("RESULT: Error handling request", "mode", req.Mode, "error", err)
			return Results{}, fmt.Errorf("handle %s request: %w", req.Mode, err)
		}
		return newResults(resp), nil
	}

	lambda.StartWithOptions(fn, lambda.WithEnableSIGTERM(func() {
		if err := otelShutdown(context.Background()); err != nil {
			slog.Error("SETUP: Failed to shutdown OpenTelemetry", "error", err)
		}
	}))
}

func newResults(resp app.Response) Results {
	out := Results{
		Mode:    resp.Mode,
		Meal:    resp.Meal,
		Halls:   resp.Halls,
		Items:   resp.Items,
		Message: app.FormatResponse(resp),
	}
	if res := resp.Result; res != nil {
		out.Plan = res.Plan
		out.Plate = res.Plate
		out.TotalCalories = res.Plate.Calories()
		out.TotalProteinG = res.Plate.ProteinG()
		out.Fallback = res.Fallback
		out.FallbackReason = res.FallbackReason
		out.ProviderError = res.ProviderError
		out.Rounds = res.Rounds
	}
	return out
}

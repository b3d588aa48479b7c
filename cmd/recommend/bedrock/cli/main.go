package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joeshaw/envdecode"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"diningagent"
	"diningagent/app"
	"diningagent/coordinator"
	"diningagent/coordinator/bedrock"
	"diningagent/menu"
	"diningagent/menusource"
	"diningagent/slack"
)

func main() {
	ctx := context.Background()

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

	if len(os.Args) > 1 {
		goalsConfig.Preferences = os.Args[1]
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRetryMaxAttempts(5))
	if err != nil {
		slog.Error("SETUP: Failed to load AWS config", "error", err)
		return
	}

	source, err := menusource.New(menuConfig, menusource.Deps{
		HTTPClient: http.DefaultClient,
		S3Client:   s3.NewFromConfig(awsCfg),
	})
	if err != nil {
		slog.Error("SETUP: Failed to create menu source", "error", err)
		return
	}

	meal, err := app.ResolveMeal(ctx, source, goalsConfig, time.Now())
	if err != nil {
		log.Fatalf("Invalid meal: %s", err)
	}
	goalsConfig.Meal = string(meal)

	logger, cleanup, err := newCoordinationLogger(agentConfig.LogDir, modelConfig.ModelID, meal)
	if err != nil {
		slog.Error("Failed to create coordination logger", "error", err)
		return
	}
	defer func() {
		if err := cleanup(); err != nil {
			slog.Error("Failed to flush coordination log", "error", err)
		}
	}()

	llm := bedrock.NewLLMClient(bedrockruntime.NewFromConfig(awsCfg), bedrock.LLMOptions{
		ModelID:     modelConfig.ModelID,
		MaxTokens:   modelConfig.MaxTokens,
		Temperature: modelConfig.Temperature,
		TopP:        modelConfig.TopP,
	})

	tracerProvider, meterProvider, otelShutdown, err := diningagent.InitOtel(ctx)
	if err != nil {
		slog.Error("SETUP: Failed to initialize OpenTelemetry", "error", err)
		return
	}
	defer func() {
		if err := otelShutdown(ctx); err != nil {
			slog.Error("SETUP: Failed to shutdown OpenTelemetry", "error", err)
		}
	}()

	tracer := tracerProvider.Tracer(diningagent.TracerNameBedrock)
	ctx, span := tracer.Start(ctx, diningagent.TracerNameBedrock, trace.WithAttributes(
		attribute.String("model.id", modelConfig.ModelID),
		attribute.Int("model.max_tokens", int(modelConfig.MaxTokens)),
		attribute.Float64("model.temperature", float64(modelConfig.Temperature)),
		attribute.Float64("model.top_p", float64(modelConfig.TopP)),
	))
	defer span.End()

	coord := coordinator.New(llm, coordinator.Options{
		MaxRounds:      agentConfig.MaxRounds,
		ModelTimeout:   modelConfig.Timeout,
		RecommendLimit: agentConfig.RecommendLimit,
		Params:         agentConfig.SearchParams(),
		Logger:         logger,
		Tracer:         tracer,
		Meter:          meterProvider.Meter(diningagent.TracerNameBedrock),
	})

	planner := app.NewPlanner(app.PlannerOpts{
		Source:                  source,
		Coordinator:             coord,
		Slack:                   newNotifier(slackConfig),
		Channel:                 slackConfig.Channel,
		Params:                  agentConfig.SearchParams(),
		FallbackOnProviderError: agentConfig.FallbackOnProviderError,
	})

	resp, err := planner.Handle(ctx, app.Request{
		Mode:  agentConfig.Mode,
		Hall:  agentConfig.Hall,
		Query: goalsConfig.Preferences,
		TopK:  agentConfig.SearchTopK,
	}, goalsConfig)
	if err != nil {
		slog.Error("RESULT: Error handling request", "mode", agentConfig.Mode, "error", err)
		return
	}
	diningagent.DumpIf(agentConfig.DebugDump, resp)

	fmt.Println(app.FormatResponse(resp))
}

// newNotifier returns nil, not a nil *slack.Client, when no webhook is set.
func newNotifier(cfg diningagent.SlackConfig) app.Notifier {
	if cfg.WebhookURL == "" {
		return nil
	}
	return slack.NewClient(cfg.WebhookURL, http.DefaultClient)
}

func newCoordinationLogger(dir, modelID string, meal menu.Meal) (diningagent.CoordinationLogger, func() error, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, func() error { return err }, fmt.Errorf("failed to create log dir: %w", err)
	}
	logFilePath := diningagent.NewCoordinationLogFilePath(dir, modelID, meal)
	logFile, err := os.OpenFile(filepath.Clean(logFilePath), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, func() error { return err }, fmt.Errorf("failed to open log file: %w", err)
	}

	logger := diningagent.NewFileCoordinationLogger(logFile)
	cleanup := func() error {
		return errors.Join(logger.Flush(), logFile.Close())
	}
	return logger, cleanup, nil
}

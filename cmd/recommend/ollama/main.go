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
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joeshaw/envdecode"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"diningagent"
	"diningagent/app"
	"diningagent/coordinator"
	"diningagent/coordinator/ollama"
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

	deps := menusource.Deps{HTTPClient: http.DefaultClient}
	if menuConfig.Source == menusource.SourceS3 {
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			slog.Error("SETUP: Failed to load AWS config", "error", err)
			return
		}
		deps.S3Client = s3.NewFromConfig(awsCfg)
	}
	source, err := menusource.New(menuConfig, deps)
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

	llm, err := ollama.NewClient(ollama.ClientOpts{
		BaseEndpoint: agentConfig.BaseOllamaEndpoint,
		ModelID:      modelConfig.ModelID,
		HTTPClient:   http.DefaultClient,
	})
	if err != nil {
		slog.Error("SETUP: Failed to create Ollama client", "error", err)
		return
	}

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

	tracer := tracerProvider.Tracer(diningagent.TracerNameOllama)
	ctx, span := tracer.Start(ctx, diningagent.TracerNameOllama, trace.WithAttributes(
		attribute.String("model.id", modelConfig.ModelID),
		attribute.String("ollama.endpoint", agentConfig.BaseOllamaEndpoint),
	))
	defer span.End()

	coord := coordinator.New(llm, coordinator.Options{
		MaxRounds:      agentConfig.MaxRounds,
		ModelTimeout:   modelConfig.Timeout,
		RecommendLimit: agentConfig.RecommendLimit,
		Params:         agentConfig.SearchParams(),
		Logger:         logger,
		Tracer:         tracer,
		Meter:          meterProvider.Meter(diningagent.TracerNameOllama),
	})

	var notifier app.Notifier
	if slackConfig.WebhookURL != "" {
		notifier = slack.NewClient(slackConfig.WebhookURL, http.DefaultClient)
	}

	resp, err := app.NewPlanner(app.PlannerOpts{
		Source:                  source,
		Coordinator:             coord,
		Slack:                   notifier,
		Channel:                 slackConfig.Channel,
		Params:                  agentConfig.SearchParams(),
		FallbackOnProviderError: agentConfig.FallbackOnProviderError,
	}).Handle(ctx, app.Request{
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

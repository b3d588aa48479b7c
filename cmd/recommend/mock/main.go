package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/joeshaw/envdecode"

	"diningagent"
	"diningagent/app"
	"diningagent/coordinator"
	"diningagent/coordinator/mock"
	"diningagent/menusource"
)

// The mock binary runs the full pipeline against a scripted model. It needs
// no model credentials, so it is the quickest way to check a menu source.
func main() {
	ctx := context.Background()

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

	if len(os.Args) > 1 {
		goalsConfig.Preferences = os.Args[1]
	}

	source, err := menusource.New(menuConfig, menusource.Deps{HTTPClient: http.DefaultClient})
	if err != nil {
		slog.Error("SETUP: Failed to create menu source", "error", err)
		return
	}

	coord := coordinator.New(mock.NewLLMClient(), coordinator.Options{
		MaxRounds:      agentConfig.MaxRounds,
		RecommendLimit: agentConfig.RecommendLimit,
		Params:         agentConfig.SearchParams(),
		Logger:         diningagent.NewStdoutCoordinationLogger(),
	})

	planner := app.NewPlanner(app.PlannerOpts{
		Source:      source,
		Coordinator: coord,
		Params:      agentConfig.SearchParams(),
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

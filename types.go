package diningagent

import (
	"context"
	"net/http"
	"time"

	"diningagent/menu"
	"diningagent/tools"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type ToolProvider interface {
	GetTools() []tools.Tool
	GetTool(name string) (tools.Tool, error)
}

// MenuSource produces a corpus snapshot for one meal on one date.
type MenuSource interface {
	FetchCorpus(ctx context.Context, meal menu.Meal, date time.Time) (menu.Corpus, error)
}

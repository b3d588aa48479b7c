package diningagent

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diningagent/menu"
)

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("disk full") }

func TestNewCoordinationLogFilePath(t *testing.T) {
	got := NewCoordinationLogFilePath("logs", "us.anthropic.claude-3-7-sonnet-20250219-v1:0", menu.Lunch)
	assert.Equal(t, "logs", filepath.Dir(got))
	assert.True(t, strings.HasSuffix(got, ".lunch.us.anthropic.claude-3-7-sonnet-20250219-v1_0.json"), got)
	assert.NotContains(t, filepath.Base(got), ":")
}

func TestFileCoordinationLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewFileCoordinationLogger(&buf)

	require.NoError(t, logger.LogRound(RoundLog{Round: 1, Meal: menu.Lunch, ToolCalls: []ToolCallLog{
		{Name: "search_menu", Input: map[string]any{"query": "tofu"}, Duration: time.Millisecond},
	}}))
	require.NoError(t, logger.LogRound(RoundLog{Round: 2, Meal: menu.Lunch, Final: true, LLMOutput: "- Tofu Stir Fry"}))
	assert.Zero(t, buf.Len(), "rounds are buffered until Flush")

	require.NoError(t, logger.Flush())

	var doc struct {
		Session struct {
			Rounds []RoundLog `json:"rounds"`
		} `json:"coordination_session"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	require.Len(t, doc.Session.Rounds, 2)
	assert.Equal(t, "search_menu", doc.Session.Rounds[0].ToolCalls[0].Name)
	assert.True(t, doc.Session.Rounds[1].Final)

	buf.Reset()
	require.NoError(t, logger.Flush())
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Empty(t, doc.Session.Rounds, "flush clears the buffer")
}

func TestFileCoordinationLogger_WriteError(t *testing.T) {
	logger := NewFileCoordinationLogger(failingWriter{})
	require.NoError(t, logger.LogRound(RoundLog{Round: 1}))
	assert.ErrorContains(t, logger.Flush(), "disk full")
}

func TestStdoutCoordinationLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := &StdoutCoordinationLogger{w: &buf}

	require.NoError(t, logger.LogRound(RoundLog{Round: 1, Meal: menu.Dinner}))
	require.NoError(t, logger.LogRound(RoundLog{Round: 2, Meal: menu.Dinner, Error: "timeout"}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var second RoundLog
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, 2, second.Round)
	assert.Equal(t, "timeout", second.Error)
}

func TestNoOpCoordinationLogger(t *testing.T) {
	assert.NoError(t, NewNoOpCoordinationLogger().LogRound(RoundLog{Round: 1}))
}

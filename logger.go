package diningagent

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"diningagent/menu"
)

// CoordinationLogger records an audit trail of every agent round.
type CoordinationLogger interface {
	LogRound(round RoundLog) error
}

// NewCoordinationLogFilePath names a log file after the run's start time, the
// meal and the model so runs against different models are easy to tell apart.
func NewCoordinationLogFilePath(dir, model string, meal menu.Meal) string {
	clean := strings.NewReplacer(":", "_", "/", "_").Replace(strings.ToLower(model))
	return filepath.Join(dir, fmt.Sprintf("%d.%s.%s.json", time.Now().Unix(), meal, clean))
}

// RoundLog is one model round trip and the tool calls it triggered.
type RoundLog struct {
	Round     int           `json:"round"`
	Timestamp time.Time     `json:"timestamp"`
	Meal      menu.Meal     `json:"meal"`
	LLMInput  string        `json:"llm_input,omitempty"`
	LLMOutput any           `json:"llm_output"`
	ToolCalls []ToolCallLog `json:"tool_calls,omitempty"`
	Final     bool          `json:"final,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// ToolCallLog represents a tool execution within a round
type ToolCallLog struct {
	Name     string         `json:"name"`
	Input    map[string]any `json:"input"`
	Output   map[string]any `json:"output"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration_ns"`
}

// FileCoordinationLogger buffers rounds and writes them as one JSON document on Flush.
type FileCoordinationLogger struct {
	mu     sync.Mutex
	rounds []RoundLog
	writer io.Writer
}

// NewFileCoordinationLogger creates a new file-based coordination logger
func NewFileCoordinationLogger(writer io.Writer) *FileCoordinationLogger {
	return &FileCoordinationLogger{
		rounds: make([]RoundLog, 0),
		writer: writer,
	}
}

// LogRound buffers a round until Flush.
func (fcl *FileCoordinationLogger) LogRound(round RoundLog) error {
	fcl.mu.Lock()
	defer fcl.mu.Unlock()
	fcl.rounds = append(fcl.rounds, round)
	return nil
}

// Flush writes all buffered rounds to the writer
func (fcl *FileCoordinationLogger) Flush() error {
	fcl.mu.Lock()
	defer fcl.mu.Unlock()
	if fcl.writer == nil {
		return nil
	}

	data, err := json.MarshalIndent(map[string]any{
		"coordination_session": map[string]any{
			"timestamp": time.Now(),
			"rounds":    fcl.rounds,
		},
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal coordination log: %w", err)
	}

	if _, err := fcl.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write coordination log: %w", err)
	}

	// Clear the buffer after successful write
	fcl.rounds = fcl.rounds[:0]
	return nil
}

// NoOpCoordinationLogger is a logger that discards all log entries
type NoOpCoordinationLogger struct{}

// NewNoOpCoordinationLogger creates a new no-op coordination logger
func NewNoOpCoordinationLogger() *NoOpCoordinationLogger {
	return &NoOpCoordinationLogger{}
}

// LogRound discards the round.
func (nop *NoOpCoordinationLogger) LogRound(round RoundLog) error {
	return nil
}

// StdoutCoordinationLogger logs each round as a JSON line (for Lambda/CloudWatch)
type StdoutCoordinationLogger struct {
	w io.Writer
}

// NewStdoutCoordinationLogger creates a coordination logger writing to os.Stdout
func NewStdoutCoordinationLogger() *StdoutCoordinationLogger {
	return &StdoutCoordinationLogger{w: os.Stdout}
}

// LogRound writes the round as a single JSON line
func (l *StdoutCoordinationLogger) LogRound(round RoundLog) error {
	data, err := json.Marshal(round)
	if err != nil {
		return fmt.Errorf("marshal round log: %w", err)
	}
	_, err = fmt.Fprintln(l.w, string(data))
	return err
}

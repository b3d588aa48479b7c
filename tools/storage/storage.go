package storage

import (
	"context"
	"errors"
	"fmt"

	"diningagent/menu"
)

// MenuState is a source of serialized menu snapshots.
type MenuState interface {
	Load(ctx context.Context) ([]byte, error)
}

// LoadCorpus reads and decodes a snapshot from state.
func LoadCorpus(ctx context.Context, state MenuState) (menu.Corpus, error) {
	b, err := state.Load(ctx)
	if err != nil {
		return menu.Corpus{}, fmt.Errorf("read menu: %w", err)
	}
	return menu.DecodeCorpus(b)
}

// TestMenuState is a simple in-memory implementation for testing
type TestMenuState struct {
	data []byte
	err  error
}

func NewTestMenuState(data []byte) *TestMenuState {
	return &TestMenuState{data: data}
}

func NewTestMenuStateWithError() *TestMenuState {
	return &TestMenuState{err: errors.New("not found")}
}

func (t *TestMenuState) Load(ctx context.Context) ([]byte, error) {
	if t.err != nil {
		return nil, t.err
	}
	return t.data, nil
}

package store

import (
	"context"
	"sync"
)

// Memory keeps both collections in process memory.
type Memory struct {
	mu   sync.Mutex
	data Snapshot
}

func NewMemory() *Memory {
	return &Memory{data: NewSnapshot()}
}

func (m *Memory) Load(_ context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.Clone(), nil
}

// Update runs fn on a private copy and swaps it in only when fn succeeds.
func (m *Memory) Update(ctx context.Context, fn func(*Snapshot) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	next := m.data.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	next.ensure()
	m.data = next
	return nil
}

func (m *Memory) Close() error { return nil }

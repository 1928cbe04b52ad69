package store

import (
	"context"
	"sync"
)

// MemoryBackend keeps the record in process memory.
type MemoryBackend struct {
	mu      sync.Mutex
	state   *State
	saves   int
	saveErr error
}

// NewMemoryBackend returns a backend seeded with st, or an empty record.
func NewMemoryBackend(st *State) *MemoryBackend {
	if st == nil {
		st = NewState()
	}
	st.normalize()
	return &MemoryBackend{state: st.Clone()}
}

func (b *MemoryBackend) Load(_ context.Context) (*State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.state.Validate(); err != nil {
		return nil, err
	}
	return b.state.Clone(), nil
}

func (b *MemoryBackend) Save(_ context.Context, st *State) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.saveErr != nil {
		return b.saveErr
	}
	b.state = st.Clone()
	b.saves++
	return nil
}

// FailSaves makes every following Save return err; nil restores saving.
func (b *MemoryBackend) FailSaves(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saveErr = err
}

// Saves returns how many successful saves happened.
func (b *MemoryBackend) Saves() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}

// Stored returns a copy of the last saved record.
func (b *MemoryBackend) Stored() *State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.Clone()
}

func (b *MemoryBackend) Close() error { return nil }

package flagstore

import (
	"context"
	"sync"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// The zero value is ready to use.
type MemStore struct {
	mu    sync.RWMutex
	flags map[string]int
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{flags: make(map[string]int)}
}

// Get implements [Store.Get].
func (s *MemStore) Get(ctx context.Context, key string) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.flags[key]
	return v, ok, nil
}

// Set implements [Store.Set].
func (s *MemStore) Set(ctx context.Context, key string, value int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.flags == nil {
		s.flags = make(map[string]int)
	}
	s.flags[key] = value
	return nil
}

// Delete implements [Store.Delete].
func (s *MemStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.flags, key)
	return nil
}

// Len returns the number of stored flags.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.flags)
}

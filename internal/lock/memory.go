package lock

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process keyed mutex.
type Memory struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewMemory constructs an in-process Locker.
func NewMemory() *Memory {
	return &Memory{slots: make(map[string]*slot)}
}

// Acquire implements Locker.
func (m *Memory) Acquire(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	s, ok := m.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.refs++
	m.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		m.drop(key, s)
		return nil, fmt.Errorf("%w: %s: %w", ErrBusy, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			m.drop(key, s)
		})
	}, nil
}

func (m *Memory) drop(key string, s *slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(m.slots, key)
	}
}

package locking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/helixir/records-service/internal/domain"
	"github.com/helixir/records-service/internal/observability"
)

// Local is an in-process Locker. It only serializes callers within one
// process.
type Local struct {
	mu      sync.Mutex
	slots   map[string]*slot
	metrics *observability.Metrics
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocal creates an in-process locker.
func NewLocal(metrics *observability.Metrics) *Local {
	return &Local{slots: make(map[string]*slot), metrics: metrics}
}

// Acquire blocks until the key is free or ctx is done.
func (l *Local) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	started := time.Now()

	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, s)
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrLockNotObtained, key, ctx.Err())
	}
	l.metrics.RecordLockWait("local", time.Since(started).Seconds())

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-s.ch
			l.drop(key, s)
		})
		return nil
	}, nil
}

// drop forgets the slot once nobody holds or waits for it.
func (l *Local) drop(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// size reports the number of live slots.
func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

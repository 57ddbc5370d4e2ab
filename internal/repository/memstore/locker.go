package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/stemsi/bursar-backend/internal/cache"
	"github.com/stemsi/bursar-backend/internal/model"
)

// Locker is an in-process run locker. TTLs are ignored.
type Locker struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocker returns an empty Locker.
func NewLocker() *Locker {
	return &Locker{held: make(map[string]bool)}
}

// Acquire takes key or returns cache.ErrLocked.
func (l *Locker) Acquire(_ context.Context, key string, _ time.Duration) (func(context.Context), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, cache.ErrLocked
	}
	l.held[key] = true
	return func(context.Context) {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

// Held reports whether key is locked.
func (l *Locker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key]
}

// Progress records published progress events.
type Progress struct {
	mu     sync.Mutex
	events []model.ProgressEvent
}

// Publish records event.
func (p *Progress) Publish(_ context.Context, event model.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

// Events returns a copy of every recorded event.
func (p *Progress) Events() []model.ProgressEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.ProgressEvent, len(p.events))
	copy(out, p.events)
	return out
}

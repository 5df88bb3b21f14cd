// Package reconcile decides, per record kind, whether the gateway or the
// local mirror is authoritative, and keeps the two converging.
package reconcile

import (
	"sync"

	"whattoeat/planner-svc/internal/domain"
)

type Kind string

const (
	KindSelection    Kind = "selection"
	KindCart         Kind = "cart"
	KindHistory      Kind = "history"
	KindCustomDishes Kind = "custom_dishes"
)

// Status tracks where each kind's current data came from.
type Status struct {
	mu        sync.Mutex
	sources   map[Kind]domain.SyncSource
	listeners []func(Kind, domain.SyncSource)
}

func NewStatus() *Status {
	return &Status{sources: make(map[Kind]domain.SyncSource)}
}

// OnChange registers fn to run after a kind's source flips.
func (s *Status) OnChange(fn func(Kind, domain.SyncSource)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Status) Set(kind Kind, source domain.SyncSource) {
	s.mu.Lock()
	prev := s.sources[kind]
	s.sources[kind] = source
	listeners := append([]func(Kind, domain.SyncSource){}, s.listeners...)
	s.mu.Unlock()

	if prev == source {
		return
	}
	for _, fn := range listeners {
		fn(kind, source)
	}
}

func (s *Status) Get(kind Kind) domain.SyncSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sources[kind]
}

func (s *Status) Snapshot() map[Kind]domain.SyncSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Kind]domain.SyncSource, len(s.sources))
	for k, v := range s.sources {
		out[k] = v
	}
	return out
}

// Reset forgets every source, used when the user signs out.
func (s *Status) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = make(map[Kind]domain.SyncSource)
}

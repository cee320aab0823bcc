package audit

import (
	"context"
	"sync"
)

// MemorySink keeps events in memory, mostly for tests and local inspection.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func (s *MemorySink) Record(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns a snapshot of recorded events, oldest first.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Actions returns the action names in recording order.
func (s *MemorySink) Actions() []string {
	evs := s.Events()
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Action
	}
	return out
}

// Count returns how many events with the given action were recorded.
func (s *MemorySink) Count(action string) int {
	n := 0
	for _, ev := range s.Events() {
		if ev.Action == action {
			n++
		}
	}
	return n
}

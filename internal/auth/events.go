package auth

import (
	"log/slog"
	"sync"
)

// Stream normalizes the backend's auth-state event feed into a single
// coherent sequence. Token-refresh pulses for the unchanged principal and
// exact repeats of the last transition are dropped, so subscribers observe
// at most one event per genuine identity change.
type Stream struct {
	logger *slog.Logger

	mu           sync.Mutex
	lastObserved *Transition
	subscribers  []chan Event
}

// NewStream constructs a Stream.
func NewStream(logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{logger: logger}
}

// Subscribe registers a consumer. Events are delivered best effort; a slow
// consumer loses events rather than blocking the publisher.
func (s *Stream) Subscribe() <-chan Event {
	ch := make(chan Event, 16)
	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()
	return ch
}

// Publish feeds a backend event through de-duplication and fans it out.
// It reports whether the event was delivered.
func (s *Stream) Publish(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := Transition{Kind: e.Kind, PrincipalID: e.PrincipalID}

	if e.Kind == EventTokenRefreshed {
		// A refresh pulse only matters when it reveals a different
		// principal than the one last observed.
		if s.lastObserved != nil && s.lastObserved.PrincipalID == e.PrincipalID {
			return false
		}
	}
	if s.lastObserved != nil && *s.lastObserved == next {
		return false
	}
	s.lastObserved = &next

	for _, ch := range s.subscribers {
		select {
		case ch <- e:
		default:
			s.logger.Warn("auth event dropped for slow subscriber",
				slog.String("kind", e.Kind.String()),
				slog.String("principal", e.PrincipalID))
		}
	}
	return true
}

// LastObserved returns the most recent delivered transition, or nil.
func (s *Stream) LastObserved() *Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastObserved == nil {
		return nil
	}
	t := *s.lastObserved
	return &t
}

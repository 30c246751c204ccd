package connections

import (
	"log/slog"
	"sync"
)

// Listener observes dispatched actions and the resulting state.
// Listeners must not dispatch re-entrantly.
type Listener func(a Action, s State)

// Store serializes actions through Reduce and fans out the new state.
type Store struct {
	mu        sync.RWMutex
	state     State
	listeners map[int]Listener
	nextID    int
	logger    *slog.Logger
}

// NewStore creates an empty store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		state:     State{},
		listeners: make(map[int]Listener),
		logger:    logger,
	}
}

// Dispatch reduces a into the current state and notifies listeners.
func (s *Store) Dispatch(a Action) error {
	s.mu.Lock()
	next, err := Reduce(s.state, a)
	if err != nil {
		s.mu.Unlock()
		s.logger.Error("rejected connection action", "type", a.Type, "error", err)
		return err
	}
	s.state = next
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(a, next)
	}
	return nil
}

// State returns the current state. Callers must not modify it.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe registers l and returns a function removing it.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

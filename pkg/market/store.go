package market

import (
	"sync"
	"sync/atomic"
)

// Listener observes every applied event together with the resulting snapshot.
type Listener func(ev Event, next State)

// Store is the single apply point for market data. Writers are serialized and
// listeners see events in apply order; readers take lock-free snapshots.
type Store struct {
	mu        sync.Mutex
	cur       atomic.Pointer[State]
	listeners []Listener
}

func NewStore(initial State) *Store {
	s := &Store{}
	s.cur.Store(&initial)
	return s
}

func (s *Store) Snapshot() State {
	return *s.cur.Load()
}

func (s *Store) Apply(ev Event) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cur.Load().Apply(ev)
	s.cur.Store(&next)
	for _, l := range s.listeners {
		l(ev, next)
	}
	return next
}

// Subscribe registers l for all later events. Listeners run under the store's
// write lock and must not call Apply.
func (s *Store) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

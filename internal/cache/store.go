// Package cache holds the in-memory state of one entity collection: the
// last-known entity list plus loading and error flags. It is deliberately
// dumb storage with no dedup, sorting or filtering; merge logic belongs to the
// entity manager that owns the store.
package cache

import (
	"sync"

	"github.com/mesh-intelligence/pantry/pkg/types"
)

// State is a snapshot of a Store.
type State struct {
	Entities []types.Entity
	Loading  bool
	Err      error
}

// Store is the cache for a single collection. Reads return deep copies so
// callers cannot mutate cached entities.
type Store struct {
	mu        sync.RWMutex
	entities  []types.Entity
	loading   bool
	err       error
	listeners []func(State)
}

// New returns an empty store.
func New() *Store {
	return &Store{entities: []types.Entity{}}
}

// Get returns a copy of the cached entities in the order they were set.
func (s *Store) Get() []types.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return types.CloneEntities(s.entities)
}

// Set replaces the cached entity list.
func (s *Store) Set(entities []types.Entity) {
	s.mu.Lock()
	s.entities = types.CloneEntities(entities)
	st := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(st)
}

// SetLoading sets the loading flag.
func (s *Store) SetLoading(loading bool) {
	s.mu.Lock()
	s.loading = loading
	st := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(st)
}

// SetError records err; nil clears the error.
func (s *Store) SetError(err error) {
	s.mu.Lock()
	s.err = err
	st := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(st)
}

// Finish ends a load in one step: loading is cleared, err is recorded and,
// when err is nil, entities replace the cached list. Listeners see a single
// snapshot.
func (s *Store) Finish(entities []types.Entity, err error) {
	s.mu.Lock()
	if err == nil {
		s.entities = types.CloneEntities(entities)
	}
	s.err = err
	s.loading = false
	st := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(st)
}

// State returns a snapshot of entities and flags.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Len returns the number of cached entities.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

// Mutate runs a read-modify-write on the entity list under the store lock.
// fn receives a private copy and returns the new list; no other reader or
// writer observes an intermediate state.
func (s *Store) Mutate(fn func([]types.Entity) []types.Entity) {
	s.mu.Lock()
	next := fn(types.CloneEntities(s.entities))
	if next == nil {
		next = []types.Entity{}
	}
	s.entities = next
	st := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(st)
}

// Subscribe registers fn to be called with a snapshot after every change.
// Listeners run synchronously on the goroutine that made the change.
func (s *Store) Subscribe(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) snapshotLocked() State {
	return State{
		Entities: types.CloneEntities(s.entities),
		Loading:  s.loading,
		Err:      s.err,
	}
}

func (s *Store) notify(st State) {
	s.mu.RLock()
	listeners := make([]func(State), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(st)
	}
}

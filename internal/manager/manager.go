// Package manager implements the entity manager: CRUD with cache and
// revalidation for one collection. A Manager owns a cache.Store and keeps it
// consistent with the answers of its types.Adapter.
//
// Mutations are pessimistic by default: the cache changes only after the
// adapter succeeds, and a failed mutation leaves the cache exactly as it was.
// With WithOptimistic(true) the cache changes first and is rolled back if the
// adapter fails. Refresh never fails the caller; a failed list leaves the
// cached entities in place and records the error in State().Err.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/pantry/internal/cache"
	"github.com/mesh-intelligence/pantry/internal/metrics"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

// ErrClosed is returned by operations started after Close.
var ErrClosed = errors.New("entity manager is closed")

// Operation names used in logs and metrics.
const (
	opList   = "list"
	opCreate = "create"
	opUpdate = "update"
	opDelete = "delete"
)

// Manager orchestrates one collection. Safe for concurrent use; overlapping
// mutations of the same entity resolve last-response-wins.
type Manager struct {
	adapter    types.Adapter
	cache      *cache.Store
	logger     *zap.Logger
	metrics    *metrics.Metrics
	optimistic bool
	now        func() time.Time

	mu     sync.RWMutex // held for reading while the cache is written
	closed bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics records operations in mt.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithOptimistic enables optimistic mutations with rollback.
func WithOptimistic(on bool) Option {
	return func(m *Manager) { m.optimistic = on }
}

// WithClock overrides the time source used for placeholder timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a Manager over adapter with an empty cache.
func New(adapter types.Adapter, opts ...Option) *Manager {
	m := &Manager{
		adapter: adapter,
		cache:   cache.New(),
		logger:  zap.NewNop(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("collection", adapter.Collection()))
	return m
}

// Collection returns the name of the managed collection.
func (m *Manager) Collection() string { return m.adapter.Collection() }

// Optimistic reports whether optimistic mode is on.
func (m *Manager) Optimistic() bool { return m.optimistic }

// Entities returns a copy of the cached entities.
func (m *Manager) Entities() []types.Entity { return m.cache.Get() }

// State returns a snapshot of the cache.
func (m *Manager) State() cache.State { return m.cache.State() }

// Subscribe registers fn to receive a snapshot after every cache change.
func (m *Manager) Subscribe(fn func(cache.State)) { m.cache.Subscribe(fn) }

// Get returns the cached entity with id. Absence is not an error.
func (m *Manager) Get(id string) (types.Entity, bool) {
	for _, e := range m.cache.Get() {
		if e.ID == id {
			return e, true
		}
	}
	return types.Entity{}, false
}

// Refresh reloads the collection from the adapter. A list failure is recorded
// in State().Err and the cached entities are kept; Refresh itself only fails
// with ErrClosed.
func (m *Manager) Refresh(ctx context.Context) error {
	if m.isClosed() {
		return ErrClosed
	}
	m.withCache(func(c *cache.Store) { c.SetLoading(true) })

	start := time.Now()
	entities, err := m.adapter.List(ctx)
	m.metrics.Observe(m.Collection(), opList, start, err)

	if err != nil {
		m.logger.Warn("refresh failed, keeping cached entities", zap.Error(err))
	} else {
		m.logger.Debug("refreshed", zap.Int("count", len(entities)))
	}
	m.withCache(func(c *cache.Store) { c.Finish(entities, err) })
	return nil
}

// Add creates an entity and appends it to the cache. On failure the adapter's
// error is returned unchanged.
func (m *Manager) Add(ctx context.Context, attrs map[string]any) (types.Entity, error) {
	if m.isClosed() {
		return types.Entity{}, ErrClosed
	}
	if m.optimistic {
		return m.addOptimistic(ctx, attrs)
	}

	start := time.Now()
	e, err := m.adapter.Create(ctx, attrs)
	m.metrics.Observe(m.Collection(), opCreate, start, err)
	if err != nil {
		m.logger.Debug("create failed", zap.Error(err))
		return types.Entity{}, err
	}
	m.apply(func(list []types.Entity) []types.Entity {
		return append(list, e.Clone())
	})
	m.logger.Debug("entity added", zap.String("id", e.ID))
	return e, nil
}

func (m *Manager) addOptimistic(ctx context.Context, attrs map[string]any) (types.Entity, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return types.Entity{}, fmt.Errorf("generating placeholder id: %w", err)
	}
	now := m.now()
	placeholder := types.Entity{
		ID:         types.PendingPrefix + id.String(),
		Attributes: types.CloneAttributes(attrs),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if placeholder.Attributes == nil {
		placeholder.Attributes = map[string]any{}
	}
	m.apply(func(list []types.Entity) []types.Entity {
		return append(list, placeholder)
	})

	start := time.Now()
	e, err := m.adapter.Create(ctx, attrs)
	m.metrics.Observe(m.Collection(), opCreate, start, err)
	if err != nil {
		m.apply(func(list []types.Entity) []types.Entity {
			return removeID(list, placeholder.ID)
		})
		m.metrics.Rollback(m.Collection(), opCreate)
		m.logger.Debug("create failed, placeholder removed", zap.String("placeholder", placeholder.ID), zap.Error(err))
		return types.Entity{}, err
	}

	m.apply(func(list []types.Entity) []types.Entity {
		if i := indexOf(list, placeholder.ID); i >= 0 {
			list[i] = e.Clone()
			return list
		}
		// A refresh replaced the list while the create was in flight.
		if indexOf(list, e.ID) < 0 {
			list = append(list, e.Clone())
		}
		return list
	})
	m.logger.Debug("entity added", zap.String("id", e.ID), zap.String("placeholder", placeholder.ID))
	return e, nil
}

// Update patches the entity with id and replaces it in the cache.
func (m *Manager) Update(ctx context.Context, id string, patch types.Patch) (types.Entity, error) {
	if m.isClosed() {
		return types.Entity{}, ErrClosed
	}
	if err := checkTarget(id); err != nil {
		return types.Entity{}, err
	}

	var (
		prev     types.Entity
		modified bool
	)
	if m.optimistic {
		now := m.now()
		m.apply(func(list []types.Entity) []types.Entity {
			if i := indexOf(list, id); i >= 0 {
				prev = list[i].Clone()
				list[i] = patch.Apply(list[i])
				list[i].UpdatedAt = now
				modified = true
			}
			return list
		})
	}

	start := time.Now()
	e, err := m.adapter.Update(ctx, id, patch)
	m.metrics.Observe(m.Collection(), opUpdate, start, err)
	if err != nil {
		if modified {
			m.apply(func(list []types.Entity) []types.Entity {
				if i := indexOf(list, id); i >= 0 {
					list[i] = prev
				}
				return list
			})
			m.metrics.Rollback(m.Collection(), opUpdate)
		}
		m.logger.Debug("update failed", zap.String("id", id), zap.Error(err))
		return types.Entity{}, err
	}

	m.apply(func(list []types.Entity) []types.Entity {
		if i := indexOf(list, id); i >= 0 {
			list[i] = e.Clone()
		}
		return list
	})
	m.logger.Debug("entity updated", zap.String("id", id))
	return e, nil
}

// Delete removes the entity with id from the store and the cache.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if m.isClosed() {
		return ErrClosed
	}
	if err := checkTarget(id); err != nil {
		return err
	}

	var (
		removed types.Entity
		pos     = -1
	)
	if m.optimistic {
		m.apply(func(list []types.Entity) []types.Entity {
			if i := indexOf(list, id); i >= 0 {
				removed, pos = list[i].Clone(), i
				return append(list[:i], list[i+1:]...)
			}
			return list
		})
	}

	start := time.Now()
	err := m.adapter.Delete(ctx, id)
	m.metrics.Observe(m.Collection(), opDelete, start, err)
	if err != nil {
		if pos >= 0 {
			m.apply(func(list []types.Entity) []types.Entity {
				if indexOf(list, id) >= 0 {
					return list
				}
				return insertAt(list, pos, removed)
			})
			m.metrics.Rollback(m.Collection(), opDelete)
		}
		m.logger.Debug("delete failed", zap.String("id", id), zap.Error(err))
		return err
	}

	m.apply(func(list []types.Entity) []types.Entity {
		return removeID(list, id)
	})
	m.logger.Debug("entity deleted", zap.String("id", id))
	return nil
}

// Forget drops id from the cache without calling the adapter and reports
// whether it was cached.
func (m *Manager) Forget(id string) bool {
	var found bool
	m.apply(func(list []types.Entity) []types.Entity {
		if indexOf(list, id) >= 0 {
			found = true
			return removeID(list, id)
		}
		return list
	})
	return found
}

// Close disposes the manager. Operations started afterwards return ErrClosed;
// operations already in flight return their result but leave the cache alone.
// Idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		m.logger.Debug("manager closed")
	}
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// withCache runs fn against the cache unless the manager is closed.
func (m *Manager) withCache(fn func(*cache.Store)) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false
	}
	fn(m.cache)
	return true
}

// apply performs an atomic read-modify-write of the cached list.
func (m *Manager) apply(fn func([]types.Entity) []types.Entity) bool {
	return m.withCache(func(c *cache.Store) {
		c.Mutate(fn)
		m.metrics.SetCacheSize(m.Collection(), c.Len())
	})
}

// checkTarget rejects ids that must never reach an adapter as targets.
func checkTarget(id string) error {
	switch {
	case types.IsVirtualID(id):
		return fmt.Errorf("%w: %s", types.ErrVirtualEntity, id)
	case types.IsPendingID(id):
		return fmt.Errorf("%w: %s has not been created yet", types.ErrInvalidID, id)
	}
	return nil
}

func indexOf(list []types.Entity, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func removeID(list []types.Entity, id string) []types.Entity {
	out := list[:0]
	for _, e := range list {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return out
}

func insertAt(list []types.Entity, pos int, e types.Entity) []types.Entity {
	if pos > len(list) {
		pos = len(list)
	}
	list = append(list, types.Entity{})
	copy(list[pos+1:], list[pos:])
	list[pos] = e
	return list
}

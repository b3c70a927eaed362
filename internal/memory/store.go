// Package memory implements an ephemeral pantry Store on hashicorp/go-memdb.
// Every collection lives in one memdb table keyed by (collection, id); data
// is lost when the process exits.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"

	"github.com/mesh-intelligence/pantry/pkg/types"
)

const tableEntities = "entities"

// record is the memdb row. Seq preserves insertion order for List.
type record struct {
	Collection string
	ID         string
	Seq        uint64
	Entity     types.Entity
}

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tableEntities: {
			Name: tableEntities,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:   "id",
					Unique: true,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "Collection"},
							&memdb.StringFieldIndex{Field: "ID"},
						},
					},
				},
				"collection": {
					Name:    "collection",
					Indexer: &memdb.StringFieldIndex{Field: "Collection"},
				},
			},
		},
	},
}

// Store is an in-memory types.Store.
type Store struct {
	mu     sync.RWMutex
	db     *memdb.MemDB
	closed bool
	seq    atomic.Uint64
	now    func() time.Time
}

var _ types.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty in-memory store.
func New(opts ...Option) (*Store, error) {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("creating memdb: %w", err)
	}
	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Collection returns the adapter for name.
func (s *Store) Collection(name string) (types.Adapter, error) {
	if err := types.ValidateCollection(name); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, types.ErrStoreDetached
	}
	return &collection{name: name, store: s}, nil
}

// Close marks the store closed. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) checkOpen(op, coll string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return &types.TransportError{Op: op, Collection: coll, Err: types.ErrStoreDetached}
	}
	return nil
}

// collection implements types.Adapter for one collection.
type collection struct {
	name  string
	store *Store
}

var _ types.Adapter = (*collection)(nil)

func (c *collection) Collection() string { return c.name }

func (c *collection) List(ctx context.Context) ([]types.Entity, error) {
	if err := c.precheck(ctx, "list"); err != nil {
		return nil, err
	}
	txn := c.store.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableEntities, "collection", c.name)
	if err != nil {
		return nil, &types.TransportError{Op: "list", Collection: c.name, Err: err}
	}
	var recs []*record
	for obj := it.Next(); obj != nil; obj = it.Next() {
		recs = append(recs, obj.(*record))
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })

	out := make([]types.Entity, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Entity.Clone())
	}
	return out, nil
}

func (c *collection) Create(ctx context.Context, attrs map[string]any) (types.Entity, error) {
	if err := c.precheck(ctx, "create"); err != nil {
		return types.Entity{}, err
	}
	if _, err := json.Marshal(attrs); err != nil {
		return types.Entity{}, &types.ValidationError{Collection: c.name, Reason: "attributes are not JSON serializable", Err: err}
	}
	id, err := uuid.NewV7()
	if err != nil {
		return types.Entity{}, &types.TransportError{Op: "create", Collection: c.name, Err: err}
	}
	now := c.store.now()
	e := types.Entity{
		ID:         id.String(),
		Attributes: types.CloneAttributes(attrs),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if e.Attributes == nil {
		e.Attributes = map[string]any{}
	}

	txn := c.store.db.Txn(true)
	defer txn.Abort()
	rec := &record{Collection: c.name, ID: e.ID, Seq: c.store.seq.Add(1), Entity: e.Clone()}
	if err := txn.Insert(tableEntities, rec); err != nil {
		return types.Entity{}, &types.TransportError{Op: "create", Collection: c.name, Err: err}
	}
	txn.Commit()
	return e, nil
}

func (c *collection) Update(ctx context.Context, id string, patch types.Patch) (types.Entity, error) {
	if id == "" {
		return types.Entity{}, types.ErrInvalidID
	}
	if err := c.precheck(ctx, "update"); err != nil {
		return types.Entity{}, err
	}
	if _, err := json.Marshal(patch); err != nil {
		return types.Entity{}, &types.ValidationError{Collection: c.name, Reason: "patch is not JSON serializable", Err: err}
	}
	txn := c.store.db.Txn(true)
	defer txn.Abort()

	existing, err := c.lookup(txn, id)
	if err != nil {
		return types.Entity{}, err
	}
	updated := patch.Apply(existing.Entity)
	updated.UpdatedAt = c.store.now()

	rec := &record{Collection: c.name, ID: id, Seq: existing.Seq, Entity: updated.Clone()}
	if err := txn.Insert(tableEntities, rec); err != nil {
		return types.Entity{}, &types.TransportError{Op: "update", Collection: c.name, Err: err}
	}
	txn.Commit()
	return updated, nil
}

func (c *collection) Delete(ctx context.Context, id string) error {
	if id == "" {
		return types.ErrInvalidID
	}
	if err := c.precheck(ctx, "delete"); err != nil {
		return err
	}
	txn := c.store.db.Txn(true)
	defer txn.Abort()

	existing, err := c.lookup(txn, id)
	if err != nil {
		return err
	}
	if err := txn.Delete(tableEntities, existing); err != nil {
		return &types.TransportError{Op: "delete", Collection: c.name, Err: err}
	}
	txn.Commit()
	return nil
}

func (c *collection) lookup(txn *memdb.Txn, id string) (*record, error) {
	obj, err := txn.First(tableEntities, "id", c.name, id)
	if err != nil {
		return nil, &types.TransportError{Op: "lookup", Collection: c.name, Err: err}
	}
	if obj == nil {
		return nil, &types.NotFoundError{Collection: c.name, ID: id}
	}
	return obj.(*record), nil
}

func (c *collection) precheck(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return &types.TransportError{Op: op, Collection: c.name, Err: err}
	}
	return c.store.checkOpen(op, c.name)
}

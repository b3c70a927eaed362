// Package hook provides typed facades over an entity manager. A Hook decodes
// cached entities into a feature type, merges built-in virtual entries into
// read views and keeps those entries away from the adapter.
package hook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/pantry/internal/manager"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

// Codec converts between a feature type and entity attributes.
type Codec[T any] interface {
	Decode(e types.Entity) (T, error)
	Encode(v T) (map[string]any, error)
}

// Record is a decoded entity as seen by a feature.
type Record[T any] struct {
	ID        string
	Value     T
	Virtual   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Virtual is a display-only entry merged into All. Its ID must carry
// types.VirtualPrefix.
type Virtual[T any] struct {
	ID    string
	Value T
}

// Option configures a Hook.
type Option[T any] func(*Hook[T])

// WithVirtual adds built-in entries shown ahead of persisted ones.
func WithVirtual[T any](entries ...Virtual[T]) Option[T] {
	return func(h *Hook[T]) { h.virtual = append(h.virtual, entries...) }
}

// WithDropMissingOnDelete treats a NotFound answer to Delete as success and
// drops the stale entity from the cache.
func WithDropMissingOnDelete[T any]() Option[T] {
	return func(h *Hook[T]) { h.dropMissing = true }
}

// WithLogger sets the logger used to report undecodable entities.
func WithLogger[T any](l *zap.Logger) Option[T] {
	return func(h *Hook[T]) {
		if l != nil {
			h.logger = l
		}
	}
}

// Hook is a typed facade over one manager.
type Hook[T any] struct {
	m           *manager.Manager
	codec       Codec[T]
	virtual     []Virtual[T]
	dropMissing bool
	logger      *zap.Logger
}

// New creates a Hook. It panics if a virtual entry's ID lacks
// types.VirtualPrefix, since such an entry could be mistaken for a persisted
// one.
func New[T any](m *manager.Manager, codec Codec[T], opts ...Option[T]) *Hook[T] {
	h := &Hook[T]{m: m, codec: codec, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	for _, v := range h.virtual {
		if !types.IsVirtualID(v.ID) {
			panic(fmt.Sprintf("hook: virtual entry %q must start with %q", v.ID, types.VirtualPrefix))
		}
	}
	return h
}

// Manager returns the underlying manager.
func (h *Hook[T]) Manager() *manager.Manager { return h.m }

// Items returns the persisted entries in cache order.
func (h *Hook[T]) Items() []Record[T] {
	entities := h.m.Entities()
	out := make([]Record[T], 0, len(entities))
	for _, e := range entities {
		if r, ok := h.decode(e); ok {
			out = append(out, r)
		}
	}
	return out
}

// All returns the virtual entries followed by the persisted ones.
func (h *Hook[T]) All() []Record[T] {
	items := h.Items()
	out := make([]Record[T], 0, len(h.virtual)+len(items))
	for _, v := range h.virtual {
		out = append(out, Record[T]{ID: v.ID, Value: v.Value, Virtual: true})
	}
	return append(out, items...)
}

// Loading reports whether a refresh is in progress.
func (h *Hook[T]) Loading() bool { return h.m.State().Loading }

// Err returns the error of the last failed refresh, if any.
func (h *Hook[T]) Err() error { return h.m.State().Err }

// Get resolves id against the virtual entries, then the cache.
func (h *Hook[T]) Get(id string) (Record[T], bool) {
	for _, v := range h.virtual {
		if v.ID == id {
			return Record[T]{ID: v.ID, Value: v.Value, Virtual: true}, true
		}
	}
	e, ok := h.m.Get(id)
	if !ok {
		return Record[T]{}, false
	}
	return h.decode(e)
}

// Refresh reloads the collection.
func (h *Hook[T]) Refresh(ctx context.Context) error { return h.m.Refresh(ctx) }

// Add encodes v and creates it.
func (h *Hook[T]) Add(ctx context.Context, v T) (Record[T], error) {
	attrs, err := h.codec.Encode(v)
	if err != nil {
		return Record[T]{}, &types.ValidationError{Collection: h.m.Collection(), Reason: err.Error(), Err: err}
	}
	e, err := h.m.Add(ctx, attrs)
	if err != nil {
		return Record[T]{}, err
	}
	return h.mustDecode(e)
}

// Update applies patch to the persisted entry id.
func (h *Hook[T]) Update(ctx context.Context, id string, patch types.Patch) (Record[T], error) {
	if types.IsVirtualID(id) {
		return Record[T]{}, fmt.Errorf("%w: %s", types.ErrVirtualEntity, id)
	}
	e, err := h.m.Update(ctx, id, patch)
	if err != nil {
		return Record[T]{}, err
	}
	return h.mustDecode(e)
}

// Delete removes the persisted entry id.
func (h *Hook[T]) Delete(ctx context.Context, id string) error {
	if types.IsVirtualID(id) {
		return fmt.Errorf("%w: %s", types.ErrVirtualEntity, id)
	}
	err := h.m.Delete(ctx, id)
	if err != nil && h.dropMissing && errors.Is(err, types.ErrNotFound) {
		h.m.Forget(id)
		h.logger.Debug("delete target already gone", zap.String("collection", h.m.Collection()), zap.String("id", id))
		return nil
	}
	return err
}

func (h *Hook[T]) decode(e types.Entity) (Record[T], bool) {
	v, err := h.codec.Decode(e)
	if err != nil {
		h.logger.Warn("skipping undecodable entity",
			zap.String("collection", h.m.Collection()),
			zap.String("id", e.ID),
			zap.Error(err))
		return Record[T]{}, false
	}
	return Record[T]{ID: e.ID, Value: v, CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt}, true
}

// mustDecode decodes an entity the adapter just returned. A failure here
// means the store accepted something the codec cannot read back.
func (h *Hook[T]) mustDecode(e types.Entity) (Record[T], error) {
	v, err := h.codec.Decode(e)
	if err != nil {
		return Record[T]{}, fmt.Errorf("decoding %s %s: %w", h.m.Collection(), e.ID, err)
	}
	return Record[T]{ID: e.ID, Value: v, CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt}, nil
}

// JSONCodec converts through the JSON tags of T. Encode drops zero fields
// tagged omitempty.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Decode(e types.Entity) (T, error) {
	var v T
	data, err := json.Marshal(e.Attributes)
	if err != nil {
		return v, err
	}
	err = json.Unmarshal(data, &v)
	return v, err
}

func (JSONCodec[T]) Encode(v T) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var attrs map[string]any
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, err
	}
	if attrs == nil {
		attrs = map[string]any{}
	}
	return attrs, nil
}

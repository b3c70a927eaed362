package hook

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/pantry/internal/manager"
	"github.com/mesh-intelligence/pantry/internal/memory"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

type note struct {
	Title string   `json:"title"`
	Tags  []string `json:"tags,omitempty"`
}

// strictCodec rejects entities without a title.
type strictCodec struct{ JSONCodec[note] }

func (c strictCodec) Decode(e types.Entity) (note, error) {
	n, err := c.JSONCodec.Decode(e)
	if err == nil && n.Title == "" {
		err = errors.New("missing title")
	}
	return n, err
}

var builtin = Virtual[note]{ID: types.VirtualPrefix + "inbox", Value: note{Title: "Inbox"}}

func newHook(t *testing.T, opts ...Option[note]) (*Hook[note], types.Adapter) {
	t.Helper()
	store, err := memory.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	a, err := store.Collection("notes")
	require.NoError(t, err)
	return New[note](manager.New(a), strictCodec{}, opts...), a
}

func TestHook_AddAndViews(t *testing.T) {
	ctx := context.Background()
	h, _ := newHook(t, WithVirtual(builtin))

	rec, err := h.Add(ctx, note{Title: "Groceries", Tags: []string{"home"}})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.Virtual)
	assert.Equal(t, []string{"home"}, rec.Value.Tags)

	items := h.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "Groceries", items[0].Value.Title)

	all := h.All()
	require.Len(t, all, 2)
	assert.True(t, all[0].Virtual)
	assert.Equal(t, builtin.ID, all[0].ID)
	assert.Equal(t, rec.ID, all[1].ID)
}

func TestHook_Get(t *testing.T) {
	ctx := context.Background()
	h, _ := newHook(t, WithVirtual(builtin))
	rec, err := h.Add(ctx, note{Title: "Groceries"})
	require.NoError(t, err)

	got, ok := h.Get(builtin.ID)
	require.True(t, ok)
	assert.True(t, got.Virtual)
	assert.Equal(t, "Inbox", got.Value.Title)

	got, ok = h.Get(rec.ID)
	require.True(t, ok)
	assert.Equal(t, "Groceries", got.Value.Title)

	_, ok = h.Get("nope")
	assert.False(t, ok)
}

func TestHook_VirtualEntriesNeverReachAdapter(t *testing.T) {
	ctx := context.Background()
	h, a := newHook(t, WithVirtual(builtin))

	_, err := h.Update(ctx, builtin.ID, types.Patch{"title": "Renamed"})
	assert.ErrorIs(t, err, types.ErrVirtualEntity)
	assert.ErrorIs(t, h.Delete(ctx, builtin.ID), types.ErrVirtualEntity)

	list, err := a.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Len(t, h.All(), 1)
}

func TestHook_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	h, _ := newHook(t)
	rec, err := h.Add(ctx, note{Title: "Groceries"})
	require.NoError(t, err)

	updated, err := h.Update(ctx, rec.ID, types.Patch{"title": "Shopping"})
	require.NoError(t, err)
	assert.Equal(t, "Shopping", updated.Value.Title)
	assert.Equal(t, "Shopping", h.Items()[0].Value.Title)

	require.NoError(t, h.Delete(ctx, rec.ID))
	assert.Empty(t, h.Items())
}

func TestHook_DeleteMissing(t *testing.T) {
	ctx := context.Background()

	strict, _ := newHook(t)
	assert.ErrorIs(t, strict.Delete(ctx, "gone"), types.ErrNotFound)

	lenient, a := newHook(t, WithDropMissingOnDelete[note]())
	rec, err := lenient.Add(ctx, note{Title: "stale"})
	require.NoError(t, err)
	require.NoError(t, a.Delete(ctx, rec.ID), "removed behind the hook's back")

	require.NoError(t, lenient.Delete(ctx, rec.ID))
	assert.Empty(t, lenient.Items(), "stale entry is dropped from the cache")
}

func TestHook_SkipsUndecodable(t *testing.T) {
	ctx := context.Background()
	h, a := newHook(t)
	_, err := a.Create(ctx, map[string]any{"title": 12.0})
	require.NoError(t, err)
	_, err = a.Create(ctx, map[string]any{"title": "ok"})
	require.NoError(t, err)

	require.NoError(t, h.Refresh(ctx))
	items := h.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "ok", items[0].Value.Title)
	assert.Len(t, h.Manager().Entities(), 2)
}

func TestHook_RefreshFailureSurfacesInErr(t *testing.T) {
	ctx := context.Background()
	store, err := memory.New()
	require.NoError(t, err)
	a, err := store.Collection("notes")
	require.NoError(t, err)
	h := New[note](manager.New(a), JSONCodec[note]{})

	_, err = h.Add(ctx, note{Title: "kept"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	require.NoError(t, h.Refresh(ctx))
	assert.ErrorIs(t, h.Err(), types.ErrTransport)
	assert.False(t, h.Loading())
	assert.Len(t, h.Items(), 1, "stale entries remain visible")
}

func TestNew_RejectsUnprefixedVirtual(t *testing.T) {
	store, err := memory.New()
	require.NoError(t, err)
	a, err := store.Collection("notes")
	require.NoError(t, err)
	assert.Panics(t, func() {
		New[note](manager.New(a), JSONCodec[note]{}, WithVirtual(Virtual[note]{ID: "inbox"}))
	})
}

func TestJSONCodec(t *testing.T) {
	c := JSONCodec[note]{}
	attrs, err := c.Encode(note{Title: "x"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "x"}, attrs)

	n, err := c.Decode(types.Entity{Attributes: map[string]any{"title": "y", "tags": []any{"a"}}})
	require.NoError(t, err)
	assert.Equal(t, note{Title: "y", Tags: []string{"a"}}, n)

	_, err = c.Decode(types.Entity{Attributes: map[string]any{"title": 1.0}})
	assert.Error(t, err)
}

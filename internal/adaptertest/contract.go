// Package adaptertest provides the behavioural contract every types.Adapter
// binding must satisfy. Binding packages call Run from their own tests.
package adaptertest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/pantry/pkg/types"
)

// Factory returns a fresh, empty adapter for the named collection.
type Factory func(t *testing.T, collection string) types.Adapter

// Run executes the adapter contract against adapters produced by newAdapter.
func Run(t *testing.T, newAdapter Factory) {
	t.Helper()
	ctx := context.Background()

	t.Run("list on empty collection returns empty non-nil slice", func(t *testing.T) {
		a := newAdapter(t, "templates")
		got, err := a.List(ctx)
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
		assert.Equal(t, "templates", a.Collection())
	})

	t.Run("create assigns id and timestamps", func(t *testing.T) {
		a := newAdapter(t, "templates")
		e, err := a.Create(ctx, map[string]any{"name": "Email Template"})
		require.NoError(t, err)
		assert.NotEmpty(t, e.ID)
		assert.False(t, types.IsVirtualID(e.ID))
		assert.Equal(t, "Email Template", e.Attributes["name"])
		assert.False(t, e.CreatedAt.IsZero())
		assert.False(t, e.UpdatedAt.IsZero())
	})

	t.Run("list returns created entities in creation order", func(t *testing.T) {
		a := newAdapter(t, "templates")
		first, err := a.Create(ctx, map[string]any{"name": "Email Template"})
		require.NoError(t, err)
		second, err := a.Create(ctx, map[string]any{"name": "SMS Template"})
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)

		got, err := a.List(ctx)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, first.ID, got[0].ID)
		assert.Equal(t, second.ID, got[1].ID)
		assert.Equal(t, "SMS Template", got[1].Attributes["name"])
	})

	t.Run("list is idempotent", func(t *testing.T) {
		a := newAdapter(t, "templates")
		_, err := a.Create(ctx, map[string]any{"name": "One"})
		require.NoError(t, err)

		l1, err := a.List(ctx)
		require.NoError(t, err)
		l2, err := a.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, l1, l2)
	})

	t.Run("collections are isolated", func(t *testing.T) {
		a := newAdapter(t, "templates")
		_, err := a.Create(ctx, map[string]any{"name": "One"})
		require.NoError(t, err)

		b := newAdapter(t, "vault")
		got, err := b.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("update merges patch", func(t *testing.T) {
		a := newAdapter(t, "vault")
		e, err := a.Create(ctx, map[string]any{"title": "Bank", "username": "ann", "url": "https://bank"})
		require.NoError(t, err)

		got, err := a.Update(ctx, e.ID, types.Patch{"username": "bob", "url": nil})
		require.NoError(t, err)
		assert.Equal(t, e.ID, got.ID)
		assert.Equal(t, map[string]any{"title": "Bank", "username": "bob"}, got.Attributes)
		assert.Equal(t, e.CreatedAt.Unix(), got.CreatedAt.Unix())

		listed, err := a.List(ctx)
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.Equal(t, got.Attributes, listed[0].Attributes)
	})

	t.Run("update unknown id returns NotFoundError", func(t *testing.T) {
		a := newAdapter(t, "vault")
		_, err := a.Update(ctx, "missing", types.Patch{"title": "x"})
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("delete removes entity", func(t *testing.T) {
		a := newAdapter(t, "templates")
		keep, err := a.Create(ctx, map[string]any{"name": "keep"})
		require.NoError(t, err)
		drop, err := a.Create(ctx, map[string]any{"name": "drop"})
		require.NoError(t, err)

		require.NoError(t, a.Delete(ctx, drop.ID))

		got, err := a.List(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, keep.ID, got[0].ID)
	})

	t.Run("delete unknown id returns NotFoundError", func(t *testing.T) {
		a := newAdapter(t, "templates")
		err := a.Delete(ctx, "missing")
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("unserializable attributes return ValidationError", func(t *testing.T) {
		a := newAdapter(t, "templates")
		_, err := a.Create(ctx, map[string]any{"bad": make(chan int)})
		assert.ErrorIs(t, err, types.ErrValidation)

		e, err := a.Create(ctx, map[string]any{"name": "ok"})
		require.NoError(t, err)
		_, err = a.Update(ctx, e.ID, types.Patch{"bad": func() {}})
		assert.ErrorIs(t, err, types.ErrValidation)

		got, err := a.List(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, map[string]any{"name": "ok"}, got[0].Attributes)
	})

	t.Run("returned entities do not alias stored state", func(t *testing.T) {
		a := newAdapter(t, "templates")
		e, err := a.Create(ctx, map[string]any{"name": "Original"})
		require.NoError(t, err)
		e.Attributes["name"] = "Mutated"

		got, err := a.List(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "Original", got[0].Attributes["name"])
	})

	t.Run("nested attributes survive a round trip", func(t *testing.T) {
		a := newAdapter(t, "templates")
		attrs := map[string]any{
			"name": "Sectioned",
			"sections": []any{
				map[string]any{"title": "Intro", "body": "Hello"},
			},
		}
		_, err := a.Create(ctx, attrs)
		require.NoError(t, err)

		got, err := a.List(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, attrs["sections"], got[0].Attributes["sections"])
	})
}

package types

import (
	"context"
	"regexp"
)

// Adapter performs raw CRUD against one named collection of a backing store.
// Adapters never retry and never recover from errors; failures surface as
// *TransportError, *ValidationError or *NotFoundError.
type Adapter interface {
	// Collection returns the name of the collection this adapter is bound to.
	Collection() string

	// List returns every entity in the collection. An empty collection
	// yields an empty, non-nil slice.
	List(ctx context.Context) ([]Entity, error)

	// Create persists a new entity and returns it with its assigned ID.
	Create(ctx context.Context, attrs map[string]any) (Entity, error)

	// Update merges patch into the entity with the given ID and returns the
	// result. Returns a *NotFoundError if no entity has that ID.
	Update(ctx context.Context, id string, patch Patch) (Entity, error)

	// Delete removes the entity with the given ID. Returns a *NotFoundError
	// if no entity has that ID.
	Delete(ctx context.Context, id string) error
}

// Store hands out adapters by collection name.
type Store interface {
	// Collection returns the adapter for name. Returns ErrInvalidCollection
	// if the name is malformed and ErrStoreDetached if the store is closed.
	Collection(name string) (Adapter, error)

	// Close releases backend resources. Idempotent.
	Close() error
}

var collectionNameRE = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateCollection checks that name is usable as a collection name: lower
// case letters, digits, dash and underscore, at most 64 characters.
func ValidateCollection(name string) error {
	if !collectionNameRE.MatchString(name) {
		return ErrInvalidCollection
	}
	return nil
}

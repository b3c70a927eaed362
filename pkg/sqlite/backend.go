// Package sqlite provides the public API for the SQLite pantry backend.
// This package exposes the factory function for creating SQLite backends
// while keeping implementation details internal.
package sqlite

import (
	"github.com/mesh-intelligence/pantry/internal/sqlite"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

// Open creates a SQLite backend and attaches it to config.DataDir.
// The caller must Close the returned store.
//
// Example:
//
//	store, err := sqlite.Open(types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: ".pantry-db",
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//	templates, err := store.Collection("templates")
func Open(config types.Config) (types.Store, error) {
	b := sqlite.NewBackend()
	if err := b.Attach(config); err != nil {
		return nil, err
	}
	return b, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/pantry/pkg/types"
)

// collection implements types.Adapter for one collection of a Backend.
type collection struct {
	name    string
	backend *Backend
}

var _ types.Adapter = (*collection)(nil)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (c *collection) Collection() string { return c.name }

// List returns the collection's entities in insertion order.
func (c *collection) List(ctx context.Context) ([]types.Entity, error) {
	c.backend.mu.RLock()
	defer c.backend.mu.RUnlock()
	if !c.backend.attached {
		return nil, c.transport("list", types.ErrStoreDetached)
	}

	entities, err := queryCollectionContext(ctx, c.backend.db, c.name)
	if err != nil {
		return nil, c.transport("list", err)
	}
	return entities, nil
}

// Create inserts a new entity with a UUID v7 id.
func (c *collection) Create(ctx context.Context, attrs map[string]any) (types.Entity, error) {
	if attrs == nil {
		attrs = map[string]any{}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return types.Entity{}, &types.ValidationError{Collection: c.name, Reason: "attributes are not JSON serializable", Err: err}
	}
	id, err := uuid.NewV7()
	if err != nil {
		return types.Entity{}, c.transport("create", err)
	}

	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	if !c.backend.attached {
		return types.Entity{}, c.transport("create", types.ErrStoreDetached)
	}

	tx, err := c.backend.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Entity{}, c.transport("create", err)
	}
	defer tx.Rollback()

	now := c.backend.now()
	_, err = tx.ExecContext(ctx,
		"INSERT INTO entities (collection, entity_id, attributes, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		c.name, id.String(), string(encoded), formatTime(now), formatTime(now))
	if err != nil {
		return types.Entity{}, c.transport("create", err)
	}
	if err := c.commitLocked(ctx, tx); err != nil {
		return types.Entity{}, c.transport("create", err)
	}

	var stored map[string]any
	if err := json.Unmarshal(encoded, &stored); err != nil {
		return types.Entity{}, c.transport("create", err)
	}
	return types.Entity{ID: id.String(), Attributes: stored, CreatedAt: now, UpdatedAt: now}, nil
}

// Update merges patch into the stored attributes.
func (c *collection) Update(ctx context.Context, id string, patch types.Patch) (types.Entity, error) {
	if id == "" {
		return types.Entity{}, types.ErrInvalidID
	}
	if _, err := json.Marshal(patch); err != nil {
		return types.Entity{}, &types.ValidationError{Collection: c.name, Reason: "patch is not JSON serializable", Err: err}
	}

	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	if !c.backend.attached {
		return types.Entity{}, c.transport("update", types.ErrStoreDetached)
	}

	tx, err := c.backend.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Entity{}, c.transport("update", err)
	}
	defer tx.Rollback()

	existing, err := getEntity(ctx, tx, c.name, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Entity{}, &types.NotFoundError{Collection: c.name, ID: id}
		}
		return types.Entity{}, c.transport("update", err)
	}

	updated := patch.Apply(existing)
	updated.UpdatedAt = c.backend.now()
	encoded, err := json.Marshal(updated.Attributes)
	if err != nil {
		return types.Entity{}, &types.ValidationError{Collection: c.name, Reason: "attributes are not JSON serializable", Err: err}
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE entities SET attributes = ?, updated_at = ? WHERE collection = ? AND entity_id = ?",
		string(encoded), formatTime(updated.UpdatedAt), c.name, id); err != nil {
		return types.Entity{}, c.transport("update", err)
	}
	if err := c.commitLocked(ctx, tx); err != nil {
		return types.Entity{}, c.transport("update", err)
	}

	var stored map[string]any
	if err := json.Unmarshal(encoded, &stored); err != nil {
		return types.Entity{}, c.transport("update", err)
	}
	updated.Attributes = stored
	return updated, nil
}

// Delete removes the entity; a missing id is reported as NotFoundError.
func (c *collection) Delete(ctx context.Context, id string) error {
	if id == "" {
		return types.ErrInvalidID
	}

	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	if !c.backend.attached {
		return c.transport("delete", types.ErrStoreDetached)
	}

	tx, err := c.backend.db.BeginTx(ctx, nil)
	if err != nil {
		return c.transport("delete", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"DELETE FROM entities WHERE collection = ? AND entity_id = ?", c.name, id)
	if err != nil {
		return c.transport("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return c.transport("delete", err)
	}
	if n == 0 {
		return &types.NotFoundError{Collection: c.name, ID: id}
	}
	if err := c.commitLocked(ctx, tx); err != nil {
		return c.transport("delete", err)
	}
	return nil
}

// commitLocked persists the collection as seen by tx and commits tx. A
// failed JSONL write leaves tx uncommitted, so the caller's deferred
// Rollback undoes the mutation.
func (c *collection) commitLocked(ctx context.Context, tx *sql.Tx) error {
	if err := c.backend.persistLocked(ctx, tx, c.name); err != nil {
		return err
	}
	return tx.Commit()
}

func (c *collection) transport(op string, err error) error {
	return &types.TransportError{Op: op, Collection: c.name, Err: err}
}

func queryCollectionContext(ctx context.Context, q queryer, collection string) ([]types.Entity, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT entity_id, attributes, created_at, updated_at FROM entities WHERE collection = ? ORDER BY rowid",
		collection)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}
	defer rows.Close()

	entities := []types.Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", collection, err)
	}
	return entities, nil
}

func getEntity(ctx context.Context, q queryer, collection, id string) (types.Entity, error) {
	row := q.QueryRowContext(ctx,
		"SELECT entity_id, attributes, created_at, updated_at FROM entities WHERE collection = ? AND entity_id = ?",
		collection, id)
	return scanEntity(row)
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(s scanner) (types.Entity, error) {
	var e types.Entity
	var attrs, createdAt, updatedAt string
	if err := s.Scan(&e.ID, &attrs, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("scanning entity: %w", err)
	}
	if err := json.Unmarshal([]byte(attrs), &e.Attributes); err != nil {
		return e, fmt.Errorf("parsing attributes of %s: %w", e.ID, err)
	}
	if e.Attributes == nil {
		e.Attributes = map[string]any{}
	}
	var err error
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return e, fmt.Errorf("parsing created_at of %s: %w", e.ID, err)
	}
	if e.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return e, fmt.Errorf("parsing updated_at of %s: %w", e.ID, err)
	}
	return e, nil
}

func encodeRecords(entities []types.Entity) ([]json.RawMessage, error) {
	records := make([]json.RawMessage, 0, len(entities))
	for _, e := range entities {
		data, err := json.Marshal(entityJSON{
			ID:         e.ID,
			Attributes: e.Attributes,
			CreatedAt:  formatTime(e.CreatedAt),
			UpdatedAt:  formatTime(e.UpdatedAt),
		})
		if err != nil {
			return nil, fmt.Errorf("marshaling %s: %w", e.ID, err)
		}
		records = append(records, data)
	}
	return records, nil
}

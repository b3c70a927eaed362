// Package sqlite implements the SQLite storage backend for pantry. SQLite is
// the query engine; one JSONL file per collection in the data directory is
// the source of truth and is reloaded on every Attach.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/pantry/pkg/types"
)

// dbFileName is recreated on every Attach; the JSONL files are authoritative.
const dbFileName = "pantry.db"

// Backend implements types.Store using SQLite with JSONL persistence.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	db       *sql.DB
	logger   *zap.Logger
	now      func() time.Time

	syncStrategy string
	dirty        map[string]bool // collections with writes pending for on_close
}

var _ types.Store = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger used for persistence diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
		dirty:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Attach initializes the backend with the given configuration.
// Creates DataDir if it does not exist, builds a fresh SQLite schema and
// loads every JSONL file found in DataDir.
// Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	config.DataDir = dataDir

	dbPath := filepath.Join(dataDir, dbFileName)
	_ = os.Remove(dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("opening sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, ddl := range append(append([]string{}, schemaDDL...), indexDDL...) {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return fmt.Errorf("creating schema: %w", err)
		}
	}

	loaded, err := loadAllJSONL(db, dataDir)
	if err != nil {
		db.Close()
		return fmt.Errorf("load JSONL: %w", err)
	}

	b.db = db
	b.config = config
	b.syncStrategy = config.EffectiveSyncStrategy()
	b.dirty = make(map[string]bool)
	b.attached = true

	b.logger.Debug("sqlite backend attached",
		zap.String("data_dir", dataDir),
		zap.String("sync_strategy", b.syncStrategy),
		zap.Strings("collections", loaded))
	return nil
}

// Detach releases all resources held by the backend. Pending on_close writes
// are flushed first. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}

	if err := b.flushDirtyLocked(); err != nil {
		return fmt.Errorf("flush pending writes: %w", err)
	}

	if err := b.db.Close(); err != nil {
		return err
	}
	b.db = nil
	b.attached = false
	return nil
}

// Close implements types.Store by detaching.
func (b *Backend) Close() error {
	return b.Detach()
}

// Collection returns the adapter for the named collection. Collections are
// created implicitly by their first write.
func (b *Backend) Collection(name string) (types.Adapter, error) {
	if err := types.ValidateCollection(name); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return nil, types.ErrStoreDetached
	}
	return &collection{name: name, backend: b}, nil
}

// Collections lists collections that currently hold at least one entity.
func (b *Backend) Collections() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return nil, types.ErrStoreDetached
	}
	rows, err := b.db.Query("SELECT DISTINCT collection FROM entities")
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scanning collection: %w", err)
		}
		names = append(names, n)
	}
	sort.Strings(names)
	return names, rows.Err()
}

// persistLocked writes the collection's JSONL file now or defers it to
// Detach, depending on the sync strategy. q is the transaction holding the
// pending mutation; the caller commits it only when persistLocked succeeds.
// The caller holds b.mu.
func (b *Backend) persistLocked(ctx context.Context, q queryer, collection string) error {
	if b.syncStrategy == types.SyncOnClose {
		b.dirty[collection] = true
		return nil
	}
	return b.writeCollectionLocked(ctx, q, collection)
}

func (b *Backend) flushDirtyLocked() error {
	names := make([]string, 0, len(b.dirty))
	for n := range b.dirty {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if err := b.writeCollectionLocked(context.Background(), b.db, n); err != nil {
			return fmt.Errorf("flush %s: %w", n, err)
		}
		delete(b.dirty, n)
	}
	return nil
}

// writeCollectionLocked rewrites <collection>.jsonl from the entities table
// as seen by q.
func (b *Backend) writeCollectionLocked(ctx context.Context, q queryer, collection string) error {
	entities, err := queryCollectionContext(ctx, q, collection)
	if err != nil {
		return err
	}
	records, err := encodeRecords(entities)
	if err != nil {
		return err
	}
	if err := writeJSONL(collectionPath(b.config.DataDir, collection), records); err != nil {
		return err
	}
	b.logger.Debug("collection persisted",
		zap.String("collection", collection),
		zap.Int("entities", len(entities)))
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

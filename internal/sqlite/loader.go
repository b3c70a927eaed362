package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
)

// loadAllJSONL reads every <collection>.jsonl file in dataDir and inserts the
// records into the entities table. Loading is transactional: all files load
// or the database stays empty. Malformed lines, records without an id and
// records with unparseable timestamps are skipped; unknown fields are ignored.
// A later line with the same id replaces an earlier one.
func loadAllJSONL(db *sql.DB, dataDir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dataDir, "*"+jsonlExt))
	if err != nil {
		return nil, fmt.Errorf("listing JSONL files: %w", err)
	}
	sort.Strings(paths)

	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning load transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO entities (collection, entity_id, attributes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (collection, entity_id) DO UPDATE SET
		   attributes = excluded.attributes,
		   created_at = excluded.created_at,
		   updated_at = excluded.updated_at`)
	if err != nil {
		return nil, fmt.Errorf("preparing load insert: %w", err)
	}
	defer stmt.Close()

	var loaded []string
	for _, path := range paths {
		collection := collectionFromPath(path)
		if collection == "" {
			continue
		}
		records, err := readJSONL(path)
		if err != nil {
			return nil, err
		}
		for _, raw := range records {
			var rec entityJSON
			if err := json.Unmarshal(raw, &rec); err != nil || rec.ID == "" {
				continue
			}
			e, err := rec.toEntity()
			if err != nil {
				continue
			}
			attrs, err := json.Marshal(e.Attributes)
			if err != nil {
				continue
			}
			if _, err := stmt.Exec(collection, e.ID, string(attrs), formatTime(e.CreatedAt), formatTime(e.UpdatedAt)); err != nil {
				return nil, fmt.Errorf("loading %s: %w", filepath.Base(path), err)
			}
		}
		loaded = append(loaded, collection)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing load transaction: %w", err)
	}
	return loaded, nil
}

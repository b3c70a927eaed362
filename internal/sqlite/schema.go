package sqlite

// Schema DDL. Every collection shares one table; rowid order is insertion
// order and List relies on it.
const (
	createEntities = `CREATE TABLE entities (
    collection TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    attributes TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (collection, entity_id)
);`

	idxEntitiesCollection = `CREATE INDEX idx_entities_collection ON entities(collection);`
)

var schemaDDL = []string{
	createEntities,
}

var indexDDL = []string{
	idxEntitiesCollection,
}

package query

// Catalog is the translator's view of everything it needs to know
// about collections and indexes, implemented by index.Manager. Kept
// as an interface here (rather than importing package index directly)
// so index can import query for its own expression-compilation needs
// without creating an import cycle.
type Catalog interface {
	// CollectionTable returns the mangled SQL table name backing a
	// collection name, or ok=false if no such collection is known.
	CollectionTable(name string) (table string, ok bool)

	// ResolveValueIndex looks for a value index whose indexed
	// expression matches path exactly against the given table, used
	// so a qualifying ORDER BY/WHERE clause may choose to explain
	// against it (purely informational to the translator; SQLite's
	// own planner does the actual index selection).
	ResolveValueIndex(table, path string) (indexName string, ok bool)

	// ResolveFTSIndex returns the FTS shadow table name for a MATCH
	// against the given table/path, or ok=false if none exists.
	ResolveFTSIndex(table, path string) (ftsTable string, ok bool)

	// ResolveVectorIndex returns the vector shadow table and
	// configured metric for a vector index named indexName on table,
	// or ok=false if it doesn't exist.
	ResolveVectorIndex(table, indexName string) (vectorTable string, metric string, ok bool)

	// ResolvePredictiveIndex returns the shadow table storing a named
	// prediction's cached output for table, or ok=false.
	ResolvePredictiveIndex(table, modelName string) (shadowTable string, ok bool)
}

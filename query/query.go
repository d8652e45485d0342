package query

// Query is the compiled output of Translate: SQL text ready to
// prepare against a Data-File connection, plus the side outputs
// spec.md §4.3 requires the runner and enumerator to see.
type Query struct {
	SQL        string
	Parameters []string // names in first-use order; bound under these same names, with no prefix added

	CollectionTablesUsed []string
	FTSTablesUsed        []string

	// FirstCustomResultColumn is the index, within the emitted SELECT
	// list, of the first column the caller actually asked for (as
	// opposed to implicit FTS rowid/offset helper columns prepended
	// ahead of it).
	FirstCustomResultColumn int

	ColumnTitles []string

	// UsesExpiration is true when the query references _expiration,
	// forcing the expiration column/index to exist on the backing
	// collection before the query can run.
	UsesExpiration bool

	// ReferencesDeleted records whether the query touched _deleted.
	// Each collection is a single table with deletion kept in the flags
	// column, so this does not change which table the query reads.
	ReferencesDeleted bool
}

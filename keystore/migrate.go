package keystore

import (
	"database/sql"
	"strconv"
	"strings"

	docql "github.com/dbsqldef/docql"
)

// schemaGenerations lists the PRAGMA user_version values this port
// knows how to reach, in order, mirroring LiteCore's SQLite storage
// generations: 201 (initial collection tables), 301 (kvmeta + purge
// counts), 302 (expiration column lazily added per-table, tracked
// here at the file level instead), 400 (indexes registry table), 500
// (indexedSequences column for lazy vector indexes).
var schemaGenerations = []struct {
	version int
	migrate func(tx *sql.Tx) error
}{
	{201, migrateTo201},
	{301, migrateTo301},
	{302, migrateTo302},
	{400, migrateTo400},
	{500, migrateTo500},
	{501, migrateTo501},
}

func (df *DataFile) userVersion() (int, error) {
	var v int
	if err := df.db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, docql.NewError(docql.SQLite, "reading user_version", err)
	}
	return v, nil
}

func (df *DataFile) hasPendingMigrations() (bool, error) {
	v, err := df.userVersion()
	if err != nil {
		return false, err
	}
	return v < schemaGenerations[len(schemaGenerations)-1].version, nil
}

// migrate runs every generation above the file's current user_version,
// each inside its own transaction, per spec.md §4.4's "each missing
// migration runs in its own transaction" rule.
func (df *DataFile) migrate() error {
	current, err := df.userVersion()
	if err != nil {
		return err
	}
	for _, gen := range schemaGenerations {
		if current >= gen.version {
			continue
		}
		tx, err := df.db.Begin()
		if err != nil {
			return docql.NewError(docql.SQLite, "beginning migration transaction", err)
		}
		if err := gen.migrate(tx); err != nil {
			tx.Rollback()
			return docql.NewError(docql.CorruptData, "running schema migration", err)
		}
		if _, err := tx.Exec("PRAGMA user_version = " + strconv.Itoa(gen.version)); err != nil {
			tx.Rollback()
			return docql.NewError(docql.SQLite, "advancing user_version", err)
		}
		if err := tx.Commit(); err != nil {
			return docql.NewError(docql.SQLite, "committing migration", err)
		}
		current = gen.version
	}
	return nil
}

func migrateTo201(tx *sql.Tx) error {
	// Generation 201 predates kvmeta/indexes; collection tables are
	// created lazily by NewKeyStore itself, so there's nothing to do
	// for a brand new file beyond recording the generation number.
	return nil
}

func migrateTo301(tx *sql.Tx) error {
	_, err := tx.Exec(`CREATE TABLE IF NOT EXISTS kvmeta (
		name TEXT PRIMARY KEY,
		lastSeq INTEGER NOT NULL DEFAULT 0,
		purgeCnt INTEGER NOT NULL DEFAULT 0
	)`)
	return err
}

func migrateTo302(tx *sql.Tx) error {
	// Expiration columns are added lazily per-collection table on
	// first setExpiration call (spec.md §4.4); nothing global to do.
	return nil
}

func migrateTo400(tx *sql.Tx) error {
	_, err := tx.Exec(`CREATE TABLE IF NOT EXISTS indexes (
		name TEXT PRIMARY KEY,
		collection TEXT NOT NULL,
		type INTEGER NOT NULL,
		expression TEXT NOT NULL,
		whereClause TEXT,
		options TEXT,
		indexedSequences TEXT
	)`)
	return err
}

func migrateTo500(tx *sql.Tx) error {
	// indexedSequences already exists as of generation 400 in this
	// port (unlike the original, which added it later); generation
	// 500 is kept as a no-op placeholder so a file migrated by an
	// older docql build that lacked the column gets it here too.
	var count int
	err := tx.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('indexes') WHERE name='indexedSequences'`).Scan(&count)
	if err != nil {
		return err
	}
	if count == 0 {
		_, err = tx.Exec(`ALTER TABLE indexes ADD COLUMN indexedSequences TEXT`)
		return err
	}
	return nil
}

// migrateTo501 adds the two registry columns the Index Manager needs
// that generation 400 didn't anticipate: indexTableName (non-null for
// index types that own an auxiliary table) and lastSeq (the
// non-lazy-index trigger-maintained high-water mark, distinct from
// indexedSequences which only lazy indexes use).
func migrateTo501(tx *sql.Tx) error {
	for _, col := range []string{"indexTableName TEXT", "lastSeq INTEGER NOT NULL DEFAULT 0"} {
		name := col[:strings.IndexByte(col, ' ')]
		var count int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('indexes') WHERE name=?`, name).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			if _, err := tx.Exec(`ALTER TABLE indexes ADD COLUMN ` + col); err != nil {
				return err
			}
		}
	}
	return nil
}

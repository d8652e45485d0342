// Package keystore implements the Key-Store / Data-File layer: one
// SQLite handle per document database file, the per-collection
// key-value tables layered over it, and the schema migrations that
// bring an older file up to the current generation.
package keystore

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	docql "github.com/dbsqldef/docql"
	"github.com/dbsqldef/docql/fleece"
	"github.com/dbsqldef/docql/sqlfn"
	"github.com/mattn/go-sqlite3"
)

var driverSeq int64

// DataFile owns exactly one SQLite handle: every statement against it
// is serialized by mu, matching spec.md §5's "externally serialized by
// a per-file mutex" scheduling model.
type DataFile struct {
	mu sync.Mutex
	db *sql.DB

	path     string
	readOnly bool
	logger   *slog.Logger

	sharedKeys *fleece.SharedKeys
	env        *sqlfn.Env

	blobs   map[string][]byte
	blobsMu sync.RWMutex

	writeTxn *sql.Tx
	kvmeta   *kvmetaCache
}

// Options configures Open.
type Options struct {
	ReadOnly bool
	Logger   *slog.Logger
}

// Open opens (creating if absent, unless ReadOnly) a SQLite file at
// path as a Data-File: registers a private driver instance carrying
// the whole Binary-Doc SQL bridge via a ConnectHook, sets the
// mandatory pragmas from spec.md §6, and runs any pending schema
// migrations when the handle is writable.
func Open(path string, opts Options) (*DataFile, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sharedKeys := fleece.NewSharedKeys()
	df := &DataFile{
		path:       path,
		readOnly:   opts.ReadOnly,
		logger:     logger,
		sharedKeys: sharedKeys,
		blobs:      map[string][]byte{},
	}
	df.env = sqlfn.NewEnv(sharedKeys, df)

	driverName := fmt.Sprintf("docql-sqlite3-%d", atomic.AddInt64(&driverSeq, 1))
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return sqlfn.Register(conn, df.env)
		},
	})

	dsn := buildDSN(path, opts.ReadOnly)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, docql.NewError(docql.SQLite, "opening data file", err)
	}
	db.SetMaxOpenConns(1) // one cgo SQLite connection per Data-File, per spec.md §5
	df.db = db

	if err := df.applyPragmas(); err != nil {
		db.Close()
		return nil, err
	}

	if !opts.ReadOnly {
		if err := df.migrate(); err != nil {
			db.Close()
			return nil, err
		}
	} else if pending, err := df.hasPendingMigrations(); err != nil {
		db.Close()
		return nil, err
	} else if pending {
		db.Close()
		return nil, docql.NewError(docql.CantUpgradeDatabase,
			"cannot upgrade database: opened read-only with pending schema migrations", nil)
	}

	df.kvmeta = newKvmetaCache(df)
	return df, nil
}

func buildDSN(path string, readOnly bool) string {
	dsn := path + "?_busy_timeout=10000&_journal_mode=WAL&_foreign_keys=on"
	if readOnly {
		dsn += "&mode=ro"
	}
	return dsn
}

func (df *DataFile) applyPragmas() error {
	pragmas := []string{
		"PRAGMA auto_vacuum=INCREMENTAL",
		"PRAGMA case_sensitive_like=ON",
		"PRAGMA fullfsync=ON",
	}
	for _, p := range pragmas {
		if _, err := df.db.Exec(p); err != nil {
			// fullfsync is macOS-only; ignore failures from platforms
			// that don't recognize it rather than fail Open().
			if p == "PRAGMA fullfsync=ON" {
				continue
			}
			return docql.NewError(docql.SQLite, "applying pragma "+p, err)
		}
	}
	return nil
}

// DB exposes the underlying *sql.DB, mirroring the teacher's
// adapter.Database.DB() shape for callers (index.Manager, runner.Runner)
// that need to prepare statements directly.
func (df *DataFile) DB() *sql.DB { return df.db }

// Lock/Unlock expose the per-file mutex spec.md §5 requires around
// every SQL statement and compiled-statement cache lookup.
func (df *DataFile) Lock()   { df.mu.Lock() }
func (df *DataFile) Unlock() { df.mu.Unlock() }

func (df *DataFile) Path() string { return df.path }
func (df *DataFile) ReadOnly() bool { return df.readOnly }

func (df *DataFile) SharedKeys() *fleece.SharedKeys { return df.sharedKeys }

func (df *DataFile) Close() error {
	df.mu.Lock()
	defer df.mu.Unlock()
	return df.db.Close()
}

// ResolveBlob implements sqlfn.BlobAccessor against an in-memory blob
// table. docql's own attachment/blob store is out of scope (spec.md
// §1 Non-goals don't mention it, but no component here owns durable
// blob storage either); this keeps fl_blob exercisable by callers that
// register blobs directly via PutBlob.
func (df *DataFile) ResolveBlob(digest string) ([]byte, bool) {
	df.blobsMu.RLock()
	defer df.blobsMu.RUnlock()
	b, ok := df.blobs[digest]
	return b, ok
}

// PutBlob registers blob bytes under digest so fl_blob can resolve it.
func (df *DataFile) PutBlob(digest string, data []byte) {
	df.blobsMu.Lock()
	defer df.blobsMu.Unlock()
	df.blobs[digest] = data
}

// CollectionTable implements query.Catalog's collection-name
// resolution for collections whose table already exists.
func (df *DataFile) CollectionTable(scope, name string) (string, bool) {
	table := mangleTableName(scope, name)
	var exists int
	err := df.db.QueryRow(`SELECT 1 FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&exists)
	if err != nil {
		return "", false
	}
	return table, true
}

package keystore

import (
	"database/sql"
	"sync"

	docql "github.com/dbsqldef/docql"
)

// kvmetaCache caches each collection's (lastSeq, purgeCnt) pair in
// memory, flushing back to the kvmeta table only on transaction
// commit, per spec.md §4.4's "commit triggers flushing cached
// lastSequence/purgeCount" rule — every read of lastSeq/nextSequence
// during a transaction stays in-process instead of round-tripping
// through SQLite.
type kvmetaCache struct {
	df *DataFile

	mu    sync.Mutex
	dirty map[string]bool
	rows  map[string]*kvmetaRow
}

type kvmetaRow struct {
	lastSeq  int64
	purgeCnt int64
}

func newKvmetaCache(df *DataFile) *kvmetaCache {
	return &kvmetaCache{df: df, dirty: map[string]bool{}, rows: map[string]*kvmetaRow{}}
}

func (c *kvmetaCache) load(table string, q queryer) (*kvmetaRow, error) {
	c.mu.Lock()
	if r, ok := c.rows[table]; ok {
		c.mu.Unlock()
		return r, nil
	}
	c.mu.Unlock()

	row := &kvmetaRow{}
	err := q.QueryRow(`SELECT lastSeq, purgeCnt FROM kvmeta WHERE name = ?`, table).Scan(&row.lastSeq, &row.purgeCnt)
	if err == sql.ErrNoRows {
		var exec execer = c.df.db
		if e, ok := q.(execer); ok {
			exec = e
		}
		if _, err := exec.Exec(`INSERT INTO kvmeta(name, lastSeq, purgeCnt) VALUES (?, 0, 0)`, table); err != nil {
			return nil, docql.NewError(docql.SQLite, "initializing kvmeta row", err)
		}
	} else if err != nil {
		return nil, docql.NewError(docql.SQLite, "reading kvmeta row", err)
	}

	c.mu.Lock()
	c.rows[table] = row
	c.mu.Unlock()
	return row, nil
}

// nextSequence returns the next sequence number for table, marking
// the cache entry dirty so it's flushed on commit.
func (c *kvmetaCache) nextSequence(table string, q queryer) (int64, error) {
	row, err := c.load(table, q)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	row.lastSeq++
	c.dirty[table] = true
	return row.lastSeq, nil
}

func (c *kvmetaCache) lastSequence(table string, q queryer) (int64, error) {
	row, err := c.load(table, q)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return row.lastSeq, nil
}

func (c *kvmetaCache) incrementPurgeCount(table string, q queryer) error {
	row, err := c.load(table, q)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	row.purgeCnt++
	c.dirty[table] = true
	return nil
}

func (c *kvmetaCache) purgeCount(table string, q queryer) (int64, error) {
	row, err := c.load(table, q)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return row.purgeCnt, nil
}

// flush writes every dirty row back to the kvmeta table inside exec
// (typically the committing transaction).
func (c *kvmetaCache) flush(exec execer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for table := range c.dirty {
		row := c.rows[table]
		if _, err := exec.Exec(`UPDATE kvmeta SET lastSeq = ?, purgeCnt = ? WHERE name = ?`,
			row.lastSeq, row.purgeCnt, table); err != nil {
			return docql.NewError(docql.SQLite, "flushing kvmeta row", err)
		}
	}
	c.dirty = map[string]bool{}
	return nil
}

// discard drops uncommitted in-memory changes on rollback by
// re-reading from disk next time each row is needed.
func (c *kvmetaCache) discard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for table := range c.dirty {
		delete(c.rows, table)
	}
	c.dirty = map[string]bool{}
}

// queryer and execer abstract over *sql.DB/*sql.Tx so kvmetaCache
// and KeyStore methods work identically inside or outside a write
// transaction.
type queryer interface {
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

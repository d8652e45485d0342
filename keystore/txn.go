package keystore

import (
	"database/sql"
	"fmt"
	"sync/atomic"

	docql "github.com/dbsqldef/docql"
)

// ReadTxn is a nested read-only transaction implemented as a SQLite
// SAVEPOINT, per spec.md §5's "multiple read-only transactions may
// nest" rule. It shares the Data-File's single connection/mutex.
type ReadTxn struct {
	df   *DataFile
	name string
}

var savepointSeq int64

// BeginReadTxn acquires the Data-File's mutex and opens a SAVEPOINT,
// returning a release closure that must be called exactly once
// (typically via defer) on every exit path, mirroring the teacher's
// "resource acquired, closure releases on every exit path" transaction
// shape.
func (df *DataFile) BeginReadTxn() (*ReadTxn, func(), error) {
	df.mu.Lock()
	name := fmt.Sprintf("rt%d", atomic.AddInt64(&savepointSeq, 1))
	if _, err := df.db.Exec("SAVEPOINT " + name); err != nil {
		df.mu.Unlock()
		return nil, nil, docql.NewError(docql.SQLite, "opening read savepoint", err)
	}
	rt := &ReadTxn{df: df, name: name}
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		df.db.Exec("RELEASE " + name)
		df.mu.Unlock()
	}
	return rt, release, nil
}

// Snapshot reads the (lastSequence, purgeCount) pair for table as of
// this read transaction's SAVEPOINT.
func (rt *ReadTxn) Snapshot(table string) (lastSeq, purgeCnt int64, err error) {
	lastSeq, err = rt.df.kvmeta.lastSequence(table, rt.df.db)
	if err != nil {
		return 0, 0, err
	}
	purgeCnt, err = rt.df.kvmeta.purgeCount(table, rt.df.db)
	return lastSeq, purgeCnt, err
}

// WriteTxn is the Data-File's single exclusive write transaction; a
// second concurrent WriteTxn attempt blocks on the mutex like every
// other operation, per spec.md §5.
type WriteTxn struct {
	df *DataFile
	tx *sql.Tx
}

// BeginWriteTxn opens the Data-File's one exclusive write transaction.
// Commit/Rollback both release the Data-File mutex; Commit additionally
// flushes the kvmeta cache before the underlying SQL commit. There are
// no per-KeyStore "transaction will end" hooks; Commit runs no other
// callbacks.
func (df *DataFile) BeginWriteTxn() (*WriteTxn, error) {
	df.mu.Lock()
	tx, err := df.db.Begin()
	if err != nil {
		df.mu.Unlock()
		return nil, docql.NewError(docql.SQLite, "beginning write transaction", err)
	}
	df.writeTxn = tx
	return &WriteTxn{df: df, tx: tx}, nil
}

func (wt *WriteTxn) Tx() *sql.Tx { return wt.tx }

func (wt *WriteTxn) Commit() error {
	defer wt.df.mu.Unlock()
	defer func() { wt.df.writeTxn = nil }()
	if err := wt.df.kvmeta.flush(wt.tx); err != nil {
		wt.tx.Rollback()
		return err
	}
	if err := wt.tx.Commit(); err != nil {
		return docql.NewError(docql.SQLite, "committing write transaction", err)
	}
	return nil
}

func (wt *WriteTxn) Rollback() error {
	defer wt.df.mu.Unlock()
	defer func() { wt.df.writeTxn = nil }()
	wt.df.kvmeta.discard()
	if err := wt.tx.Rollback(); err != nil {
		return docql.NewError(docql.SQLite, "rolling back write transaction", err)
	}
	return nil
}

// Package lazyindex implements the Lazy-Index Updater: the two-phase
// begin_update/finish protocol spec.md §4.7 defines, for lazy vector
// indexes whose values are computed out-of-band (e.g. by an embedding
// model) rather than by a SQLite trigger.
package lazyindex

import (
	"fmt"

	docql "github.com/dbsqldef/docql"
	"github.com/dbsqldef/docql/index"
	"github.com/dbsqldef/docql/keystore"
	"github.com/dbsqldef/docql/sqlfn"
)

type slotState int

const (
	slotUnset slotState = iota
	slotValue
	slotSkipped
)

type slot struct {
	docRowid int64
	sequence int64
	state    slotState
	vector   []byte
}

// Update is one begin_update/finish cycle: a fixed-size batch of rows
// not yet reflected in a lazy index, handed to the caller to fill in
// (typically by running an embedding model) before calling Finish.
type Update struct {
	df      *keystore.DataFile
	mgr     *index.Manager
	spec    index.Spec
	table   string
	startAt int64
	slots   []slot
}

// BeginUpdate opens a new Update batch for the named lazy vector
// index, selecting up to limit rows from table whose rowid's sequence
// isn't yet covered by the index's recorded indexedSequences, ordered
// by sequence per spec.md §4.7's "rows are offered to the caller in
// ascending sequence order" rule.
func BeginUpdate(df *keystore.DataFile, mgr *index.Manager, indexName string, limit int) (*Update, error) {
	spec, ok := mgr.Get(indexName)
	if !ok {
		return nil, docql.Errorf(docql.NoSuchIndex, "no such index %q", indexName)
	}
	if spec.Type != index.TypeVector || !spec.Vector.Lazy {
		return nil, docql.Errorf(docql.UnsupportedOperation, "index %q is not a lazy vector index", indexName)
	}
	startAt := spec.IndexedSequences.InitialCoverageEnd()

	rt, release, err := df.BeginReadTxn()
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := df.DB().Query(fmt.Sprintf(
		`SELECT rowid, sequence FROM %s WHERE sequence >= ? ORDER BY sequence LIMIT ?`,
		quoteIdent(spec.Table)), startAt, limit)
	if err != nil {
		return nil, docql.NewError(docql.SQLite, "selecting lazy-update batch", err)
	}
	defer rows.Close()

	var slots []slot
	for rows.Next() {
		var rowid, seq int64
		if err := rows.Scan(&rowid, &seq); err != nil {
			return nil, docql.NewError(docql.SQLite, "scanning lazy-update batch", err)
		}
		if spec.IndexedSequences.Contains(seq) {
			continue
		}
		slots = append(slots, slot{docRowid: rowid, sequence: seq})
	}

	return &Update{df: df, mgr: mgr, spec: spec, table: spec.Table, startAt: startAt, slots: slots}, nil
}

// Count returns the number of rows in this batch.
func (u *Update) Count() int { return len(u.slots) }

// RowidAt returns the docid of slot i, the value the caller should use
// to fetch the row's content to compute its embedding from.
func (u *Update) RowidAt(i int) (int64, error) {
	if i < 0 || i >= len(u.slots) {
		return 0, docql.Errorf(docql.InvalidParameter, "slot index %d out of range", i)
	}
	return u.slots[i].docRowid, nil
}

// SetVectorAt fills slot i with a computed embedding.
func (u *Update) SetVectorAt(i int, vector []float64) error {
	if i < 0 || i >= len(u.slots) {
		return docql.Errorf(docql.InvalidParameter, "slot index %d out of range", i)
	}
	u.slots[i].vector = sqlfn.EncodeVector(vector)
	u.slots[i].state = slotValue
	return nil
}

// SkipAt marks slot i as having no embedding (e.g. the row's input
// field was empty), per spec.md §4.7's "caller may decline to produce
// a vector for a given row".
func (u *Update) SkipAt(i int) error {
	if i < 0 || i >= len(u.slots) {
		return docql.Errorf(docql.InvalidParameter, "slot index %d out of range", i)
	}
	u.slots[i].state = slotSkipped
	return nil
}

// ErrSlotOrderMismatch is returned by Finish when the rows actually
// present at commit time no longer match the order the batch was
// built from — e.g. a concurrent writer purged or reassigned a row's
// sequence between BeginUpdate and Finish. Finish re-verifies row
// order explicitly rather than trusting the caller's slot indices,
// since a silently-applied out-of-order write would corrupt the
// vector index's sequence accounting.
var ErrSlotOrderMismatch = docql.Errorf(docql.Conflict, "lazy index update: row order changed since begin_update")

// Finish applies every filled-in slot to the index's shadow table
// inside df's single exclusive write transaction; once that
// transaction has committed, it advances and persists the index's
// indexedSequences watermark. Any slot left slotUnset aborts the
// whole batch with UnsupportedOperation, per spec.md §4.7's "finish
// fails if any offered row was left unanswered" rule.
func (u *Update) Finish() error {
	for i, s := range u.slots {
		if s.state == slotUnset {
			return docql.Errorf(docql.UnsupportedOperation, "slot %d was never answered", i)
		}
	}

	wt, err := u.df.BeginWriteTxn()
	if err != nil {
		return err
	}
	tx := wt.Tx()

	for _, s := range u.slots {
		var currentSeq int64
		err := tx.QueryRow(fmt.Sprintf(`SELECT sequence FROM %s WHERE rowid = ?`, quoteIdent(u.table)), s.docRowid).Scan(&currentSeq)
		if err != nil {
			wt.Rollback()
			return docql.NewError(docql.SQLite, "re-verifying lazy-update row order", err)
		}
		if currentSeq != s.sequence {
			wt.Rollback()
			return ErrSlotOrderMismatch
		}
		if s.state == slotValue {
			if _, err := tx.Exec(fmt.Sprintf(
				`INSERT INTO %s(docid, vector) VALUES (?, ?) ON CONFLICT(docid) DO UPDATE SET vector=excluded.vector`,
				quoteIdent(u.spec.IndexTableName)), s.docRowid, s.vector); err != nil {
				wt.Rollback()
				return docql.NewError(docql.SQLite, "writing lazy vector", err)
			}
		}
	}

	if err := wt.Commit(); err != nil {
		return err
	}

	seqs := u.spec.IndexedSequences.Clone()
	if len(u.slots) > 0 {
		seqs.Add(u.startAt, u.slots[len(u.slots)-1].sequence+1)
	}
	return u.mgr.PersistIndexedSequences(u.spec.Name, seqs)
}

func quoteIdent(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' {
			out = append(out, '"', '"')
			continue
		}
		out = append(out, s[i])
	}
	out = append(out, '"')
	return string(out)
}

// Package runner implements the Query Runner: preparing a compiled
// query.Query against a Data-File connection, binding parameters, and
// handing back an Enumerator over the result rows.
package runner

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"

	docql "github.com/dbsqldef/docql"
	"github.com/dbsqldef/docql/fleece"
	"github.com/dbsqldef/docql/keystore"
	"github.com/dbsqldef/docql/query"
	"github.com/dbsqldef/docql/sqlfn"
	"golang.org/x/sync/errgroup"
)

// Watermark is the (lastSequence, purgeCount) pair a running query's
// snapshot was taken at, per spec.md §4.6's staleness rule: a live
// enumerator is obsolete once either of its referenced collections'
// counters have moved past this pair.
type Watermark struct {
	LastSequence int64
	PurgeCount   int64
}

// Runner executes compiled queries against one Data-File.
type Runner struct {
	df *keystore.DataFile
}

func New(df *keystore.DataFile) *Runner {
	return &Runner{df: df}
}

// bindArgs converts params into the []any named-argument slice
// q.SQL's placeholders expect, binding SQL NULL for any parameter the
// query declares but the caller didn't supply.
func bindArgs(q *query.Query, params map[string]fleece.Value) ([]any, error) {
	args := make([]any, 0, len(q.Parameters))
	for _, name := range q.Parameters {
		v, ok := params[name]
		if !ok {
			args = append(args, sql.Named(name, nil))
			continue
		}
		sqlVal, err := sqlfn.ToSQLValue(v)
		if err != nil {
			return nil, docql.NewError(docql.InvalidParameter, "converting parameter "+name, err)
		}
		args = append(args, sql.Named(name, sqlVal))
	}
	return args, nil
}

// snapshotWatermarks reads the (lastSequence, purgeCount) pair of every
// table in tables against rt, one per goroutine. A live query may read
// from several collections (a JOIN, or a UNNEST across siblings), and
// each Snapshot is an independent round trip against rt's connection,
// so fanning them out across an errgroup.Group overlaps their
// round-trip latency instead of paying it table-by-table; Run and
// Enumerator.Refresh both call this rather than looping in place.
func snapshotWatermarks(rt *keystore.ReadTxn, tables []string) (map[string]Watermark, error) {
	marks := make([]Watermark, len(tables))
	var g errgroup.Group
	for i, table := range tables {
		i, table := i, table
		g.Go(func() error {
			lastSeq, purgeCnt, err := rt.Snapshot(table)
			if err != nil {
				return err
			}
			marks[i] = Watermark{LastSequence: lastSeq, PurgeCount: purgeCnt}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	watermarks := make(map[string]Watermark, len(tables))
	for i, table := range tables {
		watermarks[table] = marks[i]
	}
	return watermarks, nil
}

// Run prepares q, binds params (by name, per q.Parameters), and
// returns an Enumerator over the result set. params supplies one
// fleece.Value per entry in q.Parameters; missing names bind SQL NULL.
func (r *Runner) Run(q *query.Query, params map[string]fleece.Value) (*Enumerator, error) {
	args, err := bindArgs(q, params)
	if err != nil {
		return nil, err
	}

	rt, release, err := r.df.BeginReadTxn()
	if err != nil {
		return nil, err
	}

	watermarks, err := snapshotWatermarks(rt, q.CollectionTablesUsed)
	if err != nil {
		release()
		return nil, err
	}

	// The Data-File's single pooled connection stays held by the rows
	// opened below until they are closed, so the digest is taken first.
	payload, err := r.hashRows(q, params)
	if err != nil {
		release()
		return nil, err
	}

	rows, err := r.df.DB().Query(q.SQL, args...)
	if err != nil {
		release()
		return nil, docql.NewError(docql.InvalidQuery, "executing compiled query", err)
	}

	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		release()
		return nil, docql.NewError(docql.SQLite, "reading result columns", err)
	}

	e := &Enumerator{
		runner:     r,
		query:      q,
		params:     params,
		rows:       rows,
		release:    release,
		columns:    cols,
		watermarks: watermarks,
		payload:    payload,
	}
	return e, nil
}

// hashRows re-executes q/params, reads it to completion, and folds every
// result row's columns into a sha256 digest, in row order. It is the
// "re-run row payload" spec.md §4.6 and the enumerator-obsolescence
// invariant compare byte-for-byte: a write that only advances a
// collection's lastSequence (e.g. a no-op rewrite, or a write to a
// column this query never reads) must not make a live enumerator
// report obsolete, so ObsoletedBy's watermark check is necessary but
// not sufficient — Refresh uses this digest to confirm the row set
// actually changed before discarding the enumerator's cursor.
func (r *Runner) hashRows(q *query.Query, params map[string]fleece.Value) (string, error) {
	args, err := bindArgs(q, params)
	if err != nil {
		return "", err
	}
	rows, err := r.df.DB().Query(q.SQL, args...)
	if err != nil {
		return "", docql.NewError(docql.InvalidQuery, "re-executing query for obsolescence check", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return "", docql.NewError(docql.SQLite, "reading result columns", err)
	}
	h := sha256.New()
	dest := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return "", docql.NewError(docql.SQLite, "reading result row", err)
		}
		for _, v := range dest {
			fmt.Fprintf(h, "%T:%v;", v, v)
		}
		h.Write([]byte{'\n'})
	}
	if err := rows.Err(); err != nil {
		return "", docql.NewError(docql.SQLite, "reading result row", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Changed re-runs q/params and reports whether its row count differs
// from prevCount, for a live query deciding whether a watermark bump
// is worth pushing a refresh notification for.
func (r *Runner) Changed(prevCount int64, q *query.Query, params map[string]fleece.Value) (bool, error) {
	e, err := r.Run(q, params)
	if err != nil {
		return false, err
	}
	defer e.Close()
	newCount, err := e.RowCount()
	if err != nil {
		return false, err
	}
	return newCount != prevCount, nil
}

package runner

import (
	docql "github.com/dbsqldef/docql"
	"github.com/dbsqldef/docql/fleece"
	"github.com/dbsqldef/docql/query"
	"github.com/dbsqldef/docql/sqlfn"

	"database/sql"
)

// Enumerator iterates the rows of one Runner.Run call, decoding each
// SQL result column into a query-language Value on demand, per
// spec.md §4.6. Calling Next/Seek moves by whole rows; rows stream
// from database/sql, with no payload/bitmap pairing per row.
type Enumerator struct {
	runner     *Runner
	query      *query.Query
	params     map[string]fleece.Value
	rows       *sql.Rows
	release    func()
	columns    []string
	watermarks map[string]Watermark

	current []any
	started bool
	closed  bool

	// payload is the sha256 digest hashRows computed over the result
	// set at the snapshot watermarks recorded above. Refresh recomputes
	// it on demand and compares, so a watermark bump alone never
	// discards a cursor whose actual rows are unchanged.
	payload string
}

// Next advances to the next row, returning false at end of results or
// on error (check Err() to distinguish).
func (e *Enumerator) Next() bool {
	if e.closed || !e.rows.Next() {
		return false
	}
	e.started = true
	dest := make([]any, len(e.columns))
	ptrs := make([]any, len(e.columns))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	if err := e.rows.Scan(ptrs...); err != nil {
		e.current = nil
		return false
	}
	e.current = dest
	return true
}

// Err surfaces any error the underlying *sql.Rows accumulated.
func (e *Enumerator) Err() error {
	if err := e.rows.Err(); err != nil {
		return docql.NewError(docql.SQLite, "reading result row", err)
	}
	return nil
}

// Columns returns the result column titles, per query.Query.ColumnTitles.
func (e *Enumerator) Columns() []string { return e.query.ColumnTitles }

// Value decodes result column i of the current row into a
// query-language Value, per sqlfn.ResultValue's documented contract:
// every BLOB-typed column is treated as pre-encoded Binary-Doc
// unconditionally (fl_result wraps any non-Binary-Doc blob as a data
// value at SQL-execution time), while every other SQLite storage class
// carries a native scalar converted via sqlfn.FromSQLValue.
// query.Query.FirstCustomResultColumn marks where implicit helper
// columns (e.g. a future FTS offsets() projection) end and the
// caller's own WHAT columns begin; this port's translator never
// prepends helper columns, so it is always 0 today.
func (e *Enumerator) Value(i int) (fleece.Value, error) {
	if i < 0 || i >= len(e.current) {
		return fleece.Missing, docql.Errorf(docql.InvalidParameter, "column index %d out of range", i)
	}
	raw := e.current[i]
	if b, ok := raw.([]byte); ok {
		wrapped, err := sqlfn.ResultValue(b)
		if err != nil {
			return fleece.Missing, docql.NewError(docql.CorruptData, "decoding result column", err)
		}
		wb, _ := wrapped.([]byte)
		v, err := fleece.Parse(wb, nil)
		if err != nil {
			return fleece.Missing, docql.NewError(docql.CorruptData, "parsing result column", err)
		}
		return v, nil
	}
	return sqlfn.FromSQLValue(raw), nil
}

// MissingColumns returns the titles of every column whose current-row
// value is the Missing sentinel (as opposed to an explicit Null),
// mirroring the query language's missing-vs-null distinction at the
// result-row boundary.
func (e *Enumerator) MissingColumns() []string {
	var missing []string
	for i, title := range e.Columns() {
		v, err := e.Value(i)
		if err == nil && v.IsMissing() {
			missing = append(missing, title)
		}
	}
	return missing
}

// RowCount runs a COUNT(*) wrapper around the compiled query's SQL to
// report the total result size, independent of how far Next has
// advanced. It does not affect the current cursor position.
func (e *Enumerator) RowCount() (int64, error) {
	var n int64
	args := make([]any, 0, len(e.query.Parameters))
	for _, name := range e.query.Parameters {
		v := e.params[name]
		sv, err := sqlfn.ToSQLValue(v)
		if err != nil {
			return 0, err
		}
		args = append(args, sql.Named(name, sv))
	}
	row := e.runner.df.DB().QueryRow("SELECT COUNT(*) FROM ("+e.query.SQL+")", args...)
	if err := row.Scan(&n); err != nil {
		return 0, docql.NewError(docql.SQLite, "counting result rows", err)
	}
	return n, nil
}

// FullTextTerms returns the matched full-text terms for the current
// row, when the query used MATCH. This port's translator folds the
// FTS table join into an IN-subquery (see query.translateMatch)
// instead of projecting FTS4's offsets() column through the main
// SELECT list, so term-level match information isn't available from
// the row itself; FullTextTerms always reports none.
func (e *Enumerator) FullTextTerms() []string { return nil }

// Seek re-runs the query and advances n rows in, discarding the
// current cursor. It is O(n) (there is no native SQL OFFSET-free
// cursor positioning via database/sql), acceptable for the
// Non-goals-scoped "good enough" seek spec.md allows.
func (e *Enumerator) Seek(n int) error {
	if err := e.reopen(); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if !e.Next() {
			return e.Err()
		}
	}
	return nil
}

func (e *Enumerator) reopen() error {
	e.rows.Close()
	args := make([]any, 0, len(e.query.Parameters))
	for _, name := range e.query.Parameters {
		v := e.params[name]
		sv, err := sqlfn.ToSQLValue(v)
		if err != nil {
			return err
		}
		args = append(args, sql.Named(name, sv))
	}
	rows, err := e.runner.df.DB().Query(e.query.SQL, args...)
	if err != nil {
		return docql.NewError(docql.InvalidQuery, "re-executing query for seek", err)
	}
	e.rows = rows
	e.started = false
	e.current = nil
	return nil
}

// Clone opens an independent Enumerator over the same query and
// parameters, positioned before the first row.
func (e *Enumerator) Clone() (*Enumerator, error) {
	return e.runner.Run(e.query, e.params)
}

// ObsoletedBy reports whether any collection this query reads from has
// advanced past the snapshot Enumerator was opened with. This is a
// necessary but not sufficient condition for obsolescence: a moved
// watermark only means a write touched the collection, not that this
// query's row set changed. Refresh treats a true result here as "worth
// re-running and comparing", not as proof the enumerator is stale.
func (e *Enumerator) ObsoletedBy(current map[string]Watermark) bool {
	for table, was := range e.watermarks {
		now, ok := current[table]
		if !ok {
			continue
		}
		if now.LastSequence != was.LastSequence || now.PurgeCount != was.PurgeCount {
			return true
		}
	}
	return false
}

// Refresh checks the current watermark of every collection this query
// reads from. If none has moved, it's a no-op. If one has, per
// spec.md §4.6 and the enumerator-obsolescence invariant it re-runs
// the query and compares the re-run row payload byte-for-byte against
// the payload recorded at the last snapshot: only a genuine difference
// discards the cursor and advances the recorded watermark. A watermark
// bump whose re-run payload matches (e.g. a write to a column this
// query never projects or filters on) updates the watermark so the
// next call skips straight to the fast path, but reports no refresh.
func (e *Enumerator) Refresh() (bool, error) {
	rt, release, err := e.runner.df.BeginReadTxn()
	if err != nil {
		return false, err
	}
	current, err := snapshotWatermarks(rt, e.query.CollectionTablesUsed)
	release()
	if err != nil {
		return false, err
	}

	if !e.ObsoletedBy(current) {
		return false, nil
	}

	newPayload, err := e.runner.hashRows(e.query, e.params)
	if err != nil {
		return false, err
	}
	if newPayload == e.payload {
		e.watermarks = current
		return false, nil
	}

	if err := e.reopen(); err != nil {
		return false, err
	}
	e.watermarks = current
	e.payload = newPayload
	return true, nil
}

// Close releases the enumerator's SQL rows and the read transaction
// that pinned its snapshot.
func (e *Enumerator) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	err := e.rows.Close()
	e.release()
	if err != nil {
		return docql.NewError(docql.SQLite, "closing enumerator", err)
	}
	return nil
}

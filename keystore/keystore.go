package keystore

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	docql "github.com/dbsqldef/docql"
	"github.com/dbsqldef/docql/util"
)

// KeyStore is the per-collection handle spec.md §4.4 specifies: one
// table inside the owning Data-File, guarded by that file's mutex.
type KeyStore struct {
	df    *DataFile
	table string
	id    CollectionID

	expirationColumnAdded bool
}

// NewKeyStore opens (creating the backing table if absent) the
// Key-Store for id within df.
func NewKeyStore(df *DataFile, id CollectionID) (*KeyStore, error) {
	table := id.tableName()
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key TEXT PRIMARY KEY,
		sequence INTEGER UNIQUE,
		version BLOB,
		flags INTEGER NOT NULL DEFAULT 0,
		body BLOB,
		extra BLOB
	)`, quoteTable(table))
	df.mu.Lock()
	_, err := df.db.Exec(ddl)
	df.mu.Unlock()
	if err != nil {
		return nil, docql.NewError(docql.SQLite, "creating key-store table", err)
	}
	ks := &KeyStore{df: df, table: table, id: id}
	ks.expirationColumnAdded = ks.hasExpirationColumn()
	return ks, nil
}

func quoteTable(t string) string { return `"` + strings.ReplaceAll(t, `"`, `""`) + `"` }

func (ks *KeyStore) Table() string { return ks.table }

func (ks *KeyStore) hasExpirationColumn() bool {
	var count int
	ks.df.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name='expiration'`, ks.table).Scan(&count)
	return count > 0
}

func (ks *KeyStore) ensureExpirationColumn() error {
	if ks.expirationColumnAdded {
		return nil
	}
	ks.df.mu.Lock()
	defer ks.df.mu.Unlock()
	_, err := ks.df.db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN expiration INTEGER`, quoteTable(ks.table)))
	if err != nil && !strings.Contains(err.Error(), "duplicate column") {
		return docql.NewError(docql.SQLite, "adding expiration column", err)
	}
	ks.expirationColumnAdded = true
	return nil
}

// Get implements the single-row lookup described in spec.md §4.4.
func (ks *KeyStore) Get(keyOrSeq any, by LookupBy, content ContentOption) (Record, error) {
	cols := "key, sequence, version, flags"
	if content == ContentCurrentRev || content == ContentEntireBody {
		cols += ", body"
	}
	if content == ContentEntireBody {
		cols += ", extra"
	}
	if ks.expirationColumnAdded {
		cols += ", expiration"
	}

	var where string
	switch by {
	case ByKey:
		where = "key = ?"
	case BySequence:
		where = "sequence = ?"
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s", cols, quoteTable(ks.table), where)

	ks.df.mu.Lock()
	defer ks.df.mu.Unlock()
	row := ks.df.db.QueryRow(query, keyOrSeq)
	return ks.scanRecord(row, content)
}

func (ks *KeyStore) scanRecord(row *sql.Row, content ContentOption) (Record, error) {
	var r Record
	dest := []any{&r.Key, &r.Sequence, &r.Version, &r.Flags}
	var body, extra sql.NullString
	var expiration sql.NullInt64
	if content == ContentCurrentRev || content == ContentEntireBody {
		dest = append(dest, &body)
	}
	if content == ContentEntireBody {
		dest = append(dest, &extra)
	}
	if ks.expirationColumnAdded {
		dest = append(dest, &expiration)
	}
	if err := row.Scan(dest...); err != nil {
		if err == sql.ErrNoRows {
			return Record{}, docql.NewError(docql.NotFound, "no such record", nil)
		}
		return Record{}, docql.NewError(docql.SQLite, "scanning record", err)
	}
	r.exists = true
	if body.Valid {
		r.Body = []byte(body.String)
	}
	if extra.Valid {
		r.Extra = []byte(extra.String)
	}
	if expiration.Valid {
		r.Expiration = expiration.Int64
	}
	return r, nil
}

// Set implements insert-or-replace with MVCC, per spec.md §4.4: a
// mismatch between the caller's expected (sequence, subsequence) and
// the stored one returns sequence 0 (conflict).
func (ks *KeyStore) Set(update RecordUpdate) (int64, error) {
	ks.df.mu.Lock()
	defer ks.df.mu.Unlock()

	var curSeq sql.NullInt64
	var curFlags DocFlags
	err := ks.df.db.QueryRow(
		fmt.Sprintf("SELECT sequence, flags FROM %s WHERE key = ?", quoteTable(ks.table)),
		update.Key,
	).Scan(&curSeq, &curFlags)
	exists := err == nil
	if err != nil && err != sql.ErrNoRows {
		return 0, docql.NewError(docql.SQLite, "reading current record for set", err)
	}

	if exists {
		expectedSeq := update.ExpectedSequence
		expectedSub := update.ExpectedSubseq
		if curSeq.Int64 != expectedSeq || curFlags.Subsequence() != expectedSub {
			return 0, nil // conflict
		}
	} else if update.ExpectedSequence != 0 {
		return 0, nil // caller expected an existing row that isn't there
	}

	newSeq := curSeq.Int64
	newFlags := curFlags
	if update.PreserveSequence {
		newFlags = curFlags.bumpSubsequence()
	} else {
		newSeq, err = ks.nextSequenceRetrying(update.Key)
		if err != nil {
			return 0, err
		}
		newFlags = DocFlags(0)
	}

	_, err = ks.df.db.Exec(
		fmt.Sprintf(`INSERT INTO %s(key, sequence, version, flags, body) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET sequence=excluded.sequence, version=excluded.version,
				flags=excluded.flags, body=excluded.body`, quoteTable(ks.table)),
		update.Key, newSeq, update.Version, uint64(newFlags), update.Body,
	)
	if err != nil {
		return 0, docql.NewError(docql.SQLite, "writing record", err)
	}
	return newSeq, nil
}

// nextSequenceRetrying wraps kvmetaCache.nextSequence with the single
// retry spec.md §4.4 describes for the rare unique-sequence collision:
// re-read MAX(sequence) and retry once.
func (ks *KeyStore) nextSequenceRetrying(key string) (int64, error) {
	seq, err := ks.df.kvmeta.nextSequence(ks.table, ks.df.db)
	if err != nil {
		return 0, err
	}
	var maxSeq sql.NullInt64
	if err := ks.df.db.QueryRow(fmt.Sprintf("SELECT MAX(sequence) FROM %s", quoteTable(ks.table))).Scan(&maxSeq); err == nil {
		if maxSeq.Valid && maxSeq.Int64 >= seq {
			return ks.df.kvmeta.nextSequence(ks.table, ks.df.db)
		}
	}
	return seq, nil
}

// Del removes a record, optionally conditioned on its expected
// version; it increments the purge count whenever a row is actually
// removed.
func (ks *KeyStore) Del(key string, expectedSeq int64, expectedSub uint64, conditional bool) (bool, error) {
	ks.df.mu.Lock()
	defer ks.df.mu.Unlock()

	if conditional {
		var curSeq int64
		var curFlags DocFlags
		err := ks.df.db.QueryRow(
			fmt.Sprintf("SELECT sequence, flags FROM %s WHERE key = ?", quoteTable(ks.table)), key,
		).Scan(&curSeq, &curFlags)
		if err == sql.ErrNoRows {
			return false, nil
		}
		if err != nil {
			return false, docql.NewError(docql.SQLite, "reading record for delete", err)
		}
		if curSeq != expectedSeq || curFlags.Subsequence() != expectedSub {
			return false, docql.NewError(docql.Conflict, "delete version mismatch", nil)
		}
	}

	res, err := ks.df.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE key = ?", quoteTable(ks.table)), key)
	if err != nil {
		return false, docql.NewError(docql.SQLite, "deleting record", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		if err := ks.df.kvmeta.incrementPurgeCount(ks.table, ks.df.db); err != nil {
			return false, err
		}
	}
	return n > 0, nil
}

// MoveTo moves a single record into dest under an exclusive
// transaction, per spec.md §4.4.
func (ks *KeyStore) MoveTo(key string, dest *KeyStore, newKey string) error {
	if newKey == "" {
		newKey = key
	}
	wt, err := ks.df.BeginWriteTxn()
	if err != nil {
		return err
	}
	tx := wt.Tx()

	var exists int
	if err := tx.QueryRow(fmt.Sprintf("SELECT 1 FROM %s WHERE key = ?", quoteTable(dest.table)), newKey).Scan(&exists); err == nil {
		wt.Rollback()
		return docql.NewError(docql.Conflict, "destination key already exists", nil)
	}

	var body []byte
	var version []byte
	var flags DocFlags
	err = tx.QueryRow(fmt.Sprintf("SELECT body, version, flags FROM %s WHERE key = ?", quoteTable(ks.table)), key).
		Scan(&body, &version, &flags)
	if err == sql.ErrNoRows {
		wt.Rollback()
		return docql.NewError(docql.NotFound, "source record not found", nil)
	}
	if err != nil {
		wt.Rollback()
		return docql.NewError(docql.SQLite, "reading source record", err)
	}

	newSeq, err := ks.df.kvmeta.nextSequence(dest.table, tx)
	if err != nil {
		wt.Rollback()
		return err
	}
	if _, err := tx.Exec(
		fmt.Sprintf("INSERT INTO %s(key, sequence, version, flags, body) VALUES (?, ?, ?, ?, ?)", quoteTable(dest.table)),
		newKey, newSeq, version, uint64(flags), body,
	); err != nil {
		wt.Rollback()
		return docql.NewError(docql.SQLite, "inserting moved record", err)
	}
	if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE key = ?", quoteTable(ks.table)), key); err != nil {
		wt.Rollback()
		return docql.NewError(docql.SQLite, "deleting source record", err)
	}
	return wt.Commit()
}

// SetDocumentFlag ORs flagBits into a record's flags and bumps its
// subsequence.
func (ks *KeyStore) SetDocumentFlag(key string, expectedSeq int64, flagBits DocFlags) error {
	ks.df.mu.Lock()
	defer ks.df.mu.Unlock()

	var curFlags DocFlags
	err := ks.df.db.QueryRow(fmt.Sprintf("SELECT flags FROM %s WHERE key = ? AND sequence = ?", quoteTable(ks.table)),
		key, expectedSeq).Scan(&curFlags)
	if err == sql.ErrNoRows {
		return docql.NewError(docql.NotFound, "record not found for flag update", nil)
	}
	if err != nil {
		return docql.NewError(docql.SQLite, "reading record for flag update", err)
	}
	newFlags := (curFlags | flagBits).bumpSubsequence()
	_, err = ks.df.db.Exec(fmt.Sprintf("UPDATE %s SET flags = ? WHERE key = ?", quoteTable(ks.table)),
		uint64(newFlags), key)
	if err != nil {
		return docql.NewError(docql.SQLite, "writing updated flags", err)
	}
	return nil
}

func (ks *KeyStore) SetExpiration(key string, epochMillis int64) error {
	if err := ks.ensureExpirationColumn(); err != nil {
		return err
	}
	ks.df.mu.Lock()
	defer ks.df.mu.Unlock()
	_, err := ks.df.db.Exec(fmt.Sprintf("UPDATE %s SET expiration = ? WHERE key = ?", quoteTable(ks.table)),
		nullableExpiration(epochMillis), key)
	if err != nil {
		return docql.NewError(docql.SQLite, "setting expiration", err)
	}
	return nil
}

func nullableExpiration(epochMillis int64) any {
	if epochMillis <= 0 {
		return nil
	}
	return epochMillis
}

func (ks *KeyStore) GetExpiration(key string) (int64, error) {
	if !ks.expirationColumnAdded {
		return 0, nil
	}
	ks.df.mu.Lock()
	defer ks.df.mu.Unlock()
	var exp sql.NullInt64
	err := ks.df.db.QueryRow(fmt.Sprintf("SELECT expiration FROM %s WHERE key = ?", quoteTable(ks.table)), key).Scan(&exp)
	if err == sql.ErrNoRows {
		return 0, docql.NewError(docql.NotFound, "record not found", nil)
	}
	if err != nil {
		return 0, docql.NewError(docql.SQLite, "reading expiration", err)
	}
	return exp.Int64, nil
}

func (ks *KeyStore) NextExpiration() (int64, bool, error) {
	if !ks.expirationColumnAdded {
		return 0, false, nil
	}
	ks.df.mu.Lock()
	defer ks.df.mu.Unlock()
	var next sql.NullInt64
	err := ks.df.db.QueryRow(
		fmt.Sprintf("SELECT MIN(expiration) FROM %s WHERE expiration IS NOT NULL", quoteTable(ks.table)),
	).Scan(&next)
	if err != nil {
		return 0, false, docql.NewError(docql.SQLite, "reading next expiration", err)
	}
	if !next.Valid {
		return 0, false, nil
	}
	return next.Int64, true, nil
}

// ExpireRecords deletes every row whose expiration has passed,
// invoking callback per expired key before the batch delete.
func (ks *KeyStore) ExpireRecords(nowMillis int64, callback func(key string)) (int, error) {
	if !ks.expirationColumnAdded {
		return 0, nil
	}
	ks.df.mu.Lock()
	defer ks.df.mu.Unlock()

	rows, err := ks.df.db.Query(
		fmt.Sprintf("SELECT key FROM %s WHERE expiration IS NOT NULL AND expiration < ?", quoteTable(ks.table)),
		nowMillis,
	)
	if err != nil {
		return 0, docql.NewError(docql.SQLite, "selecting expired records", err)
	}
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			rows.Close()
			return 0, docql.NewError(docql.SQLite, "scanning expired key", err)
		}
		keys = append(keys, k)
	}
	rows.Close()

	for _, k := range keys {
		if callback != nil {
			callback(k)
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		placeholders[i] = "?"
		args[i] = k
	}
	res, err := ks.df.db.Exec(
		fmt.Sprintf("DELETE FROM %s WHERE key IN (%s)", quoteTable(ks.table), strings.Join(placeholders, ",")),
		args...,
	)
	if err != nil {
		return 0, docql.NewError(docql.SQLite, "deleting expired records", err)
	}
	if err := ks.df.kvmeta.incrementPurgeCount(ks.table, ks.df.db); err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// WithDocBodies fetches every docID's current body in one SQL query
// with a big IN (...) list, returning results in the request order.
func (ks *KeyStore) WithDocBodies(docIDs []string, callback func(Record)) error {
	if len(docIDs) == 0 {
		return nil
	}
	placeholders := util.TransformSlice(docIDs, func(string) string { return "?" })
	args := util.TransformSlice(docIDs, func(id string) any { return id })

	ks.df.mu.Lock()
	rows, err := ks.df.db.Query(
		fmt.Sprintf("SELECT key, sequence, version, flags, body FROM %s WHERE key IN (%s)",
			quoteTable(ks.table), strings.Join(placeholders, ",")),
		args...,
	)
	if err != nil {
		ks.df.mu.Unlock()
		return docql.NewError(docql.SQLite, "querying doc bodies", err)
	}
	byKey := map[string]Record{}
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Key, &r.Sequence, &r.Version, &r.Flags, &r.Body); err != nil {
			rows.Close()
			ks.df.mu.Unlock()
			return docql.NewError(docql.SQLite, "scanning doc body", err)
		}
		r.exists = true
		byKey[r.Key] = r
	}
	rows.Close()
	ks.df.mu.Unlock()

	for _, id := range docIDs {
		if r, ok := byKey[id]; ok {
			callback(r)
		}
	}
	return nil
}

// EnumerateOptions controls the forward/backward cursor described in
// spec.md §4.4.
type EnumerateOptions struct {
	Descending       bool
	Limit            int
	Offset           int
	IncludeDeleted   bool
	ConflictsOnly    bool
	WithAttachments  bool
}

// Enumerate returns rows filtered by sequence/deletion/conflict/
// attachment status, honoring the requested ordering and limit/offset.
func (ks *KeyStore) Enumerate(bySequence bool, since int64, opts EnumerateOptions) ([]Record, error) {
	ks.df.mu.Lock()
	defer ks.df.mu.Unlock()

	where := []string{}
	args := []any{}
	if bySequence {
		where = append(where, "sequence > ?")
		args = append(args, since)
	}
	if !opts.IncludeDeleted {
		where = append(where, fmt.Sprintf("(flags & %d) = 0", uint64(DocDeleted)))
	}
	if opts.ConflictsOnly {
		where = append(where, fmt.Sprintf("(flags & %d) != 0", uint64(DocConflicted)))
	}
	if opts.WithAttachments {
		where = append(where, fmt.Sprintf("(flags & %d) != 0", uint64(DocHasAttach)))
	}

	order := "sequence ASC"
	if opts.Descending {
		order = "sequence DESC"
	}

	query := fmt.Sprintf("SELECT key, sequence, version, flags, body FROM %s", quoteTable(ks.table))
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + order
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	rows, err := ks.df.db.Query(query, args...)
	if err != nil {
		return nil, docql.NewError(docql.SQLite, "enumerating records", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Key, &r.Sequence, &r.Version, &r.Flags, &r.Body); err != nil {
			return nil, docql.NewError(docql.SQLite, "scanning enumerated record", err)
		}
		r.exists = true
		out = append(out, r)
	}
	return out, nil
}

// sortedKeys returns m's keys in sorted order, for callers that need
// a deterministic iteration order over a map.
func sortedKeys(m map[string]Record) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

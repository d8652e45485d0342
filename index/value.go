package index

import (
	"fmt"
	"strings"

	docql "github.com/dbsqldef/docql"
	"github.com/dbsqldef/docql/keystore"
)

// CreateValueIndex registers name as a value index over the given
// Binary-Doc paths on ks, backed by a plain SQL index over
// fl_value(body, path) expressions, per spec.md §4.1. Idempotent: an
// identical existing definition is a no-op; a differently-defined
// index with the same name is replaced.
func (m *Manager) CreateValueIndex(ks *keystore.KeyStore, name string, paths []string, whereClause string) error {
	if err := validateIndexName(name); err != nil {
		return err
	}
	if len(paths) == 0 {
		return docql.NewError(docql.InvalidParameter, "value index requires at least one path", nil)
	}
	expression := marshalExpression(paths)

	m.mu.RLock()
	existing, exists := m.specs[name]
	m.mu.RUnlock()
	if exists {
		if sameSpec(existing, TypeValue, expression, whereClause) {
			return nil
		}
		if err := m.DeleteIndex(name); err != nil {
			return err
		}
	}

	table := ks.Table()
	var exprs []string
	for _, p := range paths {
		exprs = append(exprs, fmt.Sprintf("fl_value(body, %s)", sqlStringLit(p)))
	}
	ddl := fmt.Sprintf(`CREATE INDEX %s ON %s(%s)`, quoteIdent(name), quoteIdent(table), fmtCols(exprs))
	if whereClause != "" {
		ddl += " WHERE " + whereClause
	}

	m.df.Lock()
	_, err := m.df.DB().Exec(ddl)
	m.df.Unlock()
	if err != nil {
		return docql.NewError(docql.SQLite, "creating value index", err)
	}

	spec := &Spec{
		Name:             name,
		Type:             TypeValue,
		Table:            table,
		Expression:       expression,
		WhereClause:      whereClause,
		IndexedSequences: NewSequenceSet(),
	}
	if err := m.insertRegistryRow(spec); err != nil {
		return err
	}
	m.mu.Lock()
	m.specs[name] = spec
	m.rebuildResolutionLocked()
	m.mu.Unlock()
	return nil
}

// DeleteIndex drops name's SQL artifact (index, virtual table, or
// shadow table, depending on type) and its registry row, then runs
// GC over the remaining index artifacts. Deleting a
// name that doesn't exist is a no-op, matching spec.md §4.5's
// "deleting an absent index succeeds silently" edge case.
func (m *Manager) DeleteIndex(name string) error {
	m.mu.RLock()
	spec, ok := m.specs[name]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	m.df.Lock()
	var err error
	switch spec.Type {
	case TypeValue, TypeArray:
		_, err = m.df.DB().Exec(`DROP INDEX IF EXISTS ` + quoteIdent(name))
		if spec.Type == TypeArray && spec.IndexTableName != "" {
			if _, e2 := m.df.DB().Exec(`DROP TABLE IF EXISTS ` + quoteIdent(spec.IndexTableName)); e2 != nil && err == nil {
				err = e2
			}
			dropUnnestTriggers(m.df, spec.Table, spec.IndexTableName)
		}
	case TypeFullText:
		if spec.IndexTableName != "" {
			_, err = m.df.DB().Exec(`DROP TABLE IF EXISTS ` + quoteIdent(spec.IndexTableName))
			dropFTSTriggers(m.df, spec.Table, spec.IndexTableName)
		}
	case TypePredictive, TypeVector:
		if spec.IndexTableName != "" {
			_, err = m.df.DB().Exec(`DROP TABLE IF EXISTS ` + quoteIdent(spec.IndexTableName))
		}
	}
	if err == nil {
		_, err = m.df.DB().Exec(`DELETE FROM indexes WHERE name = ?`, name)
	}
	m.df.Unlock()
	if err != nil {
		return docql.NewError(docql.SQLite, "deleting index", err)
	}

	m.mu.Lock()
	delete(m.specs, name)
	m.rebuildResolutionLocked()
	m.mu.Unlock()
	return m.GC()
}

// GC drops the SQL artifact of any index-shaped table or trigger found
// in sqlite_master that has no matching registry row, the way an
// interrupted CreateIndex/DeleteIndex call can leave one behind.
// Per spec.md §4.5's garbage-collection edge case.
func (m *Manager) GC() error {
	m.mu.RLock()
	known := make(map[string]bool, len(m.specs))
	var ownedPrefixes []string
	for _, s := range m.specs {
		if s.IndexTableName != "" {
			known[s.IndexTableName] = true
			// FTS4 shadow tables (<fts>_content, ...) and the unnest
			// table's "<shadow>::byDoc" index belong to the live index.
			ownedPrefixes = append(ownedPrefixes, s.IndexTableName+"_", s.IndexTableName+"::")
		}
		for _, suffix := range []string{"ins", "del", "upd"} {
			known[s.Table+"::"+s.Name+"::"+suffix] = true
		}
	}
	m.mu.RUnlock()

	m.df.Lock()
	defer m.df.Unlock()
	rows, err := m.df.DB().Query(`SELECT name, type FROM sqlite_master WHERE name LIKE '%::%'`)
	if err != nil {
		return docql.NewError(docql.SQLite, "scanning sqlite_master for orphans", err)
	}
	defer rows.Close()

	var orphans []struct{ name, typ string }
	for rows.Next() {
		var n, t string
		if err := rows.Scan(&n, &t); err != nil {
			return err
		}
		owned := known[n]
		for _, p := range ownedPrefixes {
			owned = owned || strings.HasPrefix(n, p)
		}
		if !owned {
			orphans = append(orphans, struct{ name, typ string }{n, t})
		}
	}
	for _, o := range orphans {
		stmt := "DROP TABLE IF EXISTS " + quoteIdent(o.name)
		if o.typ == "trigger" {
			stmt = "DROP TRIGGER IF EXISTS " + quoteIdent(o.name)
		}
		if _, err := m.df.DB().Exec(stmt); err != nil {
			return docql.NewError(docql.SQLite, "dropping orphaned index artifact "+o.name, err)
		}
	}
	return nil
}

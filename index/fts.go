package index

import (
	"fmt"

	docql "github.com/dbsqldef/docql"
	"github.com/dbsqldef/docql/keystore"
)

// ftsTableName follows the naming the translator's fakeCatalog and
// the real query.Catalog contract expect: "<ownerTable>::<indexName>".
func ftsTableName(table, name string) string { return table + "::" + name }

// CreateFTSIndex registers a full-text index over a single Binary-Doc
// path, backed by an FTS4 virtual table kept in sync with triggers on
// the owning collection table, per spec.md §4.2. FTS4 (not FTS5) is
// used because the rank() scorer in package sqlfn parses FTS4's
// matchinfo() layout.
func (m *Manager) CreateFTSIndex(ks *keystore.KeyStore, name, path string) error {
	if err := validateIndexName(name); err != nil {
		return err
	}
	if path == "" {
		return docql.NewError(docql.InvalidParameter, "full-text index requires a path", nil)
	}
	expression := marshalExpression([]string{path})

	m.mu.RLock()
	existing, exists := m.specs[name]
	m.mu.RUnlock()
	if exists {
		if sameSpec(existing, TypeFullText, expression, "") {
			return nil
		}
		if err := m.DeleteIndex(name); err != nil {
			return err
		}
	}

	table := ks.Table()
	ftsTable := ftsTableName(table, name)

	m.df.Lock()
	defer m.df.Unlock()
	db := m.df.DB()

	ddl := fmt.Sprintf(`CREATE VIRTUAL TABLE %s USING fts4(content, tokenize=unicode61)`, quoteIdent(ftsTable))
	if _, err := db.Exec(ddl); err != nil {
		return docql.NewError(docql.SQLite, "creating fts4 table", err)
	}

	insTrig := table + "::" + name + "::ins"
	delTrig := table + "::" + name + "::del"
	updTrig := table + "::" + name + "::upd"

	valueExpr := fmt.Sprintf("fl_fts_value(new.body, %s)", sqlStringLit(path))
	stmts := []string{
		fmt.Sprintf(`CREATE TRIGGER %s AFTER INSERT ON %s BEGIN
			INSERT INTO %s(rowid, content) VALUES (new.rowid, %s);
		END`, quoteIdent(insTrig), quoteIdent(table), quoteIdent(ftsTable), valueExpr),
		fmt.Sprintf(`CREATE TRIGGER %s AFTER DELETE ON %s BEGIN
			DELETE FROM %s WHERE rowid = old.rowid;
		END`, quoteIdent(delTrig), quoteIdent(table), quoteIdent(ftsTable)),
		fmt.Sprintf(`CREATE TRIGGER %s AFTER UPDATE OF body ON %s BEGIN
			DELETE FROM %s WHERE rowid = old.rowid;
			INSERT INTO %s(rowid, content) VALUES (new.rowid, %s);
		END`, quoteIdent(updTrig), quoteIdent(table), quoteIdent(ftsTable), quoteIdent(ftsTable), valueExpr),
		fmt.Sprintf(`INSERT INTO %s(rowid, content) SELECT rowid, fl_fts_value(body, %s) FROM %s`,
			quoteIdent(ftsTable), sqlStringLit(path), quoteIdent(table)),
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return docql.NewError(docql.SQLite, "wiring fts trigger", err)
		}
	}

	spec := &Spec{
		Name:             name,
		Type:             TypeFullText,
		Table:            table,
		Expression:       expression,
		IndexTableName:   ftsTable,
		IndexedSequences: NewSequenceSet(),
	}
	m.df.Unlock()
	err := m.insertRegistryRow(spec)
	m.df.Lock()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.specs[name] = spec
	m.rebuildResolutionLocked()
	m.mu.Unlock()
	return nil
}

func dropFTSTriggers(df *keystore.DataFile, table, ftsTable string) {
	name := ftsTable[len(table)+2:]
	for _, suffix := range []string{"ins", "del", "upd"} {
		_, _ = df.DB().Exec(`DROP TRIGGER IF EXISTS ` + quoteIdent(table+"::"+name+"::"+suffix))
	}
}

package index

import (
	"fmt"

	docql "github.com/dbsqldef/docql"
	"github.com/dbsqldef/docql/keystore"
)

// unnestTableName mirrors LiteCore's shadow-table naming for UNNEST
// indexes: "<ownerTable>:unnest:<indexName>".
func unnestTableName(table, name string) string { return table + ":unnest:" + name }

// CreateArrayIndex registers an index over an UNNEST'd array property,
// per spec.md §4.3. Because SQLite can't index a table-valued function
// directly, a shadow table is populated and kept current by triggers
// driven off fl_each, then indexed normally.
func (m *Manager) CreateArrayIndex(ks *keystore.KeyStore, name, path string) error {
	if err := validateIndexName(name); err != nil {
		return err
	}
	if path == "" {
		return docql.NewError(docql.InvalidParameter, "array index requires a path", nil)
	}
	expression := marshalExpression([]string{path})

	m.mu.RLock()
	existing, exists := m.specs[name]
	m.mu.RUnlock()
	if exists {
		if sameSpec(existing, TypeArray, expression, "") {
			return nil
		}
		if err := m.DeleteIndex(name); err != nil {
			return err
		}
	}

	table := ks.Table()
	shadow := unnestTableName(table, name)

	m.df.Lock()
	db := m.df.DB()

	if _, err := db.Exec(fmt.Sprintf(`CREATE TABLE %s (
		docRowid INTEGER NOT NULL,
		value BLOB
	)`, quoteIdent(shadow))); err != nil {
		m.df.Unlock()
		return docql.NewError(docql.SQLite, "creating unnest shadow table", err)
	}
	if _, err := db.Exec(fmt.Sprintf(`CREATE INDEX %s ON %s(docRowid)`,
		quoteIdent(shadow+"::byDoc"), quoteIdent(shadow))); err != nil {
		m.df.Unlock()
		return docql.NewError(docql.SQLite, "indexing unnest shadow table by doc", err)
	}
	if _, err := db.Exec(fmt.Sprintf(`CREATE INDEX %s ON %s(fl_unnested_value(value, ''))`,
		quoteIdent(name), quoteIdent(shadow))); err != nil {
		m.df.Unlock()
		return docql.NewError(docql.SQLite, "creating array value index", err)
	}

	insTrig := table + "::" + name + "::ins"
	delTrig := table + "::" + name + "::del"
	updTrig := table + "::" + name + "::upd"
	populate := fmt.Sprintf(`INSERT INTO %s(docRowid, value)
		SELECT new.rowid, value FROM fl_each(new.body, %s)`, quoteIdent(shadow), sqlStringLit(path))

	stmts := []string{
		fmt.Sprintf(`CREATE TRIGGER %s AFTER INSERT ON %s BEGIN %s; END`,
			quoteIdent(insTrig), quoteIdent(table), populate),
		fmt.Sprintf(`CREATE TRIGGER %s AFTER DELETE ON %s BEGIN
			DELETE FROM %s WHERE docRowid = old.rowid;
		END`, quoteIdent(delTrig), quoteIdent(table), quoteIdent(shadow)),
		fmt.Sprintf(`CREATE TRIGGER %s AFTER UPDATE OF body ON %s BEGIN
			DELETE FROM %s WHERE docRowid = old.rowid;
			INSERT INTO %s(docRowid, value) SELECT new.rowid, value FROM fl_each(new.body, %s);
		END`, quoteIdent(updTrig), quoteIdent(table), quoteIdent(shadow), quoteIdent(shadow), sqlStringLit(path)),
		fmt.Sprintf(`INSERT INTO %s(docRowid, value) SELECT rowid, value FROM %s, fl_each(%s.body, %s)`,
			quoteIdent(shadow), quoteIdent(table), quoteIdent(table), sqlStringLit(path)),
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			m.df.Unlock()
			return docql.NewError(docql.SQLite, "wiring unnest trigger", err)
		}
	}
	m.df.Unlock()

	spec := &Spec{
		Name:             name,
		Type:             TypeArray,
		Table:            table,
		Expression:       expression,
		IndexTableName:   shadow,
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

func dropUnnestTriggers(df *keystore.DataFile, table, shadow string) {
	name := shadow[len(table)+len(":unnest:"):]
	for _, suffix := range []string{"ins", "del", "upd"} {
		_, _ = df.DB().Exec(`DROP TRIGGER IF EXISTS ` + quoteIdent(table+"::"+name+"::"+suffix))
	}
}

package index

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	docql "github.com/dbsqldef/docql"
	"github.com/dbsqldef/docql/keystore"
)

// predictiveTableName follows LiteCore's shadow-table naming for
// prediction caches: "<ownerTable>:prediction:<digest>", where digest
// is a short hash of the model name plus its input path so two
// indexes over different paths with the same model don't collide.
func predictiveTableName(table, modelName, path string) string {
	sum := sha1.Sum([]byte(modelName + "\x00" + path))
	return table + ":prediction:" + hex.EncodeToString(sum[:8])
}

// CreatePredictiveIndex registers a cache table for PREDICTION(modelName, input)
// results, keeping it current via insert/update/delete triggers that
// invoke fl_predict, per spec.md §4.4.
func (m *Manager) CreatePredictiveIndex(ks *keystore.KeyStore, name, modelName, path string) error {
	if err := validateIndexName(name); err != nil {
		return err
	}
	if modelName == "" || path == "" {
		return docql.NewError(docql.InvalidParameter, "predictive index requires a model name and a path", nil)
	}
	expression := marshalExpression([]string{path})

	m.mu.RLock()
	existing, exists := m.specs[name]
	m.mu.RUnlock()
	if exists {
		if sameSpec(existing, TypePredictive, expression, modelName) {
			return nil
		}
		if err := m.DeleteIndex(name); err != nil {
			return err
		}
	}

	table := ks.Table()
	shadow := predictiveTableName(table, modelName, path)
	predictExpr := fmt.Sprintf("fl_predict(%s, fl_value(new.body, %s))", sqlStringLit(modelName), sqlStringLit(path))

	m.df.Lock()
	db := m.df.DB()
	ddl := fmt.Sprintf(`CREATE TABLE %s (docRowid INTEGER PRIMARY KEY, prediction BLOB)`, quoteIdent(shadow))
	if _, err := db.Exec(ddl); err != nil {
		m.df.Unlock()
		return docql.NewError(docql.SQLite, "creating predictive shadow table", err)
	}

	insTrig := table + "::" + name + "::ins"
	delTrig := table + "::" + name + "::del"
	updTrig := table + "::" + name + "::upd"
	stmts := []string{
		fmt.Sprintf(`CREATE TRIGGER %s AFTER INSERT ON %s BEGIN
			INSERT INTO %s(docRowid, prediction) VALUES (new.rowid, %s);
		END`, quoteIdent(insTrig), quoteIdent(table), quoteIdent(shadow), predictExpr),
		fmt.Sprintf(`CREATE TRIGGER %s AFTER DELETE ON %s BEGIN
			DELETE FROM %s WHERE docRowid = old.rowid;
		END`, quoteIdent(delTrig), quoteIdent(table), quoteIdent(shadow)),
		fmt.Sprintf(`CREATE TRIGGER %s AFTER UPDATE OF body ON %s BEGIN
			DELETE FROM %s WHERE docRowid = old.rowid;
			INSERT INTO %s(docRowid, prediction) VALUES (new.rowid, %s);
		END`, quoteIdent(updTrig), quoteIdent(table), quoteIdent(shadow), quoteIdent(shadow), predictExpr),
		fmt.Sprintf(`INSERT INTO %s(docRowid, prediction) SELECT rowid, fl_predict(%s, fl_value(body, %s)) FROM %s`,
			quoteIdent(shadow), sqlStringLit(modelName), sqlStringLit(path), quoteIdent(table)),
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			m.df.Unlock()
			return docql.NewError(docql.SQLite, "wiring predictive trigger", err)
		}
	}
	m.df.Unlock()

	spec := &Spec{
		Name:             name,
		Type:             TypePredictive,
		Table:            table,
		Expression:       expression,
		WhereClause:      modelName,
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

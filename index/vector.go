package index

import (
	"fmt"

	docql "github.com/dbsqldef/docql"
	"github.com/dbsqldef/docql/keystore"
)

// vectorTableName follows the registry's indexTableName convention for
// vector indexes: a private flat table, not a virtual table, since
// this port's vector backend does no ANN clustering (see
// VectorOptions's doc comment and DESIGN.md).
func vectorTableName(table, name string) string { return table + ":vector:" + name }

// CreateVectorIndex registers a vector index over path, per spec.md
// §4.5. When opts.Lazy is set, the shadow table starts empty and the
// index's indexedSequences watermark is driven by package lazyindex's
// begin_update/finish protocol instead of by triggers.
func (m *Manager) CreateVectorIndex(ks *keystore.KeyStore, name, path string, opts VectorOptions) error {
	if err := validateIndexName(name); err != nil {
		return err
	}
	if opts.Dimensions <= 0 {
		return docql.NewError(docql.InvalidParameter, "vector index requires a positive dimension count", nil)
	}
	opts.Metric = opts.Metric.Normalize()
	expression := marshalExpression([]string{path})

	m.mu.RLock()
	existing, exists := m.specs[name]
	m.mu.RUnlock()
	if exists {
		if sameSpec(existing, TypeVector, expression, "") && existing.Vector == opts {
			return nil
		}
		if err := m.DeleteIndex(name); err != nil {
			return err
		}
	}

	table := ks.Table()
	shadow := vectorTableName(table, name)

	m.df.Lock()
	db := m.df.DB()
	ddl := fmt.Sprintf(`CREATE TABLE %s (docid INTEGER PRIMARY KEY, vector BLOB NOT NULL)`, quoteIdent(shadow))
	if _, err := db.Exec(ddl); err != nil {
		m.df.Unlock()
		return docql.NewError(docql.SQLite, "creating vector shadow table", err)
	}

	if !opts.Lazy {
		insTrig := table + "::" + name + "::ins"
		delTrig := table + "::" + name + "::del"
		updTrig := table + "::" + name + "::upd"
		vecExpr := fmt.Sprintf("fl_value(new.body, %s)", sqlStringLit(path))
		stmts := []string{
			fmt.Sprintf(`CREATE TRIGGER %s AFTER INSERT ON %s WHEN %s IS NOT NULL BEGIN
				INSERT INTO %s(docid, vector) VALUES (new.rowid, %s);
			END`, quoteIdent(insTrig), quoteIdent(table), vecExpr, quoteIdent(shadow), vecExpr),
			fmt.Sprintf(`CREATE TRIGGER %s AFTER DELETE ON %s BEGIN
				DELETE FROM %s WHERE docid = old.rowid;
			END`, quoteIdent(delTrig), quoteIdent(table), quoteIdent(shadow)),
			fmt.Sprintf(`CREATE TRIGGER %s AFTER UPDATE OF body ON %s BEGIN
				DELETE FROM %s WHERE docid = old.rowid;
				INSERT INTO %s(docid, vector) SELECT new.rowid, %s WHERE %s IS NOT NULL;
			END`, quoteIdent(updTrig), quoteIdent(table), quoteIdent(shadow), quoteIdent(shadow), vecExpr, vecExpr),
		}
		for _, s := range stmts {
			if _, err := db.Exec(s); err != nil {
				m.df.Unlock()
				return docql.NewError(docql.SQLite, "wiring vector trigger", err)
			}
		}
	}
	m.df.Unlock()

	spec := &Spec{
		Name:             name,
		Type:             TypeVector,
		Table:            table,
		Expression:       expression,
		IndexTableName:   shadow,
		IndexedSequences: NewSequenceSet(),
		Vector:           opts,
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

// VectorSpec returns the stored options for a vector index, used by
// package lazyindex to size and scope its update batches.
func (m *Manager) VectorSpec(name string) (Spec, bool) {
	return m.Get(name)
}

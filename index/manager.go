package index

import (
	"database/sql"
	"encoding/json"
	"strings"
	"sync"

	docql "github.com/dbsqldef/docql"
	"github.com/dbsqldef/docql/keystore"
	"github.com/dbsqldef/docql/util"
)

// Manager owns the indexes registry table for one Data-File and
// dispatches index creation/deletion to the per-type builders in this
// package, the way the teacher's schema.Generator dispatches DDL
// generation by mode. Every index known to the system has exactly one
// row here and exactly one matching SQL artifact; Manager enforces
// that invariant on every Create/Delete call.
type Manager struct {
	df *keystore.DataFile

	mu    sync.RWMutex
	specs map[string]*Spec // by index name

	// resolution indices, rebuilt whenever specs changes, used to
	// implement query.Catalog without a linear scan per lookup.
	valueByTablePath map[string]string      // table+"\x00"+path -> index name
	ftsByTablePath   map[string]string      // table+"\x00"+path -> fts table
	vectorByName     map[string]vectorEntry // table+"\x00"+name -> entry
	predictByModel   map[string]string      // table+"\x00"+model -> shadow table
}

type vectorEntry struct {
	table  string
	metric VectorMetric
}

// NewManager opens (creating if absent) the indexes registry on df and
// loads every registered index's spec into memory.
func NewManager(df *keystore.DataFile) (*Manager, error) {
	m := &Manager{df: df, specs: map[string]*Spec{}}
	if err := m.loadRegistry(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) db() *sql.DB { return m.df.DB() }

func (m *Manager) loadRegistry() error {
	m.df.Lock()
	rows, err := m.df.DB().Query(`SELECT name, collection, type, expression, whereClause,
		options, indexTableName, indexedSequences, lastSeq FROM indexes`)
	m.df.Unlock()
	if err != nil {
		return docql.NewError(docql.SQLite, "loading index registry", err)
	}
	defer rows.Close()

	specs := map[string]*Spec{}
	for rows.Next() {
		var name, table, whereClause, options, indexTableName, indexedSeq sql.NullString
		var expression string
		var typeInt int
		var lastSeq int64
		if err := rows.Scan(&name, &table, &typeInt, &expression, &whereClause,
			&options, &indexTableName, &indexedSeq, &lastSeq); err != nil {
			return docql.NewError(docql.SQLite, "scanning index registry row", err)
		}
		spec := &Spec{
			Name:           name.String,
			Type:           Type(typeInt),
			Table:          table.String,
			Expression:     expression,
			WhereClause:    whereClause.String,
			IndexTableName: indexTableName.String,
			LastSeq:        lastSeq,
		}
		if spec.Type == TypeVector && options.Valid {
			_ = json.Unmarshal([]byte(options.String), &spec.Vector)
		}
		seqSet := NewSequenceSet()
		if indexedSeq.Valid && indexedSeq.String != "" {
			_ = seqSet.UnmarshalJSON([]byte(indexedSeq.String))
		}
		spec.IndexedSequences = seqSet
		specs[spec.Name] = spec
	}
	m.mu.Lock()
	m.specs = specs
	m.rebuildResolutionLocked()
	m.mu.Unlock()
	return nil
}

func (m *Manager) rebuildResolutionLocked() {
	m.valueByTablePath = map[string]string{}
	m.ftsByTablePath = map[string]string{}
	m.vectorByName = map[string]vectorEntry{}
	m.predictByModel = map[string]string{}
	for _, spec := range m.specs {
		paths := unmarshalExpression(spec.Expression)
		switch spec.Type {
		case TypeValue:
			for _, p := range paths {
				m.valueByTablePath[resolveKey(spec.Table, p)] = spec.Name
			}
		case TypeFullText:
			for _, p := range paths {
				m.ftsByTablePath[resolveKey(spec.Table, p)] = spec.IndexTableName
			}
		case TypeVector:
			m.vectorByName[resolveKey(spec.Table, spec.Name)] = vectorEntry{
				table: spec.IndexTableName, metric: spec.Vector.Metric.Normalize(),
			}
		case TypePredictive:
			if spec.WhereClause != "" {
				m.predictByModel[resolveKey(spec.Table, spec.WhereClause)] = spec.IndexTableName
			}
		}
	}
}

func resolveKey(table, key string) string { return table + "\x00" + key }

func (m *Manager) insertRegistryRow(spec *Spec) error {
	var options string
	if spec.Type == TypeVector {
		b, _ := json.Marshal(spec.Vector)
		options = string(b)
	}
	indexedSeqJSON, _ := spec.IndexedSequences.MarshalJSON()
	m.df.Lock()
	defer m.df.Unlock()
	_, err := m.df.DB().Exec(`INSERT INTO indexes(name, collection, type, expression, whereClause,
			options, indexTableName, indexedSequences, lastSeq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET collection=excluded.collection, type=excluded.type,
			expression=excluded.expression, whereClause=excluded.whereClause, options=excluded.options,
			indexTableName=excluded.indexTableName, indexedSequences=excluded.indexedSequences,
			lastSeq=excluded.lastSeq`,
		spec.Name, spec.Table, int(spec.Type), spec.Expression, nullIfEmpty(spec.WhereClause),
		nullIfEmpty(options), nullIfEmpty(spec.IndexTableName), string(indexedSeqJSON), spec.LastSeq)
	if err != nil {
		return docql.NewError(docql.SQLite, "writing index registry row", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// PersistIndexedSequences saves a lazy index's updated watermark back
// to the registry, used by package lazyindex's finish step.
func (m *Manager) PersistIndexedSequences(name string, seqs *SequenceSet) error {
	m.mu.Lock()
	spec, ok := m.specs[name]
	if !ok {
		m.mu.Unlock()
		return docql.Errorf(docql.NoSuchIndex, "no such index %q", name)
	}
	spec.IndexedSequences = seqs
	m.mu.Unlock()

	data, _ := seqs.MarshalJSON()
	m.df.Lock()
	defer m.df.Unlock()
	_, err := m.df.DB().Exec(`UPDATE indexes SET indexedSequences = ? WHERE name = ?`, string(data), name)
	if err != nil {
		return docql.NewError(docql.SQLite, "persisting indexedSequences", err)
	}
	return nil
}

// Get returns the spec for name, or ok=false.
func (m *Manager) Get(name string) (Spec, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.specs[name]
	if !ok {
		return Spec{}, false
	}
	return *s, true
}

// List returns every index registered against table (a KeyStore's SQL
// table name), per spec.md §4.5's "enumerate rows filtered by owning
// KeyStore".
func (m *Manager) List(table string) []Spec {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Spec
	for _, s := range util.CanonicalMapIter(m.specs) {
		if s.Table == table {
			out = append(out, *s)
		}
	}
	return out
}

func validateIndexName(name string) error {
	if name == "" {
		return docql.NewError(docql.InvalidParameter, "index name must not be empty", nil)
	}
	if strings.ContainsRune(name, '"') {
		return docql.NewError(docql.InvalidParameter, "index name must not contain a double quote", nil)
	}
	return nil
}

// sameSpec reports whether a newly requested index definition is
// identical to what's already registered under that name, per the
// idempotence invariant (spec.md §8 property 4): calling CreateIndex
// twice with the same spec is a no-op.
func sameSpec(existing *Spec, typ Type, expression, whereClause string) bool {
	return existing.Type == typ && existing.Expression == expression && existing.WhereClause == whereClause
}

func quoteIdent(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }
func sqlStringLit(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func fmtCols(cols []string) string { return strings.Join(cols, ", ") }

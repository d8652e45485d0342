package index

// CollectionTable satisfies query.Catalog for the default (unnamed)
// scope, delegating to the owning Data-File. The translator only ever
// needs the table's SQL name, not the collection's structured
// identity, so Manager — which is constructed per Data-File, same as
// keystore.DataFile itself — forwards into it directly.
func (m *Manager) CollectionTable(name string) (string, bool) {
	return m.df.CollectionTable("", name)
}

// ResolveValueIndex implements query.Catalog, resolving a property
// path against a registered value index on table.
func (m *Manager) ResolveValueIndex(table, path string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.valueByTablePath[resolveKey(table, path)]
	return name, ok
}

// ResolveFTSIndex implements query.Catalog, resolving a property path
// to the FTS4 virtual table backing a full-text index over it.
func (m *Manager) ResolveFTSIndex(table, path string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ftsTable, ok := m.ftsByTablePath[resolveKey(table, path)]
	return ftsTable, ok
}

// ResolveVectorIndex implements query.Catalog, resolving a vector
// index's registered name to its shadow table and normalized metric.
func (m *Manager) ResolveVectorIndex(table, indexName string) (string, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.vectorByName[resolveKey(table, indexName)]
	if !ok {
		return "", "", false
	}
	return entry.table, string(entry.metric), true
}

// ResolvePredictiveIndex implements query.Catalog, resolving a model
// name to the shadow table caching its predictions over table.
func (m *Manager) ResolvePredictiveIndex(table, modelName string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	shadow, ok := m.predictByModel[resolveKey(table, modelName)]
	return shadow, ok
}

package keystore

import "strings"

// mangleTableName escapes a collection's scope/name into a safe SQL
// table identifier: every uppercase rune is prefixed with a backslash,
// and scope/name are joined with a single backslash separator, per
// spec.md §3's mangling rule. "kv_" is prepended so the mangled name
// never collides with docql's own reserved tables (indexes, kvmeta).
func mangleTableName(scope, name string) string {
	var sb strings.Builder
	sb.WriteString("kv_")
	sb.WriteString(mangleComponent(scope))
	sb.WriteByte('\\')
	sb.WriteString(mangleComponent(name))
	return sb.String()
}

func mangleComponent(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// CollectionID names one collection within a Data-File.
type CollectionID struct {
	Scope string
	Name  string
}

func (c CollectionID) tableName() string { return mangleTableName(c.Scope, c.Name) }

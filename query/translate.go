package query

import (
	"fmt"
	"strconv"
	"strings"
)

// Translate walks ast and emits the SQL text plus side outputs
// spec.md §4.3 lists, resolving property references, meta columns,
// ANY/EVERY, MATCH and APPROX_VECTOR_DISTANCE against catalog. It
// builds the SELECT in one pass per clause, the same "emit into a
// strings.Builder while accumulating side state" shape the teacher's
// schema.Generator uses for DDL generation.
func Translate(ast *AST, catalog Catalog) (*Query, error) {
	if ast == nil {
		return nil, newErr("nil AST")
	}
	if len(ast.What) == 0 {
		return nil, newErr("WHAT must name at least one result expression")
	}
	if len(ast.From) == 0 {
		return nil, newErr("FROM must name at least one collection")
	}

	t := &translator{
		catalog:     catalog,
		aliases:     map[string]fromBinding{},
		paramSeen:   map[string]bool{},
		loopVars:    map[string]string{},
		nextEachAls: 0,
	}

	var from strings.Builder
	if err := t.translateFrom(ast.From, &from); err != nil {
		return nil, err
	}

	var what strings.Builder
	titles := make([]string, 0, len(ast.What))
	for i, e := range ast.What {
		if i > 0 {
			what.WriteString(", ")
		}
		sqlExpr, err := t.translateExpr(e)
		if err != nil {
			return nil, err
		}
		what.WriteString("fl_result(")
		what.WriteString(sqlExpr)
		what.WriteString(")")
		if e.Alias != "" {
			what.WriteString(" AS ")
			what.WriteString(quoteIdent(e.Alias))
			titles = append(titles, e.Alias)
		} else {
			titles = append(titles, renderTitle(e))
		}
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	if ast.Distinct {
		sb.WriteString("DISTINCT ")
	}
	sb.WriteString(what.String())
	sb.WriteString(" FROM ")
	sb.WriteString(from.String())

	if !ast.Where.IsZero() {
		whereSQL, err := t.translateExpr(ast.Where)
		if err != nil {
			return nil, err
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(whereSQL)
	}

	if len(ast.GroupBy) > 0 {
		sb.WriteString(" GROUP BY ")
		for i, e := range ast.GroupBy {
			if i > 0 {
				sb.WriteString(", ")
			}
			s, err := t.translateExpr(e)
			if err != nil {
				return nil, err
			}
			sb.WriteString(s)
		}
	}

	if !ast.Having.IsZero() {
		s, err := t.translateExpr(ast.Having)
		if err != nil {
			return nil, err
		}
		sb.WriteString(" HAVING ")
		sb.WriteString(s)
	}

	if len(ast.OrderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		for i, term := range ast.OrderBy {
			if i > 0 {
				sb.WriteString(", ")
			}
			s, err := t.translateOrderTerm(term, titles)
			if err != nil {
				return nil, err
			}
			sb.WriteString(s)
		}
	}

	if !ast.Limit.IsZero() {
		s, err := t.translateExpr(ast.Limit)
		if err != nil {
			return nil, err
		}
		sb.WriteString(" LIMIT ")
		sb.WriteString(s)
	}
	if !ast.Offset.IsZero() {
		s, err := t.translateExpr(ast.Offset)
		if err != nil {
			return nil, err
		}
		sb.WriteString(" OFFSET ")
		sb.WriteString(s)
	}

	q := &Query{
		SQL:                     sb.String(),
		Parameters:              t.params,
		CollectionTablesUsed:    t.collectionTablesUsed,
		FTSTablesUsed:           t.ftsTablesUsed,
		FirstCustomResultColumn: 0,
		ColumnTitles:            titles,
		UsesExpiration:          t.usesExpiration,
		ReferencesDeleted:       t.referencesDeleted,
	}
	return q, nil
}

// fromBinding records what a FROM alias resolves to: either a real
// collection table or an fl_each join over a parent alias's property.
type fromBinding struct {
	table string // SQL table or join-source expression, already aliased
	isEach bool
}

type translator struct {
	catalog Catalog

	primaryAlias string
	aliases      map[string]fromBinding

	params    []string
	paramSeen map[string]bool

	collectionTablesUsed []string
	ftsTablesUsed        []string
	usesExpiration       bool
	referencesDeleted    bool

	// loopVars maps an ANY/EVERY bound variable name to the fl_each
	// join alias translating that SATISFIES clause introduces.
	loopVars    map[string]string
	nextEachAls int
}

func (t *translator) translateFrom(clauses []FromClause, out *strings.Builder) error {
	for i, f := range clauses {
		alias := f.Alias
		if f.Unnest != "" {
			if alias == "" {
				return newErr("UNNEST FROM entry requires an alias")
			}
			if i == 0 {
				return newErr("first FROM entry cannot be an UNNEST")
			}
			parentAlias := t.primaryAlias
			joinKind := "JOIN"
			if strings.EqualFold(f.Join, "LEFT OUTER") {
				joinKind = "LEFT OUTER JOIN"
			}
			out.WriteString(fmt.Sprintf(" %s fl_each(%s.body, %s) AS %s",
				joinKind, quoteIdent(parentAlias), sqlStringLit(f.Unnest), quoteIdent(alias)))
			t.aliases[alias] = fromBinding{table: alias, isEach: true}
			continue
		}

		table, ok := t.catalog.CollectionTable(f.Collection)
		if !ok {
			return newErrf("unknown collection %q", f.Collection)
		}
		if alias == "" {
			alias = f.Collection
		}
		if i == 0 {
			t.primaryAlias = alias
			out.WriteString(quoteIdent(table))
			out.WriteString(" AS ")
			out.WriteString(quoteIdent(alias))
		} else {
			joinKind := "JOIN"
			if strings.EqualFold(f.Join, "LEFT OUTER") {
				joinKind = "LEFT OUTER JOIN"
			}
			out.WriteString(fmt.Sprintf(" %s %s AS %s", joinKind, quoteIdent(table), quoteIdent(alias)))
			if !f.On.IsZero() {
				onSQL, err := t.translateExpr(f.On)
				if err != nil {
					return err
				}
				out.WriteString(" ON ")
				out.WriteString(onSQL)
			}
		}
		t.aliases[alias] = fromBinding{table: alias}
		t.addCollectionTable(table)
	}
	return nil
}

func (t *translator) addCollectionTable(table string) {
	for _, existing := range t.collectionTablesUsed {
		if existing == table {
			return
		}
	}
	t.collectionTablesUsed = append(t.collectionTablesUsed, table)
}

func (t *translator) addFTSTable(table string) {
	for _, existing := range t.ftsTablesUsed {
		if existing == table {
			return
		}
	}
	t.ftsTablesUsed = append(t.ftsTablesUsed, table)
}

func (t *translator) addParam(name string) {
	if t.paramSeen[name] {
		return
	}
	t.paramSeen[name] = true
	t.params = append(t.params, name)
}

func (t *translator) translateExpr(e Expr) (string, error) {
	switch e.Kind {
	case ExprLiteral:
		return sqlLiteral(e.Literal), nil
	case ExprProperty:
		return t.translateProperty(e.Property)
	case ExprParameter:
		t.addParam(e.Parameter)
		return "$" + e.Parameter, nil
	case ExprMeta:
		return t.translateMeta(e.Meta)
	case ExprOp:
		return t.translateOp(e)
	default:
		return "", newErr("unrecognized expression kind")
	}
}

func (t *translator) translateProperty(path string) (string, error) {
	// An ANY/EVERY bound variable shadows collection aliases: "t" or
	// "t.sub" where "t" names a loop variable resolves against the
	// fl_each row that loop is iterating, not against a FROM binding.
	if i := strings.IndexByte(path, '.'); i > 0 {
		if eachAlias, ok := t.loopVars[path[:i]]; ok {
			return fmt.Sprintf("fl_nested_value(%s.data, %s)", quoteIdent(eachAlias), sqlStringLit(path[i+1:])), nil
		}
	} else if eachAlias, ok := t.loopVars[path]; ok {
		return fmt.Sprintf("%s.value", quoteIdent(eachAlias)), nil
	}

	alias := t.primaryAlias
	remaining := path
	if i := strings.IndexByte(path, '.'); i > 0 {
		head := path[:i]
		if _, ok := t.aliases[head]; ok {
			alias = head
			remaining = path[i+1:]
		}
	} else if _, ok := t.aliases[path]; ok {
		alias, remaining = path, ""
	}
	binding, ok := t.aliases[alias]
	if !ok {
		alias = t.primaryAlias
		remaining = path
		binding = t.aliases[alias]
	}
	if binding.isEach {
		if remaining == "" {
			return fmt.Sprintf("%s.value", quoteIdent(alias)), nil
		}
		return fmt.Sprintf("fl_nested_value(%s.data, %s)", quoteIdent(alias), sqlStringLit(remaining)), nil
	}
	return fmt.Sprintf("fl_value(%s.body, %s)", quoteIdent(alias), sqlStringLit(remaining)), nil
}

func (t *translator) translateMeta(name string) (string, error) {
	alias := quoteIdent(t.primaryAlias)
	switch name {
	case "_id":
		return alias + ".key", nil
	case "_sequence":
		return alias + ".sequence", nil
	case "_rev":
		return "fl_version(" + alias + ".version)", nil
	case "_expiration":
		t.usesExpiration = true
		return alias + ".expiration", nil
	case "_deleted":
		t.referencesDeleted = true
		return fmt.Sprintf("((%s.flags & %d) != 0)", alias, deletedFlagBit), nil
	default:
		return "", newErrf("unknown meta reference %q", name)
	}
}

func (t *translator) translateOp(e Expr) (string, error) {
	opName := e.Op

	if sqlOp, ok := sqlBinaryOp[opName]; ok {
		return t.translateBinary(sqlOp, e.Args)
	}
	if sqlOp, ok := arithmeticOps[opName]; ok {
		return t.translateArith(sqlOp, e.Args)
	}
	if sqlFn, ok := aggregateOps[opName]; ok {
		if len(e.Args) != 1 {
			return "", newErrf("%s takes exactly one argument", opName)
		}
		arg, err := t.translateExpr(e.Args[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s(%s)", sqlFn, arg), nil
	}

	switch opName {
	case "MISSING":
		// The SQL representation table maps the Missing sentinel to a
		// plain SQL NULL, same as an absent property path.
		return "NULL", nil
	case "AND", "OR":
		return t.translateVariadicBool(opName, e.Args)
	case "NOT":
		if len(e.Args) != 1 {
			return "", newErr("NOT takes exactly one argument")
		}
		inner, err := t.translateExpr(e.Args[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(NOT %s)", inner), nil
	case "IS":
		return t.translateIs(e.Args, false)
	case "IS NOT":
		return t.translateIs(e.Args, true)
	case "IS VALUED":
		if len(e.Args) != 1 {
			return "", newErr("IS VALUED takes exactly one argument")
		}
		inner, err := t.translateExpr(e.Args[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s IS NOT NULL)", inner), nil
	case "IN", "NOT IN":
		return t.translateIn(opName, e.Args)
	case "BETWEEN":
		if len(e.Args) != 3 {
			return "", newErr("BETWEEN takes exactly three arguments")
		}
		x, err := t.translateExpr(e.Args[0])
		if err != nil {
			return "", err
		}
		lo, err := t.translateExpr(e.Args[1])
		if err != nil {
			return "", err
		}
		hi, err := t.translateExpr(e.Args[2])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s BETWEEN %s AND %s)", x, lo, hi), nil
	case "REGEXP_LIKE":
		if len(e.Args) != 2 {
			return "", newErr("REGEXP_LIKE takes exactly two arguments")
		}
		x, err := t.translateExpr(e.Args[0])
		if err != nil {
			return "", err
		}
		pat, err := t.translateExpr(e.Args[1])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s REGEXP %s)", x, pat), nil
	case "MATCH":
		return t.translateMatch(e.Args)
	case "CASE":
		return t.translateCase(e.Args)
	case "ANY", "EVERY", "ANY_AND_EVERY", "ANY AND EVERY":
		return t.translateAnyEvery(opName, e.Args)
	case "ARRAY_COUNT":
		if len(e.Args) != 1 {
			return "", newErr("ARRAY_COUNT takes exactly one argument")
		}
		inner, err := t.translateExpr(e.Args[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("fl_count(%s)", inner), nil
	case "ARRAY_CONTAINS":
		if len(e.Args) != 2 {
			return "", newErr("ARRAY_CONTAINS takes exactly two arguments")
		}
		arr, err := t.translateExpr(e.Args[0])
		if err != nil {
			return "", err
		}
		needle, err := t.translateExpr(e.Args[1])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("fl_contains(%s, %s)", arr, needle), nil
	case "ARRAY_AGG":
		if len(e.Args) != 1 {
			return "", newErr("ARRAY_AGG takes exactly one argument")
		}
		inner, err := t.translateExpr(e.Args[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("group_concat(%s)", inner), nil
	case "APPROX_VECTOR_DISTANCE":
		return t.translateVectorDistance(e.Args)
	case "PREDICTION":
		return t.translatePrediction(e.Args)
	default:
		return "", newErrf("unsupported operator %q", opName)
	}
}

func (t *translator) translateBinary(sqlOp string, args []Expr) (string, error) {
	if len(args) != 2 {
		return "", newErrf("%s takes exactly two arguments", sqlOp)
	}
	lhs, err := t.translateExpr(args[0])
	if err != nil {
		return "", err
	}
	rhs, err := t.translateExpr(args[1])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(%s %s %s)", lhs, sqlOp, rhs), nil
}

// translateArith wraps arithmetic in a NULL-if-either-side-missing
// form: SQL NULL already propagates through +-*/%, which matches
// MISSING's propagation rule once property refs resolve to SQL NULL
// for an absent path, so no extra wrapping is needed beyond the
// binary form itself.
func (t *translator) translateArith(sqlOp string, args []Expr) (string, error) {
	return t.translateBinary(sqlOp, args)
}

func (t *translator) translateVariadicBool(opName string, args []Expr) (string, error) {
	if len(args) == 0 {
		return "", newErrf("%s takes at least one argument", opName)
	}
	parts := make([]string, 0, len(args))
	for _, a := range args {
		s, err := t.translateExpr(a)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return "(" + strings.Join(parts, " "+opName+" ") + ")", nil
}

func (t *translator) translateIs(args []Expr, negate bool) (string, error) {
	if len(args) != 2 {
		return "", newErr("IS takes exactly two arguments")
	}
	lhs, err := t.translateExpr(args[0])
	if err != nil {
		return "", err
	}
	rhs, err := t.translateExpr(args[1])
	if err != nil {
		return "", err
	}
	if negate {
		return fmt.Sprintf("(%s IS NOT %s)", lhs, rhs), nil
	}
	return fmt.Sprintf("(%s IS %s)", lhs, rhs), nil
}

func (t *translator) translateIn(opName string, args []Expr) (string, error) {
	if len(args) < 1 {
		return "", newErrf("%s takes at least one argument", opName)
	}
	needle, err := t.translateExpr(args[0])
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(args)-1)
	for _, a := range args[1:] {
		s, err := t.translateExpr(a)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	sqlOp := "IN"
	if opName == "NOT IN" {
		sqlOp = "NOT IN"
	}
	return fmt.Sprintf("(%s %s (%s))", needle, sqlOp, strings.Join(parts, ", ")), nil
}

func (t *translator) translateCase(args []Expr) (string, error) {
	if len(args) < 2 {
		return "", newErr("CASE takes at least a condition and a result")
	}
	var sb strings.Builder
	sb.WriteString("(CASE")
	i := 0
	for ; i+1 < len(args); i += 2 {
		cond, err := t.translateExpr(args[i])
		if err != nil {
			return "", err
		}
		res, err := t.translateExpr(args[i+1])
		if err != nil {
			return "", err
		}
		sb.WriteString(" WHEN ")
		sb.WriteString(cond)
		sb.WriteString(" THEN ")
		sb.WriteString(res)
	}
	if i < len(args) {
		elseRes, err := t.translateExpr(args[i])
		if err != nil {
			return "", err
		}
		sb.WriteString(" ELSE ")
		sb.WriteString(elseRes)
	}
	sb.WriteString(" END)")
	return sb.String(), nil
}

// translateMatch requires args = [propertyExpr, textExpr]; the
// property must name an indexed FTS path. Per spec.md §4.3 the
// translator records the FTS table and adds the implicit rowid join;
// here that join is folded into the generated predicate itself via an
// IN-subquery so translateMatch stays a pure expression, matching the
// rest of this translator's shape.
func (t *translator) translateMatch(args []Expr) (string, error) {
	if len(args) != 2 {
		return "", newErr("MATCH takes exactly two arguments: property, query text")
	}
	if args[0].Kind != ExprProperty {
		return "", newErr("MATCH's first argument must be a property reference")
	}
	table := t.catalog
	baseTable, ok := t.aliases[t.primaryAlias]
	if !ok {
		return "", newErr("MATCH used without a resolvable collection")
	}
	ftsTable, ok := table.ResolveFTSIndex(baseTable.table, args[0].Property)
	if !ok {
		return "", newErrf("no full-text index on %q", args[0].Property)
	}
	t.addFTSTable(ftsTable)
	queryText, err := t.translateExpr(args[1])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(%s.rowid IN (SELECT rowid FROM %s WHERE %s MATCH %s))",
		quoteIdent(t.primaryAlias), quoteIdent(ftsTable), quoteIdent(ftsTable), queryText), nil
}

// translateAnyEvery implements "ANY x IN p SATISFIES e" style
// quantification. Args are encoded as [varName literal, source
// property/op, satisfies expr].
func (t *translator) translateAnyEvery(opName string, args []Expr) (string, error) {
	if len(args) != 3 {
		return "", newErrf("%s takes exactly three arguments: variable, source, predicate", opName)
	}
	varName, ok := args[0].Literal.(string)
	if args[0].Kind != ExprLiteral || !ok {
		return "", newErr("ANY/EVERY's first argument must be the loop variable name")
	}
	sourceSQL, err := t.translateExpr(args[1])
	if err != nil {
		return "", err
	}

	eachAlias := fmt.Sprintf("_each%d", t.nextEachAls)
	t.nextEachAls++
	t.loopVars[varName] = eachAlias
	defer delete(t.loopVars, varName)

	predSQL, err := t.translateExpr(args[2])
	if err != nil {
		return "", err
	}

	sub := fmt.Sprintf("SELECT 1 FROM fl_each(%s) AS %s WHERE %s", sourceSQL, quoteIdent(eachAlias), predSQL)
	switch opName {
	case "ANY":
		return fmt.Sprintf("(EXISTS (%s))", sub), nil
	case "EVERY":
		// EVERY holds if no element fails the predicate.
		notSub := fmt.Sprintf("SELECT 1 FROM fl_each(%s) AS %s WHERE NOT (%s)", sourceSQL, quoteIdent(eachAlias), predSQL)
		return fmt.Sprintf("(NOT EXISTS (%s))", notSub), nil
	default: // ANY_AND_EVERY / "ANY AND EVERY": non-empty and all satisfy
		anySub := fmt.Sprintf("SELECT 1 FROM fl_each(%s) AS %s", sourceSQL, quoteIdent(eachAlias))
		notSub := fmt.Sprintf("SELECT 1 FROM fl_each(%s) AS %s WHERE NOT (%s)", sourceSQL, quoteIdent(eachAlias), predSQL)
		return fmt.Sprintf("(EXISTS (%s) AND NOT EXISTS (%s))", anySub, notSub), nil
	}
}

// translateVectorDistance implements APPROX_VECTOR_DISTANCE(indexName,
// target [, metric]): requires indexName to name a vector index on
// the primary collection; the metric argument, if present, must agree
// with the index's configured metric after normalizing "Default" to
// "Euclidean2".
func (t *translator) translateVectorDistance(args []Expr) (string, error) {
	if len(args) < 2 || len(args) > 3 {
		return "", newErr("APPROX_VECTOR_DISTANCE takes an index name, a target, and an optional metric")
	}
	indexName, ok := args[0].Literal.(string)
	if args[0].Kind != ExprLiteral || !ok {
		return "", newErr("APPROX_VECTOR_DISTANCE's first argument must name the index")
	}
	baseTable := t.aliases[t.primaryAlias].table
	vectorTable, metric, ok := t.catalog.ResolveVectorIndex(baseTable, indexName)
	if !ok {
		return "", newErrf("no vector index named %q", indexName)
	}
	if len(args) == 3 {
		requested, ok := args[2].Literal.(string)
		if args[2].Kind != ExprLiteral || !ok {
			return "", newErr("APPROX_VECTOR_DISTANCE's metric argument must be a string literal")
		}
		if normalizeMetric(requested) != normalizeMetric(metric) {
			return "", newErrf("requested metric %q does not match index %q's metric %q", requested, indexName, metric)
		}
	}
	target, err := t.translateExpr(args[1])
	if err != nil {
		return "", err
	}
	vecAlias := fmt.Sprintf("_vec%d", t.nextEachAls)
	t.nextEachAls++
	return fmt.Sprintf("(SELECT vec_distance(%s.vector, %s, %s) FROM %s AS %s WHERE %s.docid = %s.rowid)",
		quoteIdent(vecAlias), target, sqlStringLit(normalizeMetric(metric)),
		quoteIdent(vectorTable), quoteIdent(vecAlias), quoteIdent(vecAlias), quoteIdent(t.primaryAlias)), nil
}

func normalizeMetric(m string) string {
	if strings.EqualFold(m, "Default") || m == "" {
		return "Euclidean2"
	}
	return m
}

func (t *translator) translatePrediction(args []Expr) (string, error) {
	if len(args) < 2 || len(args) > 3 {
		return "", newErr("PREDICTION takes a model name, a parameter dict, and an optional sub-path")
	}
	modelName, ok := args[0].Literal.(string)
	if args[0].Kind != ExprLiteral || !ok {
		return "", newErr("PREDICTION's first argument must name the model")
	}
	baseTable := t.aliases[t.primaryAlias].table
	shadow, ok := t.catalog.ResolvePredictiveIndex(baseTable, modelName)
	if !ok {
		return "", newErrf("no predictive index for model %q", modelName)
	}
	col := fmt.Sprintf("(SELECT prediction FROM %s WHERE docRowid = %s.rowid)", quoteIdent(shadow), quoteIdent(t.primaryAlias))
	if len(args) == 3 {
		path, ok := args[2].Literal.(string)
		if args[2].Kind != ExprLiteral || !ok {
			return "", newErr("PREDICTION's sub-path argument must be a string literal")
		}
		return fmt.Sprintf("fl_nested_value(%s, %s)", col, sqlStringLit(path)), nil
	}
	return col, nil
}

// translateOrderTerm rewrites a bare alias or 1-based ordinal
// reference before emission, per spec.md §4.3.
func (t *translator) translateOrderTerm(term OrderTerm, titles []string) (string, error) {
	var sql string
	switch {
	case term.Expr.Kind == ExprLiteral:
		if f, ok := term.Expr.Literal.(float64); ok {
			idx := int(f)
			if idx < 1 || idx > len(titles) {
				return "", newErrf("ORDER BY ordinal %d out of range", idx)
			}
			sql = strconv.Itoa(idx)
			if term.Desc {
				sql += " DESC"
			}
			return sql, nil
		}
		if s, ok := term.Expr.Literal.(string); ok {
			for i, title := range titles {
				if title == s {
					sql = strconv.Itoa(i + 1)
					if term.Desc {
						sql += " DESC"
					}
					return sql, nil
				}
			}
		}
	}
	s, err := t.translateExpr(term.Expr)
	if err != nil {
		return "", err
	}
	if term.Desc {
		s += " DESC"
	}
	return s, nil
}

func renderTitle(e Expr) string {
	switch e.Kind {
	case ExprProperty:
		return e.Property
	case ExprMeta:
		return e.Meta
	case ExprParameter:
		return "$" + e.Parameter
	case ExprOp:
		return strings.ToLower(e.Op)
	case ExprLiteral:
		return fmt.Sprintf("%v", e.Literal)
	default:
		return ""
	}
}

func sqlLiteral(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if t {
			return "1"
		}
		return "0"
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case string:
		return sqlStringLit(t)
	default:
		return "NULL"
	}
}

func sqlStringLit(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

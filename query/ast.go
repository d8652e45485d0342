// Package query implements the declarative query language: parsing
// (from JSON-AST or a textual SQL-like dialect) and translation to
// SQL text runnable against a Data-File's tables.
package query

import "encoding/json"

// AST is the parsed, dialect-independent shape of a query: a dict
// with the recognized top-level keys. Both ParseJSON and ParseText
// build one of these; Translate only ever looks at this type.
type AST struct {
	What     []Expr
	From     []FromClause
	Where    Expr
	GroupBy  []Expr
	Having   Expr
	OrderBy  []OrderTerm
	Limit    Expr
	Offset   Expr
	Distinct bool
}

// FromClause names one collection (or an UNNEST/join source) feeding
// the query, with an optional alias.
type FromClause struct {
	Collection string
	Alias      string
	// Unnest, if non-empty, is a property path evaluated with fl_each
	// against the previous FROM entry rather than a top-level
	// collection name.
	Unnest string
	// Join is "INNER", "LEFT OUTER" or "" (first entry / implicit).
	Join string
	On   Expr
}

// OrderTerm is one ORDER BY expression plus direction. The translator
// reads a numeric literal Expr as a 1-based ordinal, and a string
// literal equal to a result column title as a reference to that column.
type OrderTerm struct {
	Expr Expr
	Desc bool
}

// ExprKind discriminates the Expr union.
type ExprKind int

const (
	ExprLiteral ExprKind = iota
	ExprProperty
	ExprParameter
	ExprMeta
	ExprOp
	ExprSelectAll // bare "." / ".." meaning "the whole document"
)

// Expr is a query expression: exactly one of the ExprKind-tagged
// fields below is meaningful, mirroring the JSON-AST's untyped-array
// encoding (["OP", args...] vs a bare literal vs a ".path" string).
type Expr struct {
	Kind ExprKind

	Literal any // Kind == ExprLiteral: nil/bool/float64/string

	Property string // Kind == ExprProperty: dotted path, no leading '.'

	Parameter string // Kind == ExprParameter: name without '$'

	Meta string // Kind == ExprMeta: one of _id,_sequence,_rev,_expiration,_deleted

	Op   string // Kind == ExprOp: operator name, upper-cased
	Args []Expr

	Alias string // "AS" alias, if the textual dialect supplied one
}

// IsZero reports whether e is the zero Expr (used as a not-present
// sentinel for optional clauses like HAVING/LIMIT/OFFSET/WHERE).
func (e Expr) IsZero() bool {
	return e.Kind == ExprLiteral && e.Literal == nil && e.Property == "" &&
		e.Parameter == "" && e.Meta == "" && e.Op == "" && e.Args == nil
}

func lit(v any) Expr       { return Expr{Kind: ExprLiteral, Literal: v} }
func prop(path string) Expr { return Expr{Kind: ExprProperty, Property: path} }
func param(name string) Expr { return Expr{Kind: ExprParameter, Parameter: name} }
func meta(name string) Expr  { return Expr{Kind: ExprMeta, Meta: name} }
func op(name string, args ...Expr) Expr {
	return Expr{Kind: ExprOp, Op: name, Args: args}
}

// ParseJSON builds an AST from the JSON-AST surface documented in
// spec.md §6: a dict with WHAT/FROM/WHERE/... keys, where each
// expression is itself encoded as a JSON literal, a ".prop"/"$param"
// string, or a ["OP", args...] array.
func ParseJSON(data []byte) (*AST, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, newErrf("invalid JSON-AST: %v", err)
	}
	ast := &AST{}

	whatRaw, ok := raw["WHAT"]
	if !ok {
		return nil, newErr("JSON-AST missing required WHAT key")
	}
	var whatItems []json.RawMessage
	if err := json.Unmarshal(whatRaw, &whatItems); err != nil {
		return nil, newErrf("WHAT must be an array: %v", err)
	}
	for _, item := range whatItems {
		e, err := decodeExpr(item)
		if err != nil {
			return nil, err
		}
		ast.What = append(ast.What, e)
	}

	if fromRaw, ok := raw["FROM"]; ok {
		var fromItems []rawFrom
		if err := json.Unmarshal(fromRaw, &fromItems); err != nil {
			return nil, newErrf("FROM must be an array: %v", err)
		}
		for _, f := range fromItems {
			ast.From = append(ast.From, FromClause{
				Collection: f.Collection,
				Alias:      f.As,
				Unnest:     f.Unnest,
				Join:       f.Join,
			})
		}
	}

	if whereRaw, ok := raw["WHERE"]; ok {
		e, err := decodeExpr(whereRaw)
		if err != nil {
			return nil, err
		}
		ast.Where = e
	}
	if havingRaw, ok := raw["HAVING"]; ok {
		e, err := decodeExpr(havingRaw)
		if err != nil {
			return nil, err
		}
		ast.Having = e
	}
	if limitRaw, ok := raw["LIMIT"]; ok {
		e, err := decodeExpr(limitRaw)
		if err != nil {
			return nil, err
		}
		ast.Limit = e
	}
	if offsetRaw, ok := raw["OFFSET"]; ok {
		e, err := decodeExpr(offsetRaw)
		if err != nil {
			return nil, err
		}
		ast.Offset = e
	}
	if groupRaw, ok := raw["GROUP_BY"]; ok {
		var items []json.RawMessage
		if err := json.Unmarshal(groupRaw, &items); err != nil {
			return nil, newErrf("GROUP_BY must be an array: %v", err)
		}
		for _, item := range items {
			e, err := decodeExpr(item)
			if err != nil {
				return nil, err
			}
			ast.GroupBy = append(ast.GroupBy, e)
		}
	}
	if orderRaw, ok := raw["ORDER_BY"]; ok {
		var items []rawOrderTerm
		if err := json.Unmarshal(orderRaw, &items); err != nil {
			return nil, newErrf("ORDER_BY must be an array: %v", err)
		}
		for _, item := range items {
			e, err := decodeExpr(item.Expr)
			if err != nil {
				return nil, err
			}
			ast.OrderBy = append(ast.OrderBy, OrderTerm{Expr: e, Desc: item.Desc})
		}
	}
	if distinctRaw, ok := raw["DISTINCT"]; ok {
		var b bool
		if err := json.Unmarshal(distinctRaw, &b); err == nil {
			ast.Distinct = b
		}
	}
	return ast, nil
}

type rawFrom struct {
	Collection string `json:"COLLECTION"`
	As         string `json:"AS"`
	Unnest     string `json:"UNNEST"`
	Join       string `json:"JOIN"`
}

type rawOrderTerm struct {
	Expr json.RawMessage `json:"EXPR"`
	Desc bool            `json:"DESC"`
}

func decodeExpr(raw json.RawMessage) (Expr, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return Expr{}, newErrf("malformed expression: %v", err)
	}
	return exprFromAny(v)
}

func exprFromAny(v any) (Expr, error) {
	switch t := v.(type) {
	case nil, bool, float64:
		return lit(t), nil
	case string:
		return exprFromString(t), nil
	case []any:
		if len(t) == 0 {
			return Expr{}, newErr("operator expression array must not be empty")
		}
		opName, ok := t[0].(string)
		if !ok {
			return Expr{}, newErr("operator expression's first element must be a string")
		}
		args := make([]Expr, 0, len(t)-1)
		for _, a := range t[1:] {
			ae, err := exprFromAny(a)
			if err != nil {
				return Expr{}, err
			}
			args = append(args, ae)
		}
		return op(upperASCII(opName), args...), nil
	default:
		return Expr{}, newErrf("unsupported expression literal type %T", v)
	}
}

func exprFromString(s string) Expr {
	if s == "" {
		return lit(s)
	}
	switch s[0] {
	case '.':
		path := s[1:]
		switch path {
		case "_id", "_sequence", "_rev", "_expiration", "_deleted":
			return meta(path)
		}
		return prop(path)
	case '$':
		return param(s[1:])
	default:
		return lit(s)
	}
}

func upperASCII(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= 'a' && c <= 'z' {
			out[i] = c - 32
		}
	}
	return string(out)
}

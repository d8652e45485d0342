package query

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseText parses the textual dialect — syntactically close to SQL,
// with dotted property references, $name parameters, MATCH,
// APPROX_VECTOR_DISTANCE and ANY/EVERY...SATISFIES — into the same AST
// ParseJSON produces. Errors carry the byte offset of the failing
// token, per spec.md §6.
func ParseText(src string) (*AST, error) {
	p := &textParser{lex: newLexer(src), src: src}
	ast, err := p.parseSelect()
	if err != nil {
		return nil, err
	}
	tok, err := p.lex.peek()
	if err != nil {
		return nil, err
	}
	if tok.kind != tokEOF {
		return nil, offsetErr(src, tok.offset, "unexpected trailing input")
	}
	return ast, nil
}

type textParser struct {
	lex *lexer
	src string
}

func (p *textParser) errf(offset int, format string, args ...any) error {
	return offsetErr(p.src, offset, fmt.Sprintf(format, args...))
}

func (p *textParser) expectKeyword(kw string) (token, error) {
	tok, err := p.lex.next()
	if err != nil {
		return token{}, err
	}
	if tok.kind != tokIdent || !strings.EqualFold(tok.text, kw) {
		return token{}, p.errf(tok.offset, "expected %q", kw)
	}
	return tok, nil
}

func (p *textParser) peekKeyword(kw string) (bool, error) {
	tok, err := p.lex.peek()
	if err != nil {
		return false, err
	}
	return tok.kind == tokIdent && strings.EqualFold(tok.text, kw), nil
}

func (p *textParser) expectPunct(s string) error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	if tok.kind != tokPunct || tok.text != s {
		return p.errf(tok.offset, "expected %q", s)
	}
	return nil
}

func (p *textParser) peekPunct(s string) (bool, error) {
	tok, err := p.lex.peek()
	if err != nil {
		return false, err
	}
	return tok.kind == tokPunct && tok.text == s, nil
}

func (p *textParser) parseSelect() (*AST, error) {
	if _, err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	ast := &AST{}

	if ok, _ := p.peekKeyword("DISTINCT"); ok {
		p.lex.next()
		ast.Distinct = true
	}

	for {
		e, err := p.parseExprWithAlias()
		if err != nil {
			return nil, err
		}
		ast.What = append(ast.What, e)
		ok, err := p.peekPunct(",")
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		p.lex.next()
	}

	if _, err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	from, err := p.parseFromList()
	if err != nil {
		return nil, err
	}
	ast.From = from

	if ok, _ := p.peekKeyword("WHERE"); ok {
		p.lex.next()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		ast.Where = e
	}

	if ok, _ := p.peekKeyword("GROUP"); ok {
		p.lex.next()
		if _, err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			ast.GroupBy = append(ast.GroupBy, e)
			ok, _ := p.peekPunct(",")
			if !ok {
				break
			}
			p.lex.next()
		}
	}

	if ok, _ := p.peekKeyword("HAVING"); ok {
		p.lex.next()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		ast.Having = e
	}

	if ok, _ := p.peekKeyword("ORDER"); ok {
		p.lex.next()
		if _, err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			desc := false
			if ok, _ := p.peekKeyword("DESC"); ok {
				p.lex.next()
				desc = true
			} else if ok, _ := p.peekKeyword("ASC"); ok {
				p.lex.next()
			}
			ast.OrderBy = append(ast.OrderBy, OrderTerm{Expr: e, Desc: desc})
			ok, _ := p.peekPunct(",")
			if !ok {
				break
			}
			p.lex.next()
		}
	}

	if ok, _ := p.peekKeyword("LIMIT"); ok {
		p.lex.next()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		ast.Limit = e
	}
	if ok, _ := p.peekKeyword("OFFSET"); ok {
		p.lex.next()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		ast.Offset = e
	}

	return ast, nil
}

func (p *textParser) parseFromList() ([]FromClause, error) {
	var out []FromClause
	first := true
	for {
		var f FromClause
		if !first {
			join := ""
			if ok, _ := p.peekKeyword("LEFT"); ok {
				p.lex.next()
				p.expectKeyword("OUTER")
				p.expectKeyword("JOIN")
				join = "LEFT OUTER"
			} else if ok, _ := p.peekKeyword("JOIN"); ok {
				p.lex.next()
				join = "INNER"
			} else if ok, _ := p.peekKeyword("INNER"); ok {
				p.lex.next()
				p.expectKeyword("JOIN")
				join = "INNER"
			} else {
				break
			}
			f.Join = join
		}

		if ok, _ := p.peekKeyword("UNNEST"); ok {
			p.lex.next()
			if err := p.expectPunct("("); err != nil {
				return nil, err
			}
			tok, err := p.lex.next()
			if err != nil {
				return nil, err
			}
			if tok.kind != tokProperty {
				return nil, p.errf(tok.offset, "UNNEST argument must be a property reference")
			}
			f.Unnest = tok.text
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
		} else {
			tok, err := p.lex.next()
			if err != nil {
				return nil, err
			}
			if tok.kind != tokIdent {
				return nil, p.errf(tok.offset, "expected a collection name")
			}
			f.Collection = tok.text
		}

		if ok, _ := p.peekKeyword("AS"); ok {
			p.lex.next()
			tok, err := p.lex.next()
			if err != nil {
				return nil, err
			}
			f.Alias = tok.text
		} else if tok, err := p.lex.peek(); err == nil && tok.kind == tokIdent && !isReservedFollow(tok.text) {
			p.lex.next()
			f.Alias = tok.text
		}

		if !first {
			if ok, _ := p.peekKeyword("ON"); ok {
				p.lex.next()
				e, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				f.On = e
			}
		}

		out = append(out, f)
		first = false

		ok, _ := p.peekPunct(",")
		if ok {
			p.lex.next()
			continue
		}
		break
	}
	return out, nil
}

func isReservedFollow(ident string) bool {
	switch strings.ToUpper(ident) {
	case "WHERE", "GROUP", "HAVING", "ORDER", "LIMIT", "OFFSET", "JOIN", "LEFT", "INNER", "ON":
		return true
	}
	return false
}

func (p *textParser) parseExprWithAlias() (Expr, error) {
	e, err := p.parseExpr()
	if err != nil {
		return Expr{}, err
	}
	if ok, _ := p.peekKeyword("AS"); ok {
		p.lex.next()
		tok, err := p.lex.next()
		if err != nil {
			return Expr{}, err
		}
		e.Alias = tok.text
	}
	return e, nil
}

// Operator precedence, low to high: OR < AND < NOT < comparison <
// additive < multiplicative < unary < primary.

func (p *textParser) parseExpr() (Expr, error) { return p.parseOr() }

func (p *textParser) parseOr() (Expr, error) {
	lhs, err := p.parseAnd()
	if err != nil {
		return Expr{}, err
	}
	args := []Expr{lhs}
	for {
		ok, _ := p.peekKeyword("OR")
		if !ok {
			break
		}
		p.lex.next()
		rhs, err := p.parseAnd()
		if err != nil {
			return Expr{}, err
		}
		args = append(args, rhs)
	}
	if len(args) == 1 {
		return args[0], nil
	}
	return op("OR", args...), nil
}

func (p *textParser) parseAnd() (Expr, error) {
	lhs, err := p.parseNot()
	if err != nil {
		return Expr{}, err
	}
	args := []Expr{lhs}
	for {
		ok, _ := p.peekKeyword("AND")
		if !ok {
			break
		}
		p.lex.next()
		rhs, err := p.parseNot()
		if err != nil {
			return Expr{}, err
		}
		args = append(args, rhs)
	}
	if len(args) == 1 {
		return args[0], nil
	}
	return op("AND", args...), nil
}

func (p *textParser) parseNot() (Expr, error) {
	if ok, _ := p.peekKeyword("NOT"); ok {
		p.lex.next()
		e, err := p.parseNot()
		if err != nil {
			return Expr{}, err
		}
		return op("NOT", e), nil
	}
	return p.parseComparison()
}

func (p *textParser) parseComparison() (Expr, error) {
	lhs, err := p.parseAdditive()
	if err != nil {
		return Expr{}, err
	}
	tok, err := p.lex.peek()
	if err != nil {
		return Expr{}, err
	}

	if tok.kind == tokPunct {
		cmpOps := map[string]string{"=": "=", "<": "<", "<=": "<=", ">": ">", ">=": ">=", "!=": "!="}
		if sqlOp, ok := cmpOps[tok.text]; ok {
			p.lex.next()
			rhs, err := p.parseAdditive()
			if err != nil {
				return Expr{}, err
			}
			return op(sqlOp, lhs, rhs), nil
		}
	}

	if tok.kind == tokIdent {
		switch strings.ToUpper(tok.text) {
		case "IS":
			p.lex.next()
			negate := false
			if ok, _ := p.peekKeyword("NOT"); ok {
				p.lex.next()
				negate = true
			}
			if ok, _ := p.peekKeyword("VALUED"); ok {
				p.lex.next()
				if negate {
					return op("NOT", op("IS VALUED", lhs)), nil
				}
				return op("IS VALUED", lhs), nil
			}
			rhs, err := p.parseAdditive()
			if err != nil {
				return Expr{}, err
			}
			if negate {
				return op("IS NOT", lhs, rhs), nil
			}
			return op("IS", lhs, rhs), nil
		case "LIKE":
			p.lex.next()
			rhs, err := p.parseAdditive()
			if err != nil {
				return Expr{}, err
			}
			return op("LIKE", lhs, rhs), nil
		case "MATCH":
			p.lex.next()
			rhs, err := p.parseAdditive()
			if err != nil {
				return Expr{}, err
			}
			return op("MATCH", lhs, rhs), nil
		case "IN":
			p.lex.next()
			args, err := p.parseParenExprList()
			if err != nil {
				return Expr{}, err
			}
			return op("IN", append([]Expr{lhs}, args...)...), nil
		case "NOT":
			// NOT IN as a comparison postfix; other NOT forms are not
			// parsed here.
			save := *p.lex
			p.lex.next()
			if ok, _ := p.peekKeyword("IN"); ok {
				p.lex.next()
				args, err := p.parseParenExprList()
				if err != nil {
					return Expr{}, err
				}
				return op("NOT IN", append([]Expr{lhs}, args...)...), nil
			}
			*p.lex = save
		case "BETWEEN":
			p.lex.next()
			lo, err := p.parseAdditive()
			if err != nil {
				return Expr{}, err
			}
			if _, err := p.expectKeyword("AND"); err != nil {
				return Expr{}, err
			}
			hi, err := p.parseAdditive()
			if err != nil {
				return Expr{}, err
			}
			return op("BETWEEN", lhs, lo, hi), nil
		}
	}
	return lhs, nil
}

func (p *textParser) parseParenExprList() ([]Expr, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var out []Expr
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		ok, _ := p.peekPunct(",")
		if !ok {
			break
		}
		p.lex.next()
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *textParser) parseAdditive() (Expr, error) {
	lhs, err := p.parseMultiplicative()
	if err != nil {
		return Expr{}, err
	}
	for {
		tok, err := p.lex.peek()
		if err != nil {
			return Expr{}, err
		}
		if tok.kind != tokPunct || (tok.text != "+" && tok.text != "-") {
			break
		}
		p.lex.next()
		rhs, err := p.parseMultiplicative()
		if err != nil {
			return Expr{}, err
		}
		lhs = op(tok.text, lhs, rhs)
	}
	return lhs, nil
}

func (p *textParser) parseMultiplicative() (Expr, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return Expr{}, err
	}
	for {
		tok, err := p.lex.peek()
		if err != nil {
			return Expr{}, err
		}
		if tok.kind != tokPunct || (tok.text != "*" && tok.text != "/" && tok.text != "%") {
			break
		}
		p.lex.next()
		rhs, err := p.parseUnary()
		if err != nil {
			return Expr{}, err
		}
		lhs = op(tok.text, lhs, rhs)
	}
	return lhs, nil
}

func (p *textParser) parseUnary() (Expr, error) {
	tok, err := p.lex.peek()
	if err != nil {
		return Expr{}, err
	}
	if tok.kind == tokPunct && tok.text == "-" {
		p.lex.next()
		inner, err := p.parseUnary()
		if err != nil {
			return Expr{}, err
		}
		return op("-", lit(float64(0)), inner), nil
	}
	return p.parsePrimary()
}

func (p *textParser) parsePrimary() (Expr, error) {
	tok, err := p.lex.next()
	if err != nil {
		return Expr{}, err
	}
	switch tok.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return Expr{}, p.errf(tok.offset, "invalid number literal %q", tok.text)
		}
		return lit(f), nil
	case tokString:
		return lit(tok.text), nil
	case tokParam:
		return param(tok.text), nil
	case tokProperty:
		switch tok.text {
		case "_id", "_sequence", "_rev", "_expiration", "_deleted":
			return meta(tok.text), nil
		}
		return prop(tok.text), nil
	case tokIdent:
		upper := strings.ToUpper(tok.text)
		switch upper {
		case "TRUE":
			return lit(true), nil
		case "FALSE":
			return lit(false), nil
		case "NULL":
			return lit(nil), nil
		case "MISSING":
			return Expr{Kind: ExprOp, Op: "MISSING"}, nil
		case "CASE":
			return p.parseCaseExpr()
		case "ANY", "EVERY":
			return p.parseAnyEvery(upper)
		}
		if ok, _ := p.peekPunct("("); ok {
			return p.parseCallArgs(upper)
		}
		return prop(tok.text), nil
	case tokPunct:
		if tok.text == "(" {
			e, err := p.parseExpr()
			if err != nil {
				return Expr{}, err
			}
			if err := p.expectPunct(")"); err != nil {
				return Expr{}, err
			}
			return e, nil
		}
	}
	return Expr{}, p.errf(tok.offset, "unexpected token %q", tok.text)
}

func (p *textParser) parseCallArgs(name string) (Expr, error) {
	args, err := p.parseParenExprList0()
	if err != nil {
		return Expr{}, err
	}
	return op(name, args...), nil
}

// parseParenExprList0 is like parseParenExprList but tolerates an
// empty argument list, e.g. COUNT(*) style calls aren't supported but
// zero-arg calls like a future no-arg operator are.
func (p *textParser) parseParenExprList0() ([]Expr, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	if ok, _ := p.peekPunct(")"); ok {
		p.lex.next()
		return nil, nil
	}
	var out []Expr
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		ok, _ := p.peekPunct(",")
		if !ok {
			break
		}
		p.lex.next()
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *textParser) parseCaseExpr() (Expr, error) {
	var args []Expr
	for {
		if ok, _ := p.peekKeyword("ELSE"); ok {
			p.lex.next()
			elseExpr, err := p.parseExpr()
			if err != nil {
				return Expr{}, err
			}
			args = append(args, elseExpr)
			break
		}
		if ok, _ := p.peekKeyword("END"); ok {
			break
		}
		if _, err := p.expectKeyword("WHEN"); err != nil {
			return Expr{}, err
		}
		cond, err := p.parseExpr()
		if err != nil {
			return Expr{}, err
		}
		if _, err := p.expectKeyword("THEN"); err != nil {
			return Expr{}, err
		}
		res, err := p.parseExpr()
		if err != nil {
			return Expr{}, err
		}
		args = append(args, cond, res)
	}
	if _, err := p.expectKeyword("END"); err != nil {
		return Expr{}, err
	}
	return op("CASE", args...), nil
}

// parseAnyEvery parses "ANY x IN source SATISFIES pred END" (and
// EVERY/ANY AND EVERY variants) into op(kind, [varName, source, pred]).
func (p *textParser) parseAnyEvery(kind string) (Expr, error) {
	if kind == "ANY" {
		if ok, _ := p.peekKeyword("AND"); ok {
			p.lex.next()
			if _, err := p.expectKeyword("EVERY"); err != nil {
				return Expr{}, err
			}
			kind = "ANY_AND_EVERY"
		}
	}
	tok, err := p.lex.next()
	if err != nil {
		return Expr{}, err
	}
	if tok.kind != tokIdent {
		return Expr{}, p.errf(tok.offset, "expected a loop variable name")
	}
	varName := tok.text
	if _, err := p.expectKeyword("IN"); err != nil {
		return Expr{}, err
	}
	source, err := p.parseExpr()
	if err != nil {
		return Expr{}, err
	}
	if _, err := p.expectKeyword("SATISFIES"); err != nil {
		return Expr{}, err
	}
	pred, err := p.parseExpr()
	if err != nil {
		return Expr{}, err
	}
	if ok, _ := p.peekKeyword("END"); ok {
		p.lex.next()
	}
	return op(kind, lit(varName), source, pred), nil
}

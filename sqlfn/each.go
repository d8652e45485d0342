package sqlfn

import (
	"fmt"

	"github.com/dbsqldef/docql/fleece"
	"github.com/mattn/go-sqlite3"
)

// eachModule implements fl_each(body [, path]) as a table-valued
// function: one row per element of the array/dict found at body[path]
// (or one row with key=NULL for a scalar root), columns (key, value,
// type, data, body, root_data HIDDEN, root_path HIDDEN).
//
// Declared HIDDEN columns become positional arguments at the SQL call
// site (fl_each(body, path) binds root_data=body, root_path=path).
// SQLite's query planner needs a usable equality constraint on
// root_data or the cost estimate here is effectively infinite, which
// is what BestIndex communicates back.
type eachModule struct {
	env *Env
}

const (
	eachColKey = iota
	eachColValue
	eachColType
	eachColData
	eachColBody
	eachColRootData
	eachColRootPath
)

func (m *eachModule) Create(c *sqlite3.SQLiteConn, args []string) (sqlite3.VTab, error) {
	return m.Connect(c, args)
}

func (m *eachModule) Connect(c *sqlite3.SQLiteConn, args []string) (sqlite3.VTab, error) {
	err := c.DeclareVTab(`CREATE TABLE fl_each(
		key, value, type, data, body,
		root_data HIDDEN, root_path HIDDEN
	)`)
	if err != nil {
		return nil, err
	}
	return &eachTab{env: m.env}, nil
}

type eachTab struct {
	env *Env
}

func (t *eachTab) BestIndex(cst []sqlite3.InfoConstraint, ob []sqlite3.InfoOrderBy) (*sqlite3.IndexResult, error) {
	res := &sqlite3.IndexResult{
		Used:          make([]bool, len(cst)),
		EstimatedCost: 1e9,
		EstimatedRows: 1000000,
	}
	haveRootData := false
	argc := 0
	for i, c := range cst {
		if !c.Usable || c.Op != sqlite3.OpEQ {
			continue
		}
		switch c.Column {
		case eachColRootData:
			haveRootData = true
			argc++
			res.Used[i] = true
		case eachColRootPath:
			argc++
			res.Used[i] = true
		}
	}
	if haveRootData {
		// A usable equality constraint on root_data drops the cost to
		// something the planner will actually choose.
		res.EstimatedCost = 10
		res.EstimatedRows = 10
	}
	res.IdxNum = argc
	return res, nil
}

func (t *eachTab) Open() (sqlite3.VTabCursor, error) {
	return &eachCursor{env: t.env}, nil
}

func (t *eachTab) Disconnect() error { return nil }
func (t *eachTab) Destroy() error    { return nil }

// eachCursor walks the elements of the parsed root value. It holds a
// Scope binding the Binary-Doc bytes for as long as the cursor is
// open; per the accessor's lifetime contract, that Scope is released
// the moment SQLite signals end-of-cursor (see Next/Close), so
// the host may free the underlying blob promptly afterward.
type eachCursor struct {
	env   *Env
	scope *fleece.Scope

	isScalarRoot bool
	scalarDone   bool
	rootScalar   fleece.Value

	arr    fleece.ArrayValue
	isArr  bool
	dict   fleece.DictValue
	isDict bool
	idx    int
	keys   []string // snapshot of dict keys in order, for stable indexing
}

func (c *eachCursor) Filter(idxNum int, idxStr string, vals []interface{}) error {
	c.reset()
	if len(vals) == 0 {
		return fmt.Errorf("fl_each: root_data argument is required")
	}
	rootArg := vals[0]
	var path string
	if len(vals) > 1 {
		if s, ok := vals[1].(string); ok {
			path = s
		}
	}

	b, ok := rootArg.([]byte)
	if !ok {
		return fmt.Errorf("fl_each: root_data must be a Binary-Doc blob")
	}

	root, scope, err := c.env.rootValue(b)
	if err != nil {
		return err
	}
	c.scope = scope

	target := root
	if path != "" {
		p, err := c.env.parsePath(path)
		if err != nil {
			c.releaseScope()
			return err
		}
		target, err = p.Eval(root)
		if err != nil {
			c.releaseScope()
			return err
		}
	}

	if target.IsMissing() {
		c.releaseScope()
		return nil
	}
	if a, ok := target.AsArray(); ok {
		c.arr = a
		c.isArr = true
		return nil
	}
	if d, ok := target.AsDict(); ok {
		c.dict = d
		c.isDict = true
		d.Iter(func(key string, _ fleece.Value) bool {
			c.keys = append(c.keys, key)
			return true
		})
		return nil
	}
	c.isScalarRoot = true
	c.rootScalar = target
	return nil
}

func (c *eachCursor) reset() {
	c.releaseScope()
	c.isScalarRoot, c.scalarDone = false, false
	c.isArr, c.isDict = false, false
	c.idx = 0
	c.keys = nil
}

func (c *eachCursor) releaseScope() {
	if c.scope != nil {
		c.scope.Close()
		c.scope = nil
	}
}

func (c *eachCursor) Next() error {
	if c.isScalarRoot {
		c.scalarDone = true
		return nil
	}
	c.idx++
	if c.EOF() {
		// Release the scope as soon as iteration is exhausted so the
		// host can free the underlying blob without waiting for
		// Close.
		c.releaseScope()
	}
	return nil
}

func (c *eachCursor) EOF() bool {
	if c.isScalarRoot {
		return c.scalarDone
	}
	if c.isArr {
		return c.idx >= c.arr.Count()
	}
	if c.isDict {
		return c.idx >= len(c.keys)
	}
	return true
}

func (c *eachCursor) currentValue() (key string, hasKey bool, v fleece.Value) {
	if c.isScalarRoot {
		return "", false, c.rootScalar
	}
	if c.isArr {
		return "", false, c.arr.Get(c.idx)
	}
	if c.isDict {
		k := c.keys[c.idx]
		return k, true, c.dict.Get(k)
	}
	return "", false, fleece.Missing
}

func (c *eachCursor) Column(ctx *sqlite3.SQLiteContext, col int) error {
	key, hasKey, v := c.currentValue()
	switch col {
	case eachColKey:
		if hasKey {
			ctx.ResultText(key)
		} else {
			ctx.ResultNull()
		}
	case eachColValue:
		sv, err := ToSQLValue(v)
		if err != nil {
			return err
		}
		resultAny(ctx, sv)
	case eachColType:
		ctx.ResultInt(int(v.Type()))
	case eachColData:
		ctx.ResultBlob(fleece.Encode(v))
	case eachColBody:
		ctx.ResultBlob(fleece.Encode(v))
	default:
		ctx.ResultNull()
	}
	return nil
}

func resultAny(ctx *sqlite3.SQLiteContext, v any) {
	switch t := v.(type) {
	case nil:
		ctx.ResultNull()
	case int64:
		ctx.ResultInt64(t)
	case float64:
		ctx.ResultDouble(t)
	case string:
		ctx.ResultText(t)
	case []byte:
		ctx.ResultBlob(t)
	case bool:
		if t {
			ctx.ResultInt(1)
		} else {
			ctx.ResultInt(0)
		}
	default:
		ctx.ResultNull()
	}
}

func (c *eachCursor) Rowid() (int64, error) {
	return int64(c.idx), nil
}

func (c *eachCursor) Close() error {
	c.releaseScope()
	return nil
}

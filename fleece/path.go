package fleece

import (
	"fmt"
	"strconv"
	"strings"
)

// PathComponent is one step of a parsed property path: either a named
// dict field or an array index.
type PathComponent struct {
	Key      string
	Index    int
	IsIndex  bool
}

// Path is a parsed, reusable property path. Parsing once and
// evaluating many times is the expected usage (the SQL UDF layer's
// auxiliary-data cache keys on the source string and reuses the parsed
// Path across calls on the same statement).
type Path []PathComponent

// ParsePath parses the accessor's path dialect: dot-separated property
// names and bracketed integer indices, with backslash escaping of '.'
// and '[' inside a property name. An empty string parses to the empty
// path (which evaluates to the root itself).
func ParsePath(path string) (Path, error) {
	var comps Path
	var cur strings.Builder
	flushKey := func() {
		if cur.Len() > 0 {
			comps = append(comps, PathComponent{Key: cur.String()})
			cur.Reset()
		}
	}

	i := 0
	n := len(path)
	for i < n {
		c := path[i]
		switch c {
		case '\\':
			if i+1 >= n {
				return nil, fmt.Errorf("fleece: dangling escape at end of path %q", path)
			}
			cur.WriteByte(path[i+1])
			i += 2
		case '.':
			flushKey()
			i++
		case '[':
			flushKey()
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("fleece: unterminated '[' in path %q", path)
			}
			idxStr := path[i+1 : i+end]
			idx, err := strconv.Atoi(idxStr)
			if err != nil {
				return nil, fmt.Errorf("fleece: bad array index %q in path %q", idxStr, path)
			}
			comps = append(comps, PathComponent{Index: idx, IsIndex: true})
			i += end + 1
			// Allow an optional trailing '.' after ']' before the next
			// component, same as after a plain key.
			if i < n && path[i] == '.' {
				i++
			}
		default:
			cur.WriteByte(c)
			i++
		}
	}
	flushKey()
	return comps, nil
}

// Eval evaluates path against root, returning Missing (not an error)
// when a property or index does not exist, and an error only for a
// structurally invalid path or a non-traversable intermediate value
// that isn't simply "absent" (e.g. indexing into a string).
func Eval(path string, root Value) (Value, error) {
	p, err := ParsePath(path)
	if err != nil {
		return Value{}, err
	}
	return p.Eval(root)
}

// Eval walks the already-parsed path starting at root.
func (p Path) Eval(root Value) (Value, error) {
	cur := root
	for _, comp := range p {
		if cur.IsMissing() {
			return Missing, nil
		}
		if comp.IsIndex {
			arr, ok := cur.AsArray()
			if !ok {
				if cur.Type() == TypeNull {
					return Missing, nil
				}
				return Value{}, fmt.Errorf("fleece: cannot index into a %s value", cur.Type())
			}
			idx := comp.Index
			if idx < 0 {
				idx += arr.Count()
			}
			if idx < 0 || idx >= arr.Count() {
				return Missing, nil
			}
			cur = arr.Get(idx)
		} else {
			dict, ok := cur.AsDict()
			if !ok {
				if cur.Type() == TypeNull {
					return Missing, nil
				}
				return Value{}, fmt.Errorf("fleece: cannot look up property %q on a %s value", comp.Key, cur.Type())
			}
			cur = dict.Get(comp.Key)
		}
	}
	return cur, nil
}

// String renders the path back to its textual dialect form, used for
// default result-column titles.
func (p Path) String() string {
	var b strings.Builder
	for _, c := range p {
		if c.IsIndex {
			fmt.Fprintf(&b, "[%d]", c.Index)
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		for _, r := range c.Key {
			if r == '.' || r == '[' || r == '\\' {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

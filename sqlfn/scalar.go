package sqlfn

import (
	"fmt"

	"github.com/dbsqldef/docql/fleece"
)

// BlobAccessor resolves a blob reference (as embedded in a document
// body by fl_blob's caller) to its stored bytes. The host installs an
// implementation on the DataFile; docql's own keystore package wires
// its attachment store in here. A nil BlobAccessor makes fl_blob
// always report "missing", per spec's documented swallow of accessor
// errors.
type BlobAccessor interface {
	ResolveBlob(digest string) ([]byte, bool)
}

// Env is the per-Data-File environment the registered functions close
// over: shared keys for resolving shared-keys-encoded dict keys, the
// host's blob accessor, and the path-parse cache.
type Env struct {
	SharedKeys *fleece.SharedKeys
	Blobs      BlobAccessor
	Predictors map[string]Predictor
	paths      *pathCache
}

// NewEnv builds a fresh Env. sharedKeys and blobs may be nil.
func NewEnv(sharedKeys *fleece.SharedKeys, blobs BlobAccessor) *Env {
	return &Env{SharedKeys: sharedKeys, Blobs: blobs, Predictors: map[string]Predictor{}, paths: newPathCache(256)}
}

func (e *Env) scope(root []byte) *fleece.Scope {
	return fleece.OpenScope(root, e.SharedKeys)
}

func (e *Env) parsePath(path string) (fleece.Path, error) {
	return e.paths.get(path)
}

// rootValue parses body (unwrapping a legacy revision-tree body first
// if present) into the current revision's Value.
func (e *Env) rootValue(body []byte) (fleece.Value, *fleece.Scope, error) {
	src := body
	if fleece.IsLegacyRevisionBody(body) {
		extracted, _, err := fleece.ExtractCurrentRevisionBody(body)
		if err != nil {
			return fleece.Value{}, nil, err
		}
		src = extracted
	}
	scope := e.scope(src)
	v, err := fleece.Parse(src, scope)
	if err != nil {
		scope.Close()
		return fleece.Value{}, nil, err
	}
	return v, scope, nil
}

func (e *Env) evalPath(body []byte, path string) (fleece.Value, error) {
	root, scope, err := e.rootValue(body)
	if err != nil {
		return fleece.Value{}, err
	}
	defer scope.Close()
	p, err := e.parsePath(path)
	if err != nil {
		return fleece.Value{}, err
	}
	return p.Eval(root)
}

// FlRoot implements fl_root(body) -> Binary-Doc blob of the current
// revision.
func (e *Env) FlRoot(body []byte) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	if fleece.IsLegacyRevisionBody(body) {
		extracted, _, err := fleece.ExtractCurrentRevisionBody(body)
		if err != nil {
			return nil, err
		}
		return extracted, nil
	}
	return body, nil
}

// FlValue implements fl_value(body, path) -> value at path.
func (e *Env) FlValue(body []byte, path string) (any, error) {
	if body == nil {
		return nil, nil
	}
	v, err := e.evalPath(body, path)
	if err != nil {
		return nil, err
	}
	return ToSQLValue(v)
}

// FlNestedValue implements fl_nested_value(blob, path), starting from
// an already-extracted Binary-Doc blob rather than a document body.
func (e *Env) FlNestedValue(blob []byte, path string) (any, error) {
	if blob == nil {
		return nil, nil
	}
	scope := e.scope(blob)
	defer scope.Close()
	root, err := fleece.Parse(blob, scope)
	if err != nil {
		return nil, err
	}
	p, err := e.parsePath(path)
	if err != nil {
		return nil, err
	}
	v, err := p.Eval(root)
	if err != nil {
		return nil, err
	}
	return ToSQLValue(v)
}

// FlExists implements fl_exists(body, path) -> 0/1.
func (e *Env) FlExists(body []byte, path string) (int64, error) {
	if body == nil {
		return 0, nil
	}
	v, err := e.evalPath(body, path)
	if err != nil {
		return 0, err
	}
	if v.IsMissing() {
		return 0, nil
	}
	return 1, nil
}

// FlCount implements fl_count(body, path) -> element count, or SQL
// NULL if the value isn't an array or dict.
func (e *Env) FlCount(body []byte, path string) (any, error) {
	if body == nil {
		return nil, nil
	}
	v, err := e.evalPath(body, path)
	if err != nil {
		return nil, err
	}
	return countOf(v), nil
}

// FlCountValue implements the single-argument fl_count(value) form
// ARRAY_COUNT emits: value is already a resolved Binary-Doc array/dict
// blob (e.g. the output of fl_value or an fl_each row), not a
// (body, path) pair to re-evaluate.
func (e *Env) FlCountValue(blob []byte) (any, error) {
	if blob == nil {
		return nil, nil
	}
	v, scope, err := e.rootValue(blob)
	if err != nil {
		return nil, err
	}
	defer scope.Close()
	return countOf(v), nil
}

func countOf(v fleece.Value) any {
	if a, ok := v.AsArray(); ok {
		return int64(a.Count())
	}
	if d, ok := v.AsDict(); ok {
		return int64(d.Count())
	}
	return nil
}

// FlContains implements fl_contains(body, path, needle) -> 0/1, using
// semantic equality with the deliberately asymmetric bool/number
// comparability rule.
func (e *Env) FlContains(body []byte, path string, needle any) (int64, error) {
	if body == nil {
		return 0, nil
	}
	v, err := e.evalPath(body, path)
	if err != nil {
		return 0, err
	}
	return containsIn(v, needle), nil
}

// FlContainsValue implements the two-argument fl_contains(value,
// needle) form ARRAY_CONTAINS emits: value is already a resolved
// Binary-Doc array/dict blob rather than a (body, path) pair.
func (e *Env) FlContainsValue(blob []byte, needle any) (int64, error) {
	if blob == nil {
		return 0, nil
	}
	v, scope, err := e.rootValue(blob)
	if err != nil {
		return 0, err
	}
	defer scope.Close()
	return containsIn(v, needle), nil
}

func containsIn(v fleece.Value, needle any) int64 {
	needleVal := FromSQLValue(needle)
	found := false
	if a, ok := v.AsArray(); ok {
		a.Iter(func(_ int, el fleece.Value) bool {
			if fleece.CompareAsymmetric(needleVal, el) {
				found = true
				return false
			}
			return true
		})
	} else if d, ok := v.AsDict(); ok {
		d.Iter(func(_ string, el fleece.Value) bool {
			if fleece.CompareAsymmetric(needleVal, el) {
				found = true
				return false
			}
			return true
		})
	}
	if found {
		return 1
	}
	return 0
}

// FlBlob implements fl_blob(body, path): resolves a blob reference at
// path to its stored bytes via the installed BlobAccessor. Per spec,
// accessor errors are swallowed and reported as "missing" (SQL NULL),
// not propagated as SQL errors.
func (e *Env) FlBlob(body []byte, path string) ([]byte, error) {
	if body == nil || e.Blobs == nil {
		return nil, nil
	}
	v, err := e.evalPath(body, path)
	if err != nil || v.IsMissing() {
		return nil, nil
	}
	digest := blobDigest(v)
	if digest == "" {
		return nil, nil
	}
	data, ok := e.Blobs.ResolveBlob(digest)
	if !ok {
		return nil, nil
	}
	return data, nil
}

// blobDigest extracts the "digest" field LiteCore-style blob
// references store under, e.g. {"@type":"blob","digest":"sha1-..."}.
func blobDigest(v fleece.Value) string {
	d, ok := v.AsDict()
	if !ok {
		return ""
	}
	return d.Get("digest").AsString()
}

// FlResult implements fl_result(value): see ResultValue.
func (e *Env) FlResult(value any) (any, error) { return ResultValue(value) }

// FlBooleanResult implements fl_boolean_result(value).
func (e *Env) FlBooleanResult(value any) []byte { return BooleanResultValue(value) }

// FlNull implements fl_null().
func (e *Env) FlNull() []byte { return fleece.Encode(fleece.Null) }

// FlBool implements fl_bool(i): the Binary-Doc encoding of a boolean
// from a SQL 0/1 integer.
func (e *Env) FlBool(i int64) []byte { return fleece.Encode(fleece.Bool(i != 0)) }

// FlVersion implements fl_version(raw): a human-readable expansion of
// a compact binary revision id. The wire format of revision ids is
// external to this package (owned by the replication layer, out of
// scope); this implementation handles the common "generation-digest"
// layout produced by keystore's MVCC writer.
func (e *Env) FlVersion(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	gen, n := uvarint(raw)
	if n <= 0 || n >= len(raw) {
		return fmt.Sprintf("%x", raw), nil
	}
	return fmt.Sprintf("%d-%x", gen, raw[n:]), nil
}

func uvarint(buf []byte) (uint64, int) {
	var x uint64
	var s uint
	for i, b := range buf {
		if i >= 10 {
			return 0, -(i + 1)
		}
		if b < 0x80 {
			return x | uint64(b)<<s, i + 1
		}
		x |= uint64(b&0x7f) << s
		s += 7
	}
	return 0, 0
}

// FlFtsValue implements fl_fts_value(body, path): flattens the
// selected subtree into a whitespace-joined string for tokenization.
func (e *Env) FlFtsValue(body []byte, path string) (any, error) {
	if body == nil {
		return nil, nil
	}
	v, err := e.evalPath(body, path)
	if err != nil || v.IsMissing() {
		return nil, nil
	}
	var out []byte
	out = flattenForFTS(v, out)
	if out == nil {
		return nil, nil
	}
	return string(out), nil
}

func flattenForFTS(v fleece.Value, out []byte) []byte {
	switch v.Type() {
	case fleece.TypeString:
		if len(out) > 0 {
			out = append(out, ' ')
		}
		out = append(out, v.AsString()...)
	case fleece.TypeArray:
		a, _ := v.AsArray()
		a.Iter(func(_ int, el fleece.Value) bool {
			out = flattenForFTS(el, out)
			return true
		})
	case fleece.TypeDict:
		d, _ := v.AsDict()
		d.Iter(func(_ string, el fleece.Value) bool {
			out = flattenForFTS(el, out)
			return true
		})
	case fleece.TypeInt, fleece.TypeUnsigned, fleece.TypeDouble:
		if len(out) > 0 {
			out = append(out, ' ')
		}
		out = append(out, v.String()...)
	}
	return out
}

// FlUnnestedValue implements fl_unnested_value(blob [, path]): if the
// argument is a Binary-Doc blob, behaves like fl_root/fl_value;
// otherwise the SQL value is returned unchanged, because unnested
// array index tables may hold scalars directly.
func (e *Env) FlUnnestedValue(arg any, path string) (any, error) {
	b, ok := arg.([]byte)
	if !ok || !fleece.IsValid(b) {
		return arg, nil
	}
	if path == "" {
		return ToSQLValue(FromSQLValue(b))
	}
	return e.FlNestedValue(b, path)
}

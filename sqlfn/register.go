package sqlfn

import (
	"fmt"

	docql "github.com/dbsqldef/docql"
	"github.com/mattn/go-sqlite3"
)

// Register installs the whole Binary-Doc SQL bridge — every scalar
// function in spec's table plus the fl_each table-valued function and
// the FTS rank() helper — on conn, closing over env. It is meant to be
// called from a sqlite3.SQLiteDriver's ConnectHook so that every new
// connection to a Data-File's *sql.DB gets the full UDF surface.
func Register(conn *sqlite3.SQLiteConn, env *Env) error {
	scalarFuncs := map[string]any{
		"fl_root":            guard1(env.FlRoot),
		"fl_value":           guard2(env.FlValue),
		"fl_nested_value":    guard2(env.FlNestedValue),
		"fl_exists":          guard2err(env.FlExists),
		"fl_count":           guard2(env.FlCount),
		"fl_contains":        guard3err(env.FlContains),
		"fl_blob":            guard2blob(env.FlBlob),
		"fl_result":          guard1any(env.FlResult),
		"fl_boolean_result":  func(v any) []byte { return env.FlBooleanResult(v) },
		"fl_null":            func() []byte { return env.FlNull() },
		"fl_bool":            func(i int64) []byte { return env.FlBool(i) },
		"fl_version":         guard1str(env.FlVersion),
		"fl_fts_value":       guard2(env.FlFtsValue),
		"fl_unnested_value": func(a any, p string) (v any, err error) {
			defer recoverToErr(&err)
			return env.FlUnnestedValue(a, p)
		},
		"fl_callback":        env.FlCallback,
		"fl_predict":         guardPredict(env.FlPredict),
		"vec_distance":       guardVecDistance(VecDistance),
		"rank":               rankFunc,
	}

	for name, fn := range scalarFuncs {
		if err := conn.RegisterFunc(name, fn, true); err != nil {
			return fmt.Errorf("sqlfn: registering %s: %w", name, err)
		}
	}

	// ARRAY_COUNT/ARRAY_CONTAINS call fl_count/fl_contains on an
	// already-resolved Binary-Doc array/dict value rather than a
	// (body, path) pair, so register the single-blob-argument overload
	// of each name alongside the (body, path[, needle]) one above.
	// SQLite dispatches by (name, argc), so both arities coexist.
	overloads := map[string]any{
		"fl_count":    guard1blobAny(env.FlCountValue),
		"fl_contains": guard2blobAnyErr(env.FlContainsValue),
	}
	for name, fn := range overloads {
		if err := conn.RegisterFunc(name, fn, true); err != nil {
			return fmt.Errorf("sqlfn: registering %s (value-argument overload): %w", name, err)
		}
	}

	if err := conn.CreateModule("fl_each", &eachModule{env: env}); err != nil {
		return fmt.Errorf("sqlfn: registering fl_each: %w", err)
	}
	return nil
}

// The guardN helpers adapt Env methods, which return (T, error), to
// the shape go-sqlite3's RegisterFunc expects while converting any
// docql error into the generic SQLite error text path spec mandates:
// every UDF entry point catches failures at the SQL boundary so they
// surface as a plain sqlite_result_error rather than a Go panic or an
// opaque reflection failure.

func guard1(fn func([]byte) ([]byte, error)) func([]byte) ([]byte, error) {
	return func(a []byte) (b []byte, err error) {
		defer recoverToErr(&err)
		return fn(a)
	}
}

func guard1any(fn func(any) (any, error)) func(any) (any, error) {
	return func(a any) (v any, err error) {
		defer recoverToErr(&err)
		return fn(a)
	}
}

func guard1str(fn func([]byte) (string, error)) func([]byte) (string, error) {
	return func(a []byte) (s string, err error) {
		defer recoverToErr(&err)
		return fn(a)
	}
}

func guard2(fn func([]byte, string) (any, error)) func([]byte, string) (any, error) {
	return func(a []byte, p string) (v any, err error) {
		defer recoverToErr(&err)
		return fn(a, p)
	}
}

func guard1blobAny(fn func([]byte) (any, error)) func([]byte) (any, error) {
	return func(a []byte) (v any, err error) {
		defer recoverToErr(&err)
		return fn(a)
	}
}

func guard2blobAnyErr(fn func([]byte, any) (int64, error)) func([]byte, any) (int64, error) {
	return func(a []byte, needle any) (v int64, err error) {
		defer recoverToErr(&err)
		return fn(a, needle)
	}
}

func guard2blob(fn func([]byte, string) ([]byte, error)) func([]byte, string) ([]byte, error) {
	return func(a []byte, p string) (b []byte, err error) {
		defer recoverToErr(&err)
		return fn(a, p)
	}
}

func guard2err(fn func([]byte, string) (int64, error)) func([]byte, string) (int64, error) {
	return func(a []byte, p string) (v int64, err error) {
		defer recoverToErr(&err)
		return fn(a, p)
	}
}

func guard3err(fn func([]byte, string, any) (int64, error)) func([]byte, string, any) (int64, error) {
	return func(a []byte, p string, needle any) (v int64, err error) {
		defer recoverToErr(&err)
		return fn(a, p, needle)
	}
}

func guardPredict(fn func(string, []byte) ([]byte, error)) func(string, []byte) ([]byte, error) {
	return func(model string, input []byte) (b []byte, err error) {
		defer recoverToErr(&err)
		return fn(model, input)
	}
}

func guardVecDistance(fn func([]byte, []byte, string) (float64, error)) func([]byte, []byte, string) (float64, error) {
	return func(stored, target []byte, metric string) (d float64, err error) {
		defer recoverToErr(&err)
		return fn(stored, target, metric)
	}
}

func recoverToErr(err *error) {
	if r := recover(); r != nil {
		if e, ok := r.(error); ok {
			*err = docql.NewError(docql.CorruptData, "panic in Binary-Doc UDF", e)
			return
		}
		*err = docql.Errorf(docql.CorruptData, "panic in Binary-Doc UDF: %v", r)
	}
}

// rankFunc implements rank(matchinfo), a relevance-ordering function
// meant to be used as `ORDER BY rank(matchinfo(tbl))` against an FTS4
// virtual table's default "pcx" matchinfo blob: a little-endian uint32
// stream of [numPhrases, numCols, then per-phrase-per-column
// (hits-this-row, hits-this-col-total, docs-with-hit)]. The score
// favors phrases that are rare across the collection but frequent in
// the current row, which is the same signal a real bm25() gives
// without depending on FTS5's native aux function.
func rankFunc(matchinfo []byte) float64 {
	if len(matchinfo) < 8 {
		return 0
	}
	u32 := func(i int) uint32 {
		return uint32(matchinfo[i]) | uint32(matchinfo[i+1])<<8 |
			uint32(matchinfo[i+2])<<16 | uint32(matchinfo[i+3])<<24
	}
	numPhrases := int(u32(0))
	numCols := int(u32(4))
	score := 0.0
	for p := 0; p < numPhrases; p++ {
		for c := 0; c < numCols; c++ {
			base := 8 + 12*(p*numCols+c)
			if base+12 > len(matchinfo) {
				continue
			}
			hitsRow := float64(u32(base))
			hitsCol := float64(u32(base + 4))
			docsWithHit := float64(u32(base + 8))
			if hitsCol == 0 {
				continue
			}
			// Rarer phrases (low docsWithHit relative to hitsCol) weigh
			// more; repeated hits in this row compound the weight.
			weight := hitsCol / (docsWithHit + 1)
			score += hitsRow * weight
		}
	}
	return score
}

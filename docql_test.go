package docql_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dbsqldef/docql/fleece"
	"github.com/dbsqldef/docql/index"
	"github.com/dbsqldef/docql/keystore"
	"github.com/dbsqldef/docql/query"
	"github.com/dbsqldef/docql/runner"
)

func openTestFile(t *testing.T) (*keystore.DataFile, *keystore.KeyStore, *index.Manager) {
	t.Helper()
	df, err := keystore.Open(":memory:", keystore.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { df.Close() })

	ks, err := keystore.NewKeyStore(df, keystore.CollectionID{Name: "people"})
	require.NoError(t, err)

	mgr, err := index.NewManager(df)
	require.NoError(t, err)

	return df, ks, mgr
}

func insertDoc(t *testing.T, ks *keystore.KeyStore, key string, body fleece.Value) int64 {
	t.Helper()
	seq, err := ks.Set(keystore.RecordUpdate{
		Key:     key,
		Body:    fleece.Encode(body),
		Version: []byte("1@aa"),
	})
	require.NoError(t, err)
	require.NotZero(t, seq)
	return seq
}

// S1 — simple value query: filter + order by a top-level property.
func TestSimpleValueQuery(t *testing.T) {
	_, ks, mgr := openTestFile(t)

	insertDoc(t, ks, "alice", fleece.Dict(
		fleece.KV{Key: "name", Val: fleece.String("Alice")},
		fleece.KV{Key: "age", Val: fleece.Int(30)},
	))
	insertDoc(t, ks, "bob", fleece.Dict(
		fleece.KV{Key: "name", Val: fleece.String("Bob")},
		fleece.KV{Key: "age", Val: fleece.Int(42)},
	))

	ast, err := query.ParseJSON([]byte(
		`{"WHAT":[".name"],"FROM":[{"COLLECTION":"people"}],"WHERE":[">",".age",35],"ORDER_BY":[{"EXPR":".name"}]}`))
	require.NoError(t, err)

	compiled, err := query.Translate(ast, mgr)
	require.NoError(t, err)

	r := runner.New(ks.DF())
	enum, err := r.Run(compiled, nil)
	require.NoError(t, err)
	defer enum.Close()

	require.True(t, enum.Next())
	v, err := enum.Value(0)
	require.NoError(t, err)
	require.Equal(t, "Bob", v.AsString())
	require.False(t, enum.Next())
}

// S2 — an array (UNNEST) index changes nothing about the query's
// result set, only its performance characteristics.
func TestArrayIndexIsSemanticNoOp(t *testing.T) {
	_, ks, mgr := openTestFile(t)

	for i := 0; i < 3; i++ {
		insertDoc(t, ks, key3(i), fleece.Dict(
			fleece.KV{Key: "tags", Val: fleece.Array(fleece.String("red"), fleece.String("green"), fleece.String("blue"))},
		))
	}

	countGreen := func() int64 {
		ast, err := query.ParseJSON([]byte(
			`{"WHAT":[".tags"],"FROM":[{"COLLECTION":"people"}],` +
				`"WHERE":["ANY","t",".tags",["=",".t","green"]]}`))
		require.NoError(t, err)
		compiled, err := query.Translate(ast, mgr)
		require.NoError(t, err)
		r := runner.New(ks.DF())
		enum, err := r.Run(compiled, nil)
		require.NoError(t, err)
		defer enum.Close()
		n, err := enum.RowCount()
		require.NoError(t, err)
		return n
	}

	before := countGreen()
	require.EqualValues(t, 3, before)

	err := mgr.CreateArrayIndex(ks, "tagsIdx", "tags")
	require.NoError(t, err)

	after := countGreen()
	require.Equal(t, before, after)
}

func key3(i int) string {
	return []string{"doc0", "doc1", "doc2"}[i]
}

// S4 — a write whose expected (sequence, subsequence) doesn't match
// the stored one is rejected atomically; a write with the right
// expectation succeeds and advances the sequence.
func TestConflictOnWrite(t *testing.T) {
	_, ks, _ := openTestFile(t)

	seq := insertDoc(t, ks, "k", fleece.Dict(fleece.KV{Key: "v", Val: fleece.Int(1)}))

	bad, err := ks.Set(keystore.RecordUpdate{
		Key:              "k",
		Body:             fleece.Encode(fleece.Dict(fleece.KV{Key: "v", Val: fleece.Int(2)})),
		Version:          []byte("2@bb"),
		ExpectedSequence: seq - 1,
	})
	require.NoError(t, err)
	require.Zero(t, bad)

	good, err := ks.Set(keystore.RecordUpdate{
		Key:              "k",
		Body:             fleece.Encode(fleece.Dict(fleece.KV{Key: "v", Val: fleece.Int(2)})),
		Version:          []byte("2@bb"),
		ExpectedSequence: seq,
	})
	require.NoError(t, err)
	require.Greater(t, good, seq)
}

// S5 — expireRecords reports exactly the already-expired keys and
// removes only those rows.
func TestExpirationSweep(t *testing.T) {
	_, ks, _ := openTestFile(t)

	insertDoc(t, ks, "past", fleece.Dict(fleece.KV{Key: "v", Val: fleece.Int(1)}))
	insertDoc(t, ks, "present", fleece.Dict(fleece.KV{Key: "v", Val: fleece.Int(2)}))
	insertDoc(t, ks, "future", fleece.Dict(fleece.KV{Key: "v", Val: fleece.Int(3)}))

	now := int64(1_000_000)
	require.NoError(t, ks.SetExpiration("past", now-1000))
	require.NoError(t, ks.SetExpiration("present", now))
	require.NoError(t, ks.SetExpiration("future", now+1000))

	var expired []string
	n, err := ks.ExpireRecords(now, func(key string) { expired = append(expired, key) })
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{"past"}, expired)

	_, err = ks.Get("past", keystore.ByKey, keystore.ContentKeyOnly)
	require.Error(t, err)
	rec, err := ks.Get("future", keystore.ByKey, keystore.ContentKeyOnly)
	require.NoError(t, err)
	require.True(t, rec.Exists())
}

// Index-registry consistency + idempotence (invariants 3 and 4):
// creating the same index twice leaves the registered expression
// unchanged, deleting it removes it from the registry, and deleting
// it again succeeds.
func TestIndexRegistryConsistencyAndIdempotence(t *testing.T) {
	_, ks, mgr := openTestFile(t)

	require.NoError(t, mgr.CreateValueIndex(ks, "ageIdx", []string{"age"}, ""))
	specBefore, ok := mgr.Get("ageIdx")
	require.True(t, ok)

	require.NoError(t, mgr.CreateValueIndex(ks, "ageIdx", []string{"age"}, ""))
	specAfter, ok := mgr.Get("ageIdx")
	require.True(t, ok)
	require.Equal(t, specBefore.Expression, specAfter.Expression)

	require.NoError(t, mgr.DeleteIndex("ageIdx"))
	_, ok = mgr.Get("ageIdx")
	require.False(t, ok)

	require.NoError(t, mgr.DeleteIndex("ageIdx")) // deleting twice is a no-op
}

package fleece

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	doc := Dict(
		KV{"name", String("Alice")},
		KV{"age", Int(30)},
		KV{"tags", Array(String("red"), String("green"), String("blue"))},
		KV{"score", Double(3.5)},
		KV{"active", Bool(true)},
		KV{"note", Null},
	)

	blob := Encode(doc)
	got, err := Parse(blob, nil)
	require.NoError(t, err)

	dict, ok := got.AsDict()
	require.True(t, ok)
	assert.Equal(t, "Alice", dict.Get("name").AsString())
	assert.Equal(t, int64(30), dict.Get("age").AsInt())
	assert.Equal(t, 3.5, dict.Get("score").AsDouble())
	assert.True(t, dict.Get("active").AsBool())
	assert.Equal(t, TypeNull, dict.Get("note").Type())
	assert.True(t, dict.Get("nonexistent").IsMissing())

	tags, ok := dict.Get("tags").AsArray()
	require.True(t, ok)
	assert.Equal(t, 3, tags.Count())
	assert.Equal(t, "green", tags.Get(1).AsString())
}

func TestEvalPath(t *testing.T) {
	doc := Dict(
		KV{"a", Dict(KV{"b", Array(Int(1), Int(2), Int(3))})},
		KV{"a.b", String("escaped-key")},
	)

	v, err := Eval("a.b[1]", doc)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.AsInt())

	v, err = Eval(`a\.b`, doc)
	require.NoError(t, err)
	assert.Equal(t, "escaped-key", v.AsString())

	v, err = Eval("a.missing", doc)
	require.NoError(t, err)
	assert.True(t, v.IsMissing())

	v, err = Eval("", doc)
	require.NoError(t, err)
	_, isDict := v.AsDict()
	assert.True(t, isDict)
}

func TestEvalPathOutOfRangeIsMissingNotError(t *testing.T) {
	doc := Array(Int(1), Int(2))
	v, err := Eval("[5]", doc)
	require.NoError(t, err)
	assert.True(t, v.IsMissing())
}

func TestEvalPathInvalidTraversalErrors(t *testing.T) {
	doc := Dict(KV{"a", String("not a dict")})
	_, err := Eval("a.b", doc)
	assert.Error(t, err)
}

func TestSemanticEquality(t *testing.T) {
	assert.True(t, Int(5).Equal(Double(5.0)))
	assert.True(t, Unsigned(5).Equal(Int(5)))
	assert.False(t, String("5").Equal(Int(5)))
	assert.True(t, Data([]byte("ab")).Equal(Data([]byte("ab"))))
}

func TestContainsAsymmetricComparability(t *testing.T) {
	// A bool needle IS comparable to a numeric haystack element...
	assert.True(t, CompareAsymmetric(Bool(true), Int(1)))
	assert.False(t, CompareAsymmetric(Bool(true), Int(0)))
	// ...but a numeric needle is NOT comparable to a bool haystack
	// element, per the deliberately asymmetric rule.
	assert.False(t, CompareAsymmetric(Int(1), Bool(true)))
}

func TestTruthy(t *testing.T) {
	assert.False(t, Missing.Truthy())
	assert.False(t, Null.Truthy())
	assert.False(t, Int(0).Truthy())
	assert.True(t, Int(-1).Truthy())
	assert.False(t, String("").Truthy())
	assert.True(t, String("x").Truthy())
	assert.False(t, Array().Truthy())
	assert.True(t, Array(Null).Truthy())
}

func TestSharedKeysEncodeDecode(t *testing.T) {
	sk := NewSharedKeys()
	code := sk.Encode("name")
	code2 := sk.Encode("name")
	assert.Equal(t, code, code2)

	name, ok := sk.Decode(code)
	require.True(t, ok)
	assert.Equal(t, "name", name)

	_, ok = sk.Decode(999)
	assert.False(t, ok)
}

func TestLegacyRevisionBodyUnwrap(t *testing.T) {
	inner := Encode(Dict(KV{"x", Int(1)}))
	wrapped := append(append([]byte{}, legacyMagic...), encodeLenPrefixed(inner)...)

	assert.True(t, IsLegacyRevisionBody(wrapped))
	current, copied, err := ExtractCurrentRevisionBody(wrapped)
	require.NoError(t, err)
	assert.True(t, copied)

	v, err := Parse(current, nil)
	require.NoError(t, err)
	dict, _ := v.AsDict()
	assert.Equal(t, int64(1), dict.Get("x").AsInt())
}

func encodeLenPrefixed(b []byte) []byte {
	e := NewEncoder()
	e.buf = putUvarint(e.buf, uint64(len(b)))
	e.buf = append(e.buf, b...)
	return e.Bytes()
}

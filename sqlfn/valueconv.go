// Package sqlfn registers the Binary-Doc SQL bridge: the scalar and
// table-valued SQL functions that let the SQLite engine parse, index,
// and join through Binary-Doc document bodies. It is the
// implementation of the SQL UDF layer.
package sqlfn

import "github.com/dbsqldef/docql/fleece"

// ToSQLValue converts a query-language value into the SQL
// representation spec'd for the UDF layer:
//
//	missing        -> nil (SQL NULL)
//	null           -> a one-byte pre-encoded Binary-Doc null blob
//	bool           -> int64 0/1
//	int / unsigned -> int64
//	double         -> float64
//	string         -> string
//	bytes          -> []byte, unwrapped ("PlainBlob")
//	array/dict     -> []byte, Binary-Doc encoded
//
// mattn/go-sqlite3's RegisterFunc dispatches by reflection and does
// not expose sqlite3_value_subtype, so the IntBoolean/IntUnsigned/
// PlainBlob subtype distinctions spec'd for this table are not carried
// as wire-level SQLite subtype flags the way they would be in the
// reference implementation. Instead: the query translator wraps every
// result column in fl_result and does not emit fl_boolean_result, so a
// boolean-producing expression reaches the caller as an integer 0/1, and
// plain-blob-vs-nested-Binary-Doc is disambiguated on read by
// attempting to parse the blob (see FromSQLValue) — see DESIGN.md for
// the full rationale.
func ToSQLValue(v fleece.Value) (any, error) {
	switch v.Type() {
	case fleece.TypeNull:
		return fleece.Encode(fleece.Null), nil
	case fleece.TypeBool:
		if v.AsBool() {
			return int64(1), nil
		}
		return int64(0), nil
	case fleece.TypeInt:
		return v.AsInt(), nil
	case fleece.TypeUnsigned:
		// SQLite integers are signed 64-bit; values above
		// math.MaxInt64 lose their top bit here. Documented
		// simplification — see DESIGN.md.
		return int64(v.AsUnsigned()), nil
	case fleece.TypeDouble:
		return v.AsDouble(), nil
	case fleece.TypeString:
		return v.AsString(), nil
	case fleece.TypeData:
		return v.AsData(), nil
	case fleece.TypeArray, fleece.TypeDict:
		return fleece.Encode(v), nil
	default:
		if v.IsMissing() {
			return nil, nil
		}
		return nil, nil
	}
}

// FromSQLValue converts a raw SQL argument (as handed to a
// RegisterFunc-registered function by go-sqlite3's reflection layer)
// back into query-language value space. A []byte argument that parses
// as a well-formed, fully-consumed Binary-Doc blob is treated as a
// nested array/dict/boxed-scalar value; otherwise it is treated as an
// opaque bytes ("PlainBlob") value.
func FromSQLValue(x any) fleece.Value {
	switch t := x.(type) {
	case nil:
		return fleece.Missing
	case int64:
		return fleece.Int(t)
	case int:
		return fleece.Int(int64(t))
	case float64:
		return fleece.Double(t)
	case string:
		return fleece.String(t)
	case bool:
		return fleece.Bool(t)
	case []byte:
		if v, n, err := fleece.ParseTrailing(t, nil); err == nil && n == len(t) {
			return v
		}
		return fleece.Data(t)
	default:
		return fleece.Missing
	}
}

// ResultValue implements fl_result's normalization: a []byte argument
// that is NOT already a well-formed Binary-Doc blob (i.e. an opaque
// "bytes" value) is wrapped as a Binary-Doc data value, so that the
// runner's column decoder can treat every BLOB-typed output column as
// pre-encoded Binary-Doc unconditionally, per spec. Every other SQL
// value kind passes through unchanged; the runner's Enumerator.Value
// converts non-blob columns with FromSQLValue.
func ResultValue(x any) (any, error) {
	b, ok := x.([]byte)
	if !ok {
		return x, nil
	}
	if fleece.IsValid(b) {
		return b, nil
	}
	return fleece.Encode(fleece.Data(b)), nil
}

// BooleanResultValue implements fl_boolean_result: it converts an
// arbitrary SQL value to the language's truthiness rule and returns
// the Binary-Doc encoding of the resulting bool.
func BooleanResultValue(x any) []byte {
	return fleece.Encode(fleece.Bool(FromSQLValue(x).Truthy()))
}

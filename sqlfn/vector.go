package sqlfn

import (
	"encoding/binary"
	"math"
)

// EncodeVector packs a float64 vector into a little-endian float32
// byte string, the on-disk representation the vector index's shadow
// table stores and vec_distance reads back. float32 halves storage
// versus carrying full float64 precision, which the distance metrics
// below don't need.
func EncodeVector(v []float64) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(x)))
	}
	return buf
}

// DecodeVector is EncodeVector's inverse.
func DecodeVector(b []byte) []float64 {
	n := len(b) / 4
	v := make([]float64, n)
	for i := 0; i < n; i++ {
		v[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:])))
	}
	return v
}

// VecDistance computes the distance between two encoded vectors under
// metric ("Euclidean2" or "Cosine"), the function registered into
// SQLite as vec_distance(storedVector, targetVector, metric) so
// APPROX_VECTOR_DISTANCE can be translated to ordinary SQL rather than
// a real ANN index lookup. No vector-search library appears anywhere
// in the retrieval pack, so this linear-scan distance UDF is the
// documented stand-in — see DESIGN.md.
func VecDistance(stored, target []byte, metric string) (float64, error) {
	a, b := DecodeVector(stored), DecodeVector(target)
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	switch metric {
	case "Cosine":
		var dot, na, nb float64
		for i := 0; i < n; i++ {
			dot += a[i] * b[i]
			na += a[i] * a[i]
			nb += b[i] * b[i]
		}
		if na == 0 || nb == 0 {
			return 1, nil
		}
		return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb)), nil
	default: // "Euclidean2"
		var sum float64
		for i := 0; i < n; i++ {
			d := a[i] - b[i]
			sum += d * d
		}
		return sum, nil
	}
}

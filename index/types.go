// Package index implements the Index Manager: creation, deletion,
// listing, and garbage collection of value, full-text, array
// (unnested), predictive, and vector indexes over a keystore.DataFile,
// plus the query.Catalog view the translator uses to resolve them.
package index

import "encoding/json"

// Type discriminates the index varieties spec.md §3/§4.5 name.
type Type int

const (
	TypeValue Type = iota + 1
	TypeFullText
	TypeArray
	TypePredictive
	TypeVector
)

func (t Type) String() string {
	switch t {
	case TypeValue:
		return "value"
	case TypeFullText:
		return "full-text"
	case TypeArray:
		return "array"
	case TypePredictive:
		return "predictive"
	case TypeVector:
		return "vector"
	default:
		return "unknown"
	}
}

// VectorMetric names a distance function a vector index can be
// configured with.
type VectorMetric string

const (
	MetricDefault   VectorMetric = "Default"
	MetricEuclidean VectorMetric = "Euclidean2"
	MetricCosine    VectorMetric = "Cosine"
)

// Normalize replaces "Default" with the concrete metric it stands for,
// per spec.md §4.3's APPROX_VECTOR_DISTANCE metric-agreement rule.
func (m VectorMetric) Normalize() VectorMetric {
	if m == "" || m == MetricDefault {
		return MetricEuclidean
	}
	return m
}

// VectorClustering selects the vector index's clustering scheme.
type VectorClustering int

const (
	ClusteringFlat VectorClustering = iota
	ClusteringMulti
)

// VectorEncoding selects how stored vectors are compressed.
type VectorEncoding int

const (
	EncodingNone VectorEncoding = iota
	EncodingPQ
	EncodingSQ
)

// VectorOptions configures a vector index, per spec.md §4.5. The
// clustering/encoding/training-size fields are accepted and persisted
// (round-tripped through the registry's options column) so a config
// file written against the real feature surface loads without error,
// but this port's vector backend is a private flat table plus a
// registered distance UDF (see vec_distance in package sqlfn) rather
// than a trained quantized index, so Clustering/Encoding/training
// sizes do not change query behavior — see DESIGN.md.
type VectorOptions struct {
	Dimensions          int
	Metric              VectorMetric
	Clustering          VectorClustering
	SubquantizerCount   int
	BitsPerSubquantizer int
	Encoding            VectorEncoding
	MinTrainingSize     int
	MaxTrainingSize     int
	DefaultProbeCount   int
	Lazy                bool
}

// Spec is the in-memory shape of one indexes registry row.
type Spec struct {
	Name             string
	Type             Type
	Table            string // the owning KeyStore's SQL table (spec.md's "keyStore" field)
	Expression       string // original query-language source, verbatim
	IndexTableName   string
	WhereClause      string
	IndexedSequences *SequenceSet
	LastSeq          int64
	Vector           VectorOptions
}

func marshalExpression(paths []string) string {
	b, _ := json.Marshal(paths)
	return string(b)
}

func unmarshalExpression(expr string) []string {
	var paths []string
	_ = json.Unmarshal([]byte(expr), &paths)
	return paths
}

package index

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/dbsqldef/docql/keystore"
)

// Config is the declarative, file-loadable shape of a set of indexes
// to ensure exist on a collection, mirroring the teacher's
// database.GeneratorConfig: a config file is parsed once up front and
// then applied idempotently, rather than the caller hand-writing one
// CreateXxxIndex call per index. Vector index options (dimensions,
// metric, clustering, encoding, training sizes, lazy build) are the
// fields worth externalizing into a file since they're
// deployment-specific; value/array/FTS/predictive indexes need only a
// name and a property path.
type Config struct {
	Value      []ValueIndexConfig      `yaml:"value_indexes"`
	Array      []PathIndexConfig       `yaml:"array_indexes"`
	FullText   []PathIndexConfig       `yaml:"full_text_indexes"`
	Predictive []PredictiveIndexConfig `yaml:"predictive_indexes"`
	Vector     []VectorIndexConfig     `yaml:"vector_indexes"`
}

type ValueIndexConfig struct {
	Name        string   `yaml:"name"`
	Paths       []string `yaml:"paths"`
	WhereClause string   `yaml:"where,omitempty"`
}

type PathIndexConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

type PredictiveIndexConfig struct {
	Name  string `yaml:"name"`
	Model string `yaml:"model"`
	Path  string `yaml:"path"`
}

type VectorIndexConfig struct {
	Name                string `yaml:"name"`
	Path                string `yaml:"path"`
	Dimensions          int    `yaml:"dimensions"`
	Metric              string `yaml:"metric,omitempty"`
	Clustering          string `yaml:"clustering,omitempty"`
	SubquantizerCount   int    `yaml:"subquantizer_count,omitempty"`
	BitsPerSubquantizer int    `yaml:"bits_per_subquantizer,omitempty"`
	Encoding            string `yaml:"encoding,omitempty"`
	MinTrainingSize     int    `yaml:"min_training_size,omitempty"`
	MaxTrainingSize     int    `yaml:"max_training_size,omitempty"`
	DefaultProbeCount   int    `yaml:"default_probe_count,omitempty"`
	Lazy                bool   `yaml:"lazy,omitempty"`
}

// ParseConfig parses a YAML index-declaration document. An empty
// document yields a zero Config, matching ParseGeneratorConfigString's
// "empty input, empty config" contract.
func ParseConfig(yamlDoc []byte) (Config, error) {
	var cfg Config
	if len(yamlDoc) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(yamlDoc, &cfg); err != nil {
		return Config{}, fmt.Errorf("index: parsing config: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads and parses a YAML index-declaration file from disk.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("index: reading config %s: %w", path, err)
	}
	return ParseConfig(buf)
}

// Apply ensures every index cfg declares exists on ks, creating
// whichever are missing. Each CreateXxxIndex call is already
// idempotent against a matching existing spec (see sameSpec), so
// re-applying the same config file is a no-op.
func (cfg Config) Apply(m *Manager, ks *keystore.KeyStore) error {
	for _, v := range cfg.Value {
		if err := m.CreateValueIndex(ks, v.Name, v.Paths, v.WhereClause); err != nil {
			return fmt.Errorf("index config: value index %q: %w", v.Name, err)
		}
	}
	for _, a := range cfg.Array {
		if err := m.CreateArrayIndex(ks, a.Name, a.Path); err != nil {
			return fmt.Errorf("index config: array index %q: %w", a.Name, err)
		}
	}
	for _, f := range cfg.FullText {
		if err := m.CreateFTSIndex(ks, f.Name, f.Path); err != nil {
			return fmt.Errorf("index config: full-text index %q: %w", f.Name, err)
		}
	}
	for _, p := range cfg.Predictive {
		if err := m.CreatePredictiveIndex(ks, p.Name, p.Model, p.Path); err != nil {
			return fmt.Errorf("index config: predictive index %q: %w", p.Name, err)
		}
	}
	for _, v := range cfg.Vector {
		opts := VectorOptions{
			Dimensions:          v.Dimensions,
			Metric:              VectorMetric(v.Metric),
			Clustering:          parseClustering(v.Clustering),
			SubquantizerCount:   v.SubquantizerCount,
			BitsPerSubquantizer: v.BitsPerSubquantizer,
			Encoding:            parseEncoding(v.Encoding),
			MinTrainingSize:     v.MinTrainingSize,
			MaxTrainingSize:     v.MaxTrainingSize,
			DefaultProbeCount:   v.DefaultProbeCount,
			Lazy:                v.Lazy,
		}
		if err := m.CreateVectorIndex(ks, v.Name, v.Path, opts); err != nil {
			return fmt.Errorf("index config: vector index %q: %w", v.Name, err)
		}
	}
	return nil
}

func parseClustering(s string) VectorClustering {
	if s == "multi" {
		return ClusteringMulti
	}
	return ClusteringFlat
}

func parseEncoding(s string) VectorEncoding {
	switch s {
	case "pq":
		return EncodingPQ
	case "sq":
		return EncodingSQ
	default:
		return EncodingNone
	}
}

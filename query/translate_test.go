package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	tables map[string]string
	fts    map[string]string
	vector map[string][2]string
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		tables: map[string]string{"users": "kv_default"},
		fts:    map[string]string{"kv_default.bio": "kv_default::bioIdx"},
		vector: map[string][2]string{"kv_default.embeddingIdx": {"kv_default::embeddingIdx", "Euclidean2"}},
	}
}

func (c *fakeCatalog) CollectionTable(name string) (string, bool) {
	t, ok := c.tables[name]
	return t, ok
}
func (c *fakeCatalog) ResolveValueIndex(table, path string) (string, bool) { return "", false }
func (c *fakeCatalog) ResolveFTSIndex(table, path string) (string, bool) {
	t, ok := c.fts[table+"."+path]
	return t, ok
}
func (c *fakeCatalog) ResolveVectorIndex(table, name string) (string, string, bool) {
	v, ok := c.vector[table+"."+name]
	if !ok {
		return "", "", false
	}
	return v[0], v[1], true
}
func (c *fakeCatalog) ResolvePredictiveIndex(table, model string) (string, bool) { return "", false }

func TestParseJSONSimpleWhat(t *testing.T) {
	ast, err := ParseJSON([]byte(`{"WHAT":[".name"],"FROM":[{"COLLECTION":"users"}]}`))
	require.NoError(t, err)
	require.Len(t, ast.What, 1)
	assert.Equal(t, ExprProperty, ast.What[0].Kind)
	assert.Equal(t, "name", ast.What[0].Property)
}

func TestTranslateSimplePropertyQuery(t *testing.T) {
	ast, err := ParseJSON([]byte(`{"WHAT":[".name"],"FROM":[{"COLLECTION":"users"}],"WHERE":["=",".age",["$minAge"]]}`))
	require.NoError(t, err)
	ast.Where = op("=", prop("age"), param("minAge"))

	q, err := Translate(ast, newFakeCatalog())
	require.NoError(t, err)
	assert.Contains(t, q.SQL, `fl_value("users".body, 'name')`)
	assert.Contains(t, q.SQL, `fl_value("users".body, 'age') = $minAge`)
	assert.Equal(t, []string{"minAge"}, q.Parameters)
	assert.Equal(t, []string{"kv_default"}, q.CollectionTablesUsed)
}

func TestTranslateMatchRecordsFTSTable(t *testing.T) {
	ast := &AST{
		What:  []Expr{prop("name")},
		From:  []FromClause{{Collection: "users"}},
		Where: op("MATCH", prop("bio"), lit("engineer")),
	}
	q, err := Translate(ast, newFakeCatalog())
	require.NoError(t, err)
	assert.Equal(t, []string{"kv_default::bioIdx"}, q.FTSTablesUsed)
}

func TestTranslateVectorDistanceRejectsMismatchedMetric(t *testing.T) {
	ast := &AST{
		What: []Expr{op("APPROX_VECTOR_DISTANCE", lit("embeddingIdx"), prop("embedding"), lit("Cosine"))},
		From: []FromClause{{Collection: "users"}},
	}
	_, err := Translate(ast, newFakeCatalog())
	assert.Error(t, err)
}

func TestTranslateVectorDistanceAcceptsDefaultMetric(t *testing.T) {
	ast := &AST{
		What: []Expr{op("APPROX_VECTOR_DISTANCE", lit("embeddingIdx"), prop("embedding"))},
		From: []FromClause{{Collection: "users"}},
	}
	q, err := Translate(ast, newFakeCatalog())
	require.NoError(t, err)
	assert.Contains(t, q.SQL, "kv_default::embeddingIdx")
}

func TestTranslateAnyExists(t *testing.T) {
	ast := &AST{
		What: []Expr{meta("_id")},
		From: []FromClause{{Collection: "users"}},
		Where: op("ANY", lit("tag"), prop("tags"),
			op("=", prop("tag"), lit("admin"))),
	}
	q, err := Translate(ast, newFakeCatalog())
	require.NoError(t, err)
	assert.Contains(t, q.SQL, "EXISTS (SELECT 1 FROM fl_each(")
}

func TestParseTextRoundTripsLikeJSON(t *testing.T) {
	ast, err := ParseText(`SELECT .name AS n FROM users WHERE .age >= $minAge ORDER BY 1 LIMIT $count`)
	require.NoError(t, err)
	require.Len(t, ast.What, 1)
	assert.Equal(t, "n", ast.What[0].Alias)
	require.Len(t, ast.From, 1)
	assert.Equal(t, "users", ast.From[0].Collection)
	require.NotNil(t, ast.Where)

	q, err := Translate(ast, newFakeCatalog())
	require.NoError(t, err)
	assert.Contains(t, q.Parameters, "minAge")
	assert.Contains(t, q.Parameters, "count")
}

func TestParseTextErrorsCarryByteOffset(t *testing.T) {
	_, err := ParseText(`SELECT .name FROM`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offset")
}

func TestOrderByOrdinalOutOfRangeErrors(t *testing.T) {
	ast := &AST{
		What:    []Expr{prop("name")},
		From:    []FromClause{{Collection: "users"}},
		OrderBy: []OrderTerm{{Expr: lit(float64(5))}},
	}
	_, err := Translate(ast, newFakeCatalog())
	assert.Error(t, err)
}

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/kgcommit/internal/config"
	"github.com/vanshika/kgcommit/internal/document"
	"github.com/vanshika/kgcommit/internal/domain"
	"github.com/vanshika/kgcommit/internal/logging"
	"github.com/vanshika/kgcommit/internal/pipeline"
	"github.com/vanshika/kgcommit/internal/repository"
)

func testSchema() *domain.Schema {
	return &domain.Schema{
		PropertyKeys: []domain.PropertyKey{
			{Name: "name", DataType: domain.DataTypeText, Cardinality: domain.CardinalitySingle},
			{Name: "age", DataType: domain.DataTypeInt, Cardinality: domain.CardinalitySingle},
			{Name: "tags", DataType: domain.DataTypeText, Cardinality: domain.CardinalityList},
			{Name: "first", DataType: domain.DataTypeText},
			{Name: "codes", DataType: domain.DataTypeInt, Cardinality: domain.CardinalitySet},
			{Name: "weight", DataType: domain.DataTypeDouble},
		},
		VertexLabels: []domain.VertexLabel{
			{Name: "person", Properties: []string{"name", "age", "tags"}, PrimaryKeys: []string{"name"}, NullableKeys: []string{"tags"}},
			{Name: "pair", Properties: []string{"first", "codes"}, PrimaryKeys: []string{"first", "codes"}},
		},
		EdgeLabels: []domain.EdgeLabel{
			{Name: "knows", SourceLabel: "person", TargetLabel: "person", Properties: []string{"weight"}},
		},
	}
}

func newTestCommitter(store GraphStore, opts ...CommitterOption) (*Committer, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, config.LoggingConfig{Level: "debug", Format: "text"})
	return NewCommitter(store, logger, opts...), &buf
}

func addVertexCalls(store *repository.MemoryStore) []repository.StoreCall {
	var out []repository.StoreCall
	for _, call := range store.Calls() {
		if call.Op == "AddVertex" {
			out = append(out, call)
		}
	}
	return out
}

func TestCommit_EmptyInputCreatesNothing(t *testing.T) {
	store := repository.NewMemoryStore()
	committer, logs := newTestCommitter(store)

	_, err := committer.Commit(context.Background(), domain.GraphData{Schema: testSchema()})
	require.ErrorIs(t, err, ErrEmptyInput)
	assert.Empty(t, store.Calls())
	assert.Zero(t, store.SchemaWrites())
	assert.Contains(t, logs.String(), "level=CRITICAL")
}

func TestCommit_MissingNonNullablePropertyGetsDefault(t *testing.T) {
	store := repository.NewMemoryStore()
	committer, logs := newTestCommitter(store)
	in := domain.GraphData{
		Schema:   testSchema(),
		Vertices: []domain.Vertex{{Label: "person", Properties: map[string]any{"name": "Alice"}}},
	}

	out, err := committer.Commit(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out.Vertices, 1)
	assert.Equal(t, int64(0), out.Vertices[0].Properties["age"])
	assert.Equal(t, "person:Alice", out.Vertices[0].ID)
	assert.Contains(t, logs.String(), "property missing, set to default")

	stored, ok := store.Vertex("person:Alice")
	require.True(t, ok)
	assert.Equal(t, int64(0), stored.Properties["age"])

	assert.Empty(t, in.Vertices[0].ID, "input must not be annotated")
	assert.NotContains(t, in.Vertices[0].Properties, "age", "input must not receive defaults")
}

func TestCommit_SinglePrimaryKeyMissingDropsVertex(t *testing.T) {
	store := repository.NewMemoryStore()
	committer, logs := newTestCommitter(store)
	in := domain.GraphData{
		Schema: testSchema(),
		Vertices: []domain.Vertex{
			{Label: "person", Properties: map[string]any{"name": "  ", "age": int64(4)}},
			{Label: "person", Properties: map[string]any{"age": int64(5)}},
			{Label: "person", Properties: map[string]any{"name": "Bo", "age": int64(6)}},
		},
	}

	out, err := committer.Commit(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, out.Vertices[0].ID)
	assert.Empty(t, out.Vertices[1].ID)
	assert.Equal(t, "person:Bo", out.Vertices[2].ID)

	calls := addVertexCalls(store)
	require.Len(t, calls, 1, "dropped vertices must not reach the store")
	assert.Equal(t, "person:Bo", calls[0].ID)
	assert.Contains(t, logs.String(), "primary key missing, skipping vertex")
}

func TestCommit_MultiPrimaryKeyMissingIsDefaulted(t *testing.T) {
	store := repository.NewMemoryStore()
	committer, logs := newTestCommitter(store)
	in := domain.GraphData{
		Schema:   testSchema(),
		Vertices: []domain.Vertex{{Label: "pair", Properties: map[string]any{"first": "Al"}}},
	}

	out, err := committer.Commit(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []any{}, out.Vertices[0].Properties["codes"])
	assert.NotEmpty(t, out.Vertices[0].ID)
	assert.Contains(t, logs.String(), "needs review")
}

func TestCommit_TypeMismatchDropsOnlyThatVertex(t *testing.T) {
	store := repository.NewMemoryStore()
	committer, logs := newTestCommitter(store)
	in := domain.GraphData{
		Schema: testSchema(),
		Vertices: []domain.Vertex{
			{Label: "person", Properties: map[string]any{"name": "Bo", "age": "old"}},
			{Label: "person", Properties: map[string]any{"name": "Cy", "age": int64(3), "tags": []any{"a", 1}}},
			{Label: "person", Properties: map[string]any{"name": "Di", "age": int64(3), "tags": []any{"a", "b"}}},
			{Label: "person", Properties: map[string]any{"name": "Ed", "age": 3.5}},
		},
	}

	out, err := committer.Commit(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, out.Vertices[0].ID)
	assert.Empty(t, out.Vertices[1].ID)
	assert.Equal(t, "person:Di", out.Vertices[2].ID)
	assert.Empty(t, out.Vertices[3].ID)
	assert.Equal(t, 1, store.Vertices())
	assert.Contains(t, logs.String(), "does not match its data type")
}

func TestCommit_UndeclaredPropertyDropsVertex(t *testing.T) {
	store := repository.NewMemoryStore()
	committer, logs := newTestCommitter(store)
	in := domain.GraphData{
		Schema:   testSchema(),
		Vertices: []domain.Vertex{{Label: "person", Properties: map[string]any{"name": "Al", "age": int64(1), "shoe": int64(42)}}},
	}

	out, err := committer.Commit(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, out.Vertices[0].ID)
	assert.Empty(t, addVertexCalls(store))
	assert.Contains(t, logs.String(), "property not declared in schema")
}

func TestCommit_SchemaMaterializationIsIdempotent(t *testing.T) {
	store := repository.NewMemoryStore()
	committer, _ := newTestCommitter(store)
	in := domain.GraphData{
		Schema:   testSchema(),
		Vertices: []domain.Vertex{{Label: "person", Properties: map[string]any{"name": "Al", "age": int64(1)}}},
	}

	_, err := committer.Commit(context.Background(), in)
	require.NoError(t, err)
	writes := store.SchemaWrites()
	assert.Equal(t, 6+2+1, writes)

	_, err = committer.Commit(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, writes, store.SchemaWrites())

	person, ok := store.VertexLabelDef("person")
	require.True(t, ok)
	assert.Equal(t, repository.IDStrategyPrimaryKey, person.IDStrategy)
	assert.Equal(t, []string{"name"}, person.PrimaryKeys)

	knows, ok := store.EdgeLabelDef("knows")
	require.True(t, ok)
	assert.Equal(t, []string{"weight"}, knows.NullableKeys)
}

func TestCommit_NativeTypeMapping(t *testing.T) {
	store := repository.NewMemoryStore()
	committer, logs := newTestCommitter(store)
	schema := &domain.Schema{
		PropertyKeys: []domain.PropertyKey{
			{Name: "id", DataType: domain.DataTypeText},
			{Name: "flag", DataType: domain.DataTypeBoolean},
			{Name: "ratio", DataType: domain.DataTypeFloat, Cardinality: domain.CardinalityList},
			{Name: "raw", DataType: domain.DataTypeByte},
			{Name: "ref", DataType: domain.DataTypeUUID},
			{Name: "born", DataType: domain.DataTypeDate},
		},
		VertexLabels: []domain.VertexLabel{
			{Name: "thing", Properties: []string{"id", "flag", "ratio", "raw", "ref", "born"}, PrimaryKeys: []string{"id"}, NullableKeys: []string{"flag", "ratio", "raw", "ref", "born"}},
		},
	}

	_, err := committer.Commit(context.Background(), domain.GraphData{
		Schema:   schema,
		Vertices: []domain.Vertex{{Label: "thing", Properties: map[string]any{"id": "t1", "flag": true}}},
	})
	require.NoError(t, err)

	cases := map[string]repository.PropertyKeyDef{
		"flag":  {Name: "flag", ValueType: repository.ValueTypeText, Cardinality: domain.CardinalitySingle},
		"ratio": {Name: "ratio", ValueType: repository.ValueTypeDouble, Cardinality: domain.CardinalityList},
		"raw":   {Name: "raw", ValueType: repository.ValueTypeInt, Cardinality: domain.CardinalitySingle},
		"ref":   {Name: "ref", ValueType: repository.ValueTypeText, Cardinality: domain.CardinalitySingle},
		"born":  {Name: "born", ValueType: repository.ValueTypeDate, Cardinality: domain.CardinalitySingle},
	}
	for name, want := range cases {
		got, ok := store.PropertyKeyDef(name)
		require.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}
	assert.Contains(t, logs.String(), "boolean properties are not supported")
	assert.Contains(t, logs.String(), "downgrading")
	_, ok := store.Vertex("thing:t1")
	assert.True(t, ok)
}

func TestCommit_UnknownDataTypeIsFatal(t *testing.T) {
	store := repository.NewMemoryStore()
	committer, _ := newTestCommitter(store)
	schema := testSchema()
	schema.PropertyKeys[1].DataType = "DECIMAL"

	_, err := committer.Commit(context.Background(), domain.GraphData{
		Schema:   schema,
		Vertices: []domain.Vertex{{Label: "person", Properties: map[string]any{"name": "Al"}}},
	})
	require.ErrorIs(t, err, domain.ErrUnknownDataType)
	assert.Zero(t, store.SchemaWrites())
	assert.Empty(t, store.Calls())
}

func TestCommit_UnusedUnknownDataTypeIsFatal(t *testing.T) {
	store := repository.NewMemoryStore()
	committer, _ := newTestCommitter(store)
	schema := testSchema()
	schema.PropertyKeys = append(schema.PropertyKeys, domain.PropertyKey{Name: "spare", DataType: "DECIMAL"})

	_, err := committer.Commit(context.Background(), domain.GraphData{
		Schema:   schema,
		Vertices: []domain.Vertex{{Label: "person", Properties: map[string]any{"name": "Al", "age": 1}}},
	})
	require.ErrorIs(t, err, domain.ErrUnknownDataType)
	assert.Zero(t, store.SchemaWrites())
	assert.Empty(t, store.Calls())
}

func TestCommit_InvalidSchemaIsFatal(t *testing.T) {
	store := repository.NewMemoryStore()
	committer, _ := newTestCommitter(store)
	schema := testSchema()
	schema.VertexLabels[0].Properties = append(schema.VertexLabels[0].Properties, "ghost")

	_, err := committer.Commit(context.Background(), domain.GraphData{
		Schema:   schema,
		Vertices: []domain.Vertex{{Label: "person", Properties: map[string]any{"name": "Al"}}},
	})
	require.ErrorIs(t, err, domain.ErrInvalidSchema)
	assert.Zero(t, store.SchemaWrites())
}

func TestCommit_UnknownLabelsAreSkipped(t *testing.T) {
	store := repository.NewMemoryStore()
	committer, logs := newTestCommitter(store)
	in := domain.GraphData{
		Schema: testSchema(),
		Vertices: []domain.Vertex{
			{Label: "robot", Properties: map[string]any{"name": "R2"}},
			{Label: "person", Properties: map[string]any{"name": "Al", "age": int64(1)}},
			{Label: "person", Properties: map[string]any{"name": "Bo", "age": int64(2)}},
		},
		Edges: []domain.Edge{
			{Label: "hates", OutV: "person:Al", InV: "person:Bo"},
			{Label: "knows", OutV: "person:Al", InV: "person:Bo", Properties: map[string]any{"weight": 0.5}},
			{Label: "knows", OutV: "person:Al", InV: "person:Nobody"},
		},
	}

	out, err := committer.Commit(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, out.Vertices[0].ID)
	assert.Empty(t, out.Edges[0].ID)
	assert.Equal(t, "person:Al>knows>>person:Bo", out.Edges[1].ID)
	assert.Empty(t, out.Edges[2].ID)

	text := logs.String()
	assert.Contains(t, text, "level=CRITICAL msg=\"vertex label not found in schema, skipping vertex\"")
	assert.Contains(t, text, "level=CRITICAL msg=\"edge label not found in schema, skipping edge\"")
	assert.Contains(t, text, "references a missing label or vertex")

	edges := store.Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, 0.5, edges[0].Properties["weight"])
}

type failingStore struct {
	*repository.MemoryStore
	err error
}

func (f failingStore) AddVertex(context.Context, string, map[string]any, string) (string, error) {
	return "", f.err
}

func TestCommit_UnclassifiedStoreErrorAborts(t *testing.T) {
	boom := errors.New("connection reset")
	committer, _ := newTestCommitter(failingStore{MemoryStore: repository.NewMemoryStore(), err: boom})

	_, err := committer.Commit(context.Background(), domain.GraphData{
		Schema:   testSchema(),
		Vertices: []domain.Vertex{{Label: "person", Properties: map[string]any{"name": "Al", "age": int64(1)}}},
	})
	require.ErrorIs(t, err, boom)
}

func TestCommit_ConflictIsLoggedAndSkipped(t *testing.T) {
	conflict := failingStore{MemoryStore: repository.NewMemoryStore(), err: repository.ErrCreateConflict}
	committer, logs := newTestCommitter(conflict)

	out, err := committer.Commit(context.Background(), domain.GraphData{
		Schema:   testSchema(),
		Vertices: []domain.Vertex{{Label: "person", Properties: map[string]any{"name": "Al", "age": int64(1)}}},
	})
	require.NoError(t, err)
	assert.Empty(t, out.Vertices[0].ID)
	assert.Contains(t, logs.String(), "error creating vertex")
}

func TestCommit_SchemaFreeMode(t *testing.T) {
	store := repository.NewMemoryStore()
	committer, logs := newTestCommitter(store)
	in := domain.GraphData{
		Vertices: []domain.Vertex{{Label: "ignored"}},
		Triples: []domain.Triple{
			{Subject: " Alice ", Predicate: " knows ", Object: "Bob"},
			{Subject: "Alice", Predicate: "likes", Object: "Carol"},
		},
	}

	_, err := committer.Commit(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 3, store.Vertices())

	alice, ok := store.Vertex("Alice")
	require.True(t, ok)
	assert.Equal(t, FreeVertexLabel, alice.Label)
	assert.Equal(t, "Alice", alice.Properties[FreeNameProperty])

	edges := store.Edges()
	require.Len(t, edges, 2)
	for _, e := range edges {
		assert.Equal(t, "Alice", e.OutV)
	}

	_, ok = store.IndexLabelDef("vertexByName")
	assert.True(t, ok)
	def, ok := store.IndexLabelDef("edgeByName")
	require.True(t, ok)
	assert.Equal(t, repository.ElementEdge, def.BaseType)
	assert.Len(t, addVertexCalls(store), 3, "each distinct name is created once")
	assert.Contains(t, logs.String(), "schema-free mode")

	writes := store.SchemaWrites()
	_, err = committer.Commit(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, writes, store.SchemaWrites())
}

func TestCommit_BatchesFallBackToSingleSubmission(t *testing.T) {
	store := repository.NewMemoryStore()
	store.FailBatches(errors.New("batch endpoint down"))
	committer, logs := newTestCommitter(store, WithBatchSize(2))
	in := domain.GraphData{
		Schema: testSchema(),
		Vertices: []domain.Vertex{
			{Label: "person", Properties: map[string]any{"name": "Al", "age": int64(1)}},
			{Label: "person", Properties: map[string]any{"name": "Bo", "age": int64(2)}},
			{Label: "person", Properties: map[string]any{"name": "Cy", "age": int64(3)}},
		},
		Edges: []domain.Edge{{Label: "knows", OutV: "person:Al", InV: "person:Cy"}},
	}

	out, err := committer.Commit(context.Background(), in)
	require.NoError(t, err)
	for _, v := range out.Vertices {
		assert.NotEmpty(t, v.ID)
	}
	assert.Equal(t, "person:Al>knows>>person:Cy", out.Edges[0].ID)

	var ops []string
	for _, call := range store.Calls() {
		ops = append(ops, call.Op)
	}
	assert.Equal(t, []string{
		"AddVertices", "AddVertex", "AddVertex",
		"AddVertices", "AddVertex",
		"AddEdges", "AddEdge",
	}, ops)
	assert.Contains(t, logs.String(), "retrying one by one")
}

func TestCommit_BatchesSucceed(t *testing.T) {
	store := repository.NewMemoryStore()
	committer, _ := newTestCommitter(store, WithBatchSize(10))
	in := domain.GraphData{
		Schema: testSchema(),
		Vertices: []domain.Vertex{
			{Label: "person", Properties: map[string]any{"name": "Al", "age": int64(1)}},
			{Label: "person", Properties: map[string]any{"name": "Bo"}},
		},
	}

	out, err := committer.Commit(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "person:Al", out.Vertices[0].ID)
	assert.Equal(t, "person:Bo", out.Vertices[1].ID)
	require.Len(t, store.Calls(), 1)
	assert.Equal(t, "AddVertices", store.Calls()[0].Op)
}

func TestCommitter_RunDecodesContext(t *testing.T) {
	store := repository.NewMemoryStore()
	committer := NewCommitter(store, slog.New(slog.DiscardHandler))

	var raw map[string]any
	body := `{
		"schema": {
			"propertykeys": [{"name": "name", "data_type": "text"}, {"name": "age", "data_type": "int"}],
			"vertexlabels": [{"name": "person", "properties": ["name", "age"], "primary_keys": ["name"], "nullable_keys": []}],
			"edgelabels": []
		},
		"vertices": [{"label": "person", "properties": {"name": "Al", "age": 30}}],
		"edges": []
	}`
	dec := json.NewDecoder(bytes.NewBufferString(body))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&raw))
	data := pipeline.Context(raw)

	res, err := committer.Run(context.Background(), data)
	require.NoError(t, err)

	vertices, ok := res[pipeline.KeyVertices].([]domain.Vertex)
	require.True(t, ok)
	require.Len(t, vertices, 1)
	assert.Equal(t, "person:Al", vertices[0].ID)
	assert.Equal(t, int64(30), vertices[0].Properties["age"])

	_, stillRaw := data[pipeline.KeyVertices].([]any)
	assert.True(t, stillRaw, "the caller's context must be left untouched")
}

func TestCommitter_RunRejectsEmptyContext(t *testing.T) {
	committer := NewCommitter(repository.NewMemoryStore(), nil)
	_, err := committer.Run(context.Background(), pipeline.Context{})
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func scoredItemSchema() *domain.Schema {
	return &domain.Schema{
		PropertyKeys: []domain.PropertyKey{
			{Name: "name", DataType: domain.DataTypeText},
			{Name: "score", DataType: domain.DataTypeDouble},
		},
		VertexLabels: []domain.VertexLabel{
			{Name: "item", Properties: []string{"name", "score"}, PrimaryKeys: []string{"name"}},
		},
	}
}

func TestCommitter_RunKeepsWholeFloats(t *testing.T) {
	store := repository.NewMemoryStore()
	committer := NewCommitter(store, slog.New(slog.DiscardHandler))

	data := pipeline.Context{
		pipeline.KeySchema: scoredItemSchema(),
		pipeline.KeyVertices: []any{
			map[string]any{"label": "item", "properties": map[string]any{"name": "a", "score": 2.0}},
		},
	}
	res, err := committer.Run(context.Background(), data)
	require.NoError(t, err)

	vertices := res[pipeline.KeyVertices].([]domain.Vertex)
	require.Len(t, vertices, 1)
	assert.Equal(t, "item:a", vertices[0].ID)
	stored, ok := store.Vertex("item:a")
	require.True(t, ok)
	assert.Equal(t, 2.0, stored.Properties["score"])
}

func TestCommit_ResultCanBeCommittedAgain(t *testing.T) {
	for _, name := range []string{"out.json", "out.yaml"} {
		t.Run(name, func(t *testing.T) {
			committer := NewCommitter(repository.NewMemoryStore(), slog.New(slog.DiscardHandler))
			out, err := committer.Commit(context.Background(), domain.GraphData{
				Schema:   scoredItemSchema(),
				Vertices: []domain.Vertex{{Label: "item", Properties: map[string]any{"name": "a"}}},
			})
			require.NoError(t, err)
			require.Equal(t, 0.0, out.Vertices[0].Properties["score"])

			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, document.Write(path, out))
			var again domain.GraphData
			require.NoError(t, document.Decode(path, &again))

			store := repository.NewMemoryStore()
			reingested, err := NewCommitter(store, slog.New(slog.DiscardHandler)).Commit(context.Background(), again)
			require.NoError(t, err)
			assert.Equal(t, "item:a", reingested.Vertices[0].ID)
			assert.Equal(t, 1, store.Vertices())
		})
	}
}

func TestCommitter_RunsAsAFlowStage(t *testing.T) {
	store := repository.NewMemoryStore()
	committer := NewCommitter(store, slog.New(slog.DiscardHandler))

	extract := pipeline.OperatorFunc(func(_ context.Context, data pipeline.Context) (pipeline.Context, error) {
		out := data.Clone()
		out[pipeline.KeyTriples] = []domain.Triple{{Subject: "Al", Predicate: "knows", Object: "Bo"}}
		out[pipeline.KeyVertices] = []domain.Vertex{{Label: "ignored"}}
		return out, nil
	})

	_, err := pipeline.Flow{extract, committer}.Run(context.Background(), pipeline.Context{})
	require.NoError(t, err)
	assert.Equal(t, 2, store.Vertices())
	require.Len(t, store.Edges(), 1)
	assert.Equal(t, "knows", store.Edges()[0].Properties["name"])
}

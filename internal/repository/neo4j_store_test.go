package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/vanshika/kgcommit/internal/graph"
)

func TestNeo4jStore_SchemaBuildersWriteMetadata(t *testing.T) {
	mem := graph.NewMemoryClient()
	store := NewNeo4jStore(mem)
	ctx := context.Background()

	if err := store.Schema().PropertyKey("name").AsText().CreateIfNotExists(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := store.Schema().VertexLabel("person").Properties("name", "age").NullableKeys("age").PrimaryKeys("name").CreateIfNotExists(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	calls := mem.WriteCalls()
	if len(calls) != 3 {
		t.Fatalf("expected 3 write queries, got %d", len(calls))
	}
	if calls[0].Query != mergePropertyKeyCypher {
		t.Fatalf("unexpected query\nexpected:\n%s\ngot:\n%s", mergePropertyKeyCypher, calls[0].Query)
	}
	if calls[0].Params["valueType"] != "TEXT" || calls[0].Params["cardinality"] != "SINGLE" {
		t.Errorf("unexpected property key params %+v", calls[0].Params)
	}
	if calls[1].Params["idStrategy"] != "PRIMARY_KEY" {
		t.Errorf("expected primary key id strategy, got %v", calls[1].Params["idStrategy"])
	}
	want := "CREATE CONSTRAINT `vertex_id_person` IF NOT EXISTS FOR (v:`person`) REQUIRE v._kg_id IS UNIQUE"
	if calls[2].Query != want {
		t.Fatalf("unexpected constraint\nexpected: %s\ngot: %s", want, calls[2].Query)
	}

	vid, err := store.AddVertex(ctx, "person", map[string]any{"name": "Al"}, "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if vid != "person:Al" {
		t.Fatalf("expected primary key id, got %s", vid)
	}
	if got := len(mem.ReadCalls()); got != 0 {
		t.Fatalf("expected the label definition to be served from cache, got %d reads", got)
	}

	calls = mem.WriteCalls()
	last := calls[len(calls)-1]
	if !strings.Contains(last.Query, "MERGE (v:`person` {_kg_id: $id})") {
		t.Fatalf("unexpected vertex query: %s", last.Query)
	}
	props, ok := last.Params["props"].(map[string]any)
	if !ok || props["name"] != "Al" {
		t.Fatalf("expected props map with name, got %#v", last.Params["props"])
	}
}

func TestNeo4jStore_UserIDPropertyKeepsElementID(t *testing.T) {
	mem := graph.NewMemoryClient()
	mem.OnRead("KGVertexLabel", graph.Result{Records: []graph.Record{{
		"properties":  []any{"id", "name"},
		"primaryKeys": []any{"name"},
		"idStrategy":  "PRIMARY_KEY",
	}}}, nil)
	store := NewNeo4jStore(mem)

	vid, err := store.AddVertex(context.Background(), "doc", map[string]any{"id": "X-1", "name": "a"}, "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if vid != "doc:a" {
		t.Fatalf("expected primary key id, got %s", vid)
	}

	call := mem.WriteCalls()[0]
	if !strings.Contains(call.Query, "MERGE (v:`doc` {_kg_id: $id})") || !strings.Contains(call.Query, "RETURN v._kg_id AS id") {
		t.Fatalf("expected the element id under its own key, got:\n%s", call.Query)
	}
	if strings.Contains(call.Query, "{id:") || strings.Contains(call.Query, "v.id") {
		t.Fatalf("expected the user id property to stay out of the merge key, got:\n%s", call.Query)
	}
	if call.Params["id"] != "doc:a" {
		t.Fatalf("expected element id param doc:a, got %v", call.Params["id"])
	}
	props := call.Params["props"].(map[string]any)
	if props["id"] != "X-1" {
		t.Fatalf("expected the user id property to be stored as data, got %#v", props)
	}
}

func TestNeo4jStore_ReservedPropertyKeyRejected(t *testing.T) {
	mem := graph.NewMemoryClient()
	store := NewNeo4jStore(mem)

	err := store.Schema().PropertyKey(elementIDKey).AsText().CreateIfNotExists(context.Background())
	if !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("expected ErrInvalidDefinition, got %v", err)
	}
	if got := len(mem.WriteCalls()); got != 0 {
		t.Fatalf("expected no writes, got %d", got)
	}
}

func TestNeo4jStore_EnsureMetadataConstraints(t *testing.T) {
	mem := graph.NewMemoryClient()
	store := NewNeo4jStore(mem)

	if err := store.EnsureMetadataConstraints(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	calls := mem.WriteCalls()
	if len(calls) != len(metadataLabels) {
		t.Fatalf("expected %d constraints, got %d", len(metadataLabels), len(calls))
	}
	want := "CREATE CONSTRAINT `name_KGVertexLabel` IF NOT EXISTS FOR (l:KGVertexLabel) REQUIRE l.name IS UNIQUE"
	if calls[1].Query != want {
		t.Fatalf("unexpected constraint\nexpected: %s\ngot: %s", want, calls[1].Query)
	}

	failing := graph.NewMemoryClient().WithError(errors.New("unavailable"))
	if err := NewNeo4jStore(failing).EnsureMetadataConstraints(context.Background()); err == nil {
		t.Fatalf("expected the constraint error to surface")
	}
}

func TestNeo4jStore_StoredDefinitionWins(t *testing.T) {
	mem := graph.NewMemoryClient()
	mem.OnWrite("KGEdgeLabel", graph.Result{Records: []graph.Record{{
		"sourceLabel":  "person",
		"targetLabel":  "city",
		"properties":   []any{"since"},
		"nullableKeys": []any{"since"},
	}}}, nil)
	store := NewNeo4jStore(mem)
	ctx := context.Background()

	err := store.Schema().EdgeLabel("lives_in").SourceLabel("person").TargetLabel("person").CreateIfNotExists(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	mem.OnWrite("MERGE (a)-[r:", graph.Result{Records: []graph.Record{{"id": "person:Al>lives_in>>city:Rome"}}}, nil)
	eid, err := store.AddEdge(ctx, "lives_in", "person:Al", "city:Rome", map[string]any{"since": int64(2020)})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if eid != "person:Al>lives_in>>city:Rome" {
		t.Fatalf("unexpected edge id %s", eid)
	}

	calls := mem.WriteCalls()
	last := calls[len(calls)-1]
	if !strings.Contains(last.Query, "MATCH (b:`city` {_kg_id: $inV})") {
		t.Fatalf("expected the stored target label in the edge query, got:\n%s", last.Query)
	}
}

func TestNeo4jStore_AddVertexUnknownLabel(t *testing.T) {
	mem := graph.NewMemoryClient()
	store := NewNeo4jStore(mem)

	_, err := store.AddVertex(context.Background(), "ghost", map[string]any{"name": "x"}, "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	reads := mem.ReadCalls()
	if len(reads) != 1 || reads[0].Query != readVertexLabelCypher {
		t.Fatalf("expected a single label lookup, got %+v", reads)
	}
	if got := len(mem.WriteCalls()); got != 0 {
		t.Fatalf("expected no writes, got %d", got)
	}
}

func TestNeo4jStore_AddVertexRejectsUndeclaredProperty(t *testing.T) {
	mem := graph.NewMemoryClient()
	mem.OnRead("KGVertexLabel", graph.Result{Records: []graph.Record{{
		"properties":   []any{"name"},
		"nullableKeys": []any{},
		"primaryKeys":  []any{"name"},
		"idStrategy":   "PRIMARY_KEY",
	}}}, nil)
	store := NewNeo4jStore(mem)

	_, err := store.AddVertex(context.Background(), "person", map[string]any{"name": "Al", "shoe": 42}, "")
	if !errors.Is(err, ErrCreateConflict) {
		t.Fatalf("expected ErrCreateConflict, got %v", err)
	}
	if got := len(mem.WriteCalls()); got != 0 {
		t.Fatalf("expected no writes, got %d", got)
	}
}

func TestNeo4jStore_ConstraintViolationIsConflict(t *testing.T) {
	mem := graph.NewMemoryClient()
	mem.OnRead("KGVertexLabel", graph.Result{Records: []graph.Record{{
		"properties":  []any{"name"},
		"idStrategy":  "CUSTOMIZE_STRING",
		"primaryKeys": []any{},
	}}}, nil)
	mem.OnWrite("MERGE (v:", graph.Result{}, fmt.Errorf("%w: node already exists", graph.ErrConstraint))
	store := NewNeo4jStore(mem)

	_, err := store.AddVertex(context.Background(), "person", map[string]any{"name": "Al"}, "al")
	if !errors.Is(err, ErrCreateConflict) {
		t.Fatalf("expected ErrCreateConflict, got %v", err)
	}
}

func TestNeo4jStore_AddEdgeMissingEndpoints(t *testing.T) {
	mem := graph.NewMemoryClient()
	mem.OnRead("KGEdgeLabel", graph.Result{Records: []graph.Record{{
		"sourceLabel": "person",
		"targetLabel": "city",
	}}}, nil)
	store := NewNeo4jStore(mem)

	_, err := store.AddEdge(context.Background(), "lives_in", "person:Al", "city:Nowhere", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	calls := mem.WriteCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 write query, got %d", len(calls))
	}
	if props, ok := calls[0].Params["props"].(map[string]any); !ok || props == nil {
		t.Fatalf("expected an empty props map for a nil input, got %#v", calls[0].Params["props"])
	}
}

func TestNeo4jStore_AddVerticesGroupsByLabel(t *testing.T) {
	mem := graph.NewMemoryClient()
	mem.OnRead("KGVertexLabel", graph.Result{Records: []graph.Record{{
		"properties":  []any{"name"},
		"primaryKeys": []any{"name"},
		"idStrategy":  "PRIMARY_KEY",
	}}}, nil)
	mem.OnRead("KGVertexLabel", graph.Result{Records: []graph.Record{{
		"properties":  []any{"name"},
		"primaryKeys": []any{"name"},
		"idStrategy":  "PRIMARY_KEY",
	}}}, nil)
	store := NewNeo4jStore(mem)

	ids, err := store.AddVertices(context.Background(), []VertexInput{
		{Label: "person", Properties: map[string]any{"name": "Al"}},
		{Label: "city", Properties: map[string]any{"name": "Rome"}},
		{Label: "person", Properties: map[string]any{"name": "Bo"}},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if strings.Join(ids, ",") != "person:Al,city:Rome,person:Bo" {
		t.Fatalf("unexpected ids %v", ids)
	}

	calls := mem.WriteCalls()
	if len(calls) != 2 {
		t.Fatalf("expected one UNWIND per label, got %d writes", len(calls))
	}
	if !strings.Contains(calls[0].Query, "MERGE (v:`person` {_kg_id: row.id})") {
		t.Fatalf("expected the first label first, got:\n%s", calls[0].Query)
	}
	rows, ok := calls[0].Params["rows"].([]map[string]any)
	if !ok || len(rows) != 2 {
		t.Fatalf("expected 2 person rows, got %#v", calls[0].Params["rows"])
	}
}

func TestNeo4jStore_AddEdgesCountsMatchedRows(t *testing.T) {
	mem := graph.NewMemoryClient()
	mem.OnRead("KGEdgeLabel", graph.Result{Records: []graph.Record{{
		"sourceLabel": "person",
		"targetLabel": "person",
	}}}, nil)
	mem.OnWrite("UNWIND", graph.Result{Records: []graph.Record{{"id": "a>knows>>b"}}}, nil)
	store := NewNeo4jStore(mem)

	_, err := store.AddEdges(context.Background(), []EdgeInput{
		{Label: "knows", OutV: "a", InV: "b"},
		{Label: "knows", OutV: "a", InV: "missing"},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIndexCypher(t *testing.T) {
	vertex := indexCypher(IndexLabelDef{Name: "personByName", BaseType: ElementVertex, BaseValue: "person", Fields: []string{"name"}})
	if vertex != "CREATE INDEX `personByName` IF NOT EXISTS FOR (n:`person`) ON (n.`name`)" {
		t.Fatalf("unexpected vertex index: %s", vertex)
	}
	edge := indexCypher(IndexLabelDef{Name: "knowsBySince", BaseType: ElementEdge, BaseValue: "knows", Fields: []string{"since", "weight"}})
	if edge != "CREATE INDEX `knowsBySince` IF NOT EXISTS FOR ()-[r:`knows`]-() ON (r.`since`, r.`weight`)" {
		t.Fatalf("unexpected edge index: %s", edge)
	}
}

func TestIdentifiers(t *testing.T) {
	if got := quoteIdentifier("we`ird"); got != "`we``ird`" {
		t.Fatalf("unexpected quoting %s", got)
	}
	if got := schemaObjectName("vertex_id", "my label-2"); got != "vertex_id_my_label_2" {
		t.Fatalf("unexpected object name %s", got)
	}
}

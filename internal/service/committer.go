package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vanshika/kgcommit/internal/domain"
	"github.com/vanshika/kgcommit/internal/logging"
	"github.com/vanshika/kgcommit/internal/pipeline"
	"github.com/vanshika/kgcommit/internal/repository"
)

// ErrEmptyInput is returned when a commit carries neither vertices nor edges.
var ErrEmptyInput = errors.New("both vertices and edges are empty")

var _ pipeline.Operator = (*Committer)(nil)

var tracer = otel.Tracer("github.com/vanshika/kgcommit/internal/service")

// GraphStore is the storage contract required by the committer.
type GraphStore interface {
	Schema() *repository.Schema
	AddVertex(ctx context.Context, label string, props map[string]any, id string) (string, error)
	AddEdge(ctx context.Context, label, outV, inV string, props map[string]any) (string, error)
}

// BatchGraphStore is implemented by stores that can create many elements in
// one round trip.
type BatchGraphStore interface {
	GraphStore
	AddVertices(ctx context.Context, inputs []repository.VertexInput) ([]string, error)
	AddEdges(ctx context.Context, inputs []repository.EdgeInput) ([]string, error)
}

// Committer validates extracted graph data against its schema and writes the
// surviving elements to the graph store. Elements that fail validation or
// are refused by the store are logged and dropped; only configuration errors
// abort a commit.
type Committer struct {
	store     GraphStore
	logger    *slog.Logger
	batchSize int
}

// CommitterOption customises a Committer.
type CommitterOption func(*Committer)

// WithBatchSize submits validated elements in chunks of n through a
// BatchGraphStore. A chunk the store rejects is resubmitted one element at a
// time. Zero or a store without batch support keeps per-element submission.
func WithBatchSize(n int) CommitterOption {
	return func(c *Committer) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// NewCommitter constructs a Committer. A nil logger discards output.
func NewCommitter(store GraphStore, logger *slog.Logger, opts ...CommitterOption) *Committer {
	c := &Committer{
		store:  store,
		logger: logging.OrDiscard(logger).With("component", "committer"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type commitStats struct {
	verticesCreated int
	verticesSkipped int
	edgesCreated    int
	edgesSkipped    int
}

// Commit writes data to the graph store and returns an annotated copy:
// defaults are injected where the schema allows it and created elements
// carry their store ids. The argument is not modified.
func (c *Committer) Commit(ctx context.Context, data domain.GraphData) (domain.GraphData, error) {
	ctx, span := tracer.Start(ctx, "committer.Commit")
	defer span.End()
	span.SetAttributes(
		attribute.Int("commit.vertices", len(data.Vertices)),
		attribute.Int("commit.edges", len(data.Edges)),
	)

	if len(data.Vertices) == 0 && len(data.Edges) == 0 {
		logging.Critical(ctx, c.logger, "both vertices and edges are empty, check the input data")
		return domain.GraphData{}, ErrEmptyInput
	}

	out := data.Clone()
	for i := range out.Vertices {
		domain.NormalizeProperties(out.Vertices[i].Properties)
	}
	for i := range out.Edges {
		domain.NormalizeProperties(out.Edges[i].Properties)
	}

	if out.Schema == nil {
		span.SetAttributes(attribute.String("commit.mode", "schema_free"))
		if err := c.commitTriples(ctx, out.Triples); err != nil {
			return domain.GraphData{}, err
		}
		c.logger.WarnContext(ctx, "using schema-free mode, a schema gives better results")
		return out, nil
	}

	span.SetAttributes(attribute.String("commit.mode", "schema_defined"))
	if err := checkSchema(out.Schema); err != nil {
		return domain.GraphData{}, err
	}
	if err := c.materializeSchema(ctx, out.Schema); err != nil {
		return domain.GraphData{}, err
	}

	stats, err := c.load(ctx, &out)
	if err != nil {
		return domain.GraphData{}, err
	}
	span.SetAttributes(
		attribute.Int("commit.vertices_created", stats.verticesCreated),
		attribute.Int("commit.vertices_skipped", stats.verticesSkipped),
		attribute.Int("commit.edges_created", stats.edgesCreated),
		attribute.Int("commit.edges_skipped", stats.edgesSkipped),
	)
	c.logger.InfoContext(ctx, "commit finished",
		"vertices_created", stats.verticesCreated,
		"vertices_skipped", stats.verticesSkipped,
		"edges_created", stats.edgesCreated,
		"edges_skipped", stats.edgesSkipped,
	)
	return out, nil
}

// Run commits the schema, vertices, edges and triples held in data and
// returns a copy of data with the annotated vertices and edges.
func (c *Committer) Run(ctx context.Context, data pipeline.Context) (pipeline.Context, error) {
	var in domain.GraphData
	var err error
	if in.Schema, _, err = pipeline.Decode[*domain.Schema](data, pipeline.KeySchema); err != nil {
		return nil, err
	}
	if in.Vertices, _, err = pipeline.Decode[[]domain.Vertex](data, pipeline.KeyVertices); err != nil {
		return nil, err
	}
	if in.Edges, _, err = pipeline.Decode[[]domain.Edge](data, pipeline.KeyEdges); err != nil {
		return nil, err
	}
	if in.Triples, _, err = pipeline.Decode[[]domain.Triple](data, pipeline.KeyTriples); err != nil {
		return nil, err
	}

	out, err := c.Commit(ctx, in)
	if err != nil {
		return nil, err
	}
	res := data.Clone()
	res[pipeline.KeyVertices] = out.Vertices
	res[pipeline.KeyEdges] = out.Edges
	return res, nil
}

func (c *Committer) load(ctx context.Context, out *domain.GraphData) (commitStats, error) {
	var stats commitStats
	keys := out.Schema.PropertyKeyMap()
	vertexLabels := out.Schema.VertexLabelMap()
	edgeLabels := out.Schema.EdgeLabelMap()

	var vertices []*domain.Vertex
	for i := range out.Vertices {
		v := &out.Vertices[i]
		label, ok := vertexLabels[v.Label]
		if !ok {
			logging.Critical(ctx, c.logger, "vertex label not found in schema, skipping vertex", "label", v.Label)
			stats.verticesSkipped++
			continue
		}
		valid, err := c.repairVertex(ctx, v, label, keys)
		if err != nil {
			return stats, err
		}
		if !valid {
			stats.verticesSkipped++
			continue
		}
		vertices = append(vertices, v)
	}
	created, err := c.createVertices(ctx, vertices)
	if err != nil {
		return stats, err
	}
	stats.verticesCreated = created
	stats.verticesSkipped += len(vertices) - created

	var edges []*domain.Edge
	for i := range out.Edges {
		e := &out.Edges[i]
		if _, ok := edgeLabels[e.Label]; !ok {
			logging.Critical(ctx, c.logger, "edge label not found in schema, skipping edge", "label", e.Label)
			stats.edgesSkipped++
			continue
		}
		edges = append(edges, e)
	}
	created, err = c.createEdges(ctx, edges)
	if err != nil {
		return stats, err
	}
	stats.edgesCreated = created
	stats.edgesSkipped += len(edges) - created
	return stats, nil
}

// repairVertex fills in what the schema lets it default and reports whether
// v may be submitted. An error means the schema itself is unusable.
func (c *Committer) repairVertex(ctx context.Context, v *domain.Vertex, label domain.VertexLabel, keys map[string]domain.PropertyKey) (bool, error) {
	if v.Properties == nil {
		v.Properties = make(map[string]any)
	}

	for _, pk := range label.PrimaryKeys {
		// 0 and false are real key values; a blank string counts as missing.
		if !domain.IsEmptyValue(v.Properties[pk]) {
			continue
		}
		if len(label.PrimaryKeys) == 1 {
			c.logger.ErrorContext(ctx, "primary key missing, skipping vertex",
				"label", v.Label, "primary_key", pk, "properties", v.Properties)
			return false, nil
		}
		value, err := defaultFor(keys[pk])
		if err != nil {
			return false, err
		}
		v.Properties[pk] = value
		c.logger.WarnContext(ctx, "primary key missing, set to default and needs review",
			"label", v.Label, "primary_key", pk, "default", value)
	}

	for _, key := range label.NonNullableKeys() {
		if _, ok := v.Properties[key]; ok {
			continue
		}
		value, err := defaultFor(keys[key])
		if err != nil {
			return false, err
		}
		v.Properties[key] = value
		c.logger.WarnContext(ctx, "property missing, set to default",
			"label", v.Label, "property", key, "default", value)
	}

	names := make([]string, 0, len(v.Properties))
	for name := range v.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		key, ok := keys[name]
		if !ok {
			c.logger.ErrorContext(ctx, "property not declared in schema, skipping vertex",
				"label", v.Label, "property", name)
			return false, nil
		}
		matches, err := domain.CheckValue(key.DataType, key.Cardinality, v.Properties[name])
		if err != nil {
			return false, fmt.Errorf("property %q: %w", name, err)
		}
		if !matches {
			c.logger.ErrorContext(ctx, "property value does not match its data type, skipping vertex",
				"label", v.Label, "property", name, "data_type", key.DataType, "cardinality", key.Cardinality,
				"value", v.Properties[name])
			return false, nil
		}
	}
	return true, nil
}

func defaultFor(key domain.PropertyKey) (any, error) {
	value, err := domain.DefaultValue(key.DataType, key.Cardinality)
	if err != nil {
		return nil, fmt.Errorf("property %q: %w", key.Name, err)
	}
	return value, nil
}

func (c *Committer) createVertices(ctx context.Context, vertices []*domain.Vertex) (int, error) {
	batcher, ok := c.store.(BatchGraphStore)
	if !ok || c.batchSize == 0 {
		return c.createVerticesOneByOne(ctx, vertices)
	}

	created := 0
	for chunk := range slices.Chunk(vertices, c.batchSize) {
		inputs := make([]repository.VertexInput, len(chunk))
		for i, v := range chunk {
			inputs[i] = repository.VertexInput{Label: v.Label, Properties: v.Properties}
		}
		ids, err := batcher.AddVertices(ctx, inputs)
		if err == nil {
			for i, v := range chunk {
				v.ID = ids[i]
			}
			created += len(chunk)
			continue
		}
		c.logger.WarnContext(ctx, "batch vertex create failed, retrying one by one", "size", len(chunk), "error", err)
		n, err := c.createVerticesOneByOne(ctx, chunk)
		if err != nil {
			return created, err
		}
		created += n
	}
	return created, nil
}

func (c *Committer) createVerticesOneByOne(ctx context.Context, vertices []*domain.Vertex) (int, error) {
	created := 0
	for _, v := range vertices {
		id, err := c.store.AddVertex(ctx, v.Label, v.Properties, "")
		if err != nil {
			if !c.dropOnStoreError(ctx, "vertex", v.Label, v.Properties, err) {
				return created, fmt.Errorf("add vertex %s: %w", v.Label, err)
			}
			continue
		}
		v.ID = id
		created++
	}
	return created, nil
}

func (c *Committer) createEdges(ctx context.Context, edges []*domain.Edge) (int, error) {
	batcher, ok := c.store.(BatchGraphStore)
	if !ok || c.batchSize == 0 {
		return c.createEdgesOneByOne(ctx, edges)
	}

	created := 0
	for chunk := range slices.Chunk(edges, c.batchSize) {
		inputs := make([]repository.EdgeInput, len(chunk))
		for i, e := range chunk {
			inputs[i] = repository.EdgeInput{Label: e.Label, OutV: e.OutV, InV: e.InV, Properties: e.Properties}
		}
		ids, err := batcher.AddEdges(ctx, inputs)
		if err == nil {
			for i, e := range chunk {
				e.ID = ids[i]
			}
			created += len(chunk)
			continue
		}
		c.logger.WarnContext(ctx, "batch edge create failed, retrying one by one", "size", len(chunk), "error", err)
		n, err := c.createEdgesOneByOne(ctx, chunk)
		if err != nil {
			return created, err
		}
		created += n
	}
	return created, nil
}

func (c *Committer) createEdgesOneByOne(ctx context.Context, edges []*domain.Edge) (int, error) {
	created := 0
	for _, e := range edges {
		id, err := c.store.AddEdge(ctx, e.Label, e.OutV, e.InV, e.Properties)
		if err != nil {
			if !c.dropOnStoreError(ctx, "edge", e.Label, e.Properties, err) {
				return created, fmt.Errorf("add edge %s: %w", e.Label, err)
			}
			continue
		}
		e.ID = id
		created++
	}
	return created, nil
}

// dropOnStoreError logs store refusals that only concern one element and
// reports whether err was one of them.
func (c *Committer) dropOnStoreError(ctx context.Context, kind, label string, props map[string]any, err error) bool {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.logger.ErrorContext(ctx, kind+" references a missing label or vertex", "label", label, "error", err)
	case errors.Is(err, repository.ErrCreateConflict):
		c.logger.ErrorContext(ctx, "error creating "+kind, "label", label, "properties", props, "error", err)
	default:
		return false
	}
	return true
}

// commitTriples writes one generic vertex per distinct subject or object and
// one edge per triple. Vertex ids are the trimmed strings themselves, so
// equal text always lands on the same vertex.
func (c *Committer) commitTriples(ctx context.Context, triples []domain.Triple) error {
	if err := c.ensureFreeSchema(ctx); err != nil {
		return err
	}

	seen := make(map[string]string)
	addVertex := func(name string) (string, bool, error) {
		if id, ok := seen[name]; ok {
			return id, true, nil
		}
		id, err := c.store.AddVertex(ctx, FreeVertexLabel, map[string]any{FreeNameProperty: name}, name)
		if err != nil {
			if c.dropOnStoreError(ctx, "vertex", FreeVertexLabel, map[string]any{FreeNameProperty: name}, err) {
				return "", false, nil
			}
			return "", false, fmt.Errorf("add vertex %q: %w", name, err)
		}
		seen[name] = id
		return id, true, nil
	}

	for _, t := range triples {
		t = t.Trimmed()
		outV, ok, err := addVertex(t.Subject)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		inV, ok, err := addVertex(t.Object)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		props := map[string]any{FreeNameProperty: t.Predicate}
		if _, err := c.store.AddEdge(ctx, FreeEdgeLabel, outV, inV, props); err != nil {
			if !c.dropOnStoreError(ctx, "edge", FreeEdgeLabel, props, err) {
				return fmt.Errorf("add edge %q: %w", t.Predicate, err)
			}
		}
	}
	return nil
}

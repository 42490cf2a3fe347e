package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/vanshika/kgcommit/internal/graph"
)

// Neo4jStore keeps the schema contract as metadata nodes next to the data
// and enforces it on every write. Label definitions are cached after they
// are first read or written.
type Neo4jStore struct {
	client graph.Client

	mu           sync.RWMutex
	vertexLabels map[string]VertexLabelDef
	edgeLabels   map[string]EdgeLabelDef
}

// NewNeo4jStore builds a store over the supplied graph client.
func NewNeo4jStore(client graph.Client) *Neo4jStore {
	return &Neo4jStore{
		client:       client,
		vertexLabels: make(map[string]VertexLabelDef),
		edgeLabels:   make(map[string]EdgeLabelDef),
	}
}

// EnsureMetadataConstraints makes the schema metadata names unique. Call it
// once before committing from several goroutines.
func (s *Neo4jStore) EnsureMetadataConstraints(ctx context.Context) error {
	for _, label := range metadataLabels {
		cypher := fmt.Sprintf(metadataConstraintTemplate, quoteIdentifier(schemaObjectName("name", label)), label)
		if _, err := s.client.ExecuteWrite(ctx, cypher, nil); err != nil {
			return fmt.Errorf("create name constraint for %s: %w", label, err)
		}
	}
	return nil
}

// Schema returns the builder entry point for this store.
func (s *Neo4jStore) Schema() *Schema {
	return NewSchema(s)
}

func (s *Neo4jStore) EnsurePropertyKey(ctx context.Context, def PropertyKeyDef) error {
	_, err := s.client.ExecuteWrite(ctx, mergePropertyKeyCypher, map[string]any{
		"name":        def.Name,
		"valueType":   string(def.ValueType),
		"cardinality": string(def.Cardinality),
	})
	if err != nil {
		return fmt.Errorf("create property key %s: %w", def.Name, err)
	}
	return nil
}

func (s *Neo4jStore) EnsureVertexLabel(ctx context.Context, def VertexLabelDef) error {
	res, err := s.client.ExecuteWrite(ctx, mergeVertexLabelCypher, map[string]any{
		"name":         def.Name,
		"properties":   def.Properties,
		"nullableKeys": def.NullableKeys,
		"primaryKeys":  def.PrimaryKeys,
		"idStrategy":   string(def.IDStrategy),
	})
	if err != nil {
		return fmt.Errorf("create vertex label %s: %w", def.Name, err)
	}

	constraint := fmt.Sprintf(vertexIDConstraintTemplate, quoteIdentifier(schemaObjectName("vertex_id", def.Name)), quoteIdentifier(def.Name))
	if _, err := s.client.ExecuteWrite(ctx, constraint, nil); err != nil {
		return fmt.Errorf("create id constraint for %s: %w", def.Name, err)
	}

	// MERGE returns the stored definition, which wins over def when the
	// label already existed.
	if len(res.Records) > 0 {
		def = vertexLabelFromRecord(def.Name, res.Records[0])
	}
	s.mu.Lock()
	s.vertexLabels[def.Name] = def
	s.mu.Unlock()
	return nil
}

func (s *Neo4jStore) EnsureEdgeLabel(ctx context.Context, def EdgeLabelDef) error {
	res, err := s.client.ExecuteWrite(ctx, mergeEdgeLabelCypher, map[string]any{
		"name":         def.Name,
		"sourceLabel":  def.SourceLabel,
		"targetLabel":  def.TargetLabel,
		"properties":   def.Properties,
		"nullableKeys": def.NullableKeys,
	})
	if err != nil {
		return fmt.Errorf("create edge label %s: %w", def.Name, err)
	}
	if len(res.Records) > 0 {
		def = edgeLabelFromRecord(def.Name, res.Records[0])
	}
	s.mu.Lock()
	s.edgeLabels[def.Name] = def
	s.mu.Unlock()
	return nil
}

func (s *Neo4jStore) EnsureIndexLabel(ctx context.Context, def IndexLabelDef) error {
	_, err := s.client.ExecuteWrite(ctx, mergeIndexLabelCypher, map[string]any{
		"name":      def.Name,
		"baseType":  string(def.BaseType),
		"baseValue": def.BaseValue,
		"fields":    def.Fields,
		"indexType": string(def.IndexType),
	})
	if err != nil {
		return fmt.Errorf("create index label %s: %w", def.Name, err)
	}
	if _, err := s.client.ExecuteWrite(ctx, indexCypher(def), nil); err != nil {
		return fmt.Errorf("create index %s: %w", def.Name, err)
	}
	return nil
}

func (s *Neo4jStore) AddVertex(ctx context.Context, label string, props map[string]any, id string) (string, error) {
	def, err := s.vertexLabel(ctx, label)
	if err != nil {
		return "", err
	}
	if err := checkProperties("vertex", label, def.Properties, def.NullableKeys, props); err != nil {
		return "", err
	}
	vid, err := vertexID(def, props, id)
	if err != nil {
		return "", err
	}

	res, err := s.client.ExecuteWrite(ctx, fmt.Sprintf(mergeVertexTemplate, quoteIdentifier(label)), map[string]any{
		"id":    vid,
		"props": nonNil(props),
	})
	if err != nil {
		return "", classifyWrite(fmt.Sprintf("add vertex %s", vid), err)
	}
	if len(res.Records) == 0 {
		return vid, nil
	}
	return toString(res.Records[0]["id"]), nil
}

func (s *Neo4jStore) AddEdge(ctx context.Context, label, outV, inV string, props map[string]any) (string, error) {
	def, err := s.edgeLabel(ctx, label)
	if err != nil {
		return "", err
	}
	if err := checkProperties("edge", label, def.Properties, def.NullableKeys, props); err != nil {
		return "", err
	}

	eid := edgeID(label, outV, inV)
	query := fmt.Sprintf(mergeEdgeTemplate, quoteIdentifier(def.SourceLabel), quoteIdentifier(def.TargetLabel), quoteIdentifier(label))
	res, err := s.client.ExecuteWrite(ctx, query, map[string]any{
		"outV":  outV,
		"inV":   inV,
		"id":    eid,
		"props": nonNil(props),
	})
	if err != nil {
		return "", classifyWrite(fmt.Sprintf("add edge %s", eid), err)
	}
	if len(res.Records) == 0 {
		return "", fmt.Errorf("%w: endpoints %q -> %q of edge label %q", ErrNotFound, outV, inV, label)
	}
	return toString(res.Records[0]["id"]), nil
}

// AddVertices validates every input before writing, then issues one UNWIND
// statement per label. A failure can leave earlier labels written; because
// vertices are merged on their id, re-submitting them is safe.
func (s *Neo4jStore) AddVertices(ctx context.Context, inputs []VertexInput) ([]string, error) {
	ids := make([]string, len(inputs))
	groups := make(map[string][]map[string]any)
	var order []string
	for i, in := range inputs {
		def, err := s.vertexLabel(ctx, in.Label)
		if err != nil {
			return nil, err
		}
		if err := checkProperties("vertex", in.Label, def.Properties, def.NullableKeys, in.Properties); err != nil {
			return nil, err
		}
		vid, err := vertexID(def, in.Properties, in.ID)
		if err != nil {
			return nil, err
		}
		ids[i] = vid
		if _, seen := groups[in.Label]; !seen {
			order = append(order, in.Label)
		}
		groups[in.Label] = append(groups[in.Label], map[string]any{"id": vid, "props": nonNil(in.Properties)})
	}

	for _, label := range order {
		rows := groups[label]
		query := fmt.Sprintf(mergeVerticesTemplate, quoteIdentifier(label))
		if _, err := s.client.ExecuteWrite(ctx, query, map[string]any{"rows": rows}); err != nil {
			return nil, classifyWrite(fmt.Sprintf("add %d vertices of label %s", len(rows), label), err)
		}
	}
	return ids, nil
}

// AddEdges writes edges with one UNWIND statement per label and fails when
// any endpoint could not be matched.
func (s *Neo4jStore) AddEdges(ctx context.Context, inputs []EdgeInput) ([]string, error) {
	ids := make([]string, len(inputs))
	groups := make(map[string][]map[string]any)
	var order []string
	for i, in := range inputs {
		def, err := s.edgeLabel(ctx, in.Label)
		if err != nil {
			return nil, err
		}
		if err := checkProperties("edge", in.Label, def.Properties, def.NullableKeys, in.Properties); err != nil {
			return nil, err
		}
		ids[i] = edgeID(in.Label, in.OutV, in.InV)
		if _, seen := groups[in.Label]; !seen {
			order = append(order, in.Label)
		}
		groups[in.Label] = append(groups[in.Label], map[string]any{
			"id": ids[i], "outV": in.OutV, "inV": in.InV, "props": nonNil(in.Properties),
		})
	}

	for _, label := range order {
		def, err := s.edgeLabel(ctx, label)
		if err != nil {
			return nil, err
		}
		rows := groups[label]
		query := fmt.Sprintf(mergeEdgesTemplate, quoteIdentifier(def.SourceLabel), quoteIdentifier(def.TargetLabel), quoteIdentifier(label))
		res, err := s.client.ExecuteWrite(ctx, query, map[string]any{"rows": rows})
		if err != nil {
			return nil, classifyWrite(fmt.Sprintf("add %d edges of label %s", len(rows), label), err)
		}
		if len(res.Records) < len(rows) {
			return nil, fmt.Errorf("%w: %d of %d edges of label %q had missing endpoints", ErrNotFound, len(rows)-len(res.Records), len(rows), label)
		}
	}
	return ids, nil
}

func (s *Neo4jStore) vertexLabel(ctx context.Context, name string) (VertexLabelDef, error) {
	s.mu.RLock()
	def, ok := s.vertexLabels[name]
	s.mu.RUnlock()
	if ok {
		return def, nil
	}

	res, err := s.client.ExecuteRead(ctx, readVertexLabelCypher, map[string]any{"name": name})
	if err != nil {
		return VertexLabelDef{}, fmt.Errorf("read vertex label %s: %w", name, err)
	}
	if len(res.Records) == 0 {
		return VertexLabelDef{}, fmt.Errorf("%w: vertex label %q", ErrNotFound, name)
	}
	def = vertexLabelFromRecord(name, res.Records[0])

	s.mu.Lock()
	s.vertexLabels[name] = def
	s.mu.Unlock()
	return def, nil
}

func (s *Neo4jStore) edgeLabel(ctx context.Context, name string) (EdgeLabelDef, error) {
	s.mu.RLock()
	def, ok := s.edgeLabels[name]
	s.mu.RUnlock()
	if ok {
		return def, nil
	}

	res, err := s.client.ExecuteRead(ctx, readEdgeLabelCypher, map[string]any{"name": name})
	if err != nil {
		return EdgeLabelDef{}, fmt.Errorf("read edge label %s: %w", name, err)
	}
	if len(res.Records) == 0 {
		return EdgeLabelDef{}, fmt.Errorf("%w: edge label %q", ErrNotFound, name)
	}
	def = edgeLabelFromRecord(name, res.Records[0])

	s.mu.Lock()
	s.edgeLabels[name] = def
	s.mu.Unlock()
	return def, nil
}

func vertexLabelFromRecord(name string, rec graph.Record) VertexLabelDef {
	return VertexLabelDef{
		Name:         name,
		Properties:   toStrings(rec["properties"]),
		NullableKeys: toStrings(rec["nullableKeys"]),
		PrimaryKeys:  toStrings(rec["primaryKeys"]),
		IDStrategy:   IDStrategy(toString(rec["idStrategy"])),
	}
}

func edgeLabelFromRecord(name string, rec graph.Record) EdgeLabelDef {
	return EdgeLabelDef{
		Name:         name,
		SourceLabel:  toString(rec["sourceLabel"]),
		TargetLabel:  toString(rec["targetLabel"]),
		Properties:   toStrings(rec["properties"]),
		NullableKeys: toStrings(rec["nullableKeys"]),
	}
}

func nonNil(props map[string]any) map[string]any {
	if props == nil {
		return map[string]any{}
	}
	return props
}

func classifyWrite(op string, err error) error {
	if errors.Is(err, graph.ErrConstraint) {
		return fmt.Errorf("%s: %w: %w", op, ErrCreateConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func quoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

var nonIdentifierChars = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// schemaObjectName builds a stable constraint or index name for a label.
func schemaObjectName(prefix, label string) string {
	return prefix + "_" + nonIdentifierChars.ReplaceAllString(label, "_")
}

func indexCypher(def IndexLabelDef) string {
	fields := make([]string, len(def.Fields))
	if def.BaseType == ElementEdge {
		for i, f := range def.Fields {
			fields[i] = "r." + quoteIdentifier(f)
		}
		return fmt.Sprintf("CREATE INDEX %s IF NOT EXISTS FOR ()-[r:%s]-() ON (%s)",
			quoteIdentifier(def.Name), quoteIdentifier(def.BaseValue), strings.Join(fields, ", "))
	}
	for i, f := range def.Fields {
		fields[i] = "n." + quoteIdentifier(f)
	}
	return fmt.Sprintf("CREATE INDEX %s IF NOT EXISTS FOR (n:%s) ON (%s)",
		quoteIdentifier(def.Name), quoteIdentifier(def.BaseValue), strings.Join(fields, ", "))
}

const mergePropertyKeyCypher = `
MERGE (p:KGPropertyKey {name: $name})
ON CREATE SET p.valueType = $valueType,
              p.cardinality = $cardinality,
              p.createdAt = datetime()
`

const mergeVertexLabelCypher = `
MERGE (l:KGVertexLabel {name: $name})
ON CREATE SET l.properties = $properties,
              l.nullableKeys = $nullableKeys,
              l.primaryKeys = $primaryKeys,
              l.idStrategy = $idStrategy,
              l.createdAt = datetime()
RETURN l.properties AS properties,
       l.nullableKeys AS nullableKeys,
       l.primaryKeys AS primaryKeys,
       l.idStrategy AS idStrategy
`

const mergeEdgeLabelCypher = `
MERGE (l:KGEdgeLabel {name: $name})
ON CREATE SET l.sourceLabel = $sourceLabel,
              l.targetLabel = $targetLabel,
              l.properties = $properties,
              l.nullableKeys = $nullableKeys,
              l.createdAt = datetime()
RETURN l.sourceLabel AS sourceLabel,
       l.targetLabel AS targetLabel,
       l.properties AS properties,
       l.nullableKeys AS nullableKeys
`

const mergeIndexLabelCypher = `
MERGE (i:KGIndexLabel {name: $name})
ON CREATE SET i.baseType = $baseType,
              i.baseValue = $baseValue,
              i.fields = $fields,
              i.indexType = $indexType,
              i.createdAt = datetime()
`

const readVertexLabelCypher = `
MATCH (l:KGVertexLabel {name: $name})
RETURN l.properties AS properties,
       l.nullableKeys AS nullableKeys,
       l.primaryKeys AS primaryKeys,
       l.idStrategy AS idStrategy
`

const readEdgeLabelCypher = `
MATCH (l:KGEdgeLabel {name: $name})
RETURN l.sourceLabel AS sourceLabel,
       l.targetLabel AS targetLabel,
       l.properties AS properties,
       l.nullableKeys AS nullableKeys
`

// elementIDKey holds the store-assigned id on nodes and relationships. It is
// kept apart from user properties, so a schema property named "id" cannot
// replace it.
const elementIDKey = "_kg_id"

const vertexIDConstraintTemplate = `CREATE CONSTRAINT %s IF NOT EXISTS FOR (v:%s) REQUIRE v._kg_id IS UNIQUE`

// metadataLabels are merged on name by concurrent commits, which is only
// race free under a uniqueness constraint.
var metadataLabels = []string{"KGPropertyKey", "KGVertexLabel", "KGEdgeLabel", "KGIndexLabel"}

const metadataConstraintTemplate = `CREATE CONSTRAINT %s IF NOT EXISTS FOR (l:%s) REQUIRE l.name IS UNIQUE`

const mergeVertexTemplate = `
MERGE (v:%s {_kg_id: $id})
SET v += $props
RETURN v._kg_id AS id
`

const mergeVerticesTemplate = `
UNWIND $rows AS row
MERGE (v:%s {_kg_id: row.id})
SET v += row.props
RETURN v._kg_id AS id
`

const mergeEdgeTemplate = `
MATCH (a:%s {_kg_id: $outV})
MATCH (b:%s {_kg_id: $inV})
MERGE (a)-[r:%s {_kg_id: $id}]->(b)
SET r += $props
RETURN r._kg_id AS id
`

const mergeEdgesTemplate = `
UNWIND $rows AS row
MATCH (a:%s {_kg_id: row.outV})
MATCH (b:%s {_kg_id: row.inV})
MERGE (a)-[r:%s {_kg_id: row.id}]->(b)
SET r += row.props
RETURN r._kg_id AS id
`

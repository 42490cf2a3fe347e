package repository

import (
	"context"
	"fmt"
	"sync"
)

// StoreCall records one data operation issued against a MemoryStore.
type StoreCall struct {
	Op    string // AddVertex|AddEdge|AddVertices|AddEdges
	Label string
	ID    string
	Err   error
}

// StoredVertex is a vertex held by a MemoryStore.
type StoredVertex struct {
	ID         string
	Label      string
	Properties map[string]any
}

// StoredEdge is an edge held by a MemoryStore.
type StoredEdge struct {
	ID         string
	Label      string
	OutV       string
	InV        string
	Properties map[string]any
}

// MemoryStore is an in-memory graph store with the same semantics as
// Neo4jStore. It backs tests and dry runs.
type MemoryStore struct {
	mu sync.Mutex

	propertyKeys map[string]PropertyKeyDef
	vertexLabels map[string]VertexLabelDef
	edgeLabels   map[string]EdgeLabelDef
	indexLabels  map[string]IndexLabelDef
	schemaWrites int

	vertices map[string]StoredVertex
	edges    map[string]StoredEdge
	calls    []StoreCall
	batchErr error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		propertyKeys: make(map[string]PropertyKeyDef),
		vertexLabels: make(map[string]VertexLabelDef),
		edgeLabels:   make(map[string]EdgeLabelDef),
		indexLabels:  make(map[string]IndexLabelDef),
		vertices:     make(map[string]StoredVertex),
		edges:        make(map[string]StoredEdge),
	}
}

// Schema returns the builder entry point for this store.
func (m *MemoryStore) Schema() *Schema {
	return NewSchema(m)
}

// FailBatches makes every batch call return err without storing anything.
func (m *MemoryStore) FailBatches(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchErr = err
}

func (m *MemoryStore) EnsurePropertyKey(_ context.Context, def PropertyKeyDef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.propertyKeys[def.Name]; !ok {
		m.propertyKeys[def.Name] = def
		m.schemaWrites++
	}
	return nil
}

func (m *MemoryStore) EnsureVertexLabel(_ context.Context, def VertexLabelDef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireKeys("vertex label", def.Name, def.Properties); err != nil {
		return err
	}
	if _, ok := m.vertexLabels[def.Name]; !ok {
		m.vertexLabels[def.Name] = def
		m.schemaWrites++
	}
	return nil
}

func (m *MemoryStore) EnsureEdgeLabel(_ context.Context, def EdgeLabelDef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireKeys("edge label", def.Name, def.Properties); err != nil {
		return err
	}
	for _, label := range []string{def.SourceLabel, def.TargetLabel} {
		if _, ok := m.vertexLabels[label]; !ok {
			return fmt.Errorf("%w: edge label %q references vertex label %q", ErrNotFound, def.Name, label)
		}
	}
	if _, ok := m.edgeLabels[def.Name]; !ok {
		m.edgeLabels[def.Name] = def
		m.schemaWrites++
	}
	return nil
}

func (m *MemoryStore) EnsureIndexLabel(_ context.Context, def IndexLabelDef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indexLabels[def.Name]; !ok {
		m.indexLabels[def.Name] = def
		m.schemaWrites++
	}
	return nil
}

func (m *MemoryStore) requireKeys(kind, name string, props []string) error {
	for _, p := range props {
		if _, ok := m.propertyKeys[p]; !ok {
			return fmt.Errorf("%w: %s %q references property key %q", ErrNotFound, kind, name, p)
		}
	}
	return nil
}

func (m *MemoryStore) AddVertex(_ context.Context, label string, props map[string]any, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vid, err := m.addVertex(label, props, id)
	m.calls = append(m.calls, StoreCall{Op: "AddVertex", Label: label, ID: vid, Err: err})
	return vid, err
}

func (m *MemoryStore) AddEdge(_ context.Context, label, outV, inV string, props map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	eid, err := m.addEdge(label, outV, inV, props)
	m.calls = append(m.calls, StoreCall{Op: "AddEdge", Label: label, ID: eid, Err: err})
	return eid, err
}

// AddVertices stores all vertices or none.
func (m *MemoryStore) AddVertices(_ context.Context, inputs []VertexInput) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, StoreCall{Op: "AddVertices", Err: m.batchErr})
	if m.batchErr != nil {
		return nil, m.batchErr
	}

	ids := make([]string, len(inputs))
	for i, in := range inputs {
		def, ok := m.vertexLabels[in.Label]
		if !ok {
			return nil, fmt.Errorf("%w: vertex label %q", ErrNotFound, in.Label)
		}
		if err := checkProperties("vertex", def.Name, def.Properties, def.NullableKeys, in.Properties); err != nil {
			return nil, err
		}
		id, err := vertexID(def, in.Properties, in.ID)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	for i, in := range inputs {
		m.vertices[ids[i]] = StoredVertex{ID: ids[i], Label: in.Label, Properties: cloneProps(in.Properties)}
	}
	return ids, nil
}

// AddEdges stores all edges or none.
func (m *MemoryStore) AddEdges(_ context.Context, inputs []EdgeInput) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, StoreCall{Op: "AddEdges", Err: m.batchErr})
	if m.batchErr != nil {
		return nil, m.batchErr
	}

	for _, in := range inputs {
		if err := m.checkEdge(in.Label, in.OutV, in.InV, in.Properties); err != nil {
			return nil, err
		}
	}
	ids := make([]string, len(inputs))
	for i, in := range inputs {
		ids[i] = edgeID(in.Label, in.OutV, in.InV)
		m.edges[ids[i]] = StoredEdge{ID: ids[i], Label: in.Label, OutV: in.OutV, InV: in.InV, Properties: cloneProps(in.Properties)}
	}
	return ids, nil
}

func (m *MemoryStore) addVertex(label string, props map[string]any, id string) (string, error) {
	def, ok := m.vertexLabels[label]
	if !ok {
		return "", fmt.Errorf("%w: vertex label %q", ErrNotFound, label)
	}
	if err := checkProperties("vertex", label, def.Properties, def.NullableKeys, props); err != nil {
		return "", err
	}
	vid, err := vertexID(def, props, id)
	if err != nil {
		return "", err
	}
	if existing, ok := m.vertices[vid]; ok && existing.Label != label {
		return "", fmt.Errorf("%w: id %q already used by label %q", ErrCreateConflict, vid, existing.Label)
	}
	m.vertices[vid] = StoredVertex{ID: vid, Label: label, Properties: cloneProps(props)}
	return vid, nil
}

func (m *MemoryStore) addEdge(label, outV, inV string, props map[string]any) (string, error) {
	if err := m.checkEdge(label, outV, inV, props); err != nil {
		return "", err
	}
	eid := edgeID(label, outV, inV)
	m.edges[eid] = StoredEdge{ID: eid, Label: label, OutV: outV, InV: inV, Properties: cloneProps(props)}
	return eid, nil
}

func (m *MemoryStore) checkEdge(label, outV, inV string, props map[string]any) error {
	def, ok := m.edgeLabels[label]
	if !ok {
		return fmt.Errorf("%w: edge label %q", ErrNotFound, label)
	}
	if err := checkProperties("edge", label, def.Properties, def.NullableKeys, props); err != nil {
		return err
	}
	for _, end := range []struct{ id, label string }{{outV, def.SourceLabel}, {inV, def.TargetLabel}} {
		v, ok := m.vertices[end.id]
		if !ok || v.Label != end.label {
			return fmt.Errorf("%w: %s vertex %q for edge label %q", ErrNotFound, end.label, end.id, label)
		}
	}
	return nil
}

// Calls returns a snapshot of the data operations issued so far.
func (m *MemoryStore) Calls() []StoreCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StoreCall(nil), m.calls...)
}

// Vertex returns a stored vertex by id.
func (m *MemoryStore) Vertex(id string) (StoredVertex, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vertices[id]
	return v, ok
}

// Vertices returns how many vertices are stored.
func (m *MemoryStore) Vertices() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.vertices)
}

// Edges returns a snapshot of the stored edges.
func (m *MemoryStore) Edges() []StoredEdge {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StoredEdge, 0, len(m.edges))
	for _, e := range m.edges {
		out = append(out, e)
	}
	return out
}

// PropertyKeyDef returns a stored property key definition.
func (m *MemoryStore) PropertyKeyDef(name string) (PropertyKeyDef, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.propertyKeys[name]
	return def, ok
}

// VertexLabelDef returns a stored vertex label definition.
func (m *MemoryStore) VertexLabelDef(name string) (VertexLabelDef, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.vertexLabels[name]
	return def, ok
}

// EdgeLabelDef returns a stored edge label definition.
func (m *MemoryStore) EdgeLabelDef(name string) (EdgeLabelDef, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.edgeLabels[name]
	return def, ok
}

// IndexLabelDef returns a stored index label definition.
func (m *MemoryStore) IndexLabelDef(name string) (IndexLabelDef, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.indexLabels[name]
	return def, ok
}

// SchemaWrites counts definitions that were actually created.
func (m *MemoryStore) SchemaWrites() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.schemaWrites
}

func cloneProps(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

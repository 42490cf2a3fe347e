package generator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/vanshika/kgcommit/internal/domain"
	"github.com/vanshika/kgcommit/internal/repository"
)

// Dataset contains the generated graph data and the number of vertices that
// were deliberately broken.
type Dataset struct {
	Data   domain.GraphData
	Faults int
}

// Generator produces synthetic graph data conforming to a schema.
type Generator struct {
	cfg    Config
	schema *domain.Schema
	keys   map[string]domain.PropertyKey
	rand   *rand.Rand
	words  []string
}

// New returns a Generator for schema. The schema must pass validation.
func New(cfg Config, schema *domain.Schema) (*Generator, error) {
	if schema == nil {
		return nil, errors.New("generator: schema is required")
	}
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}
	if cfg.VerticesPerLabel <= 0 {
		cfg.VerticesPerLabel = DefaultConfig().VerticesPerLabel
	}
	if cfg.EdgesPerLabel < 0 {
		cfg.EdgesPerLabel = 0
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	keys := schema.PropertyKeyMap()
	for _, vl := range schema.VertexLabels {
		if n := distinctKeys(vl, keys); n > 0 && cfg.VerticesPerLabel > n {
			return nil, fmt.Errorf("generator: label %q yields only %d distinct primary keys, %d vertices requested",
				vl.Name, n, cfg.VerticesPerLabel)
		}
	}

	return &Generator{
		cfg:    cfg,
		schema: schema,
		keys:   keys,
		rand:   rand.New(rand.NewSource(cfg.Seed)),
		words:  []string{"alpha", "graph", "vertex", "river", "harbor", "signal", "ledger", "orbit", "meadow", "quartz", "beacon", "summit"},
	}, nil
}

// Generate synthesises vertices for every vertex label, then edges and their
// matching triples between vertices that were generated intact. It respects
// context cancellation.
func (g *Generator) Generate(ctx context.Context) (Dataset, error) {
	var (
		vertices []domain.Vertex
		faults   int
		intact   = make(map[string][]string, len(g.schema.VertexLabels))
	)

	for _, vl := range g.schema.VertexLabels {
		for i := 0; i < g.cfg.VerticesPerLabel; i++ {
			if err := ctx.Err(); err != nil {
				return Dataset{}, err
			}

			props, err := g.vertexProperties(vl, i)
			if err != nil {
				return Dataset{}, err
			}
			if g.cfg.FaultChance > 0 && g.rand.Float64() < g.cfg.FaultChance {
				g.injectFault(vl, props)
				faults++
			} else {
				intact[vl.Name] = append(intact[vl.Name], primaryKeyID(vl, props))
			}
			vertices = append(vertices, domain.Vertex{Label: vl.Name, Properties: props})
		}
	}

	var (
		edges   []domain.Edge
		triples []domain.Triple
	)
	for _, el := range g.schema.EdgeLabels {
		sources, targets := intact[el.SourceLabel], intact[el.TargetLabel]
		if len(sources) == 0 || len(targets) == 0 {
			continue
		}
		for i := 0; i < g.cfg.EdgesPerLabel; i++ {
			if err := ctx.Err(); err != nil {
				return Dataset{}, err
			}

			outV := sources[g.rand.Intn(len(sources))]
			inV := targets[g.rand.Intn(len(targets))]
			props := make(map[string]any, len(el.Properties))
			for _, name := range el.Properties {
				if g.rand.Float64() < 0.5 {
					continue
				}
				val, err := g.value(g.keys[name], el.Name, i, false)
				if err != nil {
					return Dataset{}, err
				}
				props[name] = val
			}
			edges = append(edges, domain.Edge{Label: el.Name, OutV: outV, InV: inV, Properties: props})
			triples = append(triples, domain.Triple{Subject: outV, Predicate: el.Name, Object: inV})
		}
	}

	return Dataset{
		Data: domain.GraphData{
			Schema:   g.schema.Clone(),
			Vertices: vertices,
			Edges:    edges,
			Triples:  triples,
		},
		Faults: faults,
	}, nil
}

// vertexProperties fills every non-nullable property and half of the
// nullable ones. Primary keys are derived from index so they stay unique.
func (g *Generator) vertexProperties(vl domain.VertexLabel, index int) (map[string]any, error) {
	props := make(map[string]any, len(vl.Properties))
	for _, name := range vl.Properties {
		isPK := slices.Contains(vl.PrimaryKeys, name)
		if !isPK && slices.Contains(vl.NullableKeys, name) && g.rand.Float64() < 0.5 {
			continue
		}
		val, err := g.value(g.keys[name], vl.Name, index, isPK)
		if err != nil {
			return nil, err
		}
		props[name] = val
	}
	return props, nil
}

// injectFault breaks the vertex in one of two ways the committer has to repair
// or reject.
func (g *Generator) injectFault(vl domain.VertexLabel, props map[string]any) {
	if g.rand.Intn(2) == 0 {
		delete(props, vl.PrimaryKeys[g.rand.Intn(len(vl.PrimaryKeys))])
		return
	}
	name := vl.Properties[g.rand.Intn(len(vl.Properties))]
	props[name] = mistyped(g.keys[name].DataType)
}

func (g *Generator) value(pk domain.PropertyKey, label string, index int, unique bool) (any, error) {
	if !pk.Cardinality.IsMulti() {
		return g.single(pk.DataType, label, index, unique)
	}
	n := 1 + g.rand.Intn(3)
	seq := make([]any, 0, n)
	for j := 0; j < n; j++ {
		// Element indexes are distinct, which keeps SET values free of duplicates.
		val, err := g.single(pk.DataType, label, index*n+j, true)
		if err != nil {
			return nil, err
		}
		seq = append(seq, val)
	}
	return seq, nil
}

func (g *Generator) single(dataType domain.DataType, label string, index int, unique bool) (any, error) {
	switch dataType {
	case domain.DataTypeBoolean:
		if unique {
			return index%2 == 0, nil
		}
		return g.rand.Intn(2) == 1, nil
	case domain.DataTypeByte:
		if unique {
			return int64(index % 128), nil
		}
		return int64(g.rand.Intn(128)), nil
	case domain.DataTypeInt, domain.DataTypeLong:
		if unique {
			return int64(index), nil
		}
		return int64(g.rand.Intn(1000)), nil
	case domain.DataTypeFloat, domain.DataTypeDouble:
		if unique {
			return float64(index) + 0.5, nil
		}
		return float64(g.rand.Intn(100000)) / 100, nil
	case domain.DataTypeText, domain.DataTypeBlob:
		if unique {
			return fmt.Sprintf("%s-%06d", label, index), nil
		}
		return g.words[g.rand.Intn(len(g.words))], nil
	case domain.DataTypeDate:
		base := time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
		if unique {
			return base.AddDate(0, 0, index).Format(time.DateOnly), nil
		}
		return base.AddDate(0, 0, g.rand.Intn(365*25)).Format(time.DateOnly), nil
	case domain.DataTypeUUID:
		id, err := uuid.NewRandomFromReader(g.rand)
		if err != nil {
			return nil, fmt.Errorf("generate uuid: %w", err)
		}
		return id.String(), nil
	}
	return nil, fmt.Errorf("generator: %w: %q", domain.ErrUnknownDataType, dataType)
}

// keySpace caps the distinct primary key values of the small data types.
var keySpace = map[domain.DataType]int{
	domain.DataTypeBoolean: 2,
	domain.DataTypeByte:    128,
}

// distinctKeys returns how many vertices of vl can get unique primary keys,
// or 0 when there is no limit. Key values are all derived from the vertex
// index, so the key tuple repeats with the largest period among them.
func distinctKeys(vl domain.VertexLabel, keys map[string]domain.PropertyKey) int {
	limit := 0
	for _, pk := range vl.PrimaryKeys {
		n, ok := keySpace[keys[pk].DataType]
		if !ok {
			return 0
		}
		limit = max(limit, n)
	}
	return limit
}

// mistyped returns a value that fails the check for dataType.
func mistyped(dataType domain.DataType) any {
	switch dataType {
	case domain.DataTypeText, domain.DataTypeBlob, domain.DataTypeDate, domain.DataTypeUUID:
		return int64(-1)
	}
	return "not-a-" + string(dataType)
}

func primaryKeyID(vl domain.VertexLabel, props map[string]any) string {
	values := make([]any, len(vl.PrimaryKeys))
	for i, pk := range vl.PrimaryKeys {
		values[i] = props[pk]
	}
	return repository.PrimaryKeyID(vl.Name, values)
}

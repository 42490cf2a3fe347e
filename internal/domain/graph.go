package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Vertex is an extracted vertex record. ID is empty until the store assigns one.
type Vertex struct {
	ID         string         `json:"id,omitempty" yaml:"id,omitempty"`
	Label      string         `json:"label" yaml:"label"`
	Properties map[string]any `json:"properties" yaml:"properties"`
}

// Edge is an extracted edge record between two already resolved vertex ids.
type Edge struct {
	ID         string         `json:"id,omitempty" yaml:"id,omitempty"`
	Label      string         `json:"label" yaml:"label"`
	OutV       string         `json:"outV" yaml:"outV"`
	InV        string         `json:"inV" yaml:"inV"`
	Properties map[string]any `json:"properties" yaml:"properties"`
}

// MarshalJSON writes whole-number floats with a fractional part, so FLOAT and
// DOUBLE values read back as floats rather than integers.
func (v Vertex) MarshalJSON() ([]byte, error) {
	type plain Vertex
	p := plain(v)
	p.Properties = markFloats(v.Properties, jsonFloat)
	return json.Marshal(p)
}

func (v Vertex) MarshalYAML() (any, error) {
	type plain Vertex
	p := plain(v)
	p.Properties = markFloats(v.Properties, yamlFloat)
	return p, nil
}

func (e Edge) MarshalJSON() ([]byte, error) {
	type plain Edge
	p := plain(e)
	p.Properties = markFloats(e.Properties, jsonFloat)
	return json.Marshal(p)
}

func (e Edge) MarshalYAML() (any, error) {
	type plain Edge
	p := plain(e)
	p.Properties = markFloats(e.Properties, yamlFloat)
	return p, nil
}

// FormatFloat renders f so that it always parses back as a float: "2" is
// written as "2.0".
func FormatFloat(f float64, bitSize int) string {
	s := strconv.FormatFloat(f, 'g', -1, bitSize)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return s
}

func jsonFloat(f float64, bitSize int) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return f
	}
	return json.Number(FormatFloat(f, bitSize))
}

func yamlFloat(f float64, bitSize int) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return f
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: FormatFloat(f, bitSize)}
}

// markFloats copies props with every float, including those inside
// sequences, replaced by mark's encoding of it.
func markFloats(props map[string]any, mark func(float64, int) any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = markFloat(v, mark)
	}
	return out
}

func markFloat(value any, mark func(float64, int) any) any {
	switch v := value.(type) {
	case float64:
		return mark(v, 64)
	case float32:
		return mark(float64(v), 32)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = markFloat(item, mark)
		}
		return out
	case []float64:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = mark(item, 64)
		}
		return out
	}
	return value
}

// Triple is a (subject, predicate, object) statement used when no schema is
// supplied. It is encoded as a three element array.
type Triple struct {
	Subject   string
	Predicate string
	Object    string
}

// Trimmed returns the triple with surrounding whitespace removed from each element.
func (t Triple) Trimmed() Triple {
	return Triple{
		Subject:   strings.TrimSpace(t.Subject),
		Predicate: strings.TrimSpace(t.Predicate),
		Object:    strings.TrimSpace(t.Object),
	}
}

func (t Triple) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]string{t.Subject, t.Predicate, t.Object})
}

func (t *Triple) UnmarshalJSON(data []byte) error {
	var parts []string
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("decode triple: %w", err)
	}
	return t.fromParts(parts)
}

func (t Triple) MarshalYAML() (any, error) {
	return []string{t.Subject, t.Predicate, t.Object}, nil
}

func (t *Triple) UnmarshalYAML(node *yaml.Node) error {
	var parts []string
	if err := node.Decode(&parts); err != nil {
		return fmt.Errorf("decode triple: %w", err)
	}
	return t.fromParts(parts)
}

func (t *Triple) fromParts(parts []string) error {
	if len(parts) != 3 {
		return fmt.Errorf("triple must have 3 elements, got %d", len(parts))
	}
	*t = Triple{Subject: parts[0], Predicate: parts[1], Object: parts[2]}
	return nil
}

// GraphData is the payload handed to the committer by the extraction stage.
type GraphData struct {
	Schema   *Schema  `json:"schema,omitempty" yaml:"schema,omitempty"`
	Vertices []Vertex `json:"vertices" yaml:"vertices"`
	Edges    []Edge   `json:"edges" yaml:"edges"`
	Triples  []Triple `json:"triples,omitempty" yaml:"triples,omitempty"`
}

// Clone returns a deep copy. Property values are copied one level into
// sequences, which is as deep as property values go.
func (g GraphData) Clone() GraphData {
	out := GraphData{
		Schema:  g.Schema.Clone(),
		Triples: append([]Triple(nil), g.Triples...),
	}
	if g.Vertices != nil {
		out.Vertices = make([]Vertex, len(g.Vertices))
		for i, v := range g.Vertices {
			v.Properties = cloneProperties(v.Properties)
			out.Vertices[i] = v
		}
	}
	if g.Edges != nil {
		out.Edges = make([]Edge, len(g.Edges))
		for i, e := range g.Edges {
			e.Properties = cloneProperties(e.Properties)
			out.Edges[i] = e
		}
	}
	return out
}

func cloneProperties(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		if seq, ok := v.([]any); ok {
			cp := make([]any, len(seq))
			copy(cp, seq)
			v = cp
		}
		dst[k] = v
	}
	return dst
}

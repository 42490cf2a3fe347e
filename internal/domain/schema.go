package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSchema indicates a schema document that references undeclared
// property keys or labels.
var ErrInvalidSchema = errors.New("invalid schema")

// DataType is the declared value type of a property key.
type DataType string

const (
	DataTypeBoolean DataType = "BOOLEAN"
	DataTypeByte    DataType = "BYTE"
	DataTypeInt     DataType = "INT"
	DataTypeLong    DataType = "LONG"
	DataTypeFloat   DataType = "FLOAT"
	DataTypeDouble  DataType = "DOUBLE"
	DataTypeText    DataType = "TEXT"
	DataTypeBlob    DataType = "BLOB"
	DataTypeDate    DataType = "DATE"
	DataTypeUUID    DataType = "UUID"
)

// UnmarshalText accepts any casing. Unknown names are kept verbatim so the
// committer can report them.
func (d *DataType) UnmarshalText(text []byte) error {
	*d = DataType(strings.ToUpper(strings.TrimSpace(string(text))))
	return nil
}

// Cardinality says whether a property holds one value or a sequence.
type Cardinality string

const (
	CardinalitySingle Cardinality = "SINGLE"
	CardinalityList   Cardinality = "LIST"
	CardinalitySet    Cardinality = "SET"
)

// UnmarshalText accepts any casing; an empty value means SINGLE.
func (c *Cardinality) UnmarshalText(text []byte) error {
	v := strings.ToUpper(strings.TrimSpace(string(text)))
	if v == "" {
		v = string(CardinalitySingle)
	}
	*c = Cardinality(v)
	return nil
}

// IsMulti reports whether the cardinality holds a sequence of values.
func (c Cardinality) IsMulti() bool {
	return c == CardinalityList || c == CardinalitySet
}

// Valid reports whether c is one of the known cardinalities.
func (c Cardinality) Valid() bool {
	return c == CardinalitySingle || c.IsMulti()
}

// PropertyKey declares a property shared by vertex and edge labels.
type PropertyKey struct {
	Name        string      `json:"name" yaml:"name"`
	DataType    DataType    `json:"data_type" yaml:"data_type"`
	Cardinality Cardinality `json:"cardinality" yaml:"cardinality"`
}

// VertexLabel declares a vertex type keyed by its primary keys.
type VertexLabel struct {
	Name         string   `json:"name" yaml:"name"`
	Properties   []string `json:"properties" yaml:"properties"`
	PrimaryKeys  []string `json:"primary_keys" yaml:"primary_keys"`
	NullableKeys []string `json:"nullable_keys" yaml:"nullable_keys"`
}

// NonNullableKeys returns the properties that are not listed as nullable,
// in declaration order.
func (l VertexLabel) NonNullableKeys() []string {
	nullable := make(map[string]struct{}, len(l.NullableKeys))
	for _, key := range l.NullableKeys {
		nullable[key] = struct{}{}
	}
	var keys []string
	for _, key := range l.Properties {
		if _, ok := nullable[key]; !ok {
			keys = append(keys, key)
		}
	}
	return keys
}

// EdgeLabel declares a directed edge type between two vertex labels.
type EdgeLabel struct {
	Name        string   `json:"name" yaml:"name"`
	SourceLabel string   `json:"source_label" yaml:"source_label"`
	TargetLabel string   `json:"target_label" yaml:"target_label"`
	Properties  []string `json:"properties" yaml:"properties"`
}

// Schema is the graph schema contract supplied by the extraction stage.
type Schema struct {
	PropertyKeys []PropertyKey `json:"propertykeys" yaml:"propertykeys"`
	VertexLabels []VertexLabel `json:"vertexlabels" yaml:"vertexlabels"`
	EdgeLabels   []EdgeLabel   `json:"edgelabels" yaml:"edgelabels"`
}

// PropertyKeyMap indexes property keys by name.
func (s *Schema) PropertyKeyMap() map[string]PropertyKey {
	out := make(map[string]PropertyKey, len(s.PropertyKeys))
	for _, pk := range s.PropertyKeys {
		out[pk.Name] = pk
	}
	return out
}

// VertexLabelMap indexes vertex labels by name.
func (s *Schema) VertexLabelMap() map[string]VertexLabel {
	out := make(map[string]VertexLabel, len(s.VertexLabels))
	for _, vl := range s.VertexLabels {
		out[vl.Name] = vl
	}
	return out
}

// EdgeLabelMap indexes edge labels by name.
func (s *Schema) EdgeLabelMap() map[string]EdgeLabel {
	out := make(map[string]EdgeLabel, len(s.EdgeLabels))
	for _, el := range s.EdgeLabels {
		out[el.Name] = el
	}
	return out
}

// Validate checks the cross references of the document. Data types are not
// checked here: an unknown type is reported when a value is validated against it.
func (s *Schema) Validate() error {
	var problems []string
	keys := s.PropertyKeyMap()
	for _, pk := range s.PropertyKeys {
		if strings.TrimSpace(pk.Name) == "" {
			problems = append(problems, "property key with empty name")
		}
	}

	vertexLabels := s.VertexLabelMap()
	for _, vl := range s.VertexLabels {
		declared := make(map[string]struct{}, len(vl.Properties))
		for _, prop := range vl.Properties {
			declared[prop] = struct{}{}
			if _, ok := keys[prop]; !ok {
				problems = append(problems, fmt.Sprintf("vertex label %q references unknown property %q", vl.Name, prop))
			}
		}
		if len(vl.PrimaryKeys) == 0 {
			problems = append(problems, fmt.Sprintf("vertex label %q has no primary keys", vl.Name))
		}
		for _, pk := range vl.PrimaryKeys {
			if _, ok := declared[pk]; !ok {
				problems = append(problems, fmt.Sprintf("vertex label %q primary key %q is not one of its properties", vl.Name, pk))
			}
		}
		for _, nk := range vl.NullableKeys {
			if _, ok := declared[nk]; !ok {
				problems = append(problems, fmt.Sprintf("vertex label %q nullable key %q is not one of its properties", vl.Name, nk))
			}
		}
	}

	for _, el := range s.EdgeLabels {
		if _, ok := vertexLabels[el.SourceLabel]; !ok {
			problems = append(problems, fmt.Sprintf("edge label %q has unknown source label %q", el.Name, el.SourceLabel))
		}
		if _, ok := vertexLabels[el.TargetLabel]; !ok {
			problems = append(problems, fmt.Sprintf("edge label %q has unknown target label %q", el.Name, el.TargetLabel))
		}
		for _, prop := range el.Properties {
			if _, ok := keys[prop]; !ok {
				problems = append(problems, fmt.Sprintf("edge label %q references unknown property %q", el.Name, prop))
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSchema, strings.Join(problems, "; "))
	}
	return nil
}

// Clone returns a deep copy of the schema.
func (s *Schema) Clone() *Schema {
	if s == nil {
		return nil
	}
	out := &Schema{
		PropertyKeys: append([]PropertyKey(nil), s.PropertyKeys...),
		VertexLabels: make([]VertexLabel, len(s.VertexLabels)),
		EdgeLabels:   make([]EdgeLabel, len(s.EdgeLabels)),
	}
	for i, vl := range s.VertexLabels {
		out.VertexLabels[i] = VertexLabel{
			Name:         vl.Name,
			Properties:   append([]string(nil), vl.Properties...),
			PrimaryKeys:  append([]string(nil), vl.PrimaryKeys...),
			NullableKeys: append([]string(nil), vl.NullableKeys...),
		}
	}
	for i, el := range s.EdgeLabels {
		el.Properties = append([]string(nil), el.Properties...)
		out.EdgeLabels[i] = el
	}
	return out
}

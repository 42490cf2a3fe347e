package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/vanshika/kgcommit/internal/domain"
)

// ErrInvalidDefinition is returned by a builder whose declaration is incomplete.
var ErrInvalidDefinition = errors.New("invalid schema definition")

// ValueType is a property type the store can persist natively.
type ValueType string

const (
	ValueTypeBoolean ValueType = "BOOLEAN"
	ValueTypeInt     ValueType = "INT"
	ValueTypeLong    ValueType = "LONG"
	ValueTypeDouble  ValueType = "DOUBLE"
	ValueTypeText    ValueType = "TEXT"
	ValueTypeDate    ValueType = "DATE"
)

// IDStrategy decides how a vertex label's ids are produced.
type IDStrategy string

const (
	// IDStrategyPrimaryKey derives the id from the label and its primary key values.
	IDStrategyPrimaryKey IDStrategy = "PRIMARY_KEY"
	// IDStrategyCustomizeString takes the id from the caller.
	IDStrategyCustomizeString IDStrategy = "CUSTOMIZE_STRING"
	// IDStrategyAutomatic lets the store generate the id.
	IDStrategyAutomatic IDStrategy = "AUTOMATIC"
)

// ElementType is the element kind an index label covers.
type ElementType string

const (
	ElementVertex ElementType = "VERTEX"
	ElementEdge   ElementType = "EDGE"
)

// IndexType is the kind of index an index label builds.
type IndexType string

const IndexTypeSecondary IndexType = "SECONDARY"

type PropertyKeyDef struct {
	Name        string
	ValueType   ValueType
	Cardinality domain.Cardinality
}

type VertexLabelDef struct {
	Name         string
	Properties   []string
	NullableKeys []string
	PrimaryKeys  []string
	IDStrategy   IDStrategy
}

type EdgeLabelDef struct {
	Name         string
	SourceLabel  string
	TargetLabel  string
	Properties   []string
	NullableKeys []string
}

type IndexLabelDef struct {
	Name      string
	BaseType  ElementType
	BaseValue string
	Fields    []string
	IndexType IndexType
}

// SchemaWriter persists schema definitions. Every method must be idempotent:
// a definition that already exists is left untouched and is not an error.
type SchemaWriter interface {
	EnsurePropertyKey(ctx context.Context, def PropertyKeyDef) error
	EnsureVertexLabel(ctx context.Context, def VertexLabelDef) error
	EnsureEdgeLabel(ctx context.Context, def EdgeLabelDef) error
	EnsureIndexLabel(ctx context.Context, def IndexLabelDef) error
}

// Schema hands out fluent builders whose CreateIfNotExists writes through to
// the store.
type Schema struct {
	writer SchemaWriter
}

// NewSchema wraps a SchemaWriter.
func NewSchema(w SchemaWriter) *Schema {
	return &Schema{writer: w}
}

func (s *Schema) PropertyKey(name string) *PropertyKeyBuilder {
	return &PropertyKeyBuilder{writer: s.writer, def: PropertyKeyDef{Name: name}}
}

func (s *Schema) VertexLabel(name string) *VertexLabelBuilder {
	return &VertexLabelBuilder{writer: s.writer, def: VertexLabelDef{Name: name}}
}

func (s *Schema) EdgeLabel(name string) *EdgeLabelBuilder {
	return &EdgeLabelBuilder{writer: s.writer, def: EdgeLabelDef{Name: name}}
}

func (s *Schema) IndexLabel(name string) *IndexLabelBuilder {
	return &IndexLabelBuilder{writer: s.writer, def: IndexLabelDef{Name: name}}
}

// PropertyKeyBuilder declares a property key. Unset type means TEXT, unset
// cardinality means SINGLE.
type PropertyKeyBuilder struct {
	writer SchemaWriter
	def    PropertyKeyDef
}

func (b *PropertyKeyBuilder) As(t ValueType) *PropertyKeyBuilder { b.def.ValueType = t; return b }
func (b *PropertyKeyBuilder) AsBoolean() *PropertyKeyBuilder     { return b.As(ValueTypeBoolean) }
func (b *PropertyKeyBuilder) AsInt() *PropertyKeyBuilder         { return b.As(ValueTypeInt) }
func (b *PropertyKeyBuilder) AsLong() *PropertyKeyBuilder        { return b.As(ValueTypeLong) }
func (b *PropertyKeyBuilder) AsDouble() *PropertyKeyBuilder      { return b.As(ValueTypeDouble) }
func (b *PropertyKeyBuilder) AsText() *PropertyKeyBuilder        { return b.As(ValueTypeText) }
func (b *PropertyKeyBuilder) AsDate() *PropertyKeyBuilder        { return b.As(ValueTypeDate) }

func (b *PropertyKeyBuilder) Cardinality(c domain.Cardinality) *PropertyKeyBuilder {
	b.def.Cardinality = c
	return b
}
func (b *PropertyKeyBuilder) ValueSingle() *PropertyKeyBuilder { return b.Cardinality(domain.CardinalitySingle) }
func (b *PropertyKeyBuilder) ValueList() *PropertyKeyBuilder   { return b.Cardinality(domain.CardinalityList) }
func (b *PropertyKeyBuilder) ValueSet() *PropertyKeyBuilder    { return b.Cardinality(domain.CardinalitySet) }

// Definition returns the declaration built so far with defaults applied.
func (b *PropertyKeyBuilder) Definition() PropertyKeyDef {
	def := b.def
	if def.ValueType == "" {
		def.ValueType = ValueTypeText
	}
	if def.Cardinality == "" {
		def.Cardinality = domain.CardinalitySingle
	}
	return def
}

func (b *PropertyKeyBuilder) CreateIfNotExists(ctx context.Context) error {
	def := b.Definition()
	if def.Name == "" {
		return fmt.Errorf("%w: property key name is required", ErrInvalidDefinition)
	}
	if def.Name == elementIDKey {
		return fmt.Errorf("%w: property key name %q is reserved", ErrInvalidDefinition, def.Name)
	}
	if !def.Cardinality.Valid() {
		return fmt.Errorf("%w: property key %q has cardinality %q", ErrInvalidDefinition, def.Name, def.Cardinality)
	}
	return b.writer.EnsurePropertyKey(ctx, def)
}

// VertexLabelBuilder declares a vertex label. Without an explicit id strategy,
// labels with primary keys use them and other labels get automatic ids.
type VertexLabelBuilder struct {
	writer SchemaWriter
	def    VertexLabelDef
}

func (b *VertexLabelBuilder) Properties(names ...string) *VertexLabelBuilder {
	b.def.Properties = append(b.def.Properties, names...)
	return b
}

func (b *VertexLabelBuilder) NullableKeys(names ...string) *VertexLabelBuilder {
	b.def.NullableKeys = append(b.def.NullableKeys, names...)
	return b
}

func (b *VertexLabelBuilder) PrimaryKeys(names ...string) *VertexLabelBuilder {
	b.def.PrimaryKeys = append(b.def.PrimaryKeys, names...)
	return b
}

func (b *VertexLabelBuilder) UsePrimaryKeyID() *VertexLabelBuilder {
	b.def.IDStrategy = IDStrategyPrimaryKey
	return b
}

func (b *VertexLabelBuilder) UseCustomizeStringID() *VertexLabelBuilder {
	b.def.IDStrategy = IDStrategyCustomizeString
	return b
}

func (b *VertexLabelBuilder) UseAutomaticID() *VertexLabelBuilder {
	b.def.IDStrategy = IDStrategyAutomatic
	return b
}

func (b *VertexLabelBuilder) Definition() VertexLabelDef {
	def := b.def
	if def.IDStrategy == "" {
		def.IDStrategy = IDStrategyAutomatic
		if len(def.PrimaryKeys) > 0 {
			def.IDStrategy = IDStrategyPrimaryKey
		}
	}
	return def
}

func (b *VertexLabelBuilder) CreateIfNotExists(ctx context.Context) error {
	def := b.Definition()
	if def.Name == "" {
		return fmt.Errorf("%w: vertex label name is required", ErrInvalidDefinition)
	}
	if def.IDStrategy == IDStrategyPrimaryKey && len(def.PrimaryKeys) == 0 {
		return fmt.Errorf("%w: vertex label %q uses primary key ids without primary keys", ErrInvalidDefinition, def.Name)
	}
	return b.writer.EnsureVertexLabel(ctx, def)
}

// EdgeLabelBuilder declares an edge label between two vertex labels.
type EdgeLabelBuilder struct {
	writer SchemaWriter
	def    EdgeLabelDef
}

func (b *EdgeLabelBuilder) SourceLabel(name string) *EdgeLabelBuilder {
	b.def.SourceLabel = name
	return b
}

func (b *EdgeLabelBuilder) TargetLabel(name string) *EdgeLabelBuilder {
	b.def.TargetLabel = name
	return b
}

func (b *EdgeLabelBuilder) Properties(names ...string) *EdgeLabelBuilder {
	b.def.Properties = append(b.def.Properties, names...)
	return b
}

func (b *EdgeLabelBuilder) NullableKeys(names ...string) *EdgeLabelBuilder {
	b.def.NullableKeys = append(b.def.NullableKeys, names...)
	return b
}

func (b *EdgeLabelBuilder) Definition() EdgeLabelDef { return b.def }

func (b *EdgeLabelBuilder) CreateIfNotExists(ctx context.Context) error {
	def := b.def
	if def.Name == "" || def.SourceLabel == "" || def.TargetLabel == "" {
		return fmt.Errorf("%w: edge label %q needs a name, source label and target label", ErrInvalidDefinition, def.Name)
	}
	return b.writer.EnsureEdgeLabel(ctx, def)
}

// IndexLabelBuilder declares a secondary index over vertex or edge properties.
type IndexLabelBuilder struct {
	writer SchemaWriter
	def    IndexLabelDef
}

func (b *IndexLabelBuilder) OnV(label string) *IndexLabelBuilder {
	b.def.BaseType, b.def.BaseValue = ElementVertex, label
	return b
}

func (b *IndexLabelBuilder) OnE(label string) *IndexLabelBuilder {
	b.def.BaseType, b.def.BaseValue = ElementEdge, label
	return b
}

func (b *IndexLabelBuilder) By(fields ...string) *IndexLabelBuilder {
	b.def.Fields = append(b.def.Fields, fields...)
	return b
}

func (b *IndexLabelBuilder) Secondary() *IndexLabelBuilder {
	b.def.IndexType = IndexTypeSecondary
	return b
}

func (b *IndexLabelBuilder) Definition() IndexLabelDef {
	def := b.def
	if def.IndexType == "" {
		def.IndexType = IndexTypeSecondary
	}
	return def
}

func (b *IndexLabelBuilder) CreateIfNotExists(ctx context.Context) error {
	def := b.Definition()
	if def.Name == "" || def.BaseValue == "" || len(def.Fields) == 0 {
		return fmt.Errorf("%w: index label %q needs a name, a base label and fields", ErrInvalidDefinition, def.Name)
	}
	return b.writer.EnsureIndexLabel(ctx, def)
}

package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vanshika/kgcommit/internal/domain"
	"github.com/vanshika/kgcommit/internal/repository"
)

// nativeType describes how a declared data type is stored. A nil declare
// leaves the property key untyped, so the store falls back to text.
type nativeType struct {
	declare    func(*repository.PropertyKeyBuilder) *repository.PropertyKeyBuilder
	downgraded repository.ValueType
}

var nativeTypes = map[domain.DataType]nativeType{
	domain.DataTypeBoolean: {},
	domain.DataTypeByte:    {declare: (*repository.PropertyKeyBuilder).AsInt, downgraded: repository.ValueTypeInt},
	domain.DataTypeInt:     {declare: (*repository.PropertyKeyBuilder).AsInt},
	domain.DataTypeLong:    {declare: (*repository.PropertyKeyBuilder).AsLong},
	domain.DataTypeFloat:   {declare: (*repository.PropertyKeyBuilder).AsDouble, downgraded: repository.ValueTypeDouble},
	domain.DataTypeDouble:  {declare: (*repository.PropertyKeyBuilder).AsDouble},
	domain.DataTypeText:    {declare: (*repository.PropertyKeyBuilder).AsText},
	domain.DataTypeBlob:    {declare: (*repository.PropertyKeyBuilder).AsText, downgraded: repository.ValueTypeText},
	domain.DataTypeDate:    {declare: (*repository.PropertyKeyBuilder).AsDate},
	domain.DataTypeUUID:    {declare: (*repository.PropertyKeyBuilder).AsText, downgraded: repository.ValueTypeText},
}

// checkSchema rejects documents the committer cannot materialize. It runs
// before any store call.
func checkSchema(schema *domain.Schema) error {
	if err := schema.Validate(); err != nil {
		return err
	}
	for _, pk := range schema.PropertyKeys {
		if _, ok := nativeTypes[pk.DataType]; !ok {
			return fmt.Errorf("property key %q: %w: %q", pk.Name, domain.ErrUnknownDataType, pk.DataType)
		}
		if pk.Cardinality != "" && !pk.Cardinality.Valid() {
			return fmt.Errorf("%w: property key %q has cardinality %q", domain.ErrInvalidSchema, pk.Name, pk.Cardinality)
		}
	}
	return nil
}

// materializeSchema defines every property key, vertex label and edge label of
// the document in the store. Definitions that already exist are left alone.
func (c *Committer) materializeSchema(ctx context.Context, schema *domain.Schema) error {
	ctx, span := tracer.Start(ctx, "committer.materializeSchema")
	defer span.End()
	span.SetAttributes(
		attribute.Int("schema.property_keys", len(schema.PropertyKeys)),
		attribute.Int("schema.vertex_labels", len(schema.VertexLabels)),
		attribute.Int("schema.edge_labels", len(schema.EdgeLabels)),
	)

	defs := c.store.Schema()
	for _, pk := range schema.PropertyKeys {
		builder := defs.PropertyKey(pk.Name).Cardinality(pk.Cardinality)
		native := nativeTypes[pk.DataType]
		switch {
		case native.declare == nil:
			c.logger.ErrorContext(ctx, "boolean properties are not supported, defining as untyped", "property", pk.Name)
		case native.downgraded != "":
			c.logger.WarnContext(ctx, "data type is not supported natively, downgrading",
				"property", pk.Name, "data_type", pk.DataType, "stored_as", native.downgraded)
			native.declare(builder)
		default:
			native.declare(builder)
		}
		if err := builder.CreateIfNotExists(ctx); err != nil {
			return fmt.Errorf("define property key %s: %w", pk.Name, err)
		}
	}

	for _, vl := range schema.VertexLabels {
		err := defs.VertexLabel(vl.Name).
			Properties(vl.Properties...).
			NullableKeys(vl.NullableKeys...).
			UsePrimaryKeyID().
			PrimaryKeys(vl.PrimaryKeys...).
			CreateIfNotExists(ctx)
		if err != nil {
			return fmt.Errorf("define vertex label %s: %w", vl.Name, err)
		}
	}

	for _, el := range schema.EdgeLabels {
		err := defs.EdgeLabel(el.Name).
			SourceLabel(el.SourceLabel).
			TargetLabel(el.TargetLabel).
			Properties(el.Properties...).
			NullableKeys(el.Properties...).
			CreateIfNotExists(ctx)
		if err != nil {
			return fmt.Errorf("define edge label %s: %w", el.Name, err)
		}
	}
	return nil
}

// Schema-free mode names.
const (
	FreeVertexLabel  = "vertex"
	FreeEdgeLabel    = "edge"
	FreeNameProperty = "name"
	freeVertexByName = "vertexByName"
	freeEdgeByName   = "edgeByName"
)

func (c *Committer) ensureFreeSchema(ctx context.Context) error {
	defs := c.store.Schema()
	steps := []struct {
		what   string
		create func(context.Context) error
	}{
		{"property key " + FreeNameProperty, defs.PropertyKey(FreeNameProperty).AsText().CreateIfNotExists},
		{"vertex label " + FreeVertexLabel, defs.VertexLabel(FreeVertexLabel).UseCustomizeStringID().Properties(FreeNameProperty).CreateIfNotExists},
		{"edge label " + FreeEdgeLabel, defs.EdgeLabel(FreeEdgeLabel).SourceLabel(FreeVertexLabel).TargetLabel(FreeVertexLabel).Properties(FreeNameProperty).CreateIfNotExists},
		{"index label " + freeVertexByName, defs.IndexLabel(freeVertexByName).OnV(FreeVertexLabel).By(FreeNameProperty).Secondary().CreateIfNotExists},
		{"index label " + freeEdgeByName, defs.IndexLabel(freeEdgeByName).OnE(FreeEdgeLabel).By(FreeNameProperty).Secondary().CreateIfNotExists},
	}
	for _, step := range steps {
		if err := step.create(ctx); err != nil {
			return fmt.Errorf("define %s: %w", step.what, err)
		}
	}
	return nil
}

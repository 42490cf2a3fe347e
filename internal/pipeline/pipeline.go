// Package pipeline holds the data-passing convention shared by pipeline stages:
// each stage receives a string-keyed context and returns the context handed
// to the next stage.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/vanshika/kgcommit/internal/domain"
)

// Well-known context keys.
const (
	KeyQuery        = "query"
	KeyVectorResult = "vector_result"
	KeyGraphResult  = "graph_result"
	KeySchema       = "schema"
	KeyVertices     = "vertices"
	KeyEdges        = "edges"
	KeyTriples      = "triples"
)

// Context is the mapping stages read from and write to.
type Context map[string]any

// Clone returns a shallow copy so a stage can replace entries without
// touching the caller's map.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Operator is a single pipeline stage.
type Operator interface {
	Run(ctx context.Context, data Context) (Context, error)
}

// OperatorFunc adapts a function to the Operator interface.
type OperatorFunc func(ctx context.Context, data Context) (Context, error)

func (f OperatorFunc) Run(ctx context.Context, data Context) (Context, error) {
	return f(ctx, data)
}

// Flow runs operators in order, feeding each the previous output.
type Flow []Operator

func (f Flow) Run(ctx context.Context, data Context) (Context, error) {
	var err error
	for i, op := range f {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err = op.Run(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("pipeline stage %d: %w", i, err)
		}
	}
	return data, nil
}

// Decode reads key from data into a T. Values already of type T are returned
// as is; anything else (JSON-shaped maps and slices from an HTTP body, say)
// is converted through a JSON round trip with numbers kept as json.Number.
// Floats are written with a fractional part on the way out, so 2.0 does not
// come back as the integer 2. The boolean result is false when the key is absent or nil.
func Decode[T any](data Context, key string) (T, bool, error) {
	var out T
	raw, ok := data[key]
	if !ok || raw == nil {
		return out, false, nil
	}
	if typed, ok := raw.(T); ok {
		return typed, true, nil
	}
	buf, err := json.Marshal(keepFloats(raw))
	if err != nil {
		return out, false, fmt.Errorf("encode %s: %w", key, err)
	}
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return out, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, true, nil
}

// keepFloats replaces floats in JSON-shaped values with numbers that carry
// a fractional part.
func keepFloats(value any) any {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return v
		}
		return json.Number(domain.FormatFloat(v, 64))
	case float32:
		return keepFloats(float64(v))
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = keepFloats(item)
		}
		return out
	case Context:
		return keepFloats(map[string]any(v))
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = keepFloats(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = keepFloats(item)
		}
		return out
	}
	return value
}

package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotFound means a referenced label or vertex does not exist in the store.
	ErrNotFound = errors.New("not found")
	// ErrCreateConflict means the store refused to create an element, because
	// it violates a label constraint or clashes with an existing element.
	ErrCreateConflict = errors.New("create conflict")
)

// VertexInput is one vertex of a batch submission.
type VertexInput struct {
	Label      string
	Properties map[string]any
	ID         string
}

// EdgeInput is one edge of a batch submission.
type EdgeInput struct {
	Label      string
	OutV       string
	InV        string
	Properties map[string]any
}

// vertexID resolves the id a vertex will be stored under.
func vertexID(def VertexLabelDef, props map[string]any, id string) (string, error) {
	switch def.IDStrategy {
	case IDStrategyPrimaryKey:
		values := make([]any, 0, len(def.PrimaryKeys))
		for _, pk := range def.PrimaryKeys {
			v, ok := props[pk]
			if !ok || v == nil {
				return "", fmt.Errorf("%w: vertex of label %q is missing primary key %q", ErrCreateConflict, def.Name, pk)
			}
			values = append(values, v)
		}
		return PrimaryKeyID(def.Name, values), nil
	case IDStrategyCustomizeString:
		if strings.TrimSpace(id) == "" {
			return "", fmt.Errorf("%w: vertex of label %q requires a custom id", ErrCreateConflict, def.Name)
		}
		return id, nil
	default:
		if id != "" {
			return "", fmt.Errorf("%w: vertex label %q generates its own ids", ErrCreateConflict, def.Name)
		}
		return uuid.NewString(), nil
	}
}

// PrimaryKeyID is the id a primary-key vertex of label gets for the given
// key values, in primary key order.
func PrimaryKeyID(label string, values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return label + ":" + strings.Join(parts, "!")
}

// edgeID is deterministic so that re-submitting the same edge updates it.
func edgeID(label, outV, inV string) string {
	return outV + ">" + label + ">>" + inV
}

// checkProperties rejects undeclared properties and missing non-nullable ones.
func checkProperties(kind, label string, declared, nullable []string, props map[string]any) error {
	allowed := make(map[string]struct{}, len(declared))
	for _, name := range declared {
		allowed[name] = struct{}{}
	}
	for name := range props {
		if _, ok := allowed[name]; !ok {
			return fmt.Errorf("%w: %s label %q does not declare property %q", ErrCreateConflict, kind, label, name)
		}
	}

	optional := make(map[string]struct{}, len(nullable))
	for _, name := range nullable {
		optional[name] = struct{}{}
	}
	for _, name := range declared {
		if _, ok := optional[name]; ok {
			continue
		}
		if v, ok := props[name]; !ok || v == nil {
			return fmt.Errorf("%w: %s label %q requires property %q", ErrCreateConflict, kind, label, name)
		}
	}
	return nil
}

func toString(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func toStrings(val any) []string {
	switch v := val.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, toString(item))
		}
		return out
	}
	return nil
}

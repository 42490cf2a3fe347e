package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ErrUnknownDataType is returned when a value is validated against a data type
// the schema layer does not know. It points at a schema/code mismatch rather
// than bad data.
var ErrUnknownDataType = errors.New("unknown data type")

// DefaultDate is injected for missing DATE properties.
const DefaultDate = "2000-01-01"

type valueKind int

const (
	kindBoolean valueKind = iota
	kindInteger
	kindFloat
	kindString
)

// dataTypeKinds maps each declared data type to the runtime value kind it accepts.
var dataTypeKinds = map[DataType]valueKind{
	DataTypeBoolean: kindBoolean,
	DataTypeByte:    kindInteger,
	DataTypeInt:     kindInteger,
	DataTypeLong:    kindInteger,
	DataTypeFloat:   kindFloat,
	DataTypeDouble:  kindFloat,
	DataTypeText:    kindString,
	DataTypeBlob:    kindString,
	DataTypeDate:    kindString,
	DataTypeUUID:    kindString,
}

var kindPredicates = map[valueKind]func(any) bool{
	kindBoolean: isBoolean,
	kindInteger: isInteger,
	kindFloat:   isFloat,
	kindString:  isString,
}

var defaultValues = map[DataType]any{
	DataTypeBoolean: false,
	DataTypeByte:    int64(0),
	DataTypeInt:     int64(0),
	DataTypeLong:    int64(0),
	DataTypeFloat:   float64(0),
	DataTypeDouble:  float64(0),
	DataTypeText:    "",
	DataTypeBlob:    "",
	DataTypeDate:    DefaultDate,
	DataTypeUUID:    "",
}

// Known reports whether d is one of the supported data types.
func (d DataType) Known() bool {
	_, ok := dataTypeKinds[d]
	return ok
}

// CheckValue reports whether value conforms to the declared data type and
// cardinality. LIST and SET values must be sequences whose elements each pass
// the SINGLE check; duplicates in a SET are not rejected here.
func CheckValue(dataType DataType, cardinality Cardinality, value any) (bool, error) {
	kind, ok := dataTypeKinds[dataType]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownDataType, dataType)
	}
	if !cardinality.IsMulti() {
		return kindPredicates[kind](value), nil
	}

	rv := reflect.ValueOf(value)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return false, nil
	}
	for i := 0; i < rv.Len(); i++ {
		if !kindPredicates[kind](rv.Index(i).Interface()) {
			return false, nil
		}
	}
	return true, nil
}

// DefaultValue returns the value injected for a missing property: an empty
// sequence for LIST/SET, the data type's zero value otherwise.
func DefaultValue(dataType DataType, cardinality Cardinality) (any, error) {
	def, ok := defaultValues[dataType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDataType, dataType)
	}
	if cardinality.IsMulti() {
		return []any{}, nil
	}
	return def, nil
}

// IsEmptyValue reports whether a primary-key value counts as missing.
func IsEmptyValue(value any) bool {
	if value == nil {
		return true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.String:
		return strings.TrimSpace(rv.String()) == ""
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// NormalizeValue converts decoder artefacts into the value types the checks
// expect: json.Number becomes int64 or float64, and sequences are normalized
// element by element.
func NormalizeValue(value any) any {
	switch v := value.(type) {
	case json.Number:
		if !strings.ContainsAny(v.String(), ".eE") {
			if n, err := v.Int64(); err == nil {
				return n
			}
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = NormalizeValue(item)
		}
		return out
	default:
		return value
	}
}

// NormalizeProperties applies NormalizeValue to every property in place.
func NormalizeProperties(props map[string]any) {
	for k, v := range props {
		props[k] = NormalizeValue(v)
	}
}

func isBoolean(v any) bool {
	return v != nil && reflect.TypeOf(v).Kind() == reflect.Bool
}

func isInteger(v any) bool {
	if n, ok := v.(json.Number); ok {
		_, err := n.Int64()
		return err == nil && !strings.ContainsAny(n.String(), ".eE")
	}
	if v == nil {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func isFloat(v any) bool {
	if n, ok := v.(json.Number); ok {
		_, err := n.Float64()
		return err == nil && strings.ContainsAny(n.String(), ".eE")
	}
	if v == nil {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func isString(v any) bool {
	if _, ok := v.(json.Number); ok {
		return false
	}
	return v != nil && reflect.TypeOf(v).Kind() == reflect.String
}

package dispatch

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"reflect"
	"strconv"

	schema "github.com/hanpama/brokergraph/internal/schema"
)

// LeafSerializer turns a domain value into a JSON-safe value for one scalar.
type LeafSerializer func(value any) (any, error)

// SerializeLeafValue applies custom scalar serializers, checks enum values
// against the schema and coerces built-in scalars.
func (r *Runtime) SerializeLeafValue(ctx context.Context, scalarOrEnumTypeName string, value any) (any, error) {
	value = deref(value)
	if value == nil {
		return nil, nil
	}
	if fn, ok := r.scalars[scalarOrEnumTypeName]; ok {
		return fn(value)
	}
	if t := r.schema.Types[scalarOrEnumTypeName]; t != nil && t.Kind == schema.TypeKindEnum {
		return serializeEnum(t, value)
	}
	switch scalarOrEnumTypeName {
	case "Int":
		return serializeInt(value)
	case "Float":
		return serializeFloat(value)
	case "String":
		return serializeString(value)
	case "ID":
		switch v := value.(type) {
		case int, int32, int64:
			return fmt.Sprint(v), nil
		}
		return serializeString(value)
	case "Boolean":
		if b, ok := value.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("Boolean cannot represent %T", value)
	}
	switch v := value.(type) {
	case []byte:
		return base64.StdEncoding.EncodeToString(v), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return value, nil
}

func deref(value any) any {
	rv := reflect.ValueOf(value)
	for rv.IsValid() && rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	if _, ok := value.(fmt.Stringer); ok {
		return value
	}
	return rv.Interface()
}

func serializeEnum(t *schema.Type, value any) (any, error) {
	var name string
	switch v := value.(type) {
	case string:
		name = v
	case fmt.Stringer:
		name = v.String()
	default:
		return nil, fmt.Errorf("enum %s cannot represent %T", t.Name, value)
	}
	if t.EnumValue(name) == nil {
		return nil, fmt.Errorf("enum %s has no value %q", t.Name, name)
	}
	return name, nil
}

func serializeInt(value any) (any, error) {
	var n int64
	switch v := value.(type) {
	case int:
		n = int64(v)
	case int32:
		return v, nil
	case int64:
		n = v
	case uint32:
		n = int64(v)
	case float64:
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("Int cannot represent non-integer value %v", v)
		}
		n = int64(v)
	default:
		return nil, fmt.Errorf("Int cannot represent %T", value)
	}
	if n > math.MaxInt32 || n < math.MinInt32 {
		return nil, fmt.Errorf("Int cannot represent non 32-bit signed integer value %d", n)
	}
	return int32(n), nil
}

func serializeFloat(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}
	return nil, fmt.Errorf("Float cannot represent %T", value)
}

func serializeString(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	case int, int32, int64, float64:
		return fmt.Sprint(v), nil
	}
	return nil, fmt.Errorf("String cannot represent %T", value)
}

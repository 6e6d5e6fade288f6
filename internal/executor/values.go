package executor

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	language "github.com/hanpama/brokergraph/internal/language"
	schema "github.com/hanpama/brokergraph/internal/schema"
)

// coerceVariableValues coerces variable values according to their types
func coerceVariableValues(
	s *schema.Schema,
	operation *language.OperationDefinition,
	variableValues map[string]any,
) (map[string]any, error) {
	if variableValues == nil {
		variableValues = make(map[string]any)
	}
	coerced := make(map[string]any)
	for _, varDef := range operation.VariableDefinitions {
		name := varDef.Variable
		t := varDef.Type
		val, ok := variableValues[name]
		if !ok {
			if v2, ok2 := variableValues[strings.TrimPrefix(name, "$")]; ok2 {
				val = v2
				ok = true
			}
		}
		if !ok {
			if varDef.DefaultValue != nil {
				val = astValueToGo(varDef.DefaultValue)
			} else if t.NonNull {
				return nil, fmt.Errorf("variable $%s of required type %s was not provided", name, t.String())
			} else {
				continue
			}
		}
		if val == nil && t.NonNull {
			return nil, fmt.Errorf("variable $%s of type %s cannot be null", name, t.String())
		}
		cv, err := coerceValue(s, val, typeRefFromAST(t))
		if err != nil {
			return nil, fmt.Errorf("variable $%s of type %s cannot be coerced: %v", name, t.String(), err)
		}
		coerced[name] = cv
	}
	return coerced, nil
}

// coerceArgumentValues coerces argument values for a field
func coerceArgumentValues(
	fieldDef *schema.Field,
	arguments language.ArgumentList,
	variableValues map[string]any,
	state *executionState,
	path Path,
) map[string]any {
	coerced := make(map[string]any)
	for _, arg := range arguments {
		argDef := fieldDef.Argument(arg.Name)
		if argDef == nil {
			continue
		}
		if arg.Value != nil && arg.Value.Kind == language.Variable {
			// an omitted nullable variable leaves the argument unset
			if _, ok := lookupVariable(variableValues, arg.Value.Raw); !ok {
				continue
			}
		}
		val := valueFromASTWithVars(arg.Value, variableValues)
		cv, err := coerceValue(state.schema, val, argDef.Type)
		if err != nil {
			state.addError(fmt.Sprintf("argument '%s' cannot be coerced: %v", arg.Name, err), path)
			continue
		}
		coerced[arg.Name] = cv
	}
	for _, argDef := range fieldDef.Arguments {
		name := argDef.Name
		if _, ok := coerced[name]; !ok {
			if argDef.DefaultValue != nil {
				cv, err := coerceValue(state.schema, argDef.DefaultValue, argDef.Type)
				if err != nil {
					cv = argDef.DefaultValue
				}
				coerced[name] = cv
			} else if schema.IsNonNull(argDef.Type) {
				state.addError(fmt.Sprintf("argument '%s' of required type was not provided", name), path)
			}
		}
	}
	return coerced
}

func lookupVariable(variableValues map[string]any, name string) (any, bool) {
	if v, ok := variableValues[name]; ok {
		return v, true
	}
	v, ok := variableValues[strings.TrimPrefix(name, "$")]
	return v, ok
}

// valueFromASTWithVars converts an AST value to a runtime value with variable substitution
func valueFromASTWithVars(value *language.Value, variableValues map[string]any) any {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case language.Variable:
		v, _ := lookupVariable(variableValues, value.Raw)
		return v
	case language.ListValue:
		out := make([]any, len(value.Children))
		for i, c := range value.Children {
			out[i] = valueFromASTWithVars(c.Value, variableValues)
		}
		return out
	case language.ObjectValue:
		m := make(map[string]any, len(value.Children))
		for _, f := range value.Children {
			if f.Value != nil && f.Value.Kind == language.Variable {
				if _, ok := lookupVariable(variableValues, f.Value.Raw); !ok {
					continue
				}
			}
			m[f.Name] = valueFromASTWithVars(f.Value, variableValues)
		}
		return m
	default:
		return astValueToGo(value)
	}
}

// astValueToGo converts an AST value to a Go value
func astValueToGo(value *language.Value) any {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case language.IntValue:
		iv, _ := strconv.Atoi(value.Raw)
		return iv
	case language.FloatValue:
		fv, _ := strconv.ParseFloat(value.Raw, 64)
		return fv
	case language.StringValue, language.BlockValue:
		return value.Raw
	case language.BooleanValue:
		return value.Raw == "true"
	case language.NullValue:
		return nil
	case language.EnumValue:
		return value.Raw
	case language.ListValue:
		out := make([]any, len(value.Children))
		for i, c := range value.Children {
			out[i] = astValueToGo(c.Value)
		}
		return out
	case language.ObjectValue:
		m := make(map[string]any)
		for _, f := range value.Children {
			m[f.Name] = astValueToGo(f.Value)
		}
		return m
	default:
		return nil
	}
}

// coerceValue coerces a value to the specified GraphQL type
func coerceValue(s *schema.Schema, value any, targetType *schema.TypeRef) (any, error) {
	// Handle Non-Null wrapper
	if schema.IsNonNull(targetType) {
		if value == nil {
			return nil, fmt.Errorf("cannot provide null for non-null type")
		}
		return coerceValue(s, value, schema.Unwrap(targetType))
	}

	// Handle null for nullable types
	if value == nil {
		return nil, nil
	}

	// Handle List wrapper
	if schema.IsList(targetType) {
		return coerceListValue(s, value, targetType)
	}

	// Get the named type for scalar coercion
	namedType := schema.GetNamedType(targetType)

	// Coerce based on target scalar type
	switch namedType {
	case "Int":
		return coerceToInt(value)
	case "Float":
		return coerceToFloat(value)
	case "String":
		return coerceToString(value)
	case "Boolean":
		return coerceToBoolean(value)
	case "ID":
		return coerceToID(value)
	}

	var t *schema.Type
	if s != nil {
		t = s.Types[namedType]
	}
	if t == nil {
		// unknown to this schema; custom scalars pass through
		return value, nil
	}
	switch t.Kind {
	case schema.TypeKindEnum:
		return coerceToEnum(t, value)
	case schema.TypeKindInputObject:
		return coerceInputObject(s, t, value)
	default:
		return value, nil
	}
}

// coerceListValue coerces a value to a list
func coerceListValue(s *schema.Schema, value any, listType *schema.TypeRef) (any, error) {
	innerType := schema.Unwrap(listType)

	// If already a slice, coerce each item
	if slice, ok := value.([]any); ok {
		coercedSlice := make([]any, len(slice))
		for i, item := range slice {
			coercedItem, err := coerceValue(s, item, innerType)
			if err != nil {
				return nil, err
			}
			coercedSlice[i] = coercedItem
		}
		return coercedSlice, nil
	}

	// Single value becomes a list of one
	coercedItem, err := coerceValue(s, value, innerType)
	if err != nil {
		return nil, err
	}
	return []any{coercedItem}, nil
}

func coerceToEnum(t *schema.Type, value any) (any, error) {
	name, ok := value.(string)
	if !ok || t.EnumValue(name) == nil {
		return nil, fmt.Errorf("value %v is not a valid %s", value, t.Name)
	}
	return name, nil
}

func coerceInputObject(s *schema.Schema, t *schema.Type, value any) (any, error) {
	fields, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected an object for %s, got %T", t.Name, value)
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if t.InputField(name) == nil {
			return nil, fmt.Errorf("field '%s' is not defined by type %s", name, t.Name)
		}
	}

	out := make(map[string]any, len(t.InputFields))
	for _, def := range t.InputFields {
		v, present := fields[def.Name]
		if !present {
			if def.DefaultValue != nil {
				v, present = def.DefaultValue, true
			} else if schema.IsNonNull(def.Type) {
				return nil, fmt.Errorf("required field '%s' of type %s was not provided", def.Name, def.Type.String())
			} else {
				continue
			}
		}
		cv, err := coerceValue(s, v, def.Type)
		if err != nil {
			return nil, fmt.Errorf("field '%s': %v", def.Name, err)
		}
		out[def.Name] = cv
	}
	return out, nil
}

// Basic scalar coercion functions. Input scalars are not converted across
// kinds: a string never becomes an Int.
func coerceToInt(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return inInt32Range(int64(v), value)
	case int32:
		return int(v), nil
	case int64:
		return inInt32Range(v, value)
	case float64:
		if v == math.Trunc(v) {
			return inInt32Range(int64(v), value)
		}
	case float32:
		if float64(v) == math.Trunc(float64(v)) {
			return inInt32Range(int64(v), value)
		}
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return inInt32Range(n, value)
		}
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to int", value, value)
}

func inInt32Range(n int64, original any) (any, error) {
	if n < math.MinInt32 || n > math.MaxInt32 {
		return nil, fmt.Errorf("cannot coerce %v to int: out of 32-bit range", original)
	}
	return int(n), nil
}

func coerceToFloat(value any) (any, error) {
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
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f, nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to float", value, value)
}

func coerceToString(value any) (any, error) {
	if v, ok := value.(string); ok {
		return v, nil
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to string", value, value)
}

func coerceToBoolean(value any) (any, error) {
	if v, ok := value.(bool); ok {
		return v, nil
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to boolean", value, value)
}

func coerceToID(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10), nil
		}
	case json.Number:
		return v.String(), nil
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to ID", value, value)
}

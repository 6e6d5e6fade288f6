package executor

import (
	"bytes"
	"encoding/json"
)

// GraphQLError represents an error that occurred during execution
type GraphQLError struct {
	Message    string         `json:"message"`
	Locations  []Location     `json:"locations,omitempty"`
	Path       Path           `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (e GraphQLError) Error() string {
	return e.Message
}

type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// ExecutionResult represents the result of executing a GraphQL query
type ExecutionResult struct {
	Data   any            `json:"data"`
	Errors []GraphQLError `json:"errors,omitempty"`
}

// Object is a response object. Keys keep the order in which they were first
// set, which is the order of the query's selection set.
type Object struct {
	keys   []string
	values map[string]any
}

func NewObject(size int) *Object {
	return &Object{keys: make([]string, 0, size), values: make(map[string]any, size)}
}

func (o *Object) Set(key string, value any) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
}

func (o *Object) Get(key string) (any, bool) {
	v, ok := o.values[key]
	return v, ok
}

func (o *Object) Keys() []string { return o.keys }

func (o *Object) Len() int { return len(o.keys) }

// Map converts the object and every nested object into plain maps.
func (o *Object) Map() map[string]any {
	if o == nil {
		return nil
	}
	out := make(map[string]any, len(o.keys))
	for _, k := range o.keys {
		out[k] = plainValue(o.values[k])
	}
	return out
}

func plainValue(v any) any {
	switch v := v.(type) {
	case *Object:
		if v == nil {
			return nil
		}
		return v.Map()
	case []any:
		if v == nil {
			return []any(nil)
		}
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = plainValue(item)
		}
		return out
	default:
		return v
	}
}

func (o *Object) MarshalJSON() ([]byte, error) {
	if o == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(o.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

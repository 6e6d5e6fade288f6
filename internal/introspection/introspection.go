// Package introspection answers __schema and __type queries from the loaded
// schema. Meta types come from the GraphQL prelude; this package only adds the
// two root fields and resolves them.
package introspection

import (
	"context"

	"github.com/pkg/errors"

	executor "github.com/hanpama/brokergraph/internal/executor"
	schema "github.com/hanpama/brokergraph/internal/schema"
)

// Extend returns a copy of s whose query type also exposes __schema and
// __type. Field definitions are shared with s, so resolver bindings carry
// over.
func Extend(s *schema.Schema) (*schema.Schema, error) {
	for _, meta := range []string{"__Schema", "__Type"} {
		if s.Types[meta] == nil {
			return nil, errors.Errorf("schema lacks introspection type %s", meta)
		}
	}
	query := s.GetQueryType()
	if query == nil {
		return nil, errors.New("schema has no query type")
	}

	out := *s
	out.Types = make(map[string]*schema.Type, len(s.Types))
	for name, t := range s.Types {
		out.Types[name] = t
	}
	q := *query
	q.Fields = append(append([]*schema.Field(nil), query.Fields...),
		schema.NewField("__schema", "Access the current type schema of this server.",
			schema.NonNullType(schema.NamedType("__Schema"))),
		schema.NewField("__type", "Request the type information of a single type.",
			schema.NamedType("__Type")).
			AddArgument(schema.NewInputValue("name", "", schema.NonNullType(schema.NamedType("String")))),
	)
	out.Types[q.Name] = &q
	return &out, nil
}

// Wrap returns a runtime that resolves meta fields against s and delegates
// everything else to base.
func Wrap(base executor.Runtime, s *schema.Schema) executor.Runtime {
	return &runtime{Runtime: base, schema: s}
}

type runtime struct {
	executor.Runtime
	schema *schema.Schema
}

func (r *runtime) ResolveSync(ctx context.Context, objectType, field string, source any, args map[string]any) (any, error) {
	if objectType == r.schema.QueryType {
		switch field {
		case "__schema":
			return r.schema, nil
		case "__type":
			name, _ := args["name"].(string)
			if t := r.schema.Types[name]; t != nil {
				return t, nil
			}
			return nil, nil
		}
	}

	var (
		v  any
		ok bool
	)
	switch src := source.(type) {
	case *schema.Schema:
		v, ok = schemaField(src, field)
	case *schema.Type:
		v, ok = typeField(r.schema, src, field, args)
	case *schema.TypeRef:
		v, ok = typeRefField(r.schema, src, field, args)
	case *schema.Field:
		v, ok = fieldField(src, field, args)
	case *schema.InputValue:
		v, ok = inputValueField(src, field)
	case *schema.EnumValue:
		v, ok = enumValueField(src, field)
	case *schema.Directive:
		v, ok = directiveField(src, field, args)
	default:
		return r.Runtime.ResolveSync(ctx, objectType, field, source, args)
	}
	if !ok {
		return nil, errors.Errorf("unknown introspection field %s.%s", objectType, field)
	}
	return v, nil
}

// Package dispatch connects the executor to application resolvers.
//
// Resolvers are registered statically in a Table keyed by (type, field).
// Bind checks the table against the schema once at startup and marks every
// bound field async, so the executor routes it through Runtime.BatchResolveAsync.
// Unbound fields are projections read off the parent value.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"

	executor "github.com/hanpama/brokergraph/internal/executor"
	schema "github.com/hanpama/brokergraph/internal/schema"
)

// Params is what a resolver receives for one field of one parent value.
type Params struct {
	ObjectType string
	Field      string
	Source     any
	Args       map[string]any
	// Path is the response path of the field, for logging.
	Path executor.Path
}

// Resolver computes one field. It may return a plain value or a
// dataloader.Pending whose settled value becomes the field value.
type Resolver func(ctx context.Context, p Params) (any, error)

// Table maps type name to field name to resolver.
type Table map[string]map[string]Resolver

// Set registers r for typ.field, replacing any previous registration.
func (t Table) Set(typ, field string, r Resolver) Table {
	fields, ok := t[typ]
	if !ok {
		fields = make(map[string]Resolver)
		t[typ] = fields
	}
	fields[field] = r
	return t
}

func (t Table) Lookup(typ, field string) (Resolver, bool) {
	r, ok := t[typ][field]
	return r, ok
}

// BindError lists every problem found while binding a table.
type BindError []string

func (e BindError) Error() string {
	return fmt.Sprintf("resolver table does not match schema: %s", strings.Join(e, "; "))
}

// Bind checks t against s and marks bound fields async. It fails when a
// binding names an unknown type or field, or when a root field has no resolver.
func Bind(s *schema.Schema, t Table) error {
	var problems BindError

	typeNames := make([]string, 0, len(t))
	for name := range t {
		typeNames = append(typeNames, name)
	}
	sort.Strings(typeNames)

	for _, typeName := range typeNames {
		typ := s.Types[typeName]
		if typ == nil {
			problems = append(problems, fmt.Sprintf("unknown type %q", typeName))
			continue
		}
		if typ.Kind != schema.TypeKindObject {
			problems = append(problems, fmt.Sprintf("type %q is %s, resolvers bind to object types", typeName, typ.Kind))
			continue
		}
		fieldNames := make([]string, 0, len(t[typeName]))
		for name := range t[typeName] {
			fieldNames = append(fieldNames, name)
		}
		sort.Strings(fieldNames)
		for _, fieldName := range fieldNames {
			if typ.Field(fieldName) == nil {
				problems = append(problems, fmt.Sprintf("unknown field %s.%s", typeName, fieldName))
			}
		}
	}

	for _, root := range s.RootTypes() {
		typ := s.Types[root]
		if typ == nil {
			continue
		}
		for _, f := range typ.Fields {
			if strings.HasPrefix(f.Name, "__") {
				continue
			}
			if _, ok := t.Lookup(root, f.Name); !ok {
				problems = append(problems, fmt.Sprintf("root field %s.%s has no resolver", root, f.Name))
			}
		}
	}

	if len(problems) > 0 {
		return problems
	}
	for typeName, fields := range t {
		typ := s.Types[typeName]
		for fieldName := range fields {
			typ.Field(fieldName).SetAsync(true)
		}
	}
	return nil
}

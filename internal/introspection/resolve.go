package introspection

import (
	"sort"
	"strings"

	schema "github.com/hanpama/brokergraph/internal/schema"
)

// Lists are sorted by name so introspection output is stable across runs.

func schemaField(s *schema.Schema, field string) (any, bool) {
	switch field {
	case "description":
		return optional(s.Description), true
	case "types":
		types := make([]*schema.Type, 0, len(s.Types))
		for _, t := range s.Types {
			types = append(types, t)
		}
		sort.Slice(types, func(i, j int) bool { return types[i].Name < types[j].Name })
		return types, true
	case "queryType":
		return s.GetQueryType(), true
	case "mutationType":
		return s.GetMutationType(), true
	case "subscriptionType":
		return s.GetSubscriptionType(), true
	case "directives":
		dirs := make([]*schema.Directive, 0, len(s.Directives))
		for _, d := range s.Directives {
			dirs = append(dirs, d)
		}
		sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name < dirs[j].Name })
		return dirs, true
	}
	return nil, false
}

func typeField(s *schema.Schema, t *schema.Type, field string, args map[string]any) (any, bool) {
	composite := t.Kind == schema.TypeKindObject || t.Kind == schema.TypeKindInterface
	switch field {
	case "kind":
		return string(t.Kind), true
	case "name":
		return t.Name, true
	case "description":
		return optional(t.Description), true
	case "specifiedByURL":
		return t.SpecifiedByURL, true
	case "isOneOf":
		if t.Kind != schema.TypeKindInputObject {
			return nil, true
		}
		return t.OneOf, true
	case "ofType":
		// Wrappers are TypeRefs; a named type never has one.
		return nil, true
	case "fields":
		if !composite {
			return nil, true
		}
		out := []*schema.Field{}
		for _, f := range t.Fields {
			if strings.HasPrefix(f.Name, "__") || (f.IsDeprecated && !includeDeprecated(args)) {
				continue
			}
			out = append(out, f)
		}
		return out, true
	case "interfaces":
		if !composite {
			return nil, true
		}
		return lookup(s, t.Interfaces), true
	case "possibleTypes":
		if t.Kind != schema.TypeKindInterface && t.Kind != schema.TypeKindUnion {
			return nil, true
		}
		return lookup(s, t.PossibleTypes), true
	case "enumValues":
		if t.Kind != schema.TypeKindEnum {
			return nil, true
		}
		out := []*schema.EnumValue{}
		for _, v := range t.EnumValues {
			if v.IsDeprecated && !includeDeprecated(args) {
				continue
			}
			out = append(out, v)
		}
		return out, true
	case "inputFields":
		if t.Kind != schema.TypeKindInputObject {
			return nil, true
		}
		return inputValues(t.InputFields, args), true
	}
	return nil, false
}

// typeRefField answers for wrapped types; named references read through to
// their definition.
func typeRefField(s *schema.Schema, ref *schema.TypeRef, field string, args map[string]any) (any, bool) {
	switch ref.Kind {
	case schema.TypeRefKindNonNull, schema.TypeRefKindList:
		switch field {
		case "kind":
			return string(ref.Kind), true
		case "ofType":
			return ref.OfType, true
		case "name", "description", "specifiedByURL", "isOneOf",
			"fields", "interfaces", "possibleTypes", "enumValues", "inputFields":
			return nil, true
		}
		return nil, false
	}
	def := s.Types[ref.Named]
	if def == nil {
		return nil, false
	}
	return typeField(s, def, field, args)
}

func fieldField(f *schema.Field, field string, args map[string]any) (any, bool) {
	switch field {
	case "name":
		return f.Name, true
	case "description":
		return optional(f.Description), true
	case "args":
		return inputValues(f.Arguments, args), true
	case "type":
		return f.Type, true
	case "isDeprecated":
		return f.IsDeprecated, true
	case "deprecationReason":
		return deprecation(f.IsDeprecated, f.DeprecationReason), true
	}
	return nil, false
}

func inputValueField(v *schema.InputValue, field string) (any, bool) {
	switch field {
	case "name":
		return v.Name, true
	case "description":
		return optional(v.Description), true
	case "type":
		return v.Type, true
	case "defaultValue":
		if v.DefaultValue == nil {
			return nil, true
		}
		return schema.FormatValue(v.DefaultValue), true
	case "isDeprecated":
		return v.IsDeprecated, true
	case "deprecationReason":
		return deprecation(v.IsDeprecated, v.DeprecationReason), true
	}
	return nil, false
}

func enumValueField(v *schema.EnumValue, field string) (any, bool) {
	switch field {
	case "name":
		return v.Name, true
	case "description":
		return optional(v.Description), true
	case "isDeprecated":
		return v.IsDeprecated, true
	case "deprecationReason":
		return deprecation(v.IsDeprecated, v.DeprecationReason), true
	}
	return nil, false
}

func directiveField(d *schema.Directive, field string, args map[string]any) (any, bool) {
	switch field {
	case "name":
		return d.Name, true
	case "description":
		return optional(d.Description), true
	case "isRepeatable":
		return d.IsRepeatable, true
	case "locations":
		locs := append([]string(nil), d.Locations...)
		sort.Strings(locs)
		return locs, true
	case "args":
		return inputValues(d.Arguments, args), true
	}
	return nil, false
}

func inputValues(values []*schema.InputValue, args map[string]any) []*schema.InputValue {
	out := []*schema.InputValue{}
	for _, v := range values {
		if v.IsDeprecated && !includeDeprecated(args) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func lookup(s *schema.Schema, names []string) []*schema.Type {
	out := make([]*schema.Type, 0, len(names))
	for _, name := range names {
		if t := s.Types[name]; t != nil {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func includeDeprecated(args map[string]any) bool {
	b, _ := args["includeDeprecated"].(bool)
	return b
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deprecation(deprecated bool, reason string) *string {
	if !deprecated {
		return nil
	}
	return &reason
}

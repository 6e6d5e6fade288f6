package schema

import (
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"

	language "github.com/hanpama/brokergraph/internal/language"
)

// SchemaError collects every problem reported while loading SDL.
// A schema that fails to load must stop the process from serving.
type SchemaError struct {
	Errors language.ErrorList
}

func (e *SchemaError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return "invalid schema: " + strings.Join(msgs, "; ")
}

// Load parses and validates SDL sources and builds the executable schema.
// Field, argument and enum value order follows the SDL.
func Load(sources ...*language.Source) (*Schema, error) {
	if len(sources) == 0 {
		return nil, &SchemaError{Errors: language.ErrorList{{Message: "no schema sources"}}}
	}
	doc, err := language.LoadSchema(sources...)
	if err != nil {
		return nil, &SchemaError{Errors: language.AsErrorList(err)}
	}
	if doc.Query == nil {
		return nil, &SchemaError{Errors: language.ErrorList{{Message: "schema does not define a Query root type"}}}
	}
	return BuildFromAST(doc), nil
}

// BuildFromSDL loads a single SDL document.
func BuildFromSDL(sdl string) (*Schema, error) {
	return Load(&language.Source{Name: "schema.graphql", Input: sdl})
}

// BuildFromAST converts a validated gqlparser schema into the executable model.
func BuildFromAST(doc *ast.Schema) *Schema {
	s := NewSchema("")
	s.AST = doc
	if doc.Query != nil {
		s.SetQueryType(doc.Query.Name)
	}
	if doc.Mutation != nil {
		s.SetMutationType(doc.Mutation.Name)
	}
	if doc.Subscription != nil {
		s.SetSubscriptionType(doc.Subscription.Name)
	}

	for _, def := range doc.Types {
		switch def.Kind {
		case ast.Object:
			s.AddType(buildObject(def, TypeKindObject))
		case ast.Interface:
			t := buildObject(def, TypeKindInterface)
			for _, impl := range doc.PossibleTypes[def.Name] {
				t.AddPossibleType(impl.Name)
			}
			sort.Strings(t.PossibleTypes)
			s.AddType(t)
		case ast.Union:
			s.AddType(buildUnion(def))
		case ast.Enum:
			s.AddType(buildEnum(def))
		case ast.InputObject:
			s.AddType(buildInput(def))
		case ast.Scalar:
			s.AddType(buildScalar(def))
		}
	}
	for _, dir := range doc.Directives {
		s.AddDirective(buildDirective(dir))
	}
	return s
}

func buildObject(def *ast.Definition, kind TypeKind) *Type {
	t := NewType(def.Name, kind, def.Description).SetBuiltIn(def.BuiltIn)
	for _, name := range def.Interfaces {
		t.AddInterface(name)
	}
	for _, fieldDef := range def.Fields {
		// Introspection meta fields are answered by the executor itself.
		if strings.HasPrefix(fieldDef.Name, "__") {
			continue
		}
		t.AddField(buildField(fieldDef))
	}
	return t
}

func buildField(def *ast.FieldDefinition) *Field {
	f := NewField(def.Name, def.Description, buildTypeRef(def.Type))
	if reason, ok := deprecation(def.Directives); ok {
		f.Deprecate(reason)
	}
	for _, arg := range def.Arguments {
		in := NewInputValue(arg.Name, arg.Description, buildTypeRef(arg.Type)).
			SetDefault(defaultValue(arg.DefaultValue))
		if reason, ok := deprecation(arg.Directives); ok {
			in.Deprecate(reason)
		}
		f.AddArgument(in)
	}
	return f
}

func buildEnum(def *ast.Definition) *Type {
	t := NewType(def.Name, TypeKindEnum, def.Description).SetBuiltIn(def.BuiltIn)
	for _, v := range def.EnumValues {
		e := NewEnumValue(v.Name, v.Description)
		if reason, ok := deprecation(v.Directives); ok {
			e.Deprecate(reason)
		}
		t.AddEnumValue(e)
	}
	return t
}

func buildInput(def *ast.Definition) *Type {
	t := NewType(def.Name, TypeKindInputObject, def.Description).
		SetBuiltIn(def.BuiltIn).
		SetOneOf(def.Directives.ForName("oneOf") != nil)
	for _, v := range def.Fields {
		in := NewInputValue(v.Name, v.Description, buildTypeRef(v.Type)).
			SetDefault(defaultValue(v.DefaultValue))
		if reason, ok := deprecation(v.Directives); ok {
			in.Deprecate(reason)
		}
		t.AddInputField(in)
	}
	return t
}

func buildUnion(def *ast.Definition) *Type {
	t := NewType(def.Name, TypeKindUnion, def.Description).SetBuiltIn(def.BuiltIn)
	for _, name := range def.Types {
		t.AddPossibleType(name)
	}
	return t
}

func buildScalar(def *ast.Definition) *Type {
	t := NewType(def.Name, TypeKindScalar, def.Description).SetBuiltIn(def.BuiltIn)
	if d := def.Directives.ForName("specifiedBy"); d != nil {
		if arg := d.Arguments.ForName("url"); arg != nil && arg.Value != nil {
			t.SetSpecifiedByURL(arg.Value.Raw)
		}
	}
	return t
}

func buildDirective(dir *ast.DirectiveDefinition) *Directive {
	d := NewDirective(dir.Name, dir.Description).SetRepeatable(dir.IsRepeatable)
	d.BuiltIn = dir.Position != nil && dir.Position.Src != nil && dir.Position.Src.BuiltIn
	for _, loc := range dir.Locations {
		d.Locations = append(d.Locations, string(loc))
	}
	for _, arg := range dir.Arguments {
		d.AddArgument(NewInputValue(arg.Name, arg.Description, buildTypeRef(arg.Type)).
			SetDefault(defaultValue(arg.DefaultValue)))
	}
	return d
}

func buildTypeRef(t *ast.Type) *TypeRef {
	if t == nil {
		return nil
	}
	var ref *TypeRef
	if t.Elem != nil {
		ref = ListType(buildTypeRef(t.Elem))
	} else {
		ref = NamedType(t.NamedType)
	}
	if t.NonNull {
		ref = NonNullType(ref)
	}
	return ref
}

func deprecation(directives ast.DirectiveList) (string, bool) {
	d := directives.ForName("deprecated")
	if d == nil {
		return "", false
	}
	if arg := d.Arguments.ForName("reason"); arg != nil && arg.Value != nil {
		return arg.Value.Raw, true
	}
	return "", true
}

func defaultValue(v *ast.Value) any {
	if v == nil {
		return nil
	}
	out, err := v.Value(nil)
	if err != nil {
		return nil
	}
	return out
}

package schema

// NewSchema returns an empty schema with no root types.
func NewSchema(description string) *Schema {
	return &Schema{
		Types:       make(map[string]*Type),
		Directives:  make(map[string]*Directive),
		Description: description,
	}
}

func (s *Schema) SetQueryType(name string) *Schema        { s.QueryType = name; return s }
func (s *Schema) SetMutationType(name string) *Schema     { s.MutationType = name; return s }
func (s *Schema) SetSubscriptionType(name string) *Schema { s.SubscriptionType = name; return s }

// AddType registers t under its name, replacing any previous definition.
func (s *Schema) AddType(t *Type) *Schema {
	if s.Types == nil {
		s.Types = make(map[string]*Type)
	}
	s.Types[t.Name] = t
	return s
}

func (s *Schema) AddDirective(d *Directive) *Schema {
	if s.Directives == nil {
		s.Directives = make(map[string]*Directive)
	}
	s.Directives[d.Name] = d
	return s
}

func NewType(name string, kind TypeKind, description string) *Type {
	return &Type{Name: name, Kind: kind, Description: description}
}

func (t *Type) AddField(f *Field) *Type            { t.Fields = append(t.Fields, f); return t }
func (t *Type) AddInterface(name string) *Type     { t.Interfaces = append(t.Interfaces, name); return t }
func (t *Type) AddPossibleType(name string) *Type  { t.PossibleTypes = append(t.PossibleTypes, name); return t }
func (t *Type) AddEnumValue(v *EnumValue) *Type    { t.EnumValues = append(t.EnumValues, v); return t }
func (t *Type) AddInputField(v *InputValue) *Type  { t.InputFields = append(t.InputFields, v); return t }
func (t *Type) SetOneOf(oneOf bool) *Type          { t.OneOf = oneOf; return t }
func (t *Type) SetSpecifiedByURL(url string) *Type { t.SpecifiedByURL = &url; return t }
func (t *Type) SetBuiltIn(builtIn bool) *Type      { t.BuiltIn = builtIn; return t }

func NewField(name, description string, typ *TypeRef) *Field {
	return &Field{Name: name, Description: description, Type: typ}
}

// SetAsync marks the field as resolved through the runtime's batch path.
func (f *Field) SetAsync(async bool) *Field { f.Async = async; return f }

func (f *Field) AddArgument(v *InputValue) *Field { f.Arguments = append(f.Arguments, v); return f }

func (f *Field) Deprecate(reason string) *Field {
	f.IsDeprecated = true
	f.DeprecationReason = reason
	return f
}

// NewFieldMap collects fields in declaration order.
func NewFieldMap(fields ...*Field) []*Field { return fields }

func NewEnumValue(name, description string) *EnumValue {
	return &EnumValue{Name: name, Description: description}
}

func (v *EnumValue) Deprecate(reason string) *EnumValue {
	v.IsDeprecated = true
	v.DeprecationReason = reason
	return v
}

func NewInputValue(name, description string, typ *TypeRef) *InputValue {
	return &InputValue{Name: name, Description: description, Type: typ}
}

func (v *InputValue) SetDefault(value any) *InputValue { v.DefaultValue = value; return v }

func (v *InputValue) Deprecate(reason string) *InputValue {
	v.IsDeprecated = true
	v.DeprecationReason = reason
	return v
}

func NewDirective(name, description string) *Directive {
	return &Directive{Name: name, Description: description}
}

func (d *Directive) AddArgument(v *InputValue) *Directive { d.Arguments = append(d.Arguments, v); return d }
func (d *Directive) SetRepeatable(repeatable bool) *Directive {
	d.IsRepeatable = repeatable
	return d
}

package clientgen

import (
	"strings"

	"github.com/jhump/protoreflect/v2/protobuilder"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/reflect/protoreflect"

	schema "github.com/hanpama/brokergraph/internal/schema"
)

func (b *builder) addMessage(t *schema.Type) {
	mb := protobuilder.NewMessage(protoreflect.Name(t.Name))
	mb.SetComments(comment(t.Description))
	b.messages[t.Name] = mb
	b.file.AddMessage(mb)
}

func (b *builder) addEnum(t *schema.Type) {
	eb := protobuilder.NewEnum(protoreflect.Name(t.Name))
	eb.SetComments(comment(t.Description))

	// proto3 requires the first value to be zero
	zero := protobuilder.NewEnumValue(enumValueName(t.Name, "UNSPECIFIED"))
	zero.SetNumber(0)
	eb.AddValue(zero)

	values := make([]*protobuilder.EnumValueBuilder, 0, len(t.EnumValues))
	for _, v := range t.EnumValues {
		if strings.EqualFold(v.Name, "UNSPECIFIED") {
			continue
		}
		evb := protobuilder.NewEnumValue(enumValueName(t.Name, v.Name))
		evb.SetComments(comment(v.Description))
		eb.AddValue(evb)
		values = append(values, evb)
	}
	allocateEnumValueNumbers(values)

	b.enums[t.Name] = eb
	b.file.AddEnum(eb)
}

func (b *builder) addObjectFields(t *schema.Type) error {
	mb := b.messages[t.Name]
	fields := make([]*protobuilder.FieldBuilder, 0, len(t.Fields))
	for _, f := range t.Fields {
		if isMeta(f.Name) {
			continue
		}
		fb, err := b.field(f.Name, f.Description, f.Type)
		if err != nil {
			return errors.Wrapf(err, "%s.%s", t.Name, f.Name)
		}
		mb.AddField(fb)
		fields = append(fields, fb)
	}
	allocateFieldNumbers(fields)
	return nil
}

func (b *builder) addInputFields(t *schema.Type) error {
	mb := b.messages[t.Name]
	fields := make([]*protobuilder.FieldBuilder, 0, len(t.InputFields))
	for _, f := range t.InputFields {
		fb, err := b.field(f.Name, f.Description, f.Type)
		if err != nil {
			return errors.Wrapf(err, "%s.%s", t.Name, f.Name)
		}
		mb.AddField(fb)
		fields = append(fields, fb)
	}
	allocateFieldNumbers(fields)
	return nil
}

// addOneofFields gives an abstract type one choice per possible object type.
func (b *builder) addOneofFields(t *schema.Type) {
	mb := b.messages[t.Name]
	oneof := protobuilder.NewOneof("value")
	mb.AddOneOf(oneof)

	fields := make([]*protobuilder.FieldBuilder, 0, len(t.PossibleTypes))
	for _, name := range t.PossibleTypes {
		target, ok := b.messages[name]
		if !ok {
			continue
		}
		fb := protobuilder.NewField(fieldName(name), protobuilder.FieldTypeMessage(target))
		oneof.AddChoice(fb)
		fields = append(fields, fb)
	}
	allocateFieldNumbers(fields)
}

func (b *builder) field(name, description string, ref *schema.TypeRef) (*protobuilder.FieldBuilder, error) {
	rt, err := b.resolve(ref)
	if err != nil {
		return nil, err
	}
	fb := protobuilder.NewField(fieldName(name), rt.fieldType)
	fb.SetComments(comment(description))
	if rt.optional {
		fb.SetOptional()
	}
	if rt.repeated {
		fb.SetRepeated()
	}
	return fb, nil
}

type resolvedType struct {
	repeated  bool
	optional  bool
	fieldType *protobuilder.FieldType
}

// resolve maps a GraphQL type reference onto a proto field shape. Nullable
// singular fields become proto3 optional; lists become repeated.
func (b *builder) resolve(ref *schema.TypeRef) (resolvedType, error) {
	switch ref.Kind {
	case schema.TypeRefKindNamed:
		ft, err := b.named(ref.Named)
		return resolvedType{optional: true, fieldType: ft}, err
	case schema.TypeRefKindList:
		if ref.OfType.Unwrap().Kind == schema.TypeRefKindList || ref.OfType.Kind == schema.TypeRefKindList {
			return resolvedType{}, errors.Errorf("nested list %s has no proto equivalent", ref)
		}
		elem, err := b.resolve(ref.OfType)
		return resolvedType{repeated: true, fieldType: elem.fieldType}, err
	case schema.TypeRefKindNonNull:
		inner, err := b.resolve(ref.OfType)
		return resolvedType{repeated: inner.repeated, fieldType: inner.fieldType}, err
	}
	return resolvedType{}, errors.Errorf("unknown type reference kind %q", ref.Kind)
}

// scalarKinds maps GraphQL scalars to proto kinds. Decimal and DateTime travel
// as their GraphQL string form.
var scalarKinds = map[string]protoreflect.Kind{
	"String":   protoreflect.StringKind,
	"ID":       protoreflect.StringKind,
	"Int":      protoreflect.Int32Kind,
	"Float":    protoreflect.DoubleKind,
	"Boolean":  protoreflect.BoolKind,
	"Decimal":  protoreflect.StringKind,
	"DateTime": protoreflect.StringKind,
}

func (b *builder) named(name string) (*protobuilder.FieldType, error) {
	if mb, ok := b.messages[name]; ok {
		return protobuilder.FieldTypeMessage(mb), nil
	}
	if eb, ok := b.enums[name]; ok {
		return protobuilder.FieldTypeEnum(eb), nil
	}
	if k, ok := scalarKinds[name]; ok {
		return protobuilder.FieldTypeScalar(k), nil
	}
	if t, ok := b.schema.Types[name]; ok && t.Kind == schema.TypeKindScalar {
		return protobuilder.FieldTypeScalar(protoreflect.StringKind), nil
	}
	return nil, errors.Errorf("type %s has no proto mapping", name)
}

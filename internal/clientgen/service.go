package clientgen

import (
	"github.com/jhump/protoreflect/v2/protobuilder"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/reflect/protoreflect"

	schema "github.com/hanpama/brokergraph/internal/schema"
)

func (b *builder) addService(name string) error {
	sb := protobuilder.NewService(protoreflect.Name(name))
	taken := map[protoreflect.Name]bool{}
	for _, root := range b.schema.RootTypes() {
		t := b.schema.Types[root]
		if t == nil {
			continue
		}
		for _, f := range t.Fields {
			if isMeta(f.Name) {
				continue
			}
			method := methodName(root, f.Name, taken)
			taken[method] = true
			if err := b.addMethod(sb, method, f); err != nil {
				return errors.Wrapf(err, "%s.%s", root, f.Name)
			}
		}
	}
	b.file.AddService(sb)
	return nil
}

func (b *builder) addMethod(sb *protobuilder.ServiceBuilder, method protoreflect.Name, f *schema.Field) error {
	req := protobuilder.NewMessage(method + "Request")
	args := make([]*protobuilder.FieldBuilder, 0, len(f.Arguments))
	for _, a := range f.Arguments {
		fb, err := b.field(a.Name, a.Description, a.Type)
		if err != nil {
			return err
		}
		req.AddField(fb)
		args = append(args, fb)
	}
	allocateFieldNumbers(args)

	resp := protobuilder.NewMessage(method + "Response")
	data, err := b.field("data", "", f.Type)
	if err != nil {
		return err
	}
	data.SetNumber(1)
	resp.AddField(data)

	mb := protobuilder.NewMethod(method,
		protobuilder.RpcTypeMessage(req, false),
		protobuilder.RpcTypeMessage(resp, false),
	)
	mb.SetComments(comment(f.Description))
	b.file.AddMessage(req)
	b.file.AddMessage(resp)
	sb.AddMethod(mb)
	return nil
}

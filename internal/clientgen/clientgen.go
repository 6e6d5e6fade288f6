// Package clientgen renders the GraphQL schema as a proto3 file so consumers
// can generate typed stubs. Every object and input type becomes a message,
// enums keep their values, and each root field becomes one rpc of a single
// service.
package clientgen

import (
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/jhump/protoreflect/v2/protobuilder"
	"github.com/jhump/protoreflect/v2/protoprint"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"

	schema "github.com/hanpama/brokergraph/internal/schema"
)

type Options struct {
	Package   string
	Path      string
	Service   string
	GoPackage string
}

type Option func(*Options)

func WithPackage(pkg string) Option  { return func(o *Options) { o.Package = pkg } }
func WithPath(p string) Option       { return func(o *Options) { o.Path = p } }
func WithService(name string) Option { return func(o *Options) { o.Service = name } }
func WithGoPackage(p string) Option  { return func(o *Options) { o.GoPackage = p } }

func defaultOptions() Options {
	return Options{
		Package: "brokergraph.v1",
		Path:    "brokergraph/v1/brokergraph.proto",
		Service: "BrokerGraphQL",
	}
}

// Build converts s into a proto file descriptor.
func Build(s *schema.Schema, opts ...Option) (protoreflect.FileDescriptor, error) {
	o := defaultOptions()
	for _, f := range opts {
		f(&o)
	}

	fb := protobuilder.NewFile(o.Path)
	fb.SetPackageName(protoreflect.FullName(o.Package))
	fb.SetSyntax(protoreflect.Proto3)
	if o.GoPackage != "" {
		fb.SetOptions(&descriptorpb.FileOptions{GoPackage: proto.String(o.GoPackage)})
	}

	b := &builder{
		schema:   s,
		file:     fb,
		messages: make(map[string]*protobuilder.MessageBuilder),
		enums:    make(map[string]*protobuilder.EnumBuilder),
	}
	if err := b.build(o.Service); err != nil {
		return nil, err
	}
	fd, err := fb.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build proto file")
	}
	return fd, nil
}

// Render prints fd as .proto source.
func Render(fd protoreflect.FileDescriptor, w io.Writer) error {
	pp := protoprint.Printer{}
	return errors.Wrapf(pp.PrintProtoFile(fd, w), "print %s", fd.Path())
}

// WriteFile renders fd below outDir at its own path and returns the file
// written.
func WriteFile(fd protoreflect.FileDescriptor, outDir string) (string, error) {
	fp := filepath.Join(outDir, fd.Path())
	if err := os.MkdirAll(filepath.Dir(fp), 0o755); err != nil {
		return "", errors.WithStack(err)
	}
	f, err := os.OpenFile(fp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", errors.WithStack(err)
	}
	defer f.Close()
	if err := Render(fd, f); err != nil {
		return "", err
	}
	return fp, nil
}

type builder struct {
	schema   *schema.Schema
	file     *protobuilder.FileBuilder
	messages map[string]*protobuilder.MessageBuilder
	enums    map[string]*protobuilder.EnumBuilder
}

func (b *builder) build(service string) error {
	names := b.typeNames()
	roots := map[string]bool{}
	for _, r := range b.schema.RootTypes() {
		roots[r] = true
	}

	// Pass 1: declare every message and enum so fields can reference them
	// regardless of order.
	for _, name := range names {
		t := b.schema.Types[name]
		switch t.Kind {
		case schema.TypeKindObject, schema.TypeKindInterface, schema.TypeKindUnion, schema.TypeKindInputObject:
			if roots[name] {
				continue
			}
			b.addMessage(t)
		case schema.TypeKindEnum:
			b.addEnum(t)
		}
	}

	// Pass 2: fields
	for _, name := range names {
		t := b.schema.Types[name]
		if roots[name] {
			continue
		}
		var err error
		switch t.Kind {
		case schema.TypeKindObject:
			err = b.addObjectFields(t)
		case schema.TypeKindInputObject:
			err = b.addInputFields(t)
		case schema.TypeKindInterface, schema.TypeKindUnion:
			b.addOneofFields(t)
		}
		if err != nil {
			return err
		}
	}

	// Pass 3: one rpc per root field
	return b.addService(service)
}

// typeNames lists user-defined types in a stable order.
func (b *builder) typeNames() []string {
	names := make([]string, 0, len(b.schema.Types))
	for name, t := range b.schema.Types {
		if t.BuiltIn || isMeta(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

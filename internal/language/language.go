package language

import (
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
)

type (
	Error     = gqlerror.Error
	ErrorList = gqlerror.List
	Source    = ast.Source
	Schema    = ast.Schema
)

func ParseQuery(source string) (*QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func ParseSchema(name, source string) (*SchemaDocument, error) {
	doc, err := parser.ParseSchema(&ast.Source{Name: name, Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// LoadSchema parses and validates SDL sources, including the built-in prelude.
// Unknown type references, bad implementations and duplicate definitions are errors.
func LoadSchema(sources ...*Source) (*Schema, error) {
	s, err := gqlparser.LoadSchema(sources...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// AsErrorList unwraps a parser or validator error into its individual entries.
func AsErrorList(err error) ErrorList {
	switch e := err.(type) {
	case nil:
		return nil
	case gqlerror.List:
		return e
	case *gqlerror.Error:
		return gqlerror.List{e}
	default:
		return gqlerror.List{{Message: err.Error()}}
	}
}

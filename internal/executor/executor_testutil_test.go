package executor

import (
	"testing"

	"github.com/google/go-cmp/cmp/cmpopts"

	language "github.com/hanpama/brokergraph/internal/language"
	schema "github.com/hanpama/brokergraph/internal/schema"
)

// mustParseQuery parses a GraphQL query and fails the test on error.
func mustParseQuery(t *testing.T, q string) *language.QueryDocument {
	t.Helper()
	d, err := language.ParseQuery(q)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	return d
}

// plainResult rewrites ordered objects into maps so results compare against
// map literals.
func plainResult(res *ExecutionResult) *ExecutionResult {
	if res == nil {
		return nil
	}
	out := *res
	if obj, ok := res.Data.(*Object); ok {
		out.Data = obj.Map()
	}
	return &out
}

// ignoreErrorDetail compares errors by message and path only.
var ignoreErrorDetail = cmpopts.IgnoreFields(GraphQLError{}, "Locations", "Extensions")

func newObjectType(name string, fields ...*schema.Field) *schema.Type {
	t := schema.NewType(name, schema.TypeKindObject, "")
	for _, f := range fields {
		t.AddField(f)
	}
	return t
}

func newScalarType(name string) *schema.Type {
	return schema.NewType(name, schema.TypeKindScalar, "")
}

package schema

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	language "github.com/hanpama/brokergraph/internal/language"
)

const testSDL = `
"Monetary amount encoded as a decimal string."
scalar Decimal

enum Side {
  BUY
  SELL
  HOLD @deprecated(reason: "no longer traded")
}

interface Node {
  id: ID!
}

type Asset implements Node {
  id: ID!
  symbol: String!
  price(at: String, limit: Int = 10): Decimal
}

type Query {
  zeta: String
  asset(symbol: String!): Asset
  alpha: [Asset!]!
  node(id: ID!): Node
}

input OrderInput {
  symbol: String!
  side: Side!
  quantity: Decimal!
}

type Mutation {
  place(input: OrderInput!): Asset
}
`

func TestLoad_PreservesDeclarationOrder(t *testing.T) {
	s, err := BuildFromSDL(testSDL)
	require.NoError(t, err)

	require.Equal(t, "Query", s.QueryType)
	require.Equal(t, "Mutation", s.MutationType)
	require.Empty(t, s.SubscriptionType)

	var names []string
	for _, f := range s.GetQueryType().Fields {
		names = append(names, f.Name)
	}
	if diff := cmp.Diff([]string{"zeta", "asset", "alpha", "node"}, names); diff != "" {
		t.Fatalf("field order mismatch (-want +got):\n%s", diff)
	}

	alpha := s.GetQueryType().Field("alpha")
	require.NotNil(t, alpha)
	require.Equal(t, "[Asset!]!", alpha.Type.String())
	require.True(t, alpha.Type.IsList())
	require.Equal(t, "Asset", alpha.Type.GetNamedType())

	price := s.Types["Asset"].Field("price")
	require.Len(t, price.Arguments, 2)
	require.Equal(t, "at", price.Arguments[0].Name)
	require.Equal(t, int64(10), price.Argument("limit").DefaultValue)
}

func TestLoad_TypesAndDirectives(t *testing.T) {
	s, err := BuildFromSDL(testSDL)
	require.NoError(t, err)

	side := s.Types["Side"]
	require.Equal(t, TypeKindEnum, side.Kind)
	require.Len(t, side.EnumValues, 3)
	require.True(t, side.EnumValue("HOLD").IsDeprecated)
	require.Equal(t, "no longer traded", side.EnumValue("HOLD").DeprecationReason)

	node := s.Types["Node"]
	require.Equal(t, TypeKindInterface, node.Kind)
	require.Equal(t, []string{"Asset"}, node.PossibleTypes)
	require.Equal(t, []string{"Node"}, s.Types["Asset"].Interfaces)

	input := s.Types["OrderInput"]
	require.Equal(t, TypeKindInputObject, input.Kind)
	require.NotNil(t, input.InputField("side"))
	require.True(t, input.InputField("side").Type.IsNonNull())

	require.True(t, s.Types["String"].BuiltIn)
	require.False(t, s.Types["Decimal"].BuiltIn)
	require.True(t, s.Directives["skip"].BuiltIn)
	require.Nil(t, s.GetQueryType().Field("__typename"))
}

func TestLoad_UndefinedTypeFails(t *testing.T) {
	_, err := BuildFromSDL(`type Query { me: Nope }`)
	require.Error(t, err)

	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))
	require.NotEmpty(t, schemaErr.Errors)
	require.Contains(t, err.Error(), "Nope")
}

func TestLoad_SyntaxErrorFails(t *testing.T) {
	_, err := Load(&language.Source{Name: "broken.graphql", Input: `type Query { me: }`})
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
}

func TestLoad_RequiresQueryRoot(t *testing.T) {
	_, err := BuildFromSDL(`type Thing { id: ID }`)
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)

	_, err = Load()
	require.Error(t, err)
}

func TestSchemaRenderSnapshot(t *testing.T) {
	s, err := BuildFromSDL(testSDL)
	require.NoError(t, err, "failed to build schema from SDL")

	actual := Render(s)
	require.Contains(t, actual, "type Query {\n  zeta: String\n  asset(symbol: String!): Asset\n")
	require.Contains(t, actual, "  price(at: String, limit: Int = 10): Decimal\n")
	require.Contains(t, actual, `HOLD @deprecated(reason: "no longer traded")`)
	require.NotContains(t, actual, "scalar String")
	require.NotContains(t, actual, "directive @skip")

	snapshotPath := filepath.Join("testdata", "schema_rendered.graphql")

	if _, err := os.Stat(snapshotPath); os.IsNotExist(err) {
		require.NoError(t, os.MkdirAll("testdata", 0o755))
		err := os.WriteFile(snapshotPath, []byte(actual), 0644)
		require.NoError(t, err, "failed to write snapshot file")
		t.Logf("Created snapshot file: %s", snapshotPath)
		return
	}

	expected, err := os.ReadFile(snapshotPath)
	require.NoError(t, err, "failed to read snapshot file")

	if diff := cmp.Diff(string(expected), actual); diff != "" {
		t.Errorf("Rendered schema snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderedSchemaReloads(t *testing.T) {
	s, err := BuildFromSDL(testSDL)
	require.NoError(t, err)

	again, err := BuildFromSDL(Render(s))
	require.NoError(t, err)
	require.Equal(t, Render(s), Render(again))
}

package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	broker "github.com/hanpama/brokergraph/internal/broker"
	language "github.com/hanpama/brokergraph/internal/language"
	schema "github.com/hanpama/brokergraph/internal/schema"
	validation "github.com/hanpama/brokergraph/internal/validation"
)

func sources(sdl string) []*language.Source {
	return []*language.Source{{Name: "schema.graphql", Input: sdl}}
}

func TestLoadAndValidate(t *testing.T) {
	r, err := Load(zap.NewNop(), sources(`type Query { ping: String! me: User } type User { id: ID! }`))
	require.NoError(t, err)
	require.Equal(t, "Query", r.Schema().QueryType)
	require.Contains(t, r.SDL(), "type User {")
	require.Len(t, r.Digest(), 16)

	q, err := r.Validate(`{ ping me { id } }`, "")
	require.NoError(t, err)
	require.Len(t, q.Operation.SelectionSet, 2)

	_, err = r.Validate(`{ me { nickname } }`, "")
	var verr validation.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, []any{"me", "nickname"}, verr[0].Path)
}

func TestLoadFailsFast(t *testing.T) {
	_, err := Load(nil, sources(`type Query { me: Missing }`))
	var schemaErr *schema.SchemaError
	require.ErrorAs(t, err, &schemaErr)
}

func TestDigestTracksSchema(t *testing.T) {
	a, err := Load(nil, sources(`type Query { a: String }`))
	require.NoError(t, err)
	b, err := Load(nil, sources(`type Query { a: String }`))
	require.NoError(t, err)
	c, err := Load(nil, sources(`type Query { b: String }`))
	require.NoError(t, err)

	require.Equal(t, a.Digest(), b.Digest())
	require.NotEqual(t, a.Digest(), c.Digest())
}

func TestValidationOptionsApply(t *testing.T) {
	r, err := Load(nil, sources(`type Query { me: User } type User { friend: User name: String }`), validation.WithMaxDepth(2))
	require.NoError(t, err)

	_, err = r.Validate(`{ me { friend { name } } }`, "")
	require.Error(t, err)
}

func TestBrokerSchemaRejectsUnmergeableFields(t *testing.T) {
	r, err := Load(nil, broker.Sources())
	require.NoError(t, err)

	for _, tc := range []struct {
		query string
		path  []any
	}{
		{`{ ping: me { id } ping }`, []any{"ping"}},
		{`{ latestPrice(assetSymbol: "BTC") { slot } latestPrice(assetSymbol: "ETH") { slot } }`, []any{"latestPrice"}},
	} {
		_, err := r.Validate(tc.query, "")
		var verr validation.ValidationError
		require.ErrorAs(t, err, &verr, tc.query)
		require.Contains(t, verr[0].Message, "conflict", tc.query)
		require.Equal(t, tc.path, verr[0].Path, tc.query)
	}

	_, err = r.Validate(`{ btc: latestPrice(assetSymbol: "BTC") { slot } eth: latestPrice(assetSymbol: "ETH") { slot } }`, "")
	require.NoError(t, err)
}

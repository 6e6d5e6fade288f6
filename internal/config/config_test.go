package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	v, err := New(nil, "")
	require.NoError(t, err)
	c, err := Load(v)
	require.NoError(t, err)

	require.Equal(t, ":8080", c.Server.Addr)
	require.Equal(t, 10*time.Second, c.Server.Timeout)
	require.Equal(t, []string{"http://localhost:4200"}, c.Server.CORSOrigins)
	require.Equal(t, "graphql:proxy", c.Auth.RequiredScope)
	require.Equal(t, []string{"XAU", "XAG", "BTC", "ETH", "XPD", "HG"}, c.Price.Symbols)
	require.Equal(t, uint(3), c.Loader.MaxTries)
	require.Equal(t, "brokergraph", c.OtelService)
	require.True(t, c.Introspection)
	require.Error(t, c.RequireAuthKeys())
}

func TestLoad_Precedence(t *testing.T) {
	// Precedence runs flag, env, file, default.
	dir := t.TempDir()
	file := filepath.Join(dir, "broker.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
server:
  addr: ":7000"
  pretty: true
db:
  dsn: postgres://file
price:
  symbols: [XAU]
`), 0o600))
	t.Setenv("BROKER_DB_DSN", "postgres://env")
	t.Setenv("BROKER_AUTH_HMAC_SECRET", "s3cret")
	t.Setenv("BROKER_LOADER_RETRY_MAX_TRIES", "5")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(fs)
	require.NoError(t, fs.Parse([]string{"--server.addr=:9000"}))

	v, err := New(fs, file)
	require.NoError(t, err)
	c, err := Load(v)
	require.NoError(t, err)

	require.Equal(t, ":9000", c.Server.Addr)
	require.True(t, c.Server.Pretty)
	require.Equal(t, "postgres://env", c.DB.DSN)
	require.Equal(t, []string{"XAU"}, c.Price.Symbols)
	require.Equal(t, uint(5), c.Loader.MaxTries)
	require.NoError(t, c.RequireAuthKeys())
}

// Pattern: Error handling
func TestLoad_Rejects(t *testing.T) {
	t.Setenv("BROKER_LOADER_RETRY_MAX_TRIES", "0")
	v, err := New(nil, "")
	require.NoError(t, err)
	_, err = Load(v)
	require.ErrorContains(t, err, "loader.retry.max-tries")

	_, err = New(nil, filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

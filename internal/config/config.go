// Package config reads gateway settings from flags, BROKER_* environment
// variables and an optional config file, in that order of precedence.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override: server.addr is read from
// BROKER_SERVER_ADDR.
const EnvPrefix = "BROKER"

type Server struct {
	Addr         string
	Timeout      time.Duration
	Pretty       bool
	MaxBodyBytes int64
	CORSOrigins  []string
}

type Auth struct {
	JWKSetURI     string
	Issuer        string
	Audience      string
	RequiredScope string
	HMACSecret    string
	PublicKeyFile string
}

type DB struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	AssetTTL     time.Duration
}

type Price struct {
	BaseURL  string
	Symbols  []string
	Schedule string
	Rate     float64
	Enabled  bool
}

type Loader struct {
	MaxBatch        int
	Concurrency     int
	MaxTries        uint
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

type Config struct {
	Server        Server
	Auth          Auth
	DB            DB
	Price         Price
	WalletBaseURL string
	Loader        Loader
	Introspection bool
	OtelEndpoint  string
	OtelService   string
	LogLevel      string
	LogDev        bool
}

// defaults lists every key with its default. Keys unknown to viper are not
// matched against the environment, so each one must be listed here.
var defaults = map[string]any{
	"server.addr":                   ":8080",
	"server.timeout":                10 * time.Second,
	"server.pretty":                 false,
	"server.max-body-bytes":         int64(1 << 20),
	"server.cors-origins":           []string{"http://localhost:4200"},
	"auth.jwk-set-uri":              "",
	"auth.issuer":                   "",
	"auth.audience":                 "",
	"auth.required-scope":           "graphql:proxy",
	"auth.hmac-secret":              "",
	"auth.public-key-file":          "",
	"db.dsn":                        "",
	"db.max-open-conns":             10,
	"db.max-idle-conns":             5,
	"db.asset-ttl":                  time.Minute,
	"price.api.base-url":            "https://api.gold-api.com",
	"price.symbols":                 []string{"XAU", "XAG", "BTC", "ETH", "XPD", "HG"},
	"price.schedule":                "@every 60s",
	"price.rate":                    2.0,
	"price.enabled":                 true,
	"wallet.base-url":               "",
	"loader.max-batch":              100,
	"loader.concurrency":            16,
	"loader.retry.max-tries":        3,
	"loader.retry.initial-interval": 50 * time.Millisecond,
	"loader.retry.max-elapsed":      2 * time.Second,
	"graphql.introspection":         true,
	"otel.endpoint":                 "",
	"otel.service":                  "brokergraph",
	"log.level":                     "info",
	"log.development":               false,
}

var usage = map[string]string{
	"server.addr":                   "HTTP listen address",
	"server.timeout":                "Per-request timeout",
	"server.pretty":                 "Pretty-print JSON responses",
	"server.max-body-bytes":         "Largest accepted request body",
	"server.cors-origins":           "Allowed CORS origins",
	"auth.jwk-set-uri":              "JWK set URL of the token issuer",
	"auth.issuer":                   "Required token issuer",
	"auth.audience":                 "Required token audience",
	"auth.required-scope":           "Scope a token needs to use /graphql",
	"auth.hmac-secret":              "Shared secret for HS256 tokens",
	"auth.public-key-file":          "PEM file with the issuer's RSA public key",
	"db.dsn":                        "Postgres connection string",
	"db.max-open-conns":             "Max open database connections",
	"db.max-idle-conns":             "Max idle database connections",
	"db.asset-ttl":                  "How long asset rows are cached",
	"price.api.base-url":            "Base URL of the price API",
	"price.symbols":                 "Symbols collected by the price feed",
	"price.schedule":                "Cron spec of the price collection",
	"price.rate":                    "Price API requests per second",
	"price.enabled":                 "Run the price scheduler inside serve",
	"wallet.base-url":               "Base URL of the wallet service",
	"loader.max-batch":              "Max keys per loader batch",
	"loader.concurrency":            "Max resolvers and batches running at once",
	"loader.retry.max-tries":        "Attempts per batch against an unavailable backend",
	"loader.retry.initial-interval": "First retry delay",
	"loader.retry.max-elapsed":      "Give up retrying a batch after this long",
	"graphql.introspection":         "Answer __schema and __type queries",
	"otel.endpoint":                 "OTLP collector endpoint",
	"otel.service":                  "OpenTelemetry service name",
	"log.level":                     "Log level (debug, info, warn, error)",
	"log.development":               "Human readable console logs",
}

// AddFlags registers a flag for every key on fs.
func AddFlags(fs *pflag.FlagSet) {
	for key, def := range defaults {
		help := usage[key]
		switch d := def.(type) {
		case string:
			fs.String(key, d, help)
		case bool:
			fs.Bool(key, d, help)
		case int:
			fs.Int(key, d, help)
		case int64:
			fs.Int64(key, d, help)
		case float64:
			fs.Float64(key, d, help)
		case time.Duration:
			fs.Duration(key, d, help)
		case []string:
			fs.StringSlice(key, d, help)
		}
	}
}

// New returns a viper instance with defaults, env overrides and, when fs is
// given, flag bindings. A non-empty file is read as the config file.
func New(fs *pflag.FlagSet, file string) (*viper.Viper, error) {
	v := viper.New()
	for key, def := range defaults {
		v.SetDefault(key, def)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, errors.Wrap(err, "bind flags")
		}
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", file)
		}
	}
	return v, nil
}

// Load reads every key from v and checks the values that would otherwise
// fail later at startup.
func Load(v *viper.Viper) (Config, error) {
	c := Config{
		Server: Server{
			Addr:         v.GetString("server.addr"),
			Timeout:      v.GetDuration("server.timeout"),
			Pretty:       v.GetBool("server.pretty"),
			MaxBodyBytes: v.GetInt64("server.max-body-bytes"),
			CORSOrigins:  v.GetStringSlice("server.cors-origins"),
		},
		Auth: Auth{
			JWKSetURI:     v.GetString("auth.jwk-set-uri"),
			Issuer:        v.GetString("auth.issuer"),
			Audience:      v.GetString("auth.audience"),
			RequiredScope: v.GetString("auth.required-scope"),
			HMACSecret:    v.GetString("auth.hmac-secret"),
			PublicKeyFile: v.GetString("auth.public-key-file"),
		},
		DB: DB{
			DSN:          v.GetString("db.dsn"),
			MaxOpenConns: v.GetInt("db.max-open-conns"),
			MaxIdleConns: v.GetInt("db.max-idle-conns"),
			AssetTTL:     v.GetDuration("db.asset-ttl"),
		},
		Price: Price{
			BaseURL:  v.GetString("price.api.base-url"),
			Symbols:  v.GetStringSlice("price.symbols"),
			Schedule: v.GetString("price.schedule"),
			Rate:     v.GetFloat64("price.rate"),
			Enabled:  v.GetBool("price.enabled"),
		},
		WalletBaseURL: v.GetString("wallet.base-url"),
		Loader: Loader{
			MaxBatch:        v.GetInt("loader.max-batch"),
			Concurrency:     v.GetInt("loader.concurrency"),
			MaxTries:        v.GetUint("loader.retry.max-tries"),
			InitialInterval: v.GetDuration("loader.retry.initial-interval"),
			MaxElapsed:      v.GetDuration("loader.retry.max-elapsed"),
		},
		Introspection: v.GetBool("graphql.introspection"),
		OtelEndpoint:  v.GetString("otel.endpoint"),
		OtelService:   v.GetString("otel.service"),
		LogLevel:      v.GetString("log.level"),
		LogDev:        v.GetBool("log.development"),
	}
	return c, c.Validate()
}

// Validate reports settings the gateway cannot start with.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return errors.New("server.max-body-bytes must be positive")
	}
	if c.Loader.MaxTries == 0 {
		return errors.New("loader.retry.max-tries must be at least 1")
	}
	if c.Price.Rate <= 0 {
		return errors.New("price.rate must be positive")
	}
	return nil
}

// RequireAuthKeys reports whether serve has a way to verify tokens.
func (c Config) RequireAuthKeys() error {
	if c.Auth.JWKSetURI == "" && c.Auth.HMACSecret == "" && c.Auth.PublicKeyFile == "" {
		return errors.New("one of auth.jwk-set-uri, auth.hmac-secret or auth.public-key-file is required")
	}
	return nil
}

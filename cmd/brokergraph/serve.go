package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	auth "github.com/hanpama/brokergraph/internal/auth"
	broker "github.com/hanpama/brokergraph/internal/broker"
	config "github.com/hanpama/brokergraph/internal/config"
	dataloader "github.com/hanpama/brokergraph/internal/dataloader"
	dispatch "github.com/hanpama/brokergraph/internal/dispatch"
	eventbus "github.com/hanpama/brokergraph/internal/eventbus"
	executor "github.com/hanpama/brokergraph/internal/executor"
	introspection "github.com/hanpama/brokergraph/internal/introspection"
	logging "github.com/hanpama/brokergraph/internal/logging"
	metrics "github.com/hanpama/brokergraph/internal/metrics"
	otel "github.com/hanpama/brokergraph/internal/otel"
	pricefeed "github.com/hanpama/brokergraph/internal/pricefeed"
	registry "github.com/hanpama/brokergraph/internal/registry"
	server "github.com/hanpama/brokergraph/internal/server"
	store "github.com/hanpama/brokergraph/internal/store"
	wallet "github.com/hanpama/brokergraph/internal/wallet"
)

const shutdownGrace = 15 * time.Second

func newServeCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP GraphQL gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			if err := cfg.RequireAuthKeys(); err != nil {
				return err
			}
			logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	eventbus.Use(eventbus.New())
	shutdownTracing, err := otel.Setup(cfg.OtelEndpoint, cfg.OtelService)
	if err != nil {
		return errors.Wrap(err, "otel setup")
	}
	defer func() { _ = shutdownTracing(context.Background()) }()
	m := metrics.New()
	defer m.Subscribe()()

	pg, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	assets, err := store.NewAssetCache(pg, cfg.DB.AssetTTL)
	if err != nil {
		return err
	}
	defer assets.Close()

	verifier, err := newVerifier(cfg.Auth, logger)
	if err != nil {
		return err
	}

	svcOpts := []broker.Option{broker.WithLogger(logger)}
	if cfg.WalletBaseURL != "" {
		svcOpts = append(svcOpts, broker.WithWallet(wallet.NewClient(cfg.WalletBaseURL)))
	}
	svc := broker.NewService(assets, svcOpts...)

	reg, err := registry.Load(logger, broker.Sources())
	if err != nil {
		return err
	}
	table := svc.Table()
	if err := dispatch.Bind(reg.Schema(), table); err != nil {
		return err
	}
	rtOpts := append(broker.RuntimeOptions(),
		dispatch.WithConcurrency(cfg.Loader.Concurrency),
		dispatch.WithLogger(logger),
	)
	var rt executor.Runtime = dispatch.NewRuntime(reg.Schema(), table, rtOpts...)
	if cfg.Introspection {
		ext, err := introspection.Extend(reg.Schema())
		if err != nil {
			return err
		}
		reg = registry.New(ext)
		rt = introspection.Wrap(rt, ext)
	}

	sopts := []server.Option{
		server.WithTimeout(cfg.Server.Timeout),
		server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		server.WithCORS(cfg.Server.CORSOrigins...),
		server.WithLoaderOptions(loaderOptions(cfg.Loader)...),
		server.WithLogger(logger),
		server.WithRequiredScope(cfg.Auth.RequiredScope),
	}
	if cfg.Server.Pretty {
		sopts = append(sopts, server.WithPretty())
	}
	h := server.New(reg, rt, verifier, sopts...)
	router := server.NewRouter(h, server.Routes{
		Health:  pg.Ping,
		Metrics: m.Handler(),
		SDL:     reg.SDL(),
	})

	if cfg.Price.Enabled {
		sched, err := pricefeed.NewScheduler(newIngestor(cfg.Price, pg, logger), cfg.Price.Schedule, logger)
		if err != nil {
			return err
		}
		sched.Start(ctx)
		defer sched.Stop()
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("GraphQL server listening",
			zap.String("addr", cfg.Server.Addr),
			zap.String("schema_digest", reg.Digest()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (*store.Postgres, error) {
	if cfg.DB.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	return store.Open(ctx, cfg.DB.DSN, store.Options{
		MaxOpenConns: cfg.DB.MaxOpenConns,
		MaxIdleConns: cfg.DB.MaxIdleConns,
	}, logger)
}

// newVerifier combines every configured key source; tokens verify against
// whichever matches their algorithm and key id.
func newVerifier(cfg config.Auth, logger *zap.Logger) (*auth.Verifier, error) {
	var keys auth.Keys
	if cfg.HMACSecret != "" {
		keys = append(keys, auth.HMACKey(cfg.HMACSecret))
	}
	if cfg.PublicKeyFile != "" {
		pem, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "read auth.public-key-file")
		}
		k, err := auth.ParseRSAKey(pem)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if cfg.JWKSetURI != "" {
		keys = append(keys, auth.NewJWKS(cfg.JWKSetURI, logger))
	}
	return auth.NewVerifier(keys,
		auth.WithIssuer(cfg.Issuer),
		auth.WithAudience(cfg.Audience),
		auth.WithRequiredScope(cfg.RequiredScope),
	), nil
}

func loaderOptions(cfg config.Loader) []dataloader.Option {
	policy := dataloader.DefaultRetryPolicy()
	policy.MaxTries = cfg.MaxTries
	if cfg.InitialInterval > 0 {
		policy.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxElapsed > 0 {
		policy.MaxElapsedTime = cfg.MaxElapsed
	}
	return []dataloader.Option{
		dataloader.WithMaxBatch(cfg.MaxBatch),
		dataloader.WithRetry(policy),
	}
}

func newIngestor(cfg config.Price, st pricefeed.TickStore, logger *zap.Logger) *pricefeed.Ingestor {
	client := pricefeed.NewClient(cfg.BaseURL, pricefeed.WithRate(cfg.Rate, 1))
	return pricefeed.NewIngestor(client, st,
		pricefeed.WithSymbols(cfg.Symbols...),
		pricefeed.WithLogger(logger),
	)
}

package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	broker "github.com/hanpama/brokergraph/internal/broker"
	clientgen "github.com/hanpama/brokergraph/internal/clientgen"
	logging "github.com/hanpama/brokergraph/internal/logging"
	registry "github.com/hanpama/brokergraph/internal/registry"
)

func newMigrateCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the broker tables if they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
			if err != nil {
				return err
			}
			pg, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer pg.Close()
			if err := pg.Migrate(cmd.Context()); err != nil {
				return err
			}
			logger.Info("schema up to date")
			return nil
		},
	}
}

func newIngestOnceCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest-once",
		Short: "Collect one round of prices and purge expired ticks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			pg, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer pg.Close()

			report := newIngestor(cfg.Price, pg, logger).Collect(cmd.Context())
			if report.OK == 0 && report.Failed > 0 {
				return errors.Errorf("no price recorded, %d symbols failed", report.Failed)
			}
			logger.Info("ingest done",
				zap.Int("ok", report.OK),
				zap.Int("failed", report.Failed),
				zap.Int64("purged", report.Purged),
			)
			return nil
		},
	}
}

func newPrintSchemaCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "print-schema",
		Short: "Validate the GraphQL schema and print its SDL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := registry.Load(nil, broker.Sources())
			if err != nil {
				return err
			}
			if out == "" {
				_, err := fmt.Fprint(cmd.OutOrStdout(), reg.SDL())
				return err
			}
			return errors.WithStack(os.WriteFile(out, []byte(reg.SDL()), 0o644))
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Write SDL to file (default: stdout)")
	return cmd
}

func newCompileProtoCmd() *cobra.Command {
	var outDir, pkg, goPkg string
	cmd := &cobra.Command{
		Use:   "compile-proto",
		Short: "Generate a .proto file for typed clients of the GraphQL API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := registry.Load(nil, broker.Sources())
			if err != nil {
				return err
			}
			opts := []clientgen.Option{clientgen.WithGoPackage(goPkg)}
			if pkg != "" {
				opts = append(opts, clientgen.WithPackage(pkg))
			}
			fd, err := clientgen.Build(reg.Schema(), opts...)
			if err != nil {
				return err
			}
			path, err := clientgen.WriteFile(fd, outDir)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "", "Output directory for the generated .proto file (required)")
	cmd.Flags().StringVar(&pkg, "package", "", "Proto package (default: brokergraph.v1)")
	cmd.Flags().StringVar(&goPkg, "go-package", "", "go_package option of the generated file")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

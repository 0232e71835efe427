package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chatrouter/internal/config"
	"chatrouter/internal/logging"
	"chatrouter/internal/metrics"
	providerfactory "chatrouter/internal/provider/factory"
	"chatrouter/internal/router"
	"chatrouter/internal/server"
	"chatrouter/internal/usage"
)

func newServeCommand() *cobra.Command {
	var (
		cfgPath      string
		overridePort int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfgPath == "" {
				return errors.New("serve command requires --config <path>")
			}

			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("port") {
				if overridePort <= 0 || overridePort > 65535 {
					return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
				}
				cfg.Server.Port = overridePort
			}

			logger, err := logging.NewLogger(logging.Options{
				Level:       cfg.Logging.Level,
				Development: cfg.Logging.Development,
			})
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx := cmd.Context()

			catalog, err := providerfactory.BuildCatalog(cfg)
			if err != nil {
				return err
			}
			logger.Info("model catalog built", zap.Int("models", catalog.Len()))

			recorder, err := usage.New(ctx, cfg.Usage)
			if err != nil {
				return err
			}
			defer func() {
				if err := recorder.Close(); err != nil {
					logger.Warn("close usage ledger", zap.Error(err))
				}
			}()

			m := metrics.New()
			rt := router.New(catalog, router.WithMetrics(m))

			srv, err := server.New(cfg, rt, server.Options{
				Logger:  logger,
				Metrics: m,
				Usage:   recorder,
			})
			if err != nil {
				return err
			}

			return srv.Run(logging.WithLogger(ctx, logger))
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", "", "path to YAML configuration file (required)")
	cmd.Flags().IntVar(&overridePort, "port", 0, "override server port from configuration")
	return cmd
}

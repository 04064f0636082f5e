package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"flaketrace/internal/logging"
	mcpserver "flaketrace/internal/mcp"
	"flaketrace/internal/metrics"
)

func newServeCmd(a *app) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server over stdio",
		Long: `Starts an MCP server over stdin/stdout exposing score_flakiness,
analyze_batch, analyze_history, analyze_failure and the asynchronous
start_rca_job / get_rca_job pair.

With --metrics-addr (or metrics.addr in the config file) Prometheus metrics
are served on /metrics. The server exits when its parent process goes away.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if metricsAddr == "" {
				metricsAddr = a.cfg.Metrics.Addr
			}
			logger := logging.New("mcp")
			srv := mcpserver.NewServer(a.scorer, a.analyzer,
				mcpserver.WithVersion(version),
				mcpserver.WithLocation(a.loc),
				mcpserver.WithLogger(logger),
			)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			mcpserver.WatchParent(ctx, 0, cancel, logger)

			if metricsAddr != "" {
				go func() {
					err := metrics.Serve(ctx, metricsAddr, a.registry)
					if err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("metrics listener stopped", "addr", metricsAddr, "error", err)
					}
				}()
				logger.Info("serving metrics", "addr", metricsAddr)
			}

			logger.Info("starting flaketrace MCP server over stdio")
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Listen address for /metrics (default from config)")
	return cmd
}

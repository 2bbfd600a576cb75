package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/malbeclabs/rwe/api"
	"github.com/malbeclabs/rwe/pkg/mcpserver"
	"github.com/malbeclabs/rwe/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type ServeCmd struct{}

func NewServeCmd() *ServeCmd {
	return &ServeCmd{}
}

func (c *ServeCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, Prometheus metrics and optionally MCP",
		RunE: func(cmd *cobra.Command, args []string) error {
			withIndex, err := cmd.Flags().GetBool("index")
			if err != nil {
				return fmt.Errorf("failed to get index flag: %w", err)
			}
			withMCP, err := cmd.Flags().GetBool("mcp")
			if err != nil {
				return fmt.Errorf("failed to get mcp flag: %w", err)
			}

			log, cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, log, cfg, appOptions{pipeline: true, tracking: true, index: withIndex})
			if err != nil {
				return err
			}
			defer a.Close()

			opts := []api.Option{
				api.WithLogger(log),
				api.WithListenAddr(cfg.Server.ListenAddr),
				api.WithAsker(a.pipeline),
				api.WithTables(a.tables),
				api.WithReadinessCheck("tables", a.tablesReady),
			}
			if a.tracker != nil {
				opts = append(opts, api.WithFeedbackLogger(a.tracker))
			}
			if a.index != nil {
				opts = append(opts,
					api.WithSearcher(a.index),
					api.WithReadinessCheck("index", a.indexReady),
				)
			}
			apiServer, err := api.NewApiServer(opts...)
			if err != nil {
				return fmt.Errorf("failed to create api server: %w", err)
			}

			metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return apiServer.Run(ctx)
			})
			if cfg.Server.MetricsAddr != "" {
				g.Go(func() error {
					return serveMetrics(ctx, log, cfg.Server.MetricsAddr)
				})
			}
			if withMCP {
				mcpServer, err := a.mcpServer(cfg.Server.MCPAddr)
				if err != nil {
					return err
				}
				g.Go(func() error {
					return mcpServer.Run(ctx)
				})
			}
			return g.Wait()
		},
	}

	cmd.Flags().Bool("index", true, "enable GET /api/search over the retrieval index")
	cmd.Flags().Bool("mcp", false, "also serve MCP over streamable HTTP on the configured mcp address")

	return cmd
}

func (a *app) mcpServer(listenAddr string) (*mcpserver.Server, error) {
	cfg := mcpserver.Config{
		Logger:     a.log,
		Asker:      a.pipeline,
		Tables:     a.tables,
		Resolver:   a.resolver,
		Version:    version,
		ListenAddr: listenAddr,
	}
	if a.index != nil {
		cfg.Searcher = a.index
	}
	s, err := mcpserver.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp server: %w", err)
	}
	return s, nil
}

// tablesReady loads every registered table once; later calls hit the cache.
func (a *app) tablesReady(ctx context.Context) error {
	for _, t := range a.tables.Tables() {
		if _, err := a.tables.Load(ctx, t.Name); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) indexReady(ctx context.Context) error {
	n, err := a.indexStore.Count(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("index is empty; run rwe ingest")
	}
	return nil
}

func serveMetrics(ctx context.Context, log *slog.Logger, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start prometheus metrics server listener: %w", err)
	}
	log.Info("prometheus metrics server listening", "address", listener.Addr().String())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("failed to serve prometheus metrics: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down metrics server: %w", err)
	}
	return <-errCh
}

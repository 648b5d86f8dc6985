package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/funcbox/api"
	"github.com/isdmx/funcbox/config"
	"github.com/isdmx/funcbox/engine"
	"github.com/isdmx/funcbox/function"
	"github.com/isdmx/funcbox/logger"
	"github.com/isdmx/funcbox/mcpserver"
	"github.com/isdmx/funcbox/metrics"
	"github.com/isdmx/funcbox/pool"
	"github.com/isdmx/funcbox/runtime"
)

func newRuntimeConfig(cfg *config.Config) *runtime.Config {
	return &runtime.Config{
		Images:         cfg.Images(),
		NetworkEnabled: cfg.Sandbox.NetworkEnabled,
	}
}

func newSelector(log *zap.Logger, cfg *config.Config, rtCfg *runtime.Config) *runtime.Selector {
	secure := runtime.NewGVisorRuntime(log, rtCfg)
	standard := runtime.NewContainerRuntime(log, rtCfg)
	preferSecure := cfg.Engine.PreferredBackend == "gvisor"

	var opts []runtime.SelectorOption
	if !cfg.Engine.FallbackEnabled {
		opts = append(opts, runtime.WithoutFallback())
	}
	return runtime.NewSelector(log, secure, standard, preferSecure, opts...)
}

func newPool(log *zap.Logger, cfg *config.Config) *pool.Pool {
	return pool.New(log, pool.Config{
		GlobalCapacity:       cfg.Pool.GlobalCapacity,
		PerSignatureCapacity: cfg.Pool.PerSignatureCapacity,
		IdleTimeout:          cfg.IdleTimeout(),
		SweepInterval:        cfg.SweepInterval(),
	})
}

func newCollector(registry *prometheus.Registry) *metrics.Collector {
	return metrics.NewCollector(registry)
}

func main() {
	app := fx.New(
		fx.Provide(
			config.New,
			logger.NewFromConfig,
			prometheus.NewRegistry,
			newCollector,
			function.NewStore,
			newRuntimeConfig,
			newSelector,
			newPool,
			engine.New,
			api.New,
			mcpserver.New,
		),

		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger,
			p *pool.Pool, server *api.Server, mcpServer *mcpserver.MCPServer) {
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					p.Start()
					server.Start()
					switch cfg.Server.MCPTransport {
					case "stdio":
						go func() {
							if err := mcpServer.ServeStdio(); err != nil {
								log.Error("MCP stdio server stopped", zap.Error(err))
							}
						}()
					case "http":
						go func() {
							if err := mcpServer.ServeHTTP(); err != nil {
								log.Error("MCP HTTP server stopped", zap.Error(err))
							}
						}()
					}
					return nil
				},
				OnStop: func(ctx context.Context) error {
					err := server.Stop(ctx)
					p.Stop(ctx)
					return err
				},
			})
		}),

		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	app.Run()
}

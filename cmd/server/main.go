// Package main is the entry point for the pyexec orchestration server.
//
// The server manages isolated Python execution sessions: each session
// gets a persistent working directory and a cached virtual environment,
// and every install or execute request runs in a disposable Docker
// container with resource limits. Work is queued to a background pool
// and reported through a status store (Redis or in-memory); session
// files can live locally or in S3.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main

import (
	"context"
	"io"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/pyexec/config"
	"github.com/isdmx/pyexec/httpapi"
	"github.com/isdmx/pyexec/logger"
	"github.com/isdmx/pyexec/mcpserver"
	"github.com/isdmx/pyexec/objstore"
	"github.com/isdmx/pyexec/orchestrator"
	"github.com/isdmx/pyexec/sandbox"
	"github.com/isdmx/pyexec/session"
	"github.com/isdmx/pyexec/status"
	"github.com/isdmx/pyexec/venv"
)

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Session directory store
			session.NewStore,

			// Status store backend based on config
			status.New,

			// Object store sync (S3 or disabled)
			objstore.New,

			// Container runner
			sandbox.NewRunner,

			// Virtual environment manager
			venv.NewManager,

			// Background worker pool
			func(cfg *config.Config, log *zap.Logger) *orchestrator.Pool {
				return orchestrator.NewPool(cfg.Sandbox.Workers, log)
			},

			// Orchestrator and its service views
			orchestrator.New,
			func(o *orchestrator.Orchestrator) httpapi.Service { return o },
			func(o *orchestrator.Orchestrator) mcpserver.Service { return o },

			// Servers
			httpapi.New,
			mcpserver.New,
		),

		// Start the appropriate transport based on config
		fx.Invoke(
			func(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger,
				api *httpapi.Server, mcp *mcpserver.MCPServer,
				pool *orchestrator.Pool, runner sandbox.Runner, statuses status.Store,
			) {
				lc.Append(fx.Hook{
					OnStart: func(context.Context) error {
						switch cfg.Server.Transport {
						case "http":
							go func() {
								if err := api.Start(); err != nil {
									log.Fatal("http server failed", zap.Error(err))
								}
							}()
						case "mcp-stdio":
							go func() {
								if err := mcp.ServeStdio(); err != nil {
									log.Fatal("mcp stdio server failed", zap.Error(err))
								}
							}()
						case "mcp-http":
							go func() {
								if err := mcp.ServeHTTP(); err != nil {
									log.Fatal("mcp http server failed", zap.Error(err))
								}
							}()
						}
						return nil
					},
					OnStop: func(ctx context.Context) error {
						if err := api.Shutdown(ctx); err != nil {
							log.Warn("http server shutdown failed", zap.Error(err))
						}
						// Drain queued tasks before releasing backends.
						pool.Stop()
						if c, ok := runner.(io.Closer); ok {
							if err := c.Close(); err != nil {
								log.Warn("runner close failed", zap.Error(err))
							}
						}
						if c, ok := statuses.(io.Closer); ok {
							if err := c.Close(); err != nil {
								log.Warn("status store close failed", zap.Error(err))
							}
						}
						return nil
					},
				})
			},
		),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}

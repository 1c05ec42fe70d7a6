// Package main is the entry point for the Databox MCP server.
//
// The Databox server implements a Model Context Protocol (MCP) server that
// runs untrusted data-analysis scripts against caller-provided datasets in
// embedded sandboxes. The server supports both stdio and HTTP transports and
// layers static validation, a restricted script namespace, and bounded
// worker-pool execution between callers and the interpreter.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/databox/config"
	"github.com/isdmx/databox/dataset"
	"github.com/isdmx/databox/logger"
	"github.com/isdmx/databox/mcpserver"
	"github.com/isdmx/databox/sandbox"
	"github.com/isdmx/databox/validator"
)

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Dataset cache
			func(cfg *config.Config, log *zap.Logger) *dataset.Cache {
				return dataset.NewCache(log, cfg.Cache.MaxEntries)
			},

			// Static validator
			validator.New,

			// Script executor, drained on shutdown
			func(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, cache *dataset.Cache, val *validator.Validator) *sandbox.Executor {
				executor := sandbox.NewExecutor(log, &sandbox.Config{
					TimeoutSec: cfg.Executor.TimeoutSec,
					MaxWorkers: cfg.Executor.MaxWorkers,
				}, cache, val)
				lc.Append(fx.Hook{
					OnStop: func(ctx context.Context) error {
						return executor.Shutdown(ctx)
					},
				})
				return executor
			},
			func(executor *sandbox.Executor) mcpserver.Executor { return executor },

			// MCP Server
			mcpserver.New,
		),

		// Start the appropriate transport based on config
		fx.Invoke(
			func(cfg *config.Config, server *mcpserver.MCPServer) {
				switch cfg.Server.Transport {
				case "stdio":
					// Use fx to run this as a background task
					go func() {
						if err := server.ServeStdio(); err != nil {
							panic(err)
						}
					}()
				case "http":
					go func() {
						if err := server.ServeHTTP(); err != nil {
							panic(err)
						}
					}()
				default:
					panic("unsupported transport: " + cfg.Server.Transport)
				}
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

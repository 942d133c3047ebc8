package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/atlanticdynamic/mcpverify/internal/logging/writers"
	"github.com/atlanticdynamic/mcpverify/internal/server/toolserver"
	"github.com/robbyt/go-supervisor/supervisor"
	"github.com/urfave/cli/v3"
)

var errStdoutLogging = errors.New("serve speaks MCP on stdout; send logs to stderr or a file")

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "Serve the script engines as MCP tools over stdio",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		rt := runtimeFrom(ctx)
		if kind, _, err := writers.Parse(rt.cfg.Logging.Output); err == nil && kind == writers.KindStdout {
			return cli.Exit(errStdoutLogging, 1)
		}

		reg, err := rt.registry()
		if err != nil {
			return cli.Exit(err, 1)
		}
		srv, err := toolserver.New(reg, rt.cfg.ScriptConfig(),
			toolserver.WithLogHandler(rt.handler),
			toolserver.WithImplementation("mcpverify", Version),
		)
		if err != nil {
			return cli.Exit(fmt.Errorf("failed to create tool server: %w", err), 1)
		}

		// The client closing stdin ends the session; shut down with it.
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-srv.Done():
				cancel()
			case <-ctx.Done():
			}
		}()

		super, err := supervisor.New(
			supervisor.WithContext(ctx),
			supervisor.WithLogHandler(rt.handler),
			supervisor.WithRunnables(srv),
		)
		if err != nil {
			return cli.Exit(fmt.Errorf("failed to create supervisor: %w", err), 1)
		}
		if err := super.Run(); err != nil {
			return cli.Exit(fmt.Errorf("failed to run server: %w", err), 1)
		}

		slog.Info("Server shutdown complete")
		return nil
	},
}

package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/atlanticdynamic/mcpverify/internal/config"
	"github.com/atlanticdynamic/mcpverify/internal/logging"
	"github.com/atlanticdynamic/mcpverify/internal/script"
	"github.com/atlanticdynamic/mcpverify/internal/script/engines"
	"github.com/urfave/cli/v3"
)

// runtime is what every command shares: the operator config and the log
// handler built from it.
type runtime struct {
	cfg     *config.Config
	handler slog.Handler
	closer  io.Closer
}

type runtimeKey struct{}

// setupRuntime loads the config file and installs the default logger.
// Flags win over the file.
func setupRuntime(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return ctx, cli.Exit(err, 1)
	}
	if cmd.IsSet("log-level") {
		level, err := config.LogLevelFromString(cmd.String("log-level"))
		if err != nil {
			return ctx, cli.Exit(err, 1)
		}
		cfg.Logging.Level = level
	}
	if cmd.IsSet("log-format") {
		format, err := config.LogFormatFromString(cmd.String("log-format"))
		if err != nil {
			return ctx, cli.Exit(err, 1)
		}
		cfg.Logging.Format = format
	}

	handler, closer, err := logging.New(
		cfg.Logging.Format.String(),
		cfg.Logging.Level.String(),
		cfg.Logging.Output,
	)
	if err != nil {
		return ctx, cli.Exit(err, 1)
	}
	slog.SetDefault(slog.New(handler))

	rt := &runtime{cfg: cfg, handler: handler, closer: closer}
	return context.WithValue(ctx, runtimeKey{}, rt), nil
}

func closeRuntime(ctx context.Context, cmd *cli.Command) error {
	if rt, ok := ctx.Value(runtimeKey{}).(*runtime); ok && rt.closer != nil {
		return rt.closer.Close()
	}
	return nil
}

// runtimeFrom returns the runtime set up for this invocation, or the
// defaults when none was.
func runtimeFrom(ctx context.Context) *runtime {
	if rt, ok := ctx.Value(runtimeKey{}).(*runtime); ok {
		return rt
	}
	return &runtime{cfg: config.Default(), handler: slog.Default().Handler()}
}

func (rt *runtime) registry() (*script.Registry, error) {
	opts := rt.cfg.EngineOptions()
	opts.LogHandler = rt.handler
	return engines.NewRegistry(opts)
}

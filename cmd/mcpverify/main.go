package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "mcpverify",
		Version: Version,
		Usage:   "Run scripted validation suites against MCP servers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the mcpverify TOML configuration file",
				Sources: cli.EnvVars("MCPVERIFY_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (trace, debug, info, warn, error); overrides the config file",
				Sources: cli.EnvVars("MCPVERIFY_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format (text, json); overrides the config file",
			},
		},
		Before: setupRuntime,
		After:  closeRuntime,
		Commands: []*cli.Command{
			versionCmd,
			scriptCmd,
			suiteCmd,
			serveCmd,
		},
	}
}

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	climcp "github.com/atlanticdynamic/mcpverify/internal/client/mcp"
	"github.com/atlanticdynamic/mcpverify/internal/config/suite"
	"github.com/atlanticdynamic/mcpverify/internal/fancy"
	"github.com/atlanticdynamic/mcpverify/internal/harness"
	"github.com/atlanticdynamic/mcpverify/internal/validation/scriptval"
	"github.com/urfave/cli/v3"
)

var suiteFlag = &cli.StringFlag{
	Name:     "suite",
	Aliases:  []string{"s"},
	Usage:    "Path to the suite TOML file",
	Required: true,
}

var suiteCmd = &cli.Command{
	Name:  "suite",
	Usage: "Load and run test suites",
	Commands: []*cli.Command{
		suiteRunCmd,
		suiteCheckCmd,
	},
}

var suiteRunCmd = &cli.Command{
	Name:  "run",
	Usage: "Launch the suite's server and run every case against it",
	Flags: []cli.Flag{
		suiteFlag,
		&cli.BoolFlag{
			Name:  "strict",
			Usage: "Treat warnings as failures",
		},
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "Cases to run at once; overrides the config file",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Show script log lines in the report",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Print the results as JSON instead of a tree",
		},
	},
	Action: suiteRunAction,
}

var suiteCheckCmd = &cli.Command{
	Name:   "check",
	Usage:  "Validate a suite file and the syntax of its scripts",
	Flags:  []cli.Flag{suiteFlag},
	Action: suiteCheckAction,
}

// suiteRun is one loaded suite ready to execute.
type suiteRun struct {
	rt      *runtime
	suite   *suite.Suite
	scripts *scriptval.Adapter
	verbose bool
	asJSON  bool
}

// loadSuite loads the suite and builds its script validator. Every script
// is syntax checked before anything runs.
func loadSuite(rt *runtime, path string) (*suiteRun, error) {
	s, err := suite.Load(path)
	if err != nil {
		return nil, err
	}
	reg, err := rt.registry()
	if err != nil {
		return nil, err
	}
	scripts, err := s.ValidationScripts()
	if err != nil {
		return nil, err
	}
	adapter, err := scriptval.New(scripts, reg, rt.cfg.ValidatorConfig(), scriptval.WithLogHandler(rt.handler))
	if err != nil {
		return nil, err
	}
	if err := adapter.Check(); err != nil {
		return nil, fmt.Errorf("script syntax: %w", err)
	}
	return &suiteRun{rt: rt, suite: s, scripts: adapter}, nil
}

func suiteCheckAction(ctx context.Context, cmd *cli.Command) error {
	run, err := loadSuite(runtimeFrom(ctx), cmd.String("suite"))
	if err != nil {
		return cli.Exit(err, 1)
	}
	_, err = fmt.Fprintf(cmd.Root().Writer, "Suite %q is valid: %d scripts, %d cases\n",
		run.suite.Name, len(run.suite.Scripts), len(run.suite.Cases))
	return err
}

func suiteRunAction(ctx context.Context, cmd *cli.Command) error {
	rt := runtimeFrom(ctx)
	if cmd.Bool("strict") {
		rt.cfg.Runner.StrictMode = true
	}
	if n := cmd.Int("concurrency"); n > 0 {
		rt.cfg.Runner.Concurrency = n
	}

	run, err := loadSuite(rt, cmd.String("suite"))
	if err != nil {
		return cli.Exit(err, 1)
	}
	run.verbose = cmd.Bool("verbose")
	run.asJSON = cmd.Bool("json")

	name, args, env, dir := run.suite.Command()
	transport, err := climcp.NewCommandTransport(name, args, env, dir)
	if err != nil {
		return cli.Exit(err, 1)
	}
	client, err := climcp.Connect(ctx, transport,
		climcp.WithLogHandler(rt.handler),
		climcp.WithImplementation("mcpverify", Version),
	)
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer func() {
		if err := client.Close(); err != nil {
			slog.Debug("Closing server session", "error", err)
		}
	}()

	failed, err := run.execute(ctx, client, cmd.Root().Writer)
	if err != nil {
		return cli.Exit(err, 1)
	}
	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d cases failed", failed, len(run.suite.Cases)), 1)
	}
	return nil
}

// execute runs every case through caller, writes the report and returns
// how many cases failed.
func (r *suiteRun) execute(ctx context.Context, caller harness.Caller, w io.Writer) (int, error) {
	opts := append(r.rt.cfg.ExecutorOptions(), harness.WithLogHandler(r.rt.handler))
	exec, err := harness.NewExecutor(caller, r.scripts, opts...)
	if err != nil {
		return 0, err
	}
	results, err := exec.RunAll(ctx, r.suite.TestCases())
	if err != nil {
		return 0, err
	}
	_, failed := harness.Summary(results)

	if r.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return failed, enc.Encode(results)
	}
	title := r.suite.Name
	if title == "" {
		title = "suite"
	}
	_, err = fmt.Fprintln(w, fancy.CaseReport(title, results, r.verbose))
	return failed, err
}

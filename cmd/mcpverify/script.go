package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/atlanticdynamic/mcpverify/internal/fancy"
	"github.com/atlanticdynamic/mcpverify/internal/script"
	"github.com/urfave/cli/v3"
)

var errLanguage = errors.New("cannot tell the script language")

var scriptCmd = &cli.Command{
	Name:  "script",
	Usage: "Run or check a single validation script",
	Commands: []*cli.Command{
		scriptRunCmd,
		scriptCheckCmd,
	},
}

var scriptRunCmd = &cli.Command{
	Name:  "run",
	Usage: "Execute a script and print its result as JSON",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "language",
			Aliases: []string{"l"},
			Usage:   "Script language; inferred from the file extension when omitted",
		},
		&cli.StringFlag{
			Name:     "file",
			Aliases:  []string{"f"},
			Usage:    "Path to the script",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "request",
			Usage: "Request JSON, or @path to read it from a file",
		},
		&cli.StringFlag{
			Name:  "response",
			Usage: "Response JSON, or @path to read it from a file",
		},
		&cli.IntFlag{
			Name:  "timeout",
			Usage: "Timeout in milliseconds; overrides the config file",
		},
		&cli.StringFlag{
			Name:  "test-name",
			Usage: "Test name recorded in the script metadata",
			Value: "cli",
		},
	},
	Action: scriptRunAction,
}

func scriptRunAction(ctx context.Context, cmd *cli.Command) error {
	rt := runtimeFrom(ctx)
	path := cmd.String("file")
	lang, err := languageFor(path, cmd.String("language"))
	if err != nil {
		return cli.Exit(err, 1)
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return cli.Exit(err, 1)
	}
	request, err := parseJSONArg(cmd.String("request"))
	if err != nil {
		return cli.Exit(fmt.Errorf("--request: %w", err), 1)
	}
	response, err := parseJSONArg(cmd.String("response"))
	if err != nil {
		return cli.Exit(fmt.Errorf("--response: %w", err), 1)
	}

	cfg := rt.cfg.ScriptConfig()
	if timeout := cmd.Int("timeout"); timeout > 0 {
		cfg = cfg.WithTimeout(uint64(timeout))
	}
	if err := cfg.Validate(); err != nil {
		return cli.Exit(err, 1)
	}

	reg, err := rt.registry()
	if err != nil {
		return cli.Exit(err, 1)
	}
	engine, err := reg.New(lang, cfg)
	if err != nil {
		return cli.Exit(err, 1)
	}
	sctx, err := script.NewContext(request, response, script.Metadata{
		TestName: cmd.String("test-name"),
	}, cfg)
	if err != nil {
		return cli.Exit(err, 1)
	}

	res := engine.Execute(ctx, string(source), sctx)
	enc := json.NewEncoder(cmd.Root().Writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if !res.Success {
		return cli.Exit(fmt.Sprintf("%s: %v", path, res.Error), 1)
	}
	return nil
}

var scriptCheckCmd = &cli.Command{
	Name:      "check",
	Usage:     "Check the syntax of scripts without running them",
	ArgsUsage: "FILE...",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "language",
			Aliases: []string{"l"},
			Usage:   "Language of every file; inferred per file when omitted",
		},
	},
	Action: scriptCheckAction,
}

func scriptCheckAction(ctx context.Context, cmd *cli.Command) error {
	files := cmd.Args().Slice()
	if len(files) == 0 {
		return cli.Exit("at least one script file is required", 1)
	}
	rt := runtimeFrom(ctx)
	reg, err := rt.registry()
	if err != nil {
		return cli.Exit(err, 1)
	}
	cfg := rt.cfg.ScriptConfig()

	checks := make([]fancy.SyntaxCheck, 0, len(files))
	invalid := 0
	for _, path := range files {
		check := fancy.SyntaxCheck{Name: path}
		check.Err = func() error {
			lang, err := languageFor(path, cmd.String("language"))
			if err != nil {
				return err
			}
			check.Language = lang.String()
			source, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			engine, err := reg.New(lang, cfg)
			if err != nil {
				return err
			}
			return engine.ValidateSyntax(string(source))
		}()
		if check.Err != nil {
			invalid++
		}
		checks = append(checks, check)
	}

	if _, err := fmt.Fprintln(cmd.Root().Writer, fancy.SyntaxReport("syntax check", checks)); err != nil {
		return err
	}
	if invalid > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d scripts failed the syntax check", invalid, len(files)), 1)
	}
	return nil
}

// languageFor resolves the language from the flag or the file extension.
func languageFor(path, flag string) (script.Language, error) {
	if flag != "" {
		return script.ParseLanguage(flag)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".star", ".bzl", ".sky":
		return script.LanguageStarlark, nil
	case ".js", ".mjs", ".cjs":
		return script.LanguageJavaScript, nil
	case ".py":
		return script.LanguagePython, nil
	default:
		return "", fmt.Errorf("%w: %s (use --language)", errLanguage, path)
	}
}

// parseJSONArg decodes inline JSON or, with a leading @, a JSON file.
// Empty input is nil.
func parseJSONArg(arg string) (any, error) {
	if strings.TrimSpace(arg) == "" {
		return nil, nil
	}
	data := []byte(arg)
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, err
		}
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

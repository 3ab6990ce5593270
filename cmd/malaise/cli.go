package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/malaise/internal/errors"
	"github.com/hpungsan/malaise/internal/ops"
	"github.com/hpungsan/malaise/internal/web"
)

// appEnv carries what the commands need. It is nil for --help/--version.
type appEnv struct {
	deps     ops.Deps
	deviceID string
}

// device returns the --device flag value, or this machine's id.
func (e *appEnv) device(c *cli.Context) string {
	if d := strings.TrimSpace(c.String("device")); d != "" {
		return d
	}
	return e.deviceID
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(env *appEnv) *cli.App {
	app := &cli.App{
		Name:    "malaise",
		Usage:   "Local symptom and episode tracker",
		Version: Version,
		Commands: []*cli.Command{
			previewCmd(env),
			logCmd(env),
			episodesCmd(env),
			showCmd(env),
			progressionCmd(env),
			resolveCmd(env),
			deleteCmd(env),
			exportCmd(env),
			importCmd(env),
			serveCmd(env),
			deviceCmd(env),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func deviceFlag() cli.Flag {
	return &cli.StringFlag{Name: "device", Aliases: []string{"d"}, Usage: "Device id (default: this machine)"}
}

// previewCmd creates the preview command.
func previewCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "preview",
		Usage:     "Show which episode an entry would join, without saving",
		ArgsUsage: "[symptom...]",
		Flags: []cli.Flag{
			deviceFlag(),
			&cli.StringFlag{Name: "date", Usage: "Entry date YYYY-MM-DD (default: today)"},
			&cli.StringFlag{Name: "symptoms", Aliases: []string{"s"}, Usage: "Comma-separated symptoms"},
			&cli.IntFlag{Name: "threshold", Usage: "Day threshold (default: from config)"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Preview(c.Context, env.deps, ops.PreviewInput{
				DeviceID:     env.device(c),
				Date:         c.String("date"),
				Symptoms:     symptomsArg(c),
				DayThreshold: c.Int("threshold"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// logCmd creates the log command.
func logCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "log",
		Usage:     "Log a symptom entry (notes may be piped via stdin)",
		ArgsUsage: "[symptom...]",
		Flags: []cli.Flag{
			deviceFlag(),
			&cli.StringFlag{Name: "date", Usage: "Entry date YYYY-MM-DD (default: today)"},
			&cli.StringFlag{Name: "symptoms", Aliases: []string{"s"}, Usage: "Comma-separated symptoms"},
			&cli.StringFlag{Name: "notes", Aliases: []string{"n"}, Usage: "Free-form notes"},
			&cli.IntFlag{Name: "threshold", Usage: "Day threshold (default: from config)"},
		},
		Action: func(c *cli.Context) error {
			notes := c.String("notes")
			if notes == "" && stdinHasData() {
				text, err := readStdin()
				if err != nil {
					return outputError(errors.NewInternal(err))
				}
				notes = text
			}

			output, err := ops.Submit(c.Context, env.deps, ops.SubmitInput{
				DeviceID:     env.device(c),
				Date:         c.String("date"),
				Symptoms:     symptomsArg(c),
				Notes:        notes,
				DayThreshold: c.Int("threshold"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// episodesCmd creates the episodes command.
func episodesCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "episodes",
		Usage: "List episodes, newest first",
		Flags: []cli.Flag{
			deviceFlag(),
			&cli.BoolFlag{Name: "active", Aliases: []string{"a"}, Usage: "Only active episodes"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Maximum items to return"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.List(c.Context, env.deps, ops.ListInput{
				DeviceID:   env.device(c),
				ActiveOnly: c.Bool("active"),
				Limit:      c.Int("limit"),
				Offset:     c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// showCmd creates the show command.
func showCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show an episode with its entries",
		ArgsUsage: "<episode-id>",
		Action: func(c *cli.Context) error {
			output, err := ops.Get(c.Context, env.deps, c.Args().First())
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// progressionCmd creates the progression command.
func progressionCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "progression",
		Usage:     "Compare symptoms with an episode's latest entry",
		ArgsUsage: "<episode-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "symptoms", Aliases: []string{"s"}, Required: true, Usage: "Comma-separated symptoms"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Progression(c.Context, env.deps, ops.ProgressionInput{
				EpisodeID: c.Args().First(),
				Symptoms:  parseList(c.String("symptoms")),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// resolveCmd creates the resolve command.
func resolveCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "resolve",
		Usage:     "Mark an episode as resolved",
		ArgsUsage: "<episode-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "end-date", Aliases: []string{"e"}, Usage: "Resolution date YYYY-MM-DD (default: today)"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Resolve(c.Context, env.deps, ops.ResolveInput{
				EpisodeID: c.Args().First(),
				EndDate:   c.String("end-date"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// deleteCmd creates the delete command.
func deleteCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Permanently delete an episode and its entries",
		ArgsUsage: "<episode-id>",
		Action: func(c *cli.Context) error {
			output, err := ops.Delete(c.Context, env.deps, c.Args().First())
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export episodes and entries to a JSONL file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Export file path (default: ~/.malaise/exports/<device|all>-<timestamp>.jsonl)"},
			&cli.StringFlag{Name: "device", Aliases: []string{"d"}, Usage: "Only export this device (default: all devices)"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Export(c.Context, env.deps, ops.ExportInput{
				Path:     c.String("path"),
				DeviceID: c.String("device"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// importCmd creates the import command.
func importCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import episodes and entries from a JSONL file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Required: true, Usage: "Import file path"},
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: "error", Usage: "Collision mode: error|replace|skip"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Import(c.Context, env.deps, ops.ImportInput{
				Path: c.String("path"),
				Mode: ops.ImportMode(c.String("mode")),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the web UI",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Value: 8765, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			srv, err := web.NewServer(env.deps, env.deviceID, Version, c.String("bind"), c.Int("port"))
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			return web.Run(srv, env.deps.Logger)
		},
	}
}

// deviceCmd creates the device command.
func deviceCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "device",
		Usage: "Print this machine's device id",
		Action: func(c *cli.Context) error {
			return outputJSON(map[string]string{"device_id": env.deviceID})
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var mErr *errors.MalaiseError
	if stderrors.As(err, &mErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", mErr.Code, mErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin.
func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// symptomsArg collects symptoms from --symptoms and positional arguments.
func symptomsArg(c *cli.Context) []string {
	symptoms := parseList(c.String("symptoms"))
	for _, arg := range c.Args().Slice() {
		if s := strings.TrimSpace(arg); s != "" {
			symptoms = append(symptoms, s)
		}
	}
	return symptoms
}

// parseList splits a comma-separated string into trimmed, non-empty items.
func parseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		if item := strings.TrimSpace(p); item != "" {
			items = append(items, item)
		}
	}
	return items
}

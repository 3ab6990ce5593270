package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hpungsan/malaise/internal/analysis"
	"github.com/hpungsan/malaise/internal/config"
	"github.com/hpungsan/malaise/internal/db"
	"github.com/hpungsan/malaise/internal/episode"
	"github.com/hpungsan/malaise/internal/mcp"
	"github.com/hpungsan/malaise/internal/ops"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"preview": true, "log": true, "episodes": true, "show": true,
	"progression": true, "resolve": true, "delete": true,
	"export": true, "import": true, "serve": true, "device": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   __  __       _       _
  |  \/  | __ _| | __ _(_)___  ___
  | |\/| |/ _' | |/ _' | / __|/ _ \
  | |  | | (_| | | (_| | \__ \  __/
  |_|  |_|\__,_|_|\__,_|_|___/\___|

  Local symptom and episode tracker

  Usage: malaise <command> [options]
         malaise --help

  MCP server mode requires piped input.`)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fatalf("%v", err)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fatalf("could not determine home directory: %v", err)
	}
	baseDir := filepath.Join(homeDir, ".malaise")

	database, err := db.Init(baseDir)
	if err != nil {
		fatalf("failed to initialize database: %v", err)
	}
	defer database.Close()

	cfg, err := config.Load(baseDir)
	if err != nil {
		fatalf("failed to load config: %v", err)
	}
	db.ConfigurePool(database, cfg)

	logger, closeLog := config.SetupLogger(cfg.ResolveLogFile(baseDir), config.ParseLevel(cfg.LogLevel))
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	deviceID, err := config.DeviceID(baseDir)
	if err != nil {
		fatalf("%v", err)
	}

	env := &appEnv{
		deps: ops.Deps{
			Manager:  episode.NewManager(db.NewRecords(database), logger, cfg.DayThreshold),
			Analyzer: analysis.FromConfig(cfg, logger),
			Config:   cfg,
			BaseDir:  baseDir,
			Logger:   logger,
		},
		deviceID: deviceID,
	}

	if isCLIMode() {
		app := newCLIApp(env)
		if err := app.Run(os.Args); err != nil {
			// os.Exit skips defers; close explicitly.
			_ = closeLog()
			database.Close()
			fatalf("%v", err)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'malaise --help' for usage.\n")
		os.Exit(1)
	}

	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		logger.Warn("unknown tools in disabled_tools", "tools", unknown)
	}
	if unknown := mcp.ValidateDisabledTypes(cfg.DisabledTypes); len(unknown) > 0 {
		logger.Warn("unknown types in disabled_types", "types", unknown)
	}

	// MCP server mode (default)
	if err := mcp.Run(env.deps, deviceID, Version); err != nil {
		logger.Error("mcp server stopped", "error", err)
		os.Exit(1)
	}
}

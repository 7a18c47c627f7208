package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/stash/internal/config"
	"github.com/hpungsan/stash/internal/db"
	"github.com/hpungsan/stash/internal/mcp"
	"github.com/hpungsan/stash/internal/retry"
	"github.com/hpungsan/stash/internal/vault"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"intake": true, "transcribe": true, "fail": true,
	"list": true, "recent": true, "show": true, "stats": true,
	"export": true, "resume": true, "errors": true, "cursor": true, "purge": true,
	"backup": true, "serve": true, "help": true,
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
	// Global flags precede the subcommand
	if strings.HasPrefix(arg, "--log-level") {
		return true
	}
	return false // Default → MCP server
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
       _            _
   ___| |_ __ _ ___| |__
  / __| __/ _' / __| '_ \
  \__ \ || (_| \__ \ | | |
  |___/\__\__,_|___/_| |_|

  Capture staging ledger and vault exporter

  Usage: stash <command> [options]
         stash --help

  MCP server mode requires piped input.`)
}

// baseDir returns ~/.stash, or $STASH_HOME when set.
func baseDir() (string, error) {
	if dir := os.Getenv("STASH_HOME"); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".stash"), nil
}

// newWorker wires the export writer and worker from config. The logger is
// read at call time so it picks up the configured level.
func newWorker(database *sql.DB, cfg *config.Config, base string) (*vault.Worker, error) {
	root, err := cfg.ResolveVaultRoot(base)
	if err != nil {
		return nil, fmt.Errorf("resolve vault root: %w", err)
	}
	logger := slog.Default()
	writer := vault.NewWriter(database, root,
		vault.WithPolicy(retry.FromConfig(cfg, logger)),
		vault.WithLogger(logger),
	)
	return vault.NewWorker(database, writer, cfg.ExportBatchSize, logger), nil
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil, nil, "")
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	base, err := baseDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(base)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	database, err := db.Init(base)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()
	db.ConfigurePool(database, cfg)

	// CLI mode: known subcommand
	if isCLIMode() {
		app := newCLIApp(database, cfg, base)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			database.Close()
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'stash --help' for usage.\n")
		database.Close()
		os.Exit(1)
	}

	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		fmt.Fprintf(os.Stderr, "warning: unknown tools in disabled_tools: %v\n", unknown)
	}
	warning, err := configureLogger("", cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		database.Close()
		os.Exit(1)
	}
	if warning != "" {
		fmt.Fprintln(os.Stderr, warning)
	}

	worker, err := newWorker(database, cfg, base)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		database.Close()
		os.Exit(1)
	}

	// MCP server mode (default)
	if err := mcp.Run(database, cfg, worker, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		database.Close()
		os.Exit(1)
	}
}

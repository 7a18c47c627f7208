package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/stash/internal/capture"
	"github.com/hpungsan/stash/internal/config"
	"github.com/hpungsan/stash/internal/errors"
	"github.com/hpungsan/stash/internal/ops"
	"github.com/hpungsan/stash/internal/web"
)

// maxStdinBytes bounds content read from stdin by intake and transcribe.
const maxStdinBytes = 16 << 20

// newCLIApp creates the CLI application with all commands.
func newCLIApp(db *sql.DB, cfg *config.Config, base string) *cli.App {
	app := &cli.App{
		Name:    "stash",
		Usage:   "Capture staging ledger and vault exporter",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Usage: "Log level: debug|info|warn|error (env STASH_LOG_LEVEL)"},
		},
		Before: func(c *cli.Context) error {
			configLevel := ""
			if cfg != nil {
				configLevel = cfg.LogLevel
			}
			warning, err := configureLogger(c.String("log-level"), configLevel)
			if err != nil {
				return err
			}
			if warning != "" {
				fmt.Fprintln(os.Stderr, warning)
			}
			return nil
		},
		Commands: []*cli.Command{
			intakeCmd(db, cfg),
			transcribeCmd(db),
			failCmd(db),
			listCmd(db),
			recentCmd(db),
			showCmd(db),
			statsCmd(db),
			exportCmd(db, cfg, base),
			resumeCmd(db, cfg, base),
			errorsCmd(db),
			cursorCmd(db),
			purgeCmd(db),
			backupCmd(db, base),
			serveCmd(db, cfg, base),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// intakeCmd creates the intake command.
func intakeCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "intake",
		Usage: "Stage a new artifact (reads content from stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Required: true, Usage: "Artifact source: voice|email"},
			&cli.StringFlag{Name: "channel", Aliases: []string{"c"}, Usage: "Upstream channel (e.g. gmail)"},
			&cli.StringFlag{Name: "native-id", Usage: "Upstream item id, unique per channel"},
			&cli.StringSliceFlag{Name: "meta", Usage: "Extra metadata as key=value (repeatable)"},
			&cli.BoolFlag{Name: "final", Usage: "Content is final; hash it now (emails)"},
		},
		Action: func(c *cli.Context) error {
			if !stdinHasData() {
				return outputError(errors.NewInvalidRequest("content must be piped via stdin"))
			}
			content, err := readStdin(maxStdinBytes)
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}

			extra, err := parseMeta(c.StringSlice("meta"))
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}

			output, err := ops.Intake(c.Context, db, cfg, ops.IntakeInput{
				Source:  capture.Source(c.String("source")),
				Content: content,
				Meta: capture.Meta{
					Channel:         c.String("channel"),
					ChannelNativeID: c.String("native-id"),
					Extra:           extra,
				},
				Final: c.Bool("final"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// transcribeCmd creates the transcribe command.
func transcribeCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "transcribe",
		Usage:     "Record the final transcript of a staged capture (reads content from stdin)",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("capture id is required"))
			}
			if !stdinHasData() {
				return outputError(errors.NewInvalidRequest("transcript must be piped via stdin"))
			}
			content, err := readStdin(maxStdinBytes)
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}

			output, err := ops.Transcribe(c.Context, db, ops.TranscribeInput{
				ID:      c.Args().First(),
				Content: content,
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// failCmd creates the fail command.
func failCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "fail",
		Usage:     "Mark a staged capture as failed transcription",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "reason", Aliases: []string{"r"}, Required: true, Usage: "Why transcription failed"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("capture id is required"))
			}

			output, err := ops.FailTranscription(c.Context, db, ops.FailTranscriptionInput{
				ID:     c.Args().First(),
				Reason: c.String("reason"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// listCmd creates the list command.
func listCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List captures in one status, oldest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Value: string(capture.StatusTranscribed), Usage: "Capture status"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Maximum items to return"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.List(c.Context, db, ops.ListInput{
				Status: capture.Status(c.String("status")),
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// recentCmd creates the recent command.
func recentCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "recent",
		Usage: "List captures created in a time window, oldest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "since", Usage: "Window start: RFC3339 time or age like 24h, 7d"},
			&cli.StringFlag{Name: "until", Usage: "Window end (exclusive): RFC3339 time or age"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Maximum items to return"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
		},
		Action: func(c *cli.Context) error {
			now := time.Now()
			since, err := parseTimeArg(c.String("since"), now)
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}
			until, err := parseTimeArg(c.String("until"), now)
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}

			output, err := ops.Recent(c.Context, db, ops.RecentInput{
				Since:  since,
				Until:  until,
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// showCmd creates the show command.
func showCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show a capture with its export and error history",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("capture id is required"))
			}

			output, err := ops.Show(c.Context, db, c.Args().First())
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// statsCmd creates the stats command.
func statsCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Count captures per status",
		Action: func(c *cli.Context) error {
			output, err := ops.Stats(c.Context, db)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(db *sql.DB, cfg *config.Config, base string) *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Publish transcribed captures to the vault",
		ArgsUsage: "[id]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "loop", Usage: "Keep exporting until interrupted"},
			&cli.DurationFlag{Name: "interval", Value: 30 * time.Second, Usage: "Pass interval with --loop"},
		},
		Action: func(c *cli.Context) error {
			worker, err := newWorker(db, cfg, base)
			if err != nil {
				return outputError(errors.NewInternal(err))
			}

			if c.NArg() > 0 {
				result, err := worker.ExportOne(c.Context, c.Args().First())
				if err != nil {
					return outputError(err)
				}
				return outputJSON(result)
			}

			if c.Bool("loop") {
				if c.Duration("interval") <= 0 {
					return outputError(errors.NewInvalidRequest("interval must be positive"))
				}
				ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
				defer stop()
				return worker.Run(ctx, c.Duration("interval"))
			}

			summary, err := worker.RunOnce(c.Context)
			if err != nil {
				_ = outputJSON(summary)
				return outputError(err)
			}
			return outputJSON(summary)
		},
	}
}

// errorsCmd creates the errors command.
func errorsCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "errors",
		Usage: "List pipeline error records, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "capture", Usage: "Only errors for this capture id"},
			&cli.StringFlag{Name: "stage", Usage: "Stage: poll|transcribe|export|backup|integrity"},
			&cli.StringFlag{Name: "since", Usage: "RFC3339 time or age like 24h, 7d"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 50, Usage: "Maximum records to return"},
		},
		Action: func(c *cli.Context) error {
			since, err := parseTimeArg(c.String("since"), time.Now())
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}

			output, err := ops.Errors(c.Context, db, ops.ErrorsInput{
				CaptureID: c.String("capture"),
				Stage:     capture.Stage(c.String("stage")),
				Since:     since,
				Limit:     c.Int("limit"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// cursorCmd creates the cursor command with get and set subcommands.
func cursorCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "cursor",
		Usage: "Read or write poller checkpoints",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Print a checkpoint",
				ArgsUsage: "<key>",
				Action: func(c *cli.Context) error {
					output, err := ops.GetCursor(c.Context, db, c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "set",
				Usage:     "Overwrite a checkpoint",
				ArgsUsage: "<key> <value>",
				Action: func(c *cli.Context) error {
					if c.NArg() < 2 {
						return outputError(errors.NewInvalidRequest("key and value are required"))
					}
					output, err := ops.PutCursor(c.Context, db, c.Args().Get(0), c.Args().Get(1))
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// resumeCmd creates the resume command.
func resumeCmd(db *sql.DB, cfg *config.Config, base string) *cli.Command {
	return &cli.Command{
		Name:  "resume",
		Usage: "Clear a halted export writer",
		Action: func(c *cli.Context) error {
			worker, err := newWorker(db, cfg, base)
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			w := worker.Writer()
			halted, reason := w.Halted()
			if err := w.Resume(c.Context); err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{
				"was_halted": halted,
				"reason":     reason,
			})
		},
	}
}

// purgeCmd creates the purge command.
func purgeCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "purge",
		Usage: "Permanently delete finished captures (failed or exported)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "older-than", Usage: "Only purge if last updated more than N days ago (e.g., 7d)"},
		},
		Action: func(c *cli.Context) error {
			input := ops.PurgeInput{}

			if olderThan := c.String("older-than"); olderThan != "" {
				days, err := parseDuration(olderThan)
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				input.OlderThanDays = &days
			}

			output, err := ops.Purge(c.Context, db, input)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// Helper functions

// backupCmd creates the backup command.
func backupCmd(db *sql.DB, base string) *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "Write every capture and its export trail to a JSONL file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Usage: "Backup file, directly in <base>/backups (default: timestamped name)"},
		},
		Action: func(c *cli.Context) error {
			result, err := ops.Backup(c.Context, db, base, ops.BackupInput{Path: c.String("path")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(result)
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(db *sql.DB, cfg *config.Config, base string) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the operator dashboard",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to listen on"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 7475, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			port := c.Int("port")
			if port < 1 || port > 65535 {
				return outputError(errors.NewInvalidRequest("port must be between 1 and 65535"))
			}
			worker, err := newWorker(db, cfg, base)
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			srv, err := web.NewServer(db, cfg, worker, Version, c.String("bind"), port)
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return web.Run(ctx, srv)
		},
	}
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if stashErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", stashErr.Code, stashErr.Message), 1)
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

// readStdin reads at most limit bytes from stdin.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("stdin exceeds %d bytes", limit)
	}
	return strings.TrimSpace(string(data)), nil
}

// parseMeta turns key=value pairs into a map.
func parseMeta(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid meta %q: want key=value", p)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

// parseDuration parses "7d" format to days.
func parseDuration(s string) (int, error) {
	if numStr, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		if days < 0 {
			return 0, fmt.Errorf("duration must be non-negative")
		}
		return days, nil
	}
	return 0, fmt.Errorf("duration must end with 'd' (days), e.g., 7d")
}

// parseTimeArg converts an RFC3339 time or an age ("90m", "24h", "7d")
// relative to now into Unix milliseconds. Empty means unbounded (0).
func parseTimeArg(s string, now time.Time) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UnixMilli(), nil
	}
	if strings.HasSuffix(s, "d") {
		days, err := parseDuration(s)
		if err != nil {
			return 0, err
		}
		return now.AddDate(0, 0, -days).UnixMilli(), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: want RFC3339 or an age like 24h, 7d", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("age must be non-negative")
	}
	return now.Add(-d).UnixMilli(), nil
}

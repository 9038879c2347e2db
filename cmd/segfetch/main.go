package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sheerbytes/segfetch/internal/cli/menu"
	"github.com/sheerbytes/segfetch/internal/client"
	"github.com/sheerbytes/segfetch/internal/config"
	"github.com/sheerbytes/segfetch/internal/inbox"
	"github.com/sheerbytes/segfetch/internal/logging"
	"github.com/sheerbytes/segfetch/internal/progress"
	"github.com/sheerbytes/segfetch/internal/termio"
	"github.com/sheerbytes/segfetch/internal/transport"
)

const version = "v0.1.0"

func main() {
	termio.Init()
	code := run(os.Args[1:])
	termio.Flush()
	os.Exit(code)
}

func run(args []string) int {
	if hasVersionFlag(args) {
		fmt.Fprintln(termio.Stdout(), version)
		return 0
	}
	cfg, err := config.ParseClientConfig(args)
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "segfetch: %v\n", err)
		return 2
	}
	logger := logging.NewWithWriter(termio.Stderr(), "segfetch", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(cfg.Server, client.Options{
		Segments:      cfg.Segments,
		PayloadSize:   cfg.PayloadSize,
		RetryLimit:    cfg.RetryLimit,
		Timeout:       cfg.Timeout,
		QueryAttempts: cfg.QueryAttempts,
		OutDir:        cfg.OutDir,
		ReadBuffer:    cfg.UDPReadBufferBytes,
		WriteBuffer:   cfg.UDPWriteBufferBytes,
		Progress:      progressReporter(ctx, cfg.Progress),
	}, logger)

	command, rest := "menu", cfg.Args
	if len(rest) > 0 {
		command, rest = rest[0], rest[1:]
	}
	out := termio.Stdout()
	switch command {
	case "menu":
		err = menu.Run(ctx, os.Stdin, out, c, inbox.NewQueue(cfg.Input, logger), logger)
	case "get":
		if len(rest) == 0 {
			printUsage(termio.Stderr())
			return 2
		}
		err = runGet(ctx, out, c, rest)
	case "list":
		err = runList(ctx, out, c)
	case "watch":
		err = runWatch(ctx, out, c, inbox.NewQueue(cfg.Input, logger), logger)
	case "help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(termio.Stderr(), "segfetch: unknown command %q\n", command)
		printUsage(termio.Stderr())
		return 2
	}

	switch {
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(termio.Stderr(), "interrupted; part files kept in", cfg.OutDir)
		return 130
	case err != nil:
		logger.Error("command failed", "command", command, "error", err)
		return 1
	}
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `usage: segfetch [flags] [command]

commands:
  menu            interactive menu (default)
  get <name>...   download the named files
  list            list files on the server
  watch           download names as they are appended to the input file

run "segfetch -h" for flags
`)
}

func progressReporter(ctx context.Context, mode string) client.ProgressFunc {
	if mode == config.ProgressOff {
		return nil
	}
	return func(t *progress.Tracker) func() {
		termio.Flush()
		return progress.Render(ctx, termio.StdoutFile(), mode, t.Snapshot)
	}
}

func runGet(ctx context.Context, out io.Writer, c *client.Client, names []string) error {
	failed := 0
	for _, name := range names {
		report, err := c.Fetch(ctx, name)
		if errors.Is(err, context.Canceled) {
			return err
		}
		printReport(out, name, report, err)
		if err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(names))
	}
	return nil
}

func runList(ctx context.Context, out io.Writer, c *client.Client) error {
	entries, err := c.List(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s\t%s\n", e.Name, transport.FormatBytes(e.Size))
	}
	return nil
}

func runWatch(ctx context.Context, out io.Writer, c *client.Client, queue *inbox.Queue, logger *slog.Logger) error {
	fmt.Fprintf(out, "watching %s, press Ctrl+C to stop\n", queue.Path())
	err := queue.Watch(ctx, func(ctx context.Context, name string) {
		report, err := c.Fetch(ctx, name)
		if errors.Is(err, context.Canceled) {
			return
		}
		if err != nil {
			logger.Error("download failed", "file", name, "error", err)
		}
		printReport(out, name, report, err)
	})
	if err != nil {
		return err
	}
	return ctx.Err()
}

func printReport(out io.Writer, name string, report client.Report, err error) {
	if err != nil {
		fmt.Fprintf(out, "%s: failed: %v\n", name, err)
		return
	}
	rate := 0.0
	if secs := report.Elapsed.Seconds(); secs > 0 {
		rate = float64(report.Size) / secs
	}
	fmt.Fprintf(out, "%s: saved %s (%s in %s, %s)\n", name, report.Path,
		transport.FormatBytes(report.Size), report.Elapsed.Round(time.Millisecond), transport.FormatRate(rate))
}

func hasVersionFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--version" || arg == "-v" {
			return true
		}
	}
	return false
}

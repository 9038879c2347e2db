package menu

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/sheerbytes/segfetch/internal/client"
	"github.com/sheerbytes/segfetch/internal/transport"
	"github.com/sheerbytes/segfetch/pkg/protocol"
)

// Remote is the server-facing side of the menu.
type Remote interface {
	List(ctx context.Context) ([]protocol.ListEntry, error)
	Fetch(ctx context.Context, name string) (client.Report, error)
}

// Queue supplies names queued for download since the last call.
type Queue interface {
	Pending() ([]string, error)
}

const prompt = `
1) List remote files
2) Download newly queued files
3) Exit
> `

// Run shows the menu on out and executes choices read from in until the
// user exits, in reaches EOF, or ctx is cancelled.
func Run(ctx context.Context, in io.Reader, out io.Writer, remote Remote, queue Queue, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	done := make(chan struct{})
	defer close(done)
	lines := readLines(in, done)
	for {
		fmt.Fprint(out, prompt)
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "1":
			listRemote(ctx, out, remote)
		case "2":
			if err := downloadQueued(ctx, out, remote, queue, logger); err != nil {
				return err
			}
		case "3":
			fmt.Fprintln(out, "bye")
			return nil
		case "":
		default:
			fmt.Fprintf(out, "invalid choice %q, enter 1, 2 or 3\n", line)
		}
	}
}

// readLines delivers lines from in until EOF or until done is closed. A
// reader blocked inside in.Read only notices done once that read returns.
func readLines(in io.Reader, done <-chan struct{}) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case ch <- sc.Text():
			case <-done:
				return
			}
		}
	}()
	return ch
}

func listRemote(ctx context.Context, out io.Writer, remote Remote) {
	entries, err := remote.List(ctx)
	if err != nil {
		fmt.Fprintf(out, "list failed: %v\n", err)
		return
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "no files on server")
		return
	}
	width := 0
	for _, e := range entries {
		width = max(width, len(e.Name))
	}
	for _, e := range entries {
		size := "?"
		if e.Size >= 0 {
			size = transport.FormatBytes(e.Size)
		}
		fmt.Fprintf(out, "  %-*s  %s\n", width, e.Name, size)
	}
}

// downloadQueued keeps fetching queued names until a pass finds none, so
// names appended during a download are fetched in the same run. Only
// cancellation ends it early.
func downloadQueued(ctx context.Context, out io.Writer, remote Remote, queue Queue, logger *slog.Logger) error {
	var ok, failed int
	for {
		names, err := queue.Pending()
		if err != nil {
			fmt.Fprintf(out, "read queue failed: %v\n", err)
			break
		}
		if len(names) == 0 {
			break
		}
		for _, name := range names {
			if err := ctx.Err(); err != nil {
				return err
			}
			fmt.Fprintf(out, "downloading %s\n", name)
			report, err := remote.Fetch(ctx, name)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				failed++
				logger.Error("download failed", "file", name, "error", err)
				fmt.Fprintf(out, "  %s: failed: %v\n", name, err)
				continue
			}
			ok++
			fmt.Fprintf(out, "  %s: saved %s (%s in %s)\n", name, report.Path,
				transport.FormatBytes(report.Size), report.Elapsed.Round(time.Millisecond))
		}
	}
	if ok == 0 && failed == 0 {
		fmt.Fprintln(out, "no new files queued")
		return nil
	}
	fmt.Fprintf(out, "done: %d downloaded, %d failed\n", ok, failed)
	return nil
}

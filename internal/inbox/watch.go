package inbox

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch calls handle for every name already pending and for every name
// appended afterwards, until ctx is cancelled. handle runs on the watching
// goroutine, so appends that happen while it works are picked up when it
// returns. A name is consumed only once handle has been called for it, so
// names left unhandled at cancellation remain pending. The input file may
// not exist yet; its directory must.
func (q *Queue) Watch(ctx context.Context, handle func(ctx context.Context, name string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	target, err := filepath.Abs(q.path)
	if err != nil {
		return fmt.Errorf("resolve input: %w", err)
	}
	// Watching the directory survives editors that replace the file.
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	q.logger.Info("watching input file")

	drain := func() error {
		entries, tail, err := q.peek()
		if err != nil {
			return err
		}
		for _, e := range entries {
			if ctx.Err() != nil {
				return nil
			}
			handle(ctx, e.name)
			q.commit(e.end)
		}
		if ctx.Err() == nil {
			q.commit(tail)
		}
		return nil
	}
	if err := drain(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := drain(); err != nil {
				q.logger.Warn("read input failed", "error", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			q.logger.Warn("watcher error", "error", err)
		}
	}
}

package menu

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheerbytes/segfetch/internal/client"
	"github.com/sheerbytes/segfetch/internal/logging"
	"github.com/sheerbytes/segfetch/pkg/protocol"
)

type fakeRemote struct {
	entries []protocol.ListEntry
	listErr error
	fail    map[string]bool
	fetched []string
	// onFetch runs inside Fetch, e.g. to queue more names.
	onFetch func(name string)
}

func (r *fakeRemote) List(context.Context) ([]protocol.ListEntry, error) {
	return r.entries, r.listErr
}

func (r *fakeRemote) Fetch(_ context.Context, name string) (client.Report, error) {
	r.fetched = append(r.fetched, name)
	if r.onFetch != nil {
		r.onFetch(name)
	}
	if r.fail[name] {
		return client.Report{Name: name}, errors.New("server unreachable")
	}
	return client.Report{Name: name, Path: name + "_download", Size: 2048, Elapsed: 5 * time.Millisecond}, nil
}

type fakeQueue struct {
	batches [][]string
}

func (q *fakeQueue) Pending() ([]string, error) {
	if len(q.batches) == 0 {
		return nil, nil
	}
	next := q.batches[0]
	q.batches = q.batches[1:]
	return next, nil
}

func run(t *testing.T, input string, remote Remote, queue Queue) string {
	t.Helper()
	var out bytes.Buffer
	err := Run(context.Background(), strings.NewReader(input), &out, remote, queue, logging.Discard())
	require.NoError(t, err)
	return out.String()
}

func TestMenuList(t *testing.T) {
	remote := &fakeRemote{entries: []protocol.ListEntry{{Name: "a.txt", Size: 800}, {Name: "longer.bin", Size: 1536}}}
	out := run(t, "1\n3\n", remote, &fakeQueue{})

	assert.Contains(t, out, "  a.txt       800B\n")
	assert.Contains(t, out, "  longer.bin  1.50KiB\n")
	assert.Contains(t, out, "bye")
}

func TestMenuListError(t *testing.T) {
	out := run(t, "1\n3\n", &fakeRemote{listErr: errors.New("no reply")}, &fakeQueue{})
	assert.Contains(t, out, "list failed: no reply")
}

func TestMenuDownloadDrainsQueue(t *testing.T) {
	queue := &fakeQueue{batches: [][]string{{"one.txt", "two.txt"}}}
	remote := &fakeRemote{fail: map[string]bool{"two.txt": true}}
	remote.onFetch = func(name string) {
		if name == "one.txt" {
			queue.batches = append(queue.batches, []string{"three.txt"})
		}
	}

	out := run(t, "2\n3\n", remote, queue)
	assert.Equal(t, []string{"one.txt", "two.txt", "three.txt"}, remote.fetched)
	assert.Contains(t, out, "one.txt: saved one.txt_download (2.00KiB in 5ms)")
	assert.Contains(t, out, "two.txt: failed: server unreachable")
	assert.Contains(t, out, "done: 2 downloaded, 1 failed")
}

func TestMenuDownloadNothingQueued(t *testing.T) {
	out := run(t, "2\n3\n", &fakeRemote{}, &fakeQueue{})
	assert.Contains(t, out, "no new files queued")
}

func TestMenuInvalidChoiceReprompts(t *testing.T) {
	out := run(t, "9\nabc\n3\n", &fakeRemote{}, &fakeQueue{})
	assert.Contains(t, out, `invalid choice "9"`)
	assert.Contains(t, out, `invalid choice "abc"`)
	assert.Equal(t, 3, strings.Count(out, "3) Exit"))
}

func TestMenuEOFExits(t *testing.T) {
	out := run(t, "", &fakeRemote{}, &fakeQueue{})
	assert.Contains(t, out, "1) List remote files")
}

func TestMenuCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	blocked, w := io.Pipe()
	defer w.Close()
	err := Run(ctx, blocked, &out, &fakeRemote{}, &fakeQueue{}, logging.Discard())
	assert.ErrorIs(t, err, context.Canceled)
}

// endlessInput yields "1\n" forever.
type endlessInput struct{}

func (endlessInput) Read(p []byte) (int, error) {
	n := 0
	for n+1 < len(p) {
		p[n], p[n+1] = '1', '\n'
		n += 2
	}
	return n, nil
}

func TestReadLinesStopsWhenDone(t *testing.T) {
	done := make(chan struct{})
	lines := readLines(endlessInput{}, done)
	assert.Equal(t, "1", <-lines)
	close(done)

	closed := make(chan struct{})
	go func() {
		for range lines {
		}
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("reader goroutine still running after done")
	}
}

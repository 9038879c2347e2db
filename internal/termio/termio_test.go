package termio

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriterFlush(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	w := newWriter(f)
	for i := 0; i < 100; i++ {
		if _, err := w.Write([]byte("line\n")); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	w.pending.Wait()

	info, err := f.Stat()
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != 500 {
		t.Fatalf("size = %d, want 500", info.Size())
	}
}

package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// count is safe to call from the Eventually polling goroutine.
func count(svc *Service, query string) int {
	n := 0
	for _, err := range svc.Search(context.Background(), query, false) {
		if err != nil {
			return -1
		}
		n++
	}
	return n
}

func TestFileWatcher_ReingestsChangedFiles(t *testing.T) {
	f, ts, dir := newIngester(t, FileOptions{})
	ctx := context.Background()

	w, err := NewFileWatcher(f, 20*time.Millisecond, time.Second, zerolog.Nop())
	require.NoError(t, err)
	defer w.Stop()

	writeFile(t, dir, "todo.md", "ship the watcher")
	assert.Eventually(t, func() bool {
		return count(ts.svc, "watcher") == 1
	}, 2*time.Second, 20*time.Millisecond)

	t.Run("new subdirectories are watched", func(t *testing.T) {
		require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))
		// Give the watcher a moment to add the directory.
		time.Sleep(100 * time.Millisecond)
		writeFile(t, dir, "sub/later.md", "nested directory note")
		assert.Eventually(t, func() bool {
			return count(ts.svc, "nested") == 1
		}, 2*time.Second, 20*time.Millisecond)
	})

	t.Run("ignored extensions", func(t *testing.T) {
		writeFile(t, dir, "data.bin", "binary watcher payload")
		time.Sleep(150 * time.Millisecond)
		assert.Empty(t, collect(t, ts.svc.Search(ctx, "binary", false)))
	})
}

func TestFileWatcher_StopIsIdempotent(t *testing.T) {
	f, _, dir := newIngester(t, FileOptions{})
	w, err := NewFileWatcher(f, time.Hour, time.Second, zerolog.Nop())
	require.NoError(t, err)

	// A pending debounced ingestion is canceled by Stop.
	writeFile(t, dir, "pending.md", "never ingested")
	time.Sleep(50 * time.Millisecond)

	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}

package memory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/memcore/pkg/memetic"
)

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestValidatePath(t *testing.T) {
	t.Run("valid relative path", func(t *testing.T) {
		assert.NoError(t, ValidatePath("notes/test.md"))
	})

	t.Run("dotted file name is fine", func(t *testing.T) {
		assert.NoError(t, ValidatePath("..notes.md"))
	})

	t.Run("invalid paths", func(t *testing.T) {
		for _, p := range []string{"", "/etc/passwd", "../secret.md", "notes/../../x.md", "notes//x.md", ".."} {
			assert.Error(t, ValidatePath(p), p)
		}
	})
}

func TestResolvePath(t *testing.T) {
	base := t.TempDir()

	full, err := ResolvePath(base, "notes/a.md")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "notes", "a.md"), full)

	_, err = ResolvePath(base, "../a.md")
	assert.Error(t, err)
}

func TestChunkContent(t *testing.T) {
	t.Run("short content is one chunk", func(t *testing.T) {
		chunks := chunkContent("hello\nworld\n", 100, 10)
		require.Len(t, chunks, 1)
		assert.Equal(t, "hello\nworld", chunks[0].content)
	})

	t.Run("long content splits with overlap", func(t *testing.T) {
		var b strings.Builder
		for i := range 40 {
			b.WriteString(strings.Repeat(string(rune('a'+i%26)), 20))
			b.WriteString("\n")
		}
		chunks := chunkContent(b.String(), 200, 21)
		require.Greater(t, len(chunks), 1)
		for i, c := range chunks {
			assert.LessOrEqual(t, len(c.content), 200+21, "chunk %d", i)
			assert.Less(t, c.startOffset, c.endOffset)
		}
		// Each chunk starts with the line that ended the previous one.
		prev := strings.Split(chunks[0].content, "\n")
		assert.True(t, strings.HasPrefix(chunks[1].content, prev[len(prev)-1]))
	})

	t.Run("blank content has no chunks", func(t *testing.T) {
		assert.Empty(t, chunkContent("\n\n  \n", 100, 10))
	})
}

func newIngester(t *testing.T, opts FileOptions) (*FileIngester, *testService, string) {
	t.Helper()
	ts := newTestService(t, Config{})
	dir := t.TempDir()
	f, err := NewFileIngester(ts.svc, dir, opts)
	require.NoError(t, err)
	return f, ts, dir
}

func TestNewFileIngester_RequiresDirectory(t *testing.T) {
	ts := newTestService(t, Config{})
	dir := t.TempDir()
	writeFile(t, dir, "file.md", "x")

	_, err := NewFileIngester(ts.svc, filepath.Join(dir, "file.md"), FileOptions{})
	assert.Error(t, err)
	_, err = NewFileIngester(ts.svc, filepath.Join(dir, "missing"), FileOptions{})
	assert.Error(t, err)
}

func TestIngestFile(t *testing.T) {
	f, ts, dir := newIngester(t, FileOptions{})
	ctx := context.Background()

	writeFile(t, dir, "notes/cache.md", "# Cache\nLayers demote on eviction.\n")
	ids, err := f.IngestFile(ctx, "notes/cache.md")
	require.NoError(t, err)
	require.Len(t, ids, 1)

	u, err := ts.svc.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, memetic.SourceFileIngestion, u.Source)
	assert.Equal(t, memetic.CognitiveSemantic, u.CognitiveType)

	t.Run("unchanged file keeps its units", func(t *testing.T) {
		again, err := f.IngestFile(ctx, "notes/cache.md")
		require.NoError(t, err)
		assert.Equal(t, ids, again)

		u, err := ts.svc.Get(ctx, again[0])
		require.NoError(t, err)
		assert.Empty(t, u.ParentID, "no self-derivation")
	})

	t.Run("changed file derives from the previous version", func(t *testing.T) {
		writeFile(t, dir, "notes/cache.md", "# Cache\nLayers demote on eviction and promote on hit.\n")
		next, err := f.IngestFile(ctx, "notes/cache.md")
		require.NoError(t, err)
		require.Len(t, next, 1)
		assert.NotEqual(t, ids[0], next[0])

		u, err := ts.svc.Get(ctx, next[0])
		require.NoError(t, err)
		assert.Equal(t, ids[0], u.ParentID)
	})

	t.Run("rejects escapes and oversized files", func(t *testing.T) {
		_, err := f.IngestFile(ctx, "../outside.md")
		assert.Error(t, err)

		small, _, sdir := newIngester(t, FileOptions{MaxBytes: 4})
		writeFile(t, sdir, "big.md", "too large")
		_, err = small.IngestFile(ctx, "big.md")
		assert.Error(t, err)
	})
}

func TestIngestFile_ChunksAreChained(t *testing.T) {
	f, ts, dir := newIngester(t, FileOptions{ChunkSize: 40, Overlap: 1})
	ctx := context.Background()

	writeFile(t, dir, "long.md", "first paragraph line one\nsecond paragraph line two\nthird paragraph line three\n")
	ids, err := f.IngestFile(ctx, "long.md")
	require.NoError(t, err)
	require.Len(t, ids, 3)

	u, err := ts.svc.Get(ctx, ids[1])
	require.NoError(t, err)
	assert.Contains(t, u.Neighbors(), ids[0])
}

func TestIngestDir(t *testing.T) {
	f, ts, dir := newIngester(t, FileOptions{})
	ctx := context.Background()

	writeFile(t, dir, "a.md", "alpha notes")
	writeFile(t, dir, "sub/b.txt", "beta notes")
	writeFile(t, dir, "image.png", "not text")
	writeFile(t, dir, ".git/config.md", "hidden")

	report, err := f.IngestDir(ctx)
	require.NoError(t, err)
	assert.Equal(t, FileReport{Files: 2, Units: 2, Skipped: 1}, report)

	got := collect(t, ts.svc.Search(ctx, "notes", false))
	assert.Len(t, got, 2)
}

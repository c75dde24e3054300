package graphstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/harun/memcore/pkg/adapter"
	"github.com/harun/memcore/pkg/memetic"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ adapter.Adapter       = (*Store)(nil)
	_ adapter.LinkTraverser = (*Store)(nil)
	_ adapter.StatusCounter = (*Store)(nil)
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{Path: filepath.Join(t.TempDir(), "graph", "links.db"), Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func node(id string, targets ...string) *memetic.Unit {
	u := &memetic.Unit{ID: id, ContentHash: "h-" + id, Status: memetic.StatusActive, CognitiveType: memetic.CognitiveEpisodic}
	for _, t := range targets {
		u.AddLink(memetic.Link{Target: t, Type: memetic.LinkRelatedTo})
	}
	return u
}

func TestStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	require.NoError(t, s.Put(ctx, node("a", "b", "ghost")))
	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"b", "ghost"}, got.Neighbors())

	backlinks, err := s.Backlinks(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, backlinks, "dangling targets are kept")

	require.NoError(t, s.Delete(ctx, "a"))
	backlinks, err = s.Backlinks(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, backlinks, "edges go with their source node")

	got, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_NeighborsHandlesCycles(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	require.NoError(t, s.Put(ctx, node("a", "b")))
	require.NoError(t, s.Put(ctx, node("b", "c")))
	require.NoError(t, s.Put(ctx, node("c", "a", "d")))
	require.NoError(t, s.Put(ctx, node("d")))

	one, err := s.Neighbors(ctx, "a", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, one)

	all, err := s.Neighbors(ctx, "a", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, all)
}

func TestStore_RelinkReplacesEdges(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	require.NoError(t, s.Put(ctx, node("a", "b")))
	require.NoError(t, s.Put(ctx, node("a", "c")))

	ids, err := s.Neighbors(ctx, "a", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids)
}

func TestStore_Search(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	archived := node("b")
	archived.Status = memetic.StatusArchived
	require.NoError(t, s.Put(ctx, node("a")))
	require.NoError(t, s.Put(ctx, archived))

	units, err := adapter.Collect(s.Search(ctx, adapter.Query{Statuses: []memetic.Status{memetic.StatusArchived}}))
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "b", units[0].ID)

	_, err = adapter.Collect(s.Search(ctx, adapter.Query{Vector: []float32{1}}))
	assert.ErrorIs(t, err, adapter.ErrNotSupported)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[memetic.StatusActive])
}

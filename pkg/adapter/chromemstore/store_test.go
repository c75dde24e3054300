package chromemstore

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

var _ adapter.Adapter = (*Store)(nil)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{Logger: zerolog.Nop()})
	require.NoError(t, err)
	return s
}

func vecUnit(id string, status memetic.Status, vec ...float32) *memetic.Unit {
	return &memetic.Unit{
		ID:             id,
		ContentHash:    "hash-" + id,
		Status:         status,
		CognitiveType:  memetic.CognitiveSemantic,
		SemanticVector: vec,
	}
}

func TestStore_RejectsUnitsWithoutVectors(t *testing.T) {
	s := createTestStore(t)
	err := s.Put(context.Background(), &memetic.Unit{ID: "u1"})
	assert.ErrorIs(t, err, adapter.ErrRejected)
	assert.Equal(t, 0, s.Count())
}

func TestStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	got, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.Put(ctx, vecUnit("u1", memetic.StatusActive, 1, 0, 0)))
	got, err = s.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hash-u1", got.ContentHash)
	assert.Equal(t, []float32{1, 0, 0}, got.SemanticVector)

	// overwrite keeps a single document
	require.NoError(t, s.Put(ctx, vecUnit("u1", memetic.StatusArchived, 1, 0, 0)))
	assert.Equal(t, 1, s.Count())

	require.NoError(t, s.Delete(ctx, "u1"))
	require.NoError(t, s.Delete(ctx, "u1"))
	assert.Equal(t, 0, s.Count())
}

func TestStore_Search(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	require.NoError(t, s.Put(ctx, vecUnit("a", memetic.StatusActive, 1, 0, 0)))
	require.NoError(t, s.Put(ctx, vecUnit("b", memetic.StatusActive, 0, 1, 0)))
	require.NoError(t, s.Put(ctx, vecUnit("c", memetic.StatusArchived, 0.9, 0.1, 0)))

	units, err := adapter.Collect(s.Search(ctx, adapter.Query{Vector: []float32{1, 0, 0}, Limit: 2}))
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "a", units[0].ID)
	assert.Equal(t, "c", units[1].ID)

	units, err = adapter.Collect(s.Search(ctx, adapter.Query{
		Vector:   []float32{1, 0, 0},
		Statuses: []memetic.Status{memetic.StatusActive},
		Limit:    2,
	}))
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "a", units[0].ID)
	assert.Equal(t, "b", units[1].ID)

	units, err = adapter.Collect(s.Search(ctx, adapter.Query{Vector: []float32{1, 0, 0}, ContentHash: "hash-b"}))
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "b", units[0].ID)
}

func TestStore_SearchWithoutVectorNotSupported(t *testing.T) {
	s := createTestStore(t)
	_, err := adapter.Collect(s.Search(context.Background(), adapter.Query{Text: "anything"}))
	assert.ErrorIs(t, err, adapter.ErrNotSupported)
}

func TestStore_EmptyCollection(t *testing.T) {
	s := createTestStore(t)
	units, err := adapter.Collect(s.Search(context.Background(), adapter.Query{Vector: []float32{1}}))
	require.NoError(t, err)
	assert.Empty(t, units)
}

func TestStore_Persistent(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "vectors")

	s, err := New(Config{Path: dir, Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, vecUnit("u1", memetic.StatusActive, 0, 1)))

	reopened, err := New(Config{Path: dir, Logger: zerolog.Nop()})
	require.NoError(t, err)
	got, err := reopened.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.ID)
}

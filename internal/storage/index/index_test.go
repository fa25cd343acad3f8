package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "requirement-index.json")
	m := New(path)
	require.NoError(t, m.Initialize())
	return m
}

func TestAddGetHasSize(t *testing.T) {
	m := newTestManager(t)
	assert.Equal(t, 0, m.Size())
	assert.False(t, m.Has("r1"))

	require.NoError(t, m.Add(Record{ID: "r1", Type: "requirement", Version: 1}))
	assert.True(t, m.Has("r1"))
	assert.Equal(t, 1, m.Size())

	rec, ok := m.Get("r1")
	require.True(t, ok)
	assert.Equal(t, "requirement", rec.Type)
}

func TestUpdateOverwrites(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Add(Record{ID: "r1", Version: 1}))
	require.NoError(t, m.Update(Record{ID: "r1", Version: 2}))

	rec, ok := m.Get("r1")
	require.True(t, ok)
	assert.Equal(t, 2, rec.Version)
	assert.Equal(t, 1, m.Size(), "update must not duplicate the entry")
}

func TestDeleteIsNoopWhenAbsent(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Delete("missing"))
	assert.Equal(t, 0, m.Size())
}

func TestDeleteRemovesRecord(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Add(Record{ID: "r1"}))
	require.NoError(t, m.Add(Record{ID: "r2"}))
	require.NoError(t, m.Delete("r1"))

	assert.False(t, m.Has("r1"))
	assert.True(t, m.Has("r2"))
	assert.Equal(t, 1, m.Size())
}

func TestGetAllPreservesInsertionOrder(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Add(Record{ID: "c"}))
	require.NoError(t, m.Add(Record{ID: "a"}))
	require.NoError(t, m.Add(Record{ID: "b"}))

	all := m.GetAll()
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{all[0].ID, all[1].ID, all[2].ID})
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phase-index.json")
	m1 := New(path)
	require.NoError(t, m1.Initialize())
	require.NoError(t, m1.Add(Record{ID: "p1", Type: "phase", Version: 1, UpdatedAt: "2026-01-01T00:00:00Z"}))
	require.NoError(t, m1.Add(Record{ID: "p2", Type: "phase", Version: 1}))

	m2 := New(path)
	require.NoError(t, m2.Initialize())
	assert.Equal(t, 2, m2.Size())
	rec, ok := m2.Get("p1")
	require.True(t, ok)
	assert.Equal(t, "2026-01-01T00:00:00Z", rec.UpdatedAt)
}

func TestInitializeIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x-index.json")
	m := New(path)
	require.NoError(t, m.Initialize())
	require.NoError(t, m.Add(Record{ID: "r1"}))
	require.NoError(t, m.Initialize(), "a second Initialize call must not reset in-memory state")
	assert.Equal(t, 1, m.Size())
}

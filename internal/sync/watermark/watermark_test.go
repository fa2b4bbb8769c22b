package watermark

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingReturnsNilNotError(t *testing.T) {
	store := New(t.TempDir())
	w, err := store.Load("orders")
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	store := New(t.TempDir())
	now := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)

	w := &Watermark{
		TableName:           "orders",
		LastSyncTimestamp:   now,
		LastSyncID:          "2024-01-04T00:00:00Z",
		LastIcebergSnapshot: 42,
		RowCount:            3,
		CreatedAt:           now,
	}
	require.NoError(t, store.Save(w))

	loaded, err := store.Load("orders")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "orders", loaded.TableName)
	assert.Equal(t, int64(42), loaded.LastIcebergSnapshot)
	assert.Equal(t, 3, loaded.RowCount)
	assert.True(t, loaded.LastSyncTimestamp.Equal(now))
}

// A freshly written watermark's timestamp never regresses relative to the
// previous one.
func TestSave_ProgressIsMonotonic(t *testing.T) {
	store := New(t.TempDir())
	first := &Watermark{TableName: "orders", LastSyncTimestamp: time.Now().UTC(), CreatedAt: time.Now().UTC()}
	require.NoError(t, store.Save(first))

	time.Sleep(time.Millisecond)
	second := &Watermark{TableName: "orders", LastSyncTimestamp: time.Now().UTC(), CreatedAt: first.CreatedAt}
	require.NoError(t, store.Save(second))

	loaded, err := store.Load("orders")
	require.NoError(t, err)
	assert.True(t, !loaded.LastSyncTimestamp.Before(first.LastSyncTimestamp))
}

func TestSave_OverwritesInPlace(t *testing.T) {
	store := New(t.TempDir())
	require.NoError(t, store.Save(&Watermark{TableName: "orders", RowCount: 1}))
	require.NoError(t, store.Save(&Watermark{TableName: "orders", RowCount: 2}))

	loaded, err := store.Load("orders")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.RowCount)
}

package watcher

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileCheckpointStore_LoadOnMissingFileReturnsZeroValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store := NewFileCheckpointStore(path)

	cp, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, Checkpoint{}, cp)
}

func TestFileCheckpointStore_SaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store := NewFileCheckpointStore(path)

	want := Checkpoint{LastSignature: "sig123", LastSlot: 42}
	require.NoError(t, store.Save(want))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFileCheckpointStore_SaveOverwritesPreviousValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store := NewFileCheckpointStore(path)

	require.NoError(t, store.Save(Checkpoint{LastSignature: "sig1", LastSlot: 1}))
	require.NoError(t, store.Save(Checkpoint{LastSignature: "sig2", LastSlot: 2}))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, Checkpoint{LastSignature: "sig2", LastSlot: 2}, got)
}

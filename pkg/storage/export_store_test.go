package storage

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportStoreSaveAndOpen(t *testing.T) {
	store, err := NewExportStore(t.TempDir())
	require.NoError(t, err)

	name, err := store.Save("case_history_LX-2024-001.csv", []byte("Time,Actor\n"))
	require.NoError(t, err)
	assert.Equal(t, "case_history_LX-2024-001.csv", name)

	f, err := store.Open(name)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "Time,Actor\n", string(data))
}

func TestExportStoreRejectsEscapingNames(t *testing.T) {
	store, err := NewExportStore(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"../outside.csv", "/etc/passwd", "a/../../b.csv"} {
		_, err := store.Save(name, []byte("x"))
		assert.Error(t, err, name)
	}
}

func TestExportStoreSweepRemovesOnlyStaleFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewExportStore(dir)
	require.NoError(t, err)

	_, err = store.Save("stale.csv", []byte("old"))
	require.NoError(t, err)
	_, err = store.Save("fresh.csv", []byte("new"))
	require.NoError(t, err)

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "stale.csv"), old, old))

	removed, err := store.Sweep(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.Open("stale.csv")
	assert.Error(t, err)
	f, err := store.Open("fresh.csv")
	require.NoError(t, err)
	f.Close()
}

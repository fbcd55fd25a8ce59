package backup

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalArchiveStore_PutFetchDelete(t *testing.T) {
	base := filepath.Join(t.TempDir(), "mirror")
	store, err := NewLocalArchiveStore(&LocalConfig{BasePath: base})
	require.NoError(t, err)
	assert.Equal(t, StorageProviderLocal, store.Provider())

	ctx := context.Background()
	name := "nightly_20240601_020000.json.gz"

	location, err := store.Put(ctx, name, strings.NewReader("archive-bytes"), 13)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, name), location)

	parsed, ok := store.ParseLocation(location)
	require.True(t, ok)
	assert.Equal(t, name, parsed)

	rc, err := store.Fetch(ctx, name)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "archive-bytes", string(data))

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")

	require.NoError(t, store.Delete(ctx, name))
	require.NoError(t, store.Delete(ctx, name), "deleting a missing archive succeeds")

	_, err = store.Fetch(ctx, name)
	assert.True(t, IsNotFound(err))
}

func TestLocalArchiveStore_RejectsTraversal(t *testing.T) {
	store, err := NewLocalArchiveStore(&LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)

	for _, name := range []string{"", "..", "../escape.json", "nested/archive.json"} {
		_, err := store.Put(context.Background(), name, strings.NewReader("x"), 1)
		assert.Error(t, err, name)
	}

	_, ok := store.ParseLocation("/somewhere/else/archive.json.gz")
	assert.False(t, ok)
}

func TestLocalArchiveStore_CancelledPut(t *testing.T) {
	store, err := NewLocalArchiveStore(&LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.Put(ctx, "a.json", strings.NewReader("data"), 4)
	require.Error(t, err)

	_, err = store.Fetch(context.Background(), "a.json")
	assert.True(t, IsNotFound(err))
}

package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	_, err = New(Config{BaseDir: file})
	require.Error(t, err)

	nested := filepath.Join(t.TempDir(), "a", "b")
	store, err := New(Config{BaseDir: nested})
	require.NoError(t, err)
	require.NotNil(t, store)
	require.DirExists(t, nested)
}

func TestPutObjectWritesSnapshot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "listings/2024-01-02/abc.html", "text/html", strings.NewReader("<html></html>"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(uri, "file://"))
	require.True(t, strings.HasSuffix(uri, "listings/2024-01-02/abc.html"))

	got, err := os.ReadFile(filepath.Join(dir, "listings", "2024-01-02", "abc.html"))
	require.NoError(t, err)
	require.Equal(t, "<html></html>", string(got))

	entries, err := os.ReadDir(filepath.Join(dir, "listings", "2024-01-02"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestPutObjectRejectsBadPaths(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	for _, path := range []string{"", "../escape.html", "/abs/path.html"} {
		_, err := store.PutObject(context.Background(), path, "", strings.NewReader("x"))
		require.Error(t, err, path)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestPutObjectReaderFailureLeavesNothing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "x/y.html", "", failingReader{})
	require.ErrorContains(t, err, "boom")

	entries, err := os.ReadDir(filepath.Join(dir, "x"))
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestPutObjectCanceled(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.PutObject(ctx, "a.html", "", strings.NewReader("x"))
	require.ErrorIs(t, err, context.Canceled)
}

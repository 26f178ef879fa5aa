package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewCreatesBaseDir(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), "artifacts")
	store, err := New(Config{BaseDir: base})
	require.NoError(t, err)
	require.NotNil(t, store)

	info, err := os.Stat(base)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestNewRejectsEmptyBaseDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{BaseDir: "  "})
	require.Error(t, err)
}

func TestNewRejectsFileAsBaseDir(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	_, err := New(Config{BaseDir: file})
	require.Error(t, err)
}

func TestPutObjectRoundTrip(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	store, err := New(Config{BaseDir: base})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "req-1/page.html", "text/html", []byte("<html></html>"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(uri, "file://"))

	data, err := os.ReadFile(filepath.Join(base, "req-1", "page.html"))
	require.NoError(t, err)
	require.Equal(t, "<html></html>", string(data))
}

func TestPutObjectRejectsTraversal(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "../escape.html", "text/html", []byte("x"))
	require.Error(t, err)

	_, err = store.PutObject(context.Background(), "", "text/html", []byte("x"))
	require.Error(t, err)
}

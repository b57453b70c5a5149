package fsutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jvs-project/goldgate/pkg/fsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicWrite_CreatesFileAndParents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tests", "golden", "test_x.py")

	require.NoError(t, fsutil.AtomicWrite(path, []byte("def test(): pass\n"), fsutil.ReadOnlyPerm))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "def test(): pass\n", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, fsutil.ReadOnlyPerm, info.Mode().Perm())
}

func TestAtomicWrite_ReplacesReadOnlyTarget(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "golden.txt")
	require.NoError(t, fsutil.AtomicWrite(path, []byte("v1"), fsutil.ReadOnlyPerm))

	// rename replaces the directory entry, so the old read-only bits do not block it
	require.NoError(t, fsutil.AtomicWrite(path, []byte("v2"), fsutil.ReadOnlyPerm))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestAtomicWrite_NoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, fsutil.AtomicWrite(filepath.Join(dir, "a"), []byte("x"), 0644))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, fsutil.IsTempFile(e.Name()), "leftover %s", e.Name())
	}
}

func TestSetReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	require.NoError(t, os.Chmod(path, 0664))

	prev, err := fsutil.SetReadOnly(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0664), prev)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.False(t, fsutil.IsWritable(info.Mode()))
	assert.Equal(t, os.FileMode(0444), info.Mode().Perm())
}

func TestIsWritable(t *testing.T) {
	assert.True(t, fsutil.IsWritable(0644))
	assert.True(t, fsutil.IsWritable(0464))
	assert.False(t, fsutil.IsWritable(0444))
	assert.False(t, fsutil.IsWritable(0555))
}

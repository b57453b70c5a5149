package repo_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/jvs-project/goldgate/internal/repo"
	"github.com/jvs-project/goldgate/pkg/config"
	"github.com/jvs-project/goldgate/pkg/errclass"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_CreatesDirectoryStructure(t *testing.T) {
	dir := t.TempDir()

	r, err := repo.Init(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, repo.FormatVersion, r.FormatVersion)
	_, err = uuid.Parse(r.RepoID)
	assert.NoError(t, err)

	for _, p := range []string{
		".goldgate",
		".goldgate/locks",
		".goldgate/config.yaml",
		".goldgate/format_version",
		"tests/generated",
		"tests/golden",
	} {
		_, err := os.Stat(filepath.Join(dir, p))
		assert.NoError(t, err, "missing %s", p)
	}
}

func TestInit_Idempotent(t *testing.T) {
	dir := t.TempDir()
	first, err := repo.Init(dir, nil)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Paths.GoldenRoot = "elsewhere"
	second, err := repo.Init(dir, cfg)
	require.NoError(t, err)
	assert.Equal(t, first.RepoID, second.RepoID)

	loaded, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "tests/golden", loaded.Paths.GoldenRoot, "existing config is not overwritten")
}

func TestDiscover_FindsRepo(t *testing.T) {
	dir := t.TempDir()
	r, err := repo.Init(dir, nil)
	require.NoError(t, err)

	nested := filepath.Join(dir, "tests", "generated")
	found, err := repo.Discover(nested)
	require.NoError(t, err)
	assert.Equal(t, r.Root, found.Root)
	assert.Equal(t, r.RepoID, found.RepoID)
	assert.Equal(t, filepath.Join(r.Root, ".goldgate", "locks"), found.LocksDir())
}

func TestDiscover_NotFound(t *testing.T) {
	_, err := repo.Discover(t.TempDir())
	assert.ErrorIs(t, err, errclass.ErrNotFound)
}

func TestDiscover_FutureFormatRejected(t *testing.T) {
	dir := t.TempDir()
	_, err := repo.Init(dir, nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".goldgate", "format_version"), []byte("99\n"), 0644))

	_, err = repo.Discover(dir)
	assert.ErrorIs(t, err, errclass.ErrConfiguration)
}

// Package repo locates and initializes the .goldgate state directory.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/jvs-project/goldgate/pkg/config"
	"github.com/jvs-project/goldgate/pkg/errclass"
	"github.com/jvs-project/goldgate/pkg/fsutil"
)

const (
	FormatVersion     = 1
	StateDirName      = config.StateDir
	FormatVersionFile = "format_version"
	RepoIDFile        = "repo_id"
	LocksDirName      = "locks"
)

// Repo represents a repository governed by goldgate.
type Repo struct {
	Root          string
	FormatVersion int
	RepoID        string
}

// StateDir returns <root>/.goldgate.
func (r *Repo) StateDir() string {
	return filepath.Join(r.Root, StateDirName)
}

// LocksDir returns the directory holding promotion lock files.
func (r *Repo) LocksDir() string {
	return filepath.Join(r.StateDir(), LocksDirName)
}

// Init prepares path for goldgate. It is safe to run on an already
// initialized repository: existing config, ids and roots are left alone.
func Init(path string, cfg *config.Config) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	if cfg == nil {
		cfg = config.Default()
	}

	stateDir := filepath.Join(abs, StateDirName)
	dirs := []string{
		stateDir,
		filepath.Join(stateDir, LocksDirName),
		config.Resolve(abs, cfg.Paths.GeneratedRoot),
		config.Resolve(abs, cfg.Paths.GoldenRoot),
		filepath.Dir(config.Resolve(abs, cfg.Paths.LedgerFile)),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	versionPath := filepath.Join(stateDir, FormatVersionFile)
	if _, err := os.Stat(versionPath); os.IsNotExist(err) {
		if err := fsutil.AtomicWrite(versionPath, []byte(fmt.Sprintf("%d\n", FormatVersion)), 0644); err != nil {
			return nil, fmt.Errorf("write format_version: %w", err)
		}
	}

	repoID, err := readRepoID(stateDir)
	if err != nil {
		repoID = uuid.NewString()
		if err := fsutil.AtomicWrite(filepath.Join(stateDir, RepoIDFile), []byte(repoID+"\n"), 0644); err != nil {
			return nil, fmt.Errorf("write repo_id: %w", err)
		}
	}

	if _, err := os.Stat(config.Path(abs)); os.IsNotExist(err) {
		if err := config.Save(abs, cfg); err != nil {
			return nil, err
		}
	}

	if err := fsutil.FsyncDir(stateDir); err != nil {
		return nil, fmt.Errorf("fsync state dir: %w", err)
	}

	return &Repo{Root: abs, FormatVersion: FormatVersion, RepoID: repoID}, nil
}

// Discover walks up from cwd to find the repo root (directory containing .goldgate/).
func Discover(cwd string) (*Repo, error) {
	path, err := filepath.Abs(cwd)
	if err != nil {
		return nil, fmt.Errorf("resolve cwd: %w", err)
	}
	for {
		stateDir := filepath.Join(path, StateDirName)
		if info, err := os.Stat(stateDir); err == nil && info.IsDir() {
			version, err := readFormatVersion(stateDir)
			if err != nil {
				return nil, err
			}
			if version > FormatVersion {
				return nil, errclass.ErrConfiguration.WithMessagef(
					"format version %d > supported %d", version, FormatVersion)
			}
			repoID, _ := readRepoID(stateDir)
			return &Repo{Root: path, FormatVersion: version, RepoID: repoID}, nil
		}

		parent := filepath.Dir(path)
		if parent == path {
			return nil, errclass.ErrNotFound.WithMessage("no goldgate repository found (no .goldgate/ in parent directories); run 'goldgate init'")
		}
		path = parent
	}
}

func readFormatVersion(stateDir string) (int, error) {
	data, err := os.ReadFile(filepath.Join(stateDir, FormatVersionFile))
	if os.IsNotExist(err) {
		// A hand-made .goldgate/ with only a config is treated as current.
		return FormatVersion, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read format_version: %w", err)
	}
	var version int
	if _, err := fmt.Sscanf(string(data), "%d", &version); err != nil {
		return 0, errclass.ErrConfiguration.WithMessagef("parse format_version: %v", err)
	}
	return version, nil
}

func readRepoID(stateDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(stateDir, RepoIDFile))
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(string(data))
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("parse repo_id: %w", err)
	}
	return id, nil
}

// Package fsutil provides filesystem utilities for atomic writes and permission state.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TempPrefix marks in-flight temp files so doctor can find leftovers.
const TempPrefix = ".goldgate-tmp-"

const (
	// ReadOnlyPerm is the permission a golden artifact must carry.
	ReadOnlyPerm os.FileMode = 0444
	// WritablePerm is used while an authorized overwrite is in progress.
	WritablePerm os.FileMode = 0644
)

// AtomicWrite writes data to a temporary file, fsyncs, then renames to target path.
// The parent directory is created if missing.
func AtomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("atomic write mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, TempPrefix+"*")
	if err != nil {
		return fmt.Errorf("atomic write create tmp: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("atomic write: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("atomic write chmod: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("atomic write fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("atomic write close: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("atomic write rename: %w", err)
	}
	if err := FsyncDir(dir); err != nil {
		return fmt.Errorf("atomic write fsync dir: %w", err)
	}

	success = true
	return nil
}

// FsyncDir fsyncs a directory to ensure rename visibility is durable.
func FsyncDir(dirPath string) error {
	d, err := os.Open(dirPath)
	if err != nil {
		return fmt.Errorf("fsync dir open: %w", err)
	}
	defer d.Close()
	return d.Sync()
}

// IsWritable reports whether any write bit is set on mode.
func IsWritable(mode os.FileMode) bool {
	return mode.Perm()&0222 != 0
}

// SetReadOnly clears every write bit on path and returns the previous mode.
func SetReadOnly(path string) (os.FileMode, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	prev := info.Mode().Perm()
	if err := os.Chmod(path, prev&^0222); err != nil {
		return prev, fmt.Errorf("chmod read-only: %w", err)
	}
	return prev, nil
}

// IsTempFile reports whether name looks like an AtomicWrite leftover.
func IsTempFile(name string) bool {
	return strings.HasPrefix(name, TempPrefix)
}

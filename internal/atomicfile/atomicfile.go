// Package atomicfile replaces files in a single rename so readers see either
// the previous content or the new one, never a partial write.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// File is one target of WriteFiles.
type File struct {
	Path string
	Data []byte
}

// WriteFile writes data to a temporary file next to path and renames it over path.
// Missing parent directories are created with dirPerm.
func WriteFile(path string, data []byte, perm, dirPerm os.FileMode) error {
	return WriteFiles([]File{{Path: path, Data: data}}, perm, dirPerm)
}

// WriteFiles stages every file in a temporary sibling and only renames them
// into place, in order, once all of them are written and synced. A failure
// while staging leaves every target untouched.
func WriteFiles(files []File, perm, dirPerm os.FileMode) error {
	staged := make([]string, 0, len(files))
	defer func() {
		// Removing after a successful rename is a no-op error we ignore.
		for _, tmp := range staged {
			os.Remove(tmp)
		}
	}()

	for _, f := range files {
		tmp, err := stage(f, perm, dirPerm)
		if err != nil {
			return err
		}
		staged = append(staged, tmp)
	}

	// On POSIX systems rename replaces the target in one step.
	for i, tmp := range staged {
		if err := os.Rename(tmp, files[i].Path); err != nil {
			return fmt.Errorf("rename %s into place: %w", filepath.Base(files[i].Path), err)
		}
	}
	return nil
}

func stage(f File, perm, dirPerm os.FileMode) (string, error) {
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(f.Data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("chmod temp file: %w", err)
	}
	return tmpPath, nil
}

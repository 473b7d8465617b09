package pki

import (
	"fmt"
	"os"
	"path/filepath"
)

// checkNotDir returns a configuration error when path names an existing
// directory. A missing path is fine.
func checkNotDir(field, path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	if info.IsDir() {
		return configErrorf("%s %q is a directory, not a file", field, path)
	}
	return nil
}

// readSource returns the candidate bytes for a path-or-content source.
// The returned reason is non-empty when nothing usable was found; it is a
// regeneration trigger, not an error. Read failures on an existing file
// are returned as errors.
func readSource(field, path string, content []byte) ([]byte, string, error) {
	if path != "" {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			return nil, field + " path does not exist", nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("reading %s %s: %w", field, path, err)
		}
		if len(data) == 0 {
			return nil, field + " content is empty", nil
		}
		return data, "", nil
	}
	if len(content) == 0 {
		return nil, field + " source does not exist", nil
	}
	return content, "", nil
}

// writeFileAtomic writes data to a temporary file next to path, applies
// perm, then renames it over path. Readers never observe a partial file and
// an existing read-only target is replaced.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", tmpName, path, err)
	}
	return nil
}

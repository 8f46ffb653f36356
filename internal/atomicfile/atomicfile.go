// Package atomicfile persists small documents with write-then-rename so a
// concurrent reader never observes a truncated file.
package atomicfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// beforeRename runs after the temp file is complete and before it replaces
// the target. Tests swap it to simulate an interrupted write.
var beforeRename = func(tmpPath string) error { return nil }

// WriteJSON marshals v as indented JSON and writes it atomically to path.
func WriteJSON(path string, v any, perm os.FileMode) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("atomicfile: marshaling %s: %w", filepath.Base(path), err)
	}
	return Write(path, append(data, '\n'), perm)
}

// Write replaces path with data in one rename. The temp file lives in the
// same directory so the rename never crosses filesystems. On failure the
// temp file is removed and path keeps its previous content.
func Write(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("atomicfile: creating dir: %w", err)
	}

	tmpPath := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	//nolint:gosec // tmp path is derived from the caller's target path
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("atomicfile: creating temp file: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = f.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("atomicfile: writing temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("atomicfile: syncing temp file: %w", err)
	}
	if err := f.Chmod(perm); err != nil {
		return fmt.Errorf("atomicfile: setting mode: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("atomicfile: closing temp file: %w", err)
	}

	if err := beforeRename(tmpPath); err != nil {
		return fmt.Errorf("atomicfile: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("atomicfile: renaming onto %s: %w", filepath.Base(path), err)
	}
	committed = true
	return nil
}

// Package io writes report artifacts atomically: a temp file in the target
// directory is renamed over the destination once fully written.
package io

import (
	"encoding/json"
	"fmt"
	stdio "io"
	"os"
	"path/filepath"
)

// WriteAtomic creates path's directory, streams write into a temp file and
// renames it into place. On any error the temp file is removed and path is
// left untouched.
func WriteAtomic(path string, write func(w stdio.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// WriteJSONAtomic writes v as indented JSON
func WriteJSONAtomic(path string, v any) error {
	return WriteAtomic(path, func(w stdio.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

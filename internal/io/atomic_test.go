package io

import (
	"errors"
	stdio "io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "exit_quality.md")

	require.NoError(t, WriteAtomic(path, func(w stdio.Writer) error {
		_, err := w.Write([]byte("# Exit Quality Report\n"))
		return err
	}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# Exit Quality Report\n", string(data))

	// a failed write keeps the previous content and leaves no temp files
	boom := errors.New("boom")
	err = WriteAtomic(path, func(w stdio.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# Exit Quality Report\n", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteJSONAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.json")
	require.NoError(t, WriteJSONAtomic(path, map[string]int{"exits": 2}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"exits": 2}`, string(data))
}

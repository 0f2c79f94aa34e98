package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRotatingWriterRotatesOnSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.log")

	w, err := newRotatingWriter(path, 0)
	require.NoError(t, err)
	w.maxSize = 16 // force rotation well below a real MB threshold

	_, err = w.Write([]byte("0123456789"))
	require.NoError(t, err)
	_, err = w.Write([]byte("0123456789"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(entries), 2, "expected a rotated backup file alongside agent.log")
}

func TestInitSwapsLoggerWithoutPanicking(t *testing.T) {
	require.NoError(t, Init(Config{Level: LevelDebug2, Console: true}))
	require.NoError(t, Init(Config{Level: LevelInfo, File: &FileConfig{Path: filepath.Join(t.TempDir(), "a.log"), MaxSizeMB: 1}}))
}

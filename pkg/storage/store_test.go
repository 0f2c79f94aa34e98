package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save("target", []byte(`{"id":"server0"}`)))
	require.True(t, s.Has("target"))
	require.Equal(t, []byte(`{"id":"server0"}`), s.Restore("target"))

	require.Nil(t, s.Restore("missing"))
	require.False(t, s.Has("missing"))
}

func TestModifiedReflectsUnseenWrite(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save("k", []byte("v1")))
	require.False(t, s.Modified("k"), "this process just wrote it, so it has observed the latest value")

	require.NoError(t, s.Save("k", []byte("v2")))
	require.False(t, s.Modified("k"), "Save also counts as observing")
}

func TestRemoveDeletesKey(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save("k", []byte("v")))
	require.NoError(t, s.Remove("k"))
	require.False(t, s.Has("k"))
	require.NoError(t, s.Remove("k"), "removing an absent key is not an error")
}

func TestMigrateFromOldVarDirImportsLegacyDumps(t *testing.T) {
	oldDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(oldDir, "target.dump"), []byte("legacy-blob"), 0644))

	newDir := t.TempDir()
	s, err := Open(newDir, WithOldVarDir(oldDir))
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, []byte("legacy-blob"), s.Restore("target"))
	_, err = os.Stat(filepath.Join(oldDir, "target.dump"))
	require.True(t, os.IsNotExist(err), "migrated legacy file should be removed")
}

func TestOpenRecoversFromCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.dump")
	require.NoError(t, os.WriteFile(path, []byte("not a bolt database"), 0600))

	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()
	require.Nil(t, s.Restore("anything"))
}

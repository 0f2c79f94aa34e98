package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 3600, cfg.DelayTime)
	assert.Equal(t, 180, cfg.BackendCollectTimeout)
	assert.Equal(t, 62354, cfg.HTTPDPort)
	assert.Equal(t, []string{"stderr"}, cfg.Logger)
}

func TestLoadFileBasic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.cfg")
	require.NoError(t, os.WriteFile(path, []byte(`
# a comment
server = https://glpi.example.com/
tag = "site-a"
debug = 2
no-task = deploy,collect
`), 0644))

	cfg := Defaults()
	require.NoError(t, LoadFile(path, cfg))
	assert.Equal(t, []string{"https://glpi.example.com/"}, cfg.Servers)
	assert.Equal(t, "site-a", cfg.Tag)
	assert.Equal(t, 2, cfg.Debug)
	assert.Equal(t, []string{"deploy", "collect"}, cfg.NoTask)
}

func TestLoadFileIncludeDirIsDeduplicated(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "conf.d")
	require.NoError(t, os.MkdirAll(sub, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "a.cfg"), []byte("tag = from-a\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "b.cfg"), []byte("tag = from-b\ninclude "+sub+"\n"), 0644))

	main := filepath.Join(dir, "agent.cfg")
	require.NoError(t, os.WriteFile(main, []byte("include "+sub+"\n"), 0644))

	cfg := Defaults()
	require.NoError(t, LoadFile(main, cfg))
	// Lexicographic a.cfg then b.cfg; b.cfg's self-include of the same
	// directory must not reprocess a.cfg or itself.
	assert.Equal(t, "from-b", cfg.Tag)
}

func TestValidateMutuallyExclusive(t *testing.T) {
	cfg := Defaults()
	cfg.CACertFile = "/ca.pem"
	cfg.CACertDir = "/ca.d"
	assert.ErrorIs(t, Validate(cfg), ErrMutuallyExclusiveCACert)

	cfg = Defaults()
	cfg.Partial = "cpu"
	cfg.Daemon = true
	assert.ErrorIs(t, Validate(cfg), ErrMutuallyExclusivePartial)

	cfg = Defaults()
	cfg.Logger = []string{"file"}
	assert.ErrorIs(t, Validate(cfg), ErrFileLoggerNoPath)
}

func TestValidateConfFileForcesFileBackend(t *testing.T) {
	cfg := Defaults()
	cfg.ConfFile = "/etc/fleetagent/agent.cfg"
	cfg.ConfigBackend = "registry"
	require.NoError(t, Validate(cfg))
	assert.Equal(t, "file", cfg.ConfigBackend)
}

func TestValidateClampsReloadInterval(t *testing.T) {
	cfg := Defaults()
	cfg.ConfReloadInterval = 10
	require.NoError(t, Validate(cfg))
	assert.Equal(t, minReloadInterval, cfg.ConfReloadInterval)

	cfg = Defaults()
	cfg.ConfReloadInterval = 0
	require.NoError(t, Validate(cfg))
	assert.Equal(t, 0, cfg.ConfReloadInterval)
}

func TestGetTargetsOrderAndListenerFallback(t *testing.T) {
	cfg := Defaults()
	cfg.Local = []string{"-"}
	cfg.Servers = []string{"glpi.example.com"}
	targets := GetTargets(cfg)
	require.Len(t, targets, 2)
	assert.Equal(t, TargetLocal, targets[0].Kind)
	assert.Equal(t, TargetServer, targets[1].Kind)
	assert.Equal(t, "http://glpi.example.com/", targets[1].URL)

	cfg = Defaults()
	targets = GetTargets(cfg)
	require.Len(t, targets, 1)
	assert.Equal(t, TargetListener, targets[0].Kind)

	cfg = Defaults()
	cfg.NoHTTPD = true
	assert.Empty(t, GetTargets(cfg))
}

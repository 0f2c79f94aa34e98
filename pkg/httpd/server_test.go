package httpd

import (
	"crypto/sha512"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fleetagent/pkg/config"
	"github.com/cuemby/fleetagent/pkg/target"
)

func newServerTarget(t *testing.T) *target.Target {
	t.Helper()
	tgt, err := target.New(
		config.TargetSpec{ID: "server0", Kind: config.TargetServer, URL: "https://srv/"},
		target.Options{VarDir: t.TempDir(), MaxDelay: time.Hour},
	)
	require.NoError(t, err)
	t.Cleanup(func() { tgt.Close() })
	return tgt
}

func newLocalTarget(t *testing.T) *target.Target {
	t.Helper()
	tgt, err := target.New(
		config.TargetSpec{ID: "local0", Kind: config.TargetLocal, Path: "-"},
		target.Options{VarDir: t.TempDir(), MaxDelay: time.Hour},
	)
	require.NoError(t, err)
	t.Cleanup(func() { tgt.Close() })
	return tgt
}

// withStubDNS makes "srv" resolve to the given addresses.
func withStubDNS(t *testing.T, addrs []string) {
	t.Helper()
	old := lookupHost
	lookupHost = func(host string) ([]string, error) { return addrs, nil }
	t.Cleanup(func() { lookupHost = old })
}

func doRequest(s *Server, method, path, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	s.mainHandler().ServeHTTP(rec, req)
	return rec
}

func TestNowTrustGating(t *testing.T) {
	withStubDNS(t, []string{"10.0.0.1"})

	srvTarget := newServerTarget(t)
	localTarget := newLocalTarget(t)
	s := New(Options{Trust: []string{"192.168.0.0/24"}}, []*target.Target{srvTarget, localTarget})

	// Push both schedules into the future so an advance is
	// observable.
	srvTarget.SetNextRunOnExpiration(3600)
	localTarget.SetNextRunOnExpiration(3600)

	// Trusted as srv's own address: only that target advances.
	rec := doRequest(s, http.MethodGet, "/now", "10.0.0.1:40000")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.WithinDuration(t, time.Now(), srvTarget.GetNextRunDate(), 5*time.Second)
	assert.Greater(t, time.Until(localTarget.GetNextRunDate()), 30*time.Minute)

	// Globally trusted: every target advances.
	srvTarget.SetNextRunOnExpiration(3600)
	rec = doRequest(s, http.MethodGet, "/now", "192.168.0.5:40000")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.WithinDuration(t, time.Now(), srvTarget.GetNextRunDate(), 5*time.Second)
	assert.WithinDuration(t, time.Now(), localTarget.GetNextRunDate(), 5*time.Second)

	// Unknown peer: refused.
	rec = doRequest(s, http.MethodGet, "/now", "8.8.8.8:40000")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestIndexDisclosesTargetsOnlyToTrusted(t *testing.T) {
	withStubDNS(t, []string{"10.0.0.1"})

	srvTarget := newServerTarget(t)
	s := New(Options{Trust: []string{"192.168.0.0/24"}, Version: "1.0"}, []*target.Target{srvTarget})

	trusted := doRequest(s, http.MethodGet, "/", "192.168.0.5:1")
	assert.Equal(t, http.StatusOK, trusted.Code)
	assert.Contains(t, trusted.Body.String(), "https://srv/")

	untrusted := doRequest(s, http.MethodGet, "/", "8.8.8.8:1")
	assert.Equal(t, http.StatusOK, untrusted.Code)
	assert.NotContains(t, untrusted.Body.String(), "https://srv/")
}

func TestStatusRoute(t *testing.T) {
	s := New(Options{}, nil)
	s.SetStatus("running task inventory")
	rec := doRequest(s, http.MethodGet, "/status", "8.8.8.8:1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "status: running task inventory", rec.Body.String())
}

func TestGetFileServesContentAddressedPart(t *testing.T) {
	srvTarget := newServerTarget(t)

	content := []byte("filepart payload")
	sum := sha512.Sum512(content)
	digest := hex.EncodeToString(sum[:])

	dir := filepath.Join(srvTarget.Dir(), "deploy", "fileparts", "shared", "1753200000",
		digest[0:1], digest[1:2], digest[2:8])
	require.NoError(t, os.MkdirAll(dir, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, digest), content, 0640))

	s := New(Options{}, []*target.Target{srvTarget})

	rec := doRequest(s, http.MethodGet, "/deploy/getFile/"+digest, "8.8.8.8:1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, content, rec.Body.Bytes())

	// Body digest equals the requested hash (spec §8 round-trip law).
	served := sha512.Sum512(rec.Body.Bytes())
	assert.Equal(t, digest, hex.EncodeToString(served[:]))
}

func TestGetFileRejectsMismatchedDigest(t *testing.T) {
	srvTarget := newServerTarget(t)

	// File stored under one digest's path but holding other content.
	sum := sha512.Sum512([]byte("advertised content"))
	digest := hex.EncodeToString(sum[:])
	dir := filepath.Join(srvTarget.Dir(), "deploy", "fileparts", "shared", "1753200000",
		digest[0:1], digest[1:2], digest[2:8])
	require.NoError(t, os.MkdirAll(dir, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, digest), []byte("tampered"), 0640))

	s := New(Options{}, []*target.Target{srvTarget})
	rec := doRequest(s, http.MethodGet, "/deploy/getFile/"+digest, "8.8.8.8:1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetFileValidatesDigestSyntax(t *testing.T) {
	s := New(Options{}, nil)
	rec := doRequest(s, http.MethodGet, "/deploy/getFile/nothex", "8.8.8.8:1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type stubPlugin struct {
	name     string
	priority int
	port     int
	disabled bool
	handled  bool
}

func (p *stubPlugin) Name() string     { return p.name }
func (p *stubPlugin) Priority() int    { return p.priority }
func (p *stubPlugin) Port() int        { return p.port }
func (p *stubPlugin) Init() error      { return nil }
func (p *stubPlugin) Disabled() bool   { return p.disabled }
func (p *stubPlugin) Handle(w http.ResponseWriter, r *http.Request) bool {
	if r.URL.Path != "/plugin" {
		return false
	}
	p.handled = true
	w.WriteHeader(http.StatusTeapot)
	return true
}
func (p *stubPlugin) TimerEvent(now time.Time) time.Time { return time.Time{} }

func TestPluginDispatchBeforeBuiltins(t *testing.T) {
	resetPlugins()
	t.Cleanup(resetPlugins)

	plugin := &stubPlugin{name: "stub", priority: 5}
	RegisterPlugin(plugin)

	s := New(Options{}, nil)
	s.plugins = Plugins()

	rec := doRequest(s, http.MethodGet, "/plugin", "8.8.8.8:1")
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.True(t, plugin.handled)

	// Unhandled paths still reach the built-in routes.
	rec = doRequest(s, http.MethodGet, "/status", "8.8.8.8:1")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPluginsSortedByPriorityDescending(t *testing.T) {
	resetPlugins()
	t.Cleanup(resetPlugins)

	RegisterPlugin(&stubPlugin{name: "low", priority: 1})
	RegisterPlugin(&stubPlugin{name: "high", priority: 9})
	RegisterPlugin(&stubPlugin{name: "mid", priority: 5})

	var names []string
	for _, p := range Plugins() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"high", "mid", "low"}, names)
}

func TestNeedToRestart(t *testing.T) {
	resetPlugins()
	t.Cleanup(resetPlugins)

	s := New(Options{IP: "127.0.0.1", Port: 62354, Trust: []string{"10.0.0.0/8"}}, nil)
	s.plugins = Plugins()

	assert.False(t, s.NeedToRestart(Options{IP: "127.0.0.1", Port: 62354, Trust: []string{"192.168.0.0/16"}}))
	assert.True(t, s.trust.IsTrustedStatic("192.168.1.1:1"), "trust must be updated in place")
	assert.False(t, s.trust.IsTrustedStatic("10.0.0.1:1"))

	assert.True(t, s.NeedToRestart(Options{IP: "127.0.0.1", Port: 62355}))
	assert.True(t, s.NeedToRestart(Options{IP: "0.0.0.0", Port: 62354}))

	RegisterPlugin(&stubPlugin{name: "new", priority: 1})
	assert.True(t, s.NeedToRestart(Options{IP: "127.0.0.1", Port: 62354}))
}

func TestListenerPluginStoresInboundInventory(t *testing.T) {
	listener, err := target.New(
		config.TargetSpec{ID: "listener", Kind: config.TargetListener},
		target.Options{VarDir: t.TempDir(), MaxDelay: time.Hour},
	)
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	plugin := NewListenerPlugin(listener)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	assert.True(t, plugin.Handle(rec, req))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "empty submission refused")

	body := `{"deviceid":"h1-2026-01-01-00-00-00","action":"inventory","content":{}}`
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("GLPI-Agent-ID", "remote-1")
	rec = httptest.NewRecorder()
	assert.True(t, plugin.Handle(rec, req))
	assert.Equal(t, http.StatusOK, rec.Code)

	stored := listener.Store().Restore("inbound-remote-1")
	assert.JSONEq(t, body, string(stored))

	_, ok := listener.Sessions().Get("remote-1")
	assert.True(t, ok, "submission must create a session")
}

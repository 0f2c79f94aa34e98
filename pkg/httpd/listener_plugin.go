package httpd

import (
	"io"
	"net/http"
	"time"

	"github.com/cuemby/fleetagent/pkg/log"
	"github.com/cuemby/fleetagent/pkg/target"
)

// listenerSessionTTL bounds how long an inbound agent's session stays
// valid between submissions.
const listenerSessionTTL = time.Hour

// ListenerPlugin receives inbound inventories on behalf of a listener
// target (spec §2 component I: "receives remote control requests and
// inbound inventories"). Submissions are stored in the listener
// target's private store as protocol-message JSON/XML blobs, keyed by
// the remote device id, and the sender gets a session entry so
// repeated submissions are correlated.
type ListenerPlugin struct {
	target *target.Target
}

// NewListenerPlugin builds the plugin over the listener target; the
// caller registers it iff a listener target is configured.
func NewListenerPlugin(t *target.Target) *ListenerPlugin {
	return &ListenerPlugin{target: t}
}

// Name implements Plugin.
func (p *ListenerPlugin) Name() string { return "listener" }

// Priority implements Plugin; inbound inventories outrank the
// built-in routes but not control plugins.
func (p *ListenerPlugin) Priority() int { return 10 }

// Port implements Plugin; the listener shares the main port.
func (p *ListenerPlugin) Port() int { return 0 }

// Init implements Plugin.
func (p *ListenerPlugin) Init() error { return nil }

// Disabled implements Plugin.
func (p *ListenerPlugin) Disabled() bool { return p.target == nil }

// Handle accepts POST / submissions carrying an inventory document.
func (p *ListenerPlugin) Handle(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost || r.URL.Path != "/" {
		return false
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 32<<20))
	if err != nil || len(body) == 0 {
		http.Error(w, "empty submission", http.StatusBadRequest)
		return true
	}

	deviceID := r.Header.Get("GLPI-Agent-ID")
	if deviceID == "" {
		deviceID = r.RemoteAddr
	}

	if err := p.target.Store().Save("inbound-"+deviceID, body); err != nil {
		log.WithComponent("httpd").Warn().Err(err).Str("device", deviceID).Msg("inbound inventory store failed")
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return true
	}

	if sessions := p.target.Sessions(); sessions != nil {
		sessions.Touch(target.Session{RemoteID: deviceID, Expires: time.Now().Add(listenerSessionTTL)})
	}

	w.WriteHeader(http.StatusOK)
	io.WriteString(w, `{"status":"ok"}`)
	return true
}

// TimerEvent scrubs expired sessions once a minute.
func (p *ListenerPlugin) TimerEvent(now time.Time) time.Time {
	if sessions := p.target.Sessions(); sessions != nil {
		sessions.Scrub()
	}
	return now.Add(time.Minute)
}

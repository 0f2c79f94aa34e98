// Package httpd implements the embedded HTTP server (spec §4.I): one
// main listener plus one per plugin advertising its own port,
// plugin-priority request dispatch with built-in fallback routes, and
// trust gating with cached server-address resolution. Routing runs on
// gin; the server holds the target arena by slice-plus-index rather
// than back-pointers into the agent (spec §9 "Cyclic references").
package httpd

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuemby/fleetagent/pkg/config"
	"github.com/cuemby/fleetagent/pkg/log"
	"github.com/cuemby/fleetagent/pkg/metrics"
	"github.com/cuemby/fleetagent/pkg/target"
)

// DefaultPort is the main listener's default (spec §4.I ":62354").
const DefaultPort = 62354

// Options configures the embedded server.
type Options struct {
	IP      string
	Port    int
	Trust   []string
	TLS     *tls.Config // when non-nil, wraps every listener in TLS
	Version string
}

// Server is the embedded multi-listener HTTP server.
type Server struct {
	opts    Options
	trust   *trustEvaluator
	targets []*target.Target

	mu        sync.Mutex
	status    string
	servers   []*http.Server
	listeners []net.Listener
	plugins   []Plugin
	stopTimer context.CancelFunc
}

// New assembles a server over the target arena. Trust includes every
// server target's URL implicitly.
func New(opts Options, targets []*target.Target) *Server {
	if opts.Port <= 0 {
		opts.Port = DefaultPort
	}
	return &Server{
		opts:    opts,
		trust:   newTrustEvaluator(opts.Trust, serverURLs(targets)),
		targets: targets,
		status:  "waiting",
	}
}

func serverURLs(targets []*target.Target) map[string]string {
	out := make(map[string]string)
	for _, t := range targets {
		if t.Kind() == config.TargetServer {
			out[t.ID()] = t.URL()
		}
	}
	return out
}

// SetStatus updates the string served by /status.
func (s *Server) SetStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// Status returns the current agent status string.
func (s *Server) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Init starts the main listener and one listener per plugin with its
// own port (spec §4.I "Lifecycle"). A bind failure is fatal to this
// component only; the caller logs it and the agent continues.
func (s *Server) Init() error {
	logger := log.WithComponent("httpd")

	s.plugins = Plugins()
	for _, p := range s.plugins {
		if p.Disabled() {
			continue
		}
		if err := p.Init(); err != nil {
			logger.Warn().Str("plugin", p.Name()).Err(err).Msg("plugin init failed, skipping")
		}
	}

	if _, err := s.listen(s.opts.IP, s.opts.Port, s.mainHandler()); err != nil {
		return fmt.Errorf("httpd: bind %s:%d: %w", s.opts.IP, s.opts.Port, err)
	}
	logger.Info().Str("ip", s.opts.IP).Int("port", s.opts.Port).Msg("listening")

	for _, p := range s.plugins {
		if p.Disabled() || p.Port() == 0 || p.Port() == s.opts.Port {
			continue
		}
		if _, err := s.listen(s.opts.IP, p.Port(), s.pluginHandler(p)); err != nil {
			logger.Warn().Str("plugin", p.Name()).Int("port", p.Port()).Err(err).Msg("plugin listener bind failed")
		}
	}

	timerCtx, cancel := context.WithCancel(context.Background())
	s.stopTimer = cancel
	go s.runTimerEvents(timerCtx)

	return nil
}

// listen binds one listener and starts serving on it.
func (s *Server) listen(ip string, port int, handler http.Handler) (net.Listener, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	if s.opts.TLS != nil {
		ln = tls.NewListener(ln, s.opts.TLS)
	}

	srv := &http.Server{
		Handler:     handler,
		IdleTimeout: 60 * time.Second,
	}
	// Keep-alive stays on with no per-connection request cap; an idle
	// connection is closed after IdleTimeout.
	srv.SetKeepAlivesEnabled(true)

	s.mu.Lock()
	s.servers = append(s.servers, srv)
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.WithComponent("httpd").Warn().Err(err).Msg("listener stopped")
		}
	}()
	return ln, nil
}

// mainHandler dispatches plugins in priority order, then the built-in
// routes (spec §4.I "per request, the server tries plugins in order
// and falls back to built-in routes").
func (s *Server) mainHandler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), s.observe)

	engine.Use(func(c *gin.Context) {
		for _, p := range s.plugins {
			if p.Disabled() || p.Port() != 0 {
				continue
			}
			if p.Handle(c.Writer, c.Request) {
				c.Abort()
				return
			}
		}
	})

	engine.GET("/", s.handleIndex)
	engine.GET("/deploy/getFile/:sha512", s.handleGetFile)
	engine.GET("/now", s.handleNow)
	engine.GET("/status", s.handleStatus)
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	return engine
}

// pluginHandler serves a plugin that owns its own listener.
func (s *Server) pluginHandler(p Plugin) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p.Disabled() || !p.Handle(w, r) {
			http.NotFound(w, r)
		}
	})
}

// observe records per-route request metrics.
func (s *Server) observe(c *gin.Context) {
	c.Next()
	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
}

// runTimerEvents fires each plugin's timer_event at its requested
// instant (spec §4.I "fires plugin timer_events at their requested
// instants").
func (s *Server) runTimerEvents(ctx context.Context) {
	next := make(map[string]time.Time)
	for _, p := range s.plugins {
		if !p.Disabled() {
			next[p.Name()] = p.TimerEvent(time.Now())
		}
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, p := range s.plugins {
				tick, ok := next[p.Name()]
				if !ok || tick.IsZero() || tick.After(now) {
					continue
				}
				next[p.Name()] = p.TimerEvent(now)
			}
		}
	}
}

// NeedToRestart reports whether opts differ enough from the running
// configuration to require a stop/start cycle (spec §4.I: IP or port
// changed, or any plugin's enabled/port changed). When no restart is
// needed the trust inputs are updated in place.
func (s *Server) NeedToRestart(opts Options) bool {
	if opts.Port <= 0 {
		opts.Port = DefaultPort
	}
	if opts.IP != s.opts.IP || opts.Port != s.opts.Port {
		return true
	}

	current := Plugins()
	if len(current) != len(s.plugins) {
		return true
	}
	for i, p := range current {
		if p.Name() != s.plugins[i].Name() ||
			p.Disabled() != s.plugins[i].Disabled() ||
			p.Port() != s.plugins[i].Port() {
			return true
		}
	}

	s.opts.Trust = opts.Trust
	s.trust.Update(opts.Trust, serverURLs(s.targets))
	return false
}

// Stop closes every listener and drains in-flight requests (spec §5
// "The HTTP server stops accepting and drains").
func (s *Server) Stop() {
	s.mu.Lock()
	servers := s.servers
	s.servers = nil
	s.listeners = nil
	stopTimer := s.stopTimer
	s.mu.Unlock()

	if stopTimer != nil {
		stopTimer()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
		}
	}
}

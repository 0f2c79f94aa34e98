package protocol

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/fleetagent/pkg/log"
	"github.com/cuemby/fleetagent/pkg/metrics"
	"github.com/cuemby/fleetagent/pkg/tlsconfig"
)

// maxPendingRetries caps the long-poll loop: the reply to the 12th
// GET retry is final, pending or not (spec §5 "Pending-retry max 12
// iterations").
const maxPendingRetries = 12

// Options configures a Client. Clients are short-lived (spec §3
// "Protocol clients are short-lived"); only the token cache outlives
// them, and that is shared process-wide.
type Options struct {
	URL         string
	Timeout     time.Duration
	Compression Compression
	Proxy       string

	User     string
	Password string

	OAuthClientID     string
	OAuthClientSecret string

	AgentID      string // GLPI-Agent-ID header (uuid)
	ProxyID      string // GLPI-Proxy-ID header, optional
	AgentVersion string
	Debug        bool // adds GLPI-Request-ID correlation

	TLS tlsconfig.Options
}

// Client speaks the JSON protocol of spec §4.H against one server.
type Client struct {
	opts   Options
	http   *http.Client
	tokens *tokenCache
}

// New builds a client for opts.URL.
func New(opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 180 * time.Second
	}
	if opts.Compression == "" {
		opts.Compression = CompressionZlib
	}

	tlsCfg, err := tlsconfig.Build(opts.TLS)
	if err != nil {
		return nil, fmt.Errorf("protocol: tls: %w", err)
	}

	transport := &http.Transport{TLSClientConfig: tlsCfg}
	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("protocol: proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &Client{
		opts:   opts,
		http:   &http.Client{Transport: transport, Timeout: opts.Timeout},
		tokens: sharedTokens,
	}, nil
}

// SendOption tunes one Send call.
type SendOption func(*sendConfig)

type sendConfig struct {
	pendingPass bool
}

// PendingPass opts out of the pending retry loop and hands the
// pending response back to the caller (spec §4.H step 6).
func PendingPass() SendOption {
	return func(c *sendConfig) { c.pendingPass = true }
}

// Send serializes msg, POSTs it, and runs the auth and pending retry
// machinery of spec §4.H, returning the parsed response.
func (c *Client) Send(ctx context.Context, action Action, msg any, opts ...SendOption) (*Response, error) {
	var cfg sendConfig
	for _, o := range opts {
		o(&cfg)
	}

	logger := log.WithComponent("protocol")
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ProtocolRequestDuration, string(action))

	body, err := jsonAPI.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s: %w", action, err)
	}
	payload, err := compress(c.opts.Compression, body)
	if err != nil {
		return nil, fmt.Errorf("protocol: compress: %w", err)
	}

	requestID := ""
	if c.opts.Debug {
		requestID = newRequestID()
	}

	resp, err := c.roundTrip(ctx, http.MethodPost, payload, requestID, string(action))
	if err != nil {
		return nil, err
	}

	// Long-poll: a pending status means the server is still working;
	// re-issue as GET with the same request-id until it settles.
	retries := 0
	for resp.Pending() && !cfg.pendingPass {
		if retries >= maxPendingRetries {
			return nil, ErrPendingBudget
		}
		retries++
		metrics.ProtocolPendingRetries.Inc()

		wait := time.Duration(resp.Expiration) * time.Second
		if wait <= 0 {
			wait = time.Second
		}
		logger.Debug().Str("action", string(action)).Int("retry", retries).Dur("wait", wait).Msg("server pending, polling again")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		resp, err = c.roundTrip(ctx, http.MethodGet, nil, requestID, string(action))
		if err != nil {
			return nil, err
		}
	}

	if resp.Status == "error" {
		logger.Error().Str("action", string(action)).Str("message", unwrapSchemaMessage(resp.Message)).Msg("server reported error")
	}
	return resp, nil
}

// roundTrip performs one HTTP exchange, handling the 401 credential
// dance and 407 reporting.
func (c *Client) roundTrip(ctx context.Context, method string, payload []byte, requestID, action string) (*Response, error) {
	resp, status, err := c.do(ctx, method, payload, requestID, "")
	if err != nil {
		metrics.ProtocolRequestsTotal.WithLabelValues(action, "transport").Inc()
		return nil, err
	}

	if status == http.StatusUnauthorized {
		auth, err := c.authorization(ctx)
		if err != nil {
			metrics.ProtocolRequestsTotal.WithLabelValues(action, "401").Inc()
			return nil, err
		}
		resp, status, err = c.do(ctx, method, payload, requestID, auth)
		if err != nil {
			metrics.ProtocolRequestsTotal.WithLabelValues(action, "transport").Inc()
			return nil, err
		}
	}

	switch {
	case status == http.StatusProxyAuthRequired:
		metrics.ProtocolRequestsTotal.WithLabelValues(action, "407").Inc()
		return nil, ErrProxyAuth
	case status == http.StatusUnauthorized:
		metrics.ProtocolRequestsTotal.WithLabelValues(action, "401").Inc()
		return nil, fmt.Errorf("protocol: server rejected credentials")
	case status >= 400:
		metrics.ProtocolRequestsTotal.WithLabelValues(action, fmt.Sprintf("%dxx", status/100)).Inc()
		return nil, fmt.Errorf("protocol: server returned %d", status)
	}

	metrics.ProtocolRequestsTotal.WithLabelValues(action, "2xx").Inc()
	return resp, nil
}

// do performs a single HTTP request/response cycle.
func (c *Client) do(ctx context.Context, method string, payload []byte, requestID, auth string) (*Response, int, error) {
	var body io.Reader
	if method == http.MethodPost {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.opts.URL, body)
	if err != nil {
		return nil, 0, fmt.Errorf("protocol: build request: %w", err)
	}

	req.Header.Set("User-Agent", "FleetAgent/"+c.opts.AgentVersion)
	req.Header.Set("GLPI-Agent-ID", c.opts.AgentID)
	if c.opts.ProxyID != "" {
		req.Header.Set("GLPI-Proxy-ID", c.opts.ProxyID)
	}
	if requestID != "" {
		req.Header.Set("GLPI-Request-ID", requestID)
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", c.opts.Compression.contentType())
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("protocol: %s %s: %w", method, c.opts.URL, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusProxyAuthRequired {
		io.Copy(io.Discard, httpResp.Body)
		return nil, httpResp.StatusCode, nil
	}

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, httpResp.StatusCode, fmt.Errorf("protocol: read response: %w", err)
	}
	if httpResp.StatusCode >= 400 {
		return nil, httpResp.StatusCode, nil
	}

	plain, err := decompress(httpResp.Header.Get("Content-Type"), raw)
	if err != nil {
		return nil, httpResp.StatusCode, err
	}

	var parsed Response
	if err := jsonAPI.Unmarshal(plain, &parsed); err != nil {
		return nil, httpResp.StatusCode, fmt.Errorf("protocol: malformed response (%s): %w", excerpt(plain), err)
	}
	if !parsed.statusKnown() {
		return nil, httpResp.StatusCode, fmt.Errorf("protocol: unexpected status %q (%s)", parsed.Status, excerpt(plain))
	}
	return &parsed, httpResp.StatusCode, nil
}

// authorization resolves the Authorization header to retry a 401
// with: a cached or freshly fetched OAuth bearer token if client
// credentials are configured, basic auth otherwise (spec §4.H step 2).
func (c *Client) authorization(ctx context.Context) (string, error) {
	if c.opts.OAuthClientID != "" && c.opts.OAuthClientSecret != "" {
		token, err := c.bearerToken(ctx)
		if err != nil {
			return "", err
		}
		return "Bearer " + token, nil
	}
	if c.opts.User != "" {
		req := &http.Request{Header: http.Header{}}
		req.SetBasicAuth(c.opts.User, c.opts.Password)
		return req.Header.Get("Authorization"), nil
	}
	return "", ErrNoCredentials
}

// bearerToken returns a cached token for this server or requests one
// from the guessed token endpoint.
func (c *Client) bearerToken(ctx context.Context) (string, error) {
	if token, ok := c.tokens.get(c.opts.URL); ok {
		return token, nil
	}

	endpoint := tokenEndpoint(c.opts.URL)
	body, err := jsonAPI.Marshal(map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     c.opts.OAuthClientID,
		"client_secret": c.opts.OAuthClientSecret,
		"scope":         "inventory",
	})
	if err != nil {
		return "", err
	}

	log.WithComponent("protocol").Debug().Str("endpoint", endpoint).Str("client_id", obfuscate(c.opts.OAuthClientID)).Msg("requesting oauth token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("protocol: token request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("protocol: token endpoint returned %d", resp.StatusCode)
	}

	var grant struct {
		TokenType   string `json:"token_type"`
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := jsonAPI.Unmarshal(raw, &grant); err != nil {
		return "", fmt.Errorf("protocol: malformed token response: %w", err)
	}
	if grant.AccessToken == "" {
		return "", fmt.Errorf("protocol: token endpoint returned no access token")
	}

	ttl := time.Duration(grant.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Minute
	}
	c.tokens.put(c.opts.URL, grant.AccessToken, ttl)
	return grant.AccessToken, nil
}

// tokenEndpoint guesses the OAuth endpoint from the server URL:
// strip any /marketplace/... or /plugins/... suffix, then append
// /api.php/token (spec §4.H step 2).
func tokenEndpoint(serverURL string) string {
	u, err := url.Parse(serverURL)
	if err != nil {
		return strings.TrimSuffix(serverURL, "/") + "/api.php/token"
	}

	path := u.Path
	for _, marker := range []string{"/marketplace/", "/plugins/"} {
		if idx := strings.Index(path, marker); idx >= 0 {
			path = path[:idx]
			break
		}
	}
	u.Path = strings.TrimSuffix(path, "/") + "/api.php/token"
	u.RawQuery = ""
	return u.String()
}

// newRequestID returns the 8-hex-digit correlation id carried by
// GLPI-Request-ID.
func newRequestID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:8]
}

// unwrapSchemaMessage extracts the useful part of a JSON-schema
// violation message when the server nests one.
func unwrapSchemaMessage(message string) string {
	var nested struct {
		Message string `json:"message"`
	}
	if err := jsonAPI.Unmarshal([]byte(message), &nested); err == nil && nested.Message != "" {
		return nested.Message
	}
	return message
}

// excerpt truncates a payload for logging (spec §7 "Logged with
// excerpt (256 bytes)").
func excerpt(b []byte) string {
	if len(b) > 256 {
		b = b[:256]
	}
	return string(b)
}

// obfuscate hides all but the first characters of a secret for log
// output.
func obfuscate(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + strings.Repeat("*", len(s)-4)
}

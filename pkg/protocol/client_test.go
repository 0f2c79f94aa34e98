package protocol

import (
	"compress/zlib"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, url string, mutate func(*Options)) *Client {
	t.Helper()
	opts := Options{
		URL:          url,
		Compression:  CompressionNone,
		AgentID:      "11111111-2222-3333-4444-555555555555",
		AgentVersion: "1.0-test",
		Timeout:      5 * time.Second,
	}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := New(opts)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestSendPendingThenOK(t *testing.T) {
	var calls []string
	var requestIDs []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method)
		requestIDs = append(requestIDs, r.Header.Get("GLPI-Request-ID"))
		if r.Method == http.MethodPost {
			writeJSON(w, map[string]any{"status": "pending", "expiration": 1})
			return
		}
		writeJSON(w, map[string]any{"status": "ok"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, func(o *Options) { o.Debug = true })

	start := time.Now()
	resp, err := c.Send(context.Background(), ActionContact, map[string]string{"action": "contact"})
	require.NoError(t, err)
	assert.True(t, resp.OK())

	require.Equal(t, []string{http.MethodPost, http.MethodGet}, calls, "exactly two outbound calls")
	assert.GreaterOrEqual(t, time.Since(start), time.Second, "one 1-second sleep between them")
	assert.NotEmpty(t, requestIDs[0])
	assert.Equal(t, requestIDs[0], requestIDs[1], "retry must carry the same GLPI-Request-ID")
	assert.Len(t, requestIDs[0], 8)
}

func TestSendPendingPass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"status": "pending", "expiration": 30})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	resp, err := c.Send(context.Background(), ActionGetJobs, map[string]string{"action": "getJobs"}, PendingPass())
	require.NoError(t, err)
	assert.True(t, resp.Pending())
	assert.Equal(t, 30, resp.Expiration)
}

func TestSendOAuthRefreshOn401(t *testing.T) {
	var tokenRequests int
	var sawBearer string

	mux := http.NewServeMux()
	mux.HandleFunc("/api.php/token", func(w http.ResponseWriter, r *http.Request) {
		tokenRequests++
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "client_credentials")
		assert.Contains(t, string(body), `"scope":"inventory"`)
		writeJSON(w, map[string]any{"token_type": "Bearer", "access_token": "T", "expires_in": 60})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		sawBearer = auth
		writeJSON(w, map[string]any{"status": "ok"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/", func(o *Options) {
		o.OAuthClientID = "client"
		o.OAuthClientSecret = "secret"
	})

	resp, err := c.Send(context.Background(), ActionInventory, map[string]string{"action": "inventory"})
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, "Bearer T", sawBearer)
	assert.Equal(t, 1, tokenRequests)

	// A second send within the TTL reuses the cached token.
	_, err = c.Send(context.Background(), ActionInventory, map[string]string{"action": "inventory"})
	require.NoError(t, err)
	assert.Equal(t, 1, tokenRequests, "token must be served from the cache")
}

func TestSendBasicAuthOn401(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "agent", user)
		assert.Equal(t, "hunter2", pass)
		writeJSON(w, map[string]any{"status": "ok"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, func(o *Options) {
		o.User = "agent"
		o.Password = "hunter2"
	})
	resp, err := c.Send(context.Background(), ActionContact, map[string]string{"action": "contact"})
	require.NoError(t, err)
	assert.True(t, resp.OK())
}

func TestSendNoCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	_, err := c.Send(context.Background(), ActionContact, map[string]string{"action": "contact"})
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestSendProxyAuthRequired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusProxyAuthRequired)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	_, err := c.Send(context.Background(), ActionContact, map[string]string{"action": "contact"})
	assert.ErrorIs(t, err, ErrProxyAuth)
}

func TestSendZlibNegotiation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/x-compress-zlib", r.Header.Get("Content-Type"))
		zr, err := zlib.NewReader(r.Body)
		require.NoError(t, err)
		body, err := io.ReadAll(zr)
		require.NoError(t, err)
		assert.Contains(t, string(body), `"action":"contact"`)

		w.Header().Set("Content-Type", "application/x-compress-zlib")
		zw := zlib.NewWriter(w)
		zw.Write([]byte(`{"status":"ok"}`))
		zw.Close()
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, func(o *Options) { o.Compression = CompressionZlib })
	resp, err := c.Send(context.Background(), ActionContact, map[string]string{"action": "contact"})
	require.NoError(t, err)
	assert.True(t, resp.OK())
}

func TestSendRejectsUnknownStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"status": "weird"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	_, err := c.Send(context.Background(), ActionContact, map[string]string{"action": "contact"})
	assert.ErrorContains(t, err, "unexpected status")
}

func TestTokenEndpointGuessing(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://glpi.example.com/", "https://glpi.example.com/api.php/token"},
		{"https://glpi.example.com/glpi/", "https://glpi.example.com/glpi/api.php/token"},
		{"https://glpi.example.com/marketplace/glpiinventory/", "https://glpi.example.com/api.php/token"},
		{"https://glpi.example.com/glpi/plugins/fusioninventory/", "https://glpi.example.com/glpi/api.php/token"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tokenEndpoint(tc.url), tc.url)
	}
}

func TestTokenCacheTTL(t *testing.T) {
	cache := &tokenCache{entries: make(map[string]tokenEntry)}
	cache.put("u", "tok", 50*time.Millisecond)

	got, ok := cache.get("u")
	require.True(t, ok)
	assert.Equal(t, "tok", got)

	time.Sleep(60 * time.Millisecond)
	_, ok = cache.get("u")
	assert.False(t, ok, "expired token must not be returned")
}

func TestPrologHandshake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "<QUERY>PROLOG</QUERY>")
		w.Header().Set("Content-Type", "application/xml")
		io.WriteString(w, `<?xml version="1.0"?><REPLY><RESPONSE>SEND</RESPONSE><PROLOG_FREQ>24</PROLOG_FREQ></REPLY>`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	resp, err := c.Prolog(context.Background(), "h1-2026-01-01-00-00-00")
	require.NoError(t, err)
	assert.True(t, resp.SendInventory())
	assert.Equal(t, 24, resp.PrologFreq)
}

func TestUnwrapSchemaMessage(t *testing.T) {
	assert.Equal(t, "inner detail", unwrapSchemaMessage(`{"message":"inner detail"}`))
	assert.Equal(t, "plain text", unwrapSchemaMessage("plain text"))
}

func TestObfuscate(t *testing.T) {
	assert.Equal(t, "****", obfuscate("abc"))
	assert.Equal(t, "supe********", obfuscate("supersecret1"))
}

package protocol

import (
	"sync"
	"time"
)

// tokenCache is the process-wide OAuth bearer-token cache, keyed by
// server URL with per-entry TTL (spec §3 "process-wide OAuth token
// cache keyed by server URL with TTL"). A single instance lives for
// the process; clients share it so a token fetched for one send is
// reused by the next.
type tokenCache struct {
	mu      sync.Mutex
	entries map[string]tokenEntry
}

type tokenEntry struct {
	token   string
	expires time.Time
}

var sharedTokens = &tokenCache{entries: make(map[string]tokenEntry)}

// get returns the cached token for url if it has not expired.
func (c *tokenCache) get(url string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[url]
	if !ok || time.Now().After(e.expires) {
		return "", false
	}
	return e.token, true
}

// put caches token under url for ttl.
func (c *tokenCache) put(url, token string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[url] = tokenEntry{token: token, expires: time.Now().Add(ttl)}
}

// drop invalidates the token for url, forcing a refetch on the next
// 401.
func (c *tokenCache) drop(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, url)
}

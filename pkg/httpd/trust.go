package httpd

import (
	"net"
	"strings"
	"sync"
	"time"
)

// trustCacheTTL bounds how stale a server URL's resolved addresses
// may be (spec §4.I "Resolutions are cached for 60s and revalidated
// lazily").
const trustCacheTTL = 60 * time.Second

// lookupHost is swapped by tests to avoid real DNS.
var lookupHost = net.LookupHost

// trustEvaluator decides whether a remote address may use the gated
// routes: the union of the configured httpd-trust entries and every
// configured server URL's resolved addresses (spec §4.I "Trust
// model").
type trustEvaluator struct {
	mu sync.Mutex

	static  []*net.IPNet // parsed httpd-trust IPs and CIDRs
	servers []serverTrust
}

// serverTrust tracks one server target's lazily resolved addresses.
type serverTrust struct {
	targetID string
	host     string
	resolved []net.IP
	expires  time.Time
}

func newTrustEvaluator(trusted []string, servers map[string]string) *trustEvaluator {
	te := &trustEvaluator{}
	te.Update(trusted, servers)
	return te
}

// Update replaces the trust inputs in place (used by needToRestart's
// no-restart path).
func (te *trustEvaluator) Update(trusted []string, servers map[string]string) {
	var static []*net.IPNet
	for _, entry := range trusted {
		if n := parseTrustEntry(entry); n != nil {
			static = append(static, n)
		}
	}

	var sts []serverTrust
	for id, rawURL := range servers {
		host := hostOf(rawURL)
		if host == "" {
			continue
		}
		sts = append(sts, serverTrust{targetID: id, host: host})
	}

	te.mu.Lock()
	te.static = static
	te.servers = sts
	te.mu.Unlock()
}

// parseTrustEntry accepts a bare IP or a CIDR.
func parseTrustEntry(entry string) *net.IPNet {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return nil
	}
	if _, network, err := net.ParseCIDR(entry); err == nil {
		return network
	}
	ip := net.ParseIP(entry)
	if ip == nil {
		return nil
	}
	bits := 32
	if ip.To4() == nil {
		bits = 128
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}
}

// hostOf extracts the hostname from a canonicalized server URL.
func hostOf(rawURL string) string {
	rest := rawURL
	if idx := strings.Index(rest, "://"); idx >= 0 {
		rest = rest[idx+3:]
	}
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		rest = rest[:idx]
	}
	if host, _, err := net.SplitHostPort(rest); err == nil {
		return host
	}
	return rest
}

// IsTrusted reports whether addr is in the trust union (spec §4.I
// "_isTrusted(addr)").
func (te *trustEvaluator) IsTrusted(addr string) bool {
	ip := remoteIP(addr)
	if ip == nil {
		return false
	}
	if te.inStatic(ip) {
		return true
	}
	_, ok := te.trustedServer(ip)
	return ok
}

// IsTrustedStatic reports whether addr matches the configured
// httpd-trust entries only (global trust, not a specific server's).
func (te *trustEvaluator) IsTrustedStatic(addr string) bool {
	ip := remoteIP(addr)
	return ip != nil && te.inStatic(ip)
}

// TrustedServer returns the target ID of the server whose resolved
// addresses include addr, if any.
func (te *trustEvaluator) TrustedServer(addr string) (string, bool) {
	ip := remoteIP(addr)
	if ip == nil {
		return "", false
	}
	return te.trustedServer(ip)
}

func (te *trustEvaluator) inStatic(ip net.IP) bool {
	te.mu.Lock()
	defer te.mu.Unlock()
	for _, network := range te.static {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func (te *trustEvaluator) trustedServer(ip net.IP) (string, bool) {
	te.mu.Lock()
	defer te.mu.Unlock()

	now := time.Now()
	for i := range te.servers {
		st := &te.servers[i]
		if now.After(st.expires) {
			st.resolved = resolve(st.host)
			st.expires = now.Add(trustCacheTTL)
		}
		for _, resolved := range st.resolved {
			if resolved.Equal(ip) {
				return st.targetID, true
			}
		}
	}
	return "", false
}

func resolve(host string) []net.IP {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}
	}
	addrs, err := lookupHost(host)
	if err != nil {
		return nil
	}
	out := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil {
			out = append(out, ip)
		}
	}
	return out
}

// remoteIP strips the port from a RemoteAddr-style string.
func remoteIP(addr string) net.IP {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return net.ParseIP(addr)
}

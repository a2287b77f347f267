// Package realip resolves the client address of a request, honouring
// X-Forwarded-For only when the peer is a trusted proxy.
package realip

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type contextKey struct{}

// Config holds the configuration for the real IP middleware
type Config struct {
	// TrustProxy enables X-Forwarded-For header parsing
	TrustProxy bool
	// TrustedProxies lists CIDR ranges or single addresses of trusted proxies
	TrustedProxies []string
}

// Resolver extracts client addresses.
type Resolver struct {
	trust    bool
	prefixes []netip.Prefix
}

// NewResolver parses cfg. Unparseable proxy entries are skipped.
func NewResolver(cfg Config) *Resolver {
	r := &Resolver{trust: cfg.TrustProxy}
	if !cfg.TrustProxy {
		return r
	}
	for _, s := range cfg.TrustedProxies {
		s = strings.TrimSpace(s)
		if p, err := netip.ParsePrefix(s); err == nil {
			r.prefixes = append(r.prefixes, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(s); err == nil {
			r.prefixes = append(r.prefixes, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	return r
}

// Middleware stores the resolved client address in the request context.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	res := NewResolver(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), contextKey{}, res.ClientIP(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP returns the address of the first untrusted hop, walking
// X-Forwarded-For from the right.
func (res *Resolver) ClientIP(r *http.Request) string {
	remote := hostOnly(r.RemoteAddr)
	if !res.trust || !res.trusted(remote) {
		return remote
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
		return remote
	}

	hops := strings.Split(xff, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop != "" && !res.trusted(hop) {
			return hop
		}
	}
	// Every hop is a trusted proxy
	return strings.TrimSpace(hops[0])
}

func (res *Resolver) trusted(ip string) bool {
	a, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	a = a.Unmap()
	for _, p := range res.prefixes {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// GetClientIP retrieves the client address stored by Middleware, falling back
// to RemoteAddr.
func GetClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(contextKey{}).(string); ok && ip != "" {
		return ip
	}
	return hostOnly(r.RemoteAddr)
}

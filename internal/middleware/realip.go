package middleware

import (
	"net/http"
	"net/netip"
	"strings"

	"github.com/quickpoll/backend/internal/logging"
)

// ClientIPResolver decides which address a request is attributed to for
// logging and rate limiting. Forwarding headers are honored only when the
// direct peer is one of the configured proxies.
type ClientIPResolver struct {
	trusted []netip.Prefix
}

// NewClientIPResolver accepts single addresses ("192.168.1.1") and CIDRs
// ("10.0.0.0/8"). Unparseable entries are skipped.
func NewClientIPResolver(trustedProxies []string) *ClientIPResolver {
	res := &ClientIPResolver{}
	for _, proxy := range trustedProxies {
		proxy = strings.TrimSpace(proxy)
		if proxy == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(proxy); err == nil {
			res.trusted = append(res.trusted, prefix.Masked())
			continue
		}
		if addr, err := netip.ParseAddr(proxy); err == nil {
			addr = addr.Unmap()
			res.trusted = append(res.trusted, netip.PrefixFrom(addr, addr.BitLen()))
		}
	}
	return res
}

// Handler stores the resolved client IP on the request context, where
// logging.ExtractClientIP picks it up.
func (res *ClientIPResolver) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ip := res.Resolve(r); ip != "" {
			r = r.WithContext(logging.WithClientIP(r.Context(), ip))
		}
		next.ServeHTTP(w, r)
	})
}

// Resolve returns the client address for r. Behind a trusted proxy it prefers
// CF-Connecting-IP, then the right-most X-Forwarded-For hop that is not itself
// a trusted proxy.
func (res *ClientIPResolver) Resolve(r *http.Request) string {
	peer, ok := parseHost(r.RemoteAddr)
	if !ok {
		return r.RemoteAddr
	}
	if !res.isTrusted(peer) {
		return peer.String()
	}

	if cf, ok := parseHost(r.Header.Get("CF-Connecting-IP")); ok {
		return cf.String()
	}

	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop, ok := parseHost(hops[i])
		if !ok {
			// A malformed hop ends the chain we can vouch for.
			break
		}
		if !res.isTrusted(hop) {
			return hop.String()
		}
	}
	return peer.String()
}

func (res *ClientIPResolver) isTrusted(addr netip.Addr) bool {
	for _, prefix := range res.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// parseHost accepts "ip", "ip:port" and "[v6]:port".
func parseHost(s string) (netip.Addr, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.Addr{}, false
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().Unmap(), true
	}
	addr, err := netip.ParseAddr(strings.Trim(s, "[]"))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

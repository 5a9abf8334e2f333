package ratelimit

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// UnknownClient is the shared bucket for requests without an identifiable
// client address.
const UnknownClient = "unknown"

// DefaultHeaders is the precedence order used when none is configured.
var DefaultHeaders = []string{"X-Forwarded-For", "X-Real-IP", "CF-Connecting-IP"}

// KeyConfig controls client identity derivation. Forwarding headers can be
// spoofed by anyone who reaches the service directly, so deployments not
// behind a controlled reverse proxy should list their proxies in
// TrustedProxies: headers are then honoured only when the TCP peer is one of
// them, and the peer address is used otherwise.
type KeyConfig struct {
	Headers        []string
	TrustedProxies []netip.Prefix
}

type KeyFunc func(r *http.Request) string

func NewKeyFunc(cfg KeyConfig) KeyFunc {
	headers := cfg.Headers
	if len(headers) == 0 {
		headers = DefaultHeaders
	}
	trusted := cfg.TrustedProxies

	return func(r *http.Request) string {
		if len(trusted) > 0 {
			peer, ok := peerAddr(r.RemoteAddr)
			if !ok {
				return UnknownClient
			}
			if !isTrusted(trusted, peer) {
				return peer.String()
			}
		}
		for _, h := range headers {
			if v := firstHop(r.Header.Get(h)); v != "" {
				return v
			}
		}
		return UnknownClient
	}
}

// ParsePrefixes accepts CIDRs and bare addresses.
func ParsePrefixes(values []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(v)
		if err != nil {
			return nil, err
		}
		out = append(out, netip.PrefixFrom(a.Unmap(), a.Unmap().BitLen()))
	}
	return out, nil
}

func firstHop(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

func peerAddr(remote string) (netip.Addr, bool) {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	a, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return a.Unmap(), true
}

func isTrusted(prefixes []netip.Prefix, a netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

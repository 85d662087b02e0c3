// Package clientip resolves the address of the client behind a request.
package clientip

import (
	"net"
	"net/http"
	"strings"
)

// Headers set by the reverse proxies we deploy behind, in priority order.
var proxyHeaders = []string{"CF-Connecting-IP", "X-Real-IP"}

// GetIP returns the client IP. With trustProxy set, CF-Connecting-IP,
// X-Real-IP and the first valid X-Forwarded-For entry take precedence over
// RemoteAddr. Returns "" when no valid address is found.
func GetIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		for _, h := range proxyHeaders {
			if ip := parseIP(r.Header.Get(h)); ip != "" {
				return ip
			}
		}
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			for part := range strings.SplitSeq(fwd, ",") {
				if ip := parseIP(part); ip != "" {
					return ip
				}
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return parseIP(r.RemoteAddr)
	}
	return parseIP(host)
}

func parseIP(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}

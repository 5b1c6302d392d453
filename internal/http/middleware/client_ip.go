package middleware

import (
	"net"
	"net/http"
	"strings"
)

// parseRequestIP reads RemoteAddr, which chi's RealIP has already replaced
// with the forwarded client address when a proxy header was present.
func parseRequestIP(r *http.Request) net.IP {
	host := strings.TrimSpace(r.RemoteAddr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return net.ParseIP(host)
}

func clientIP(r *http.Request) string {
	if ip := parseRequestIP(r); ip != nil {
		return ip.String()
	}
	if r.RemoteAddr == "" {
		return "unknown"
	}
	return r.RemoteAddr
}

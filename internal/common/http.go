package common

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the host part of the connection's remote address.
// Forwarding headers are not read here; when the service sits behind a
// trusted proxy the router's RealIP middleware rewrites RemoteAddr first.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// BearerToken extracts the credential from an Authorization header of the
// form "Bearer <token>". It returns an empty string when absent.
func BearerToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

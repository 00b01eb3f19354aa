package middleware

import (
	"net"
	"net/http"
	"strings"
)

// proxyHeaders is the order in which forwarding headers are consulted.
// X-Forwarded-For wins when a trusted proxy set it; the rest cover older
// proxy software.
var proxyHeaders = []string{
	"X-Forwarded-For",
	"Proxy-Client-IP",
	"WL-Proxy-Client-IP",
	"HTTP_CLIENT_IP",
	"HTTP_X_FORWARDED_FOR",
}

// ClientIP resolves the originating client address of a request. Each
// forwarding header is tried in order; a multi-hop value keeps only the
// first entry, the original client. When no header is usable the peer
// address is returned without its port.
func ClientIP(r *http.Request) string {
	for _, header := range proxyHeaders {
		value := r.Header.Get(header)
		if !usableIPHeader(value) {
			continue
		}
		if idx := strings.IndexByte(value, ','); idx >= 0 {
			value = value[:idx]
		}
		return strings.TrimSpace(value)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func usableIPHeader(value string) bool {
	if value == "" {
		return false
	}
	return !strings.EqualFold(value, "unknown")
}

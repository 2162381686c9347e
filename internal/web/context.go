package web

import (
	"context"
	"net"
	"net/http"

	"github.com/JonMunkholm/copybook/internal/core"
)

// WithRequestMetadata adds the client IP and User-Agent to ctx so job logs
// can name who started a job.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	return core.WithJobOrigin(ctx, core.JobOrigin{IP: clientIP(r), UserAgent: r.UserAgent()})
}

// clientIP strips the port from RemoteAddr, which TrustedRealIP has
// already replaced with the forwarded address for trusted proxies.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

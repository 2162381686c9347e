package core

import (
	"context"
	"log/slog"
)

// JobOrigin identifies the client that submitted a job.
type JobOrigin struct {
	IP        string
	UserAgent string
}

type originKey struct{}

// WithJobOrigin attaches o to ctx. Jobs started from ctx log it.
func WithJobOrigin(ctx context.Context, o JobOrigin) context.Context {
	return context.WithValue(ctx, originKey{}, o)
}

// JobOriginFromContext returns the origin stored by WithJobOrigin, or the
// zero value for jobs started locally.
func JobOriginFromContext(ctx context.Context) JobOrigin {
	o, _ := ctx.Value(originKey{}).(JobOrigin)
	return o
}

// logAttrs returns the non-empty fields as log attributes.
func (o JobOrigin) logAttrs() []any {
	var attrs []any
	if o.IP != "" {
		attrs = append(attrs, slog.String("client_ip", o.IP))
	}
	if o.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", o.UserAgent))
	}
	return attrs
}

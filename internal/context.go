package internal

import (
	"context"
	"time"
)

type ctxKey string

const ContextAdminKey ctxKey = "adminSubject"

func AdminFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if subject, ok := ctx.Value(ContextAdminKey).(string); ok {
		return subject
	}
	return ""
}

func ContextWithAdmin(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, ContextAdminKey, subject)
}

const ContextRemoteIPKey ctxKey = "remoteIP"

// ContextWithRemoteIP records the caller's address so gateway verifiers can
// apply source allowlists without touching the request object.
func ContextWithRemoteIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ContextRemoteIPKey, ip)
}

func RemoteIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if ip, ok := ctx.Value(ContextRemoteIPKey).(string); ok {
		return ip
	}
	return ""
}

// WithTimeout returns a context with timeout, defaulting to 5 seconds if duration is zero or negative.
func WithTimeout(ctx context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if duration <= 0 {
		duration = 5 * time.Second
	}
	return context.WithTimeout(ctx, duration)
}

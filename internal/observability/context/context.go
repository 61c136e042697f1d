package context

import (
	"context"
	"strings"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	klienIDKey   contextKey = "klien_id"
	sourceIPKey  contextKey = "source_ip"
)

// WithRequestID stores the request correlation id on the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

// WithKlienID stores the tenant identifier on the context.
func WithKlienID(ctx context.Context, klienID string) context.Context {
	klienID = strings.TrimSpace(klienID)
	if klienID == "" {
		return ctx
	}
	return context.WithValue(ctx, klienIDKey, klienID)
}

func KlienIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(klienIDKey).(string)
	return value
}

// WithSourceIP stores the caller address for forensic logging.
func WithSourceIP(ctx context.Context, ip string) context.Context {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, sourceIPKey, ip)
}

func SourceIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(sourceIPKey).(string)
	return value
}

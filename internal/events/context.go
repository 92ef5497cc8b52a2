package events

import (
	"context"
	"os"
)

type contextKey int

const (
	loggerKey contextKey = iota
	requestIDKey
	domainKey
	payloadIDKey
)

// FromContext extracts logger from context.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	// Return default logger
	return defaultLogger
}

// WithLogger adds logger to context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithRequestID adds request ID to context.
func WithRequestID(ctx context.Context, id string) context.Context {
	logger := FromContext(ctx).WithField("request_id", id)
	ctx = context.WithValue(ctx, requestIDKey, id)
	return WithLogger(ctx, logger)
}

// WithDomain adds a sync domain to context.
func WithDomain(ctx context.Context, domain string) context.Context {
	logger := FromContext(ctx).WithField("domain", domain)
	ctx = context.WithValue(ctx, domainKey, domain)
	return WithLogger(ctx, logger)
}

// WithPayloadID adds a payload ID to context.
func WithPayloadID(ctx context.Context, id string) context.Context {
	logger := FromContext(ctx).WithField("payload_id", id)
	ctx = context.WithValue(ctx, payloadIDKey, id)
	return WithLogger(ctx, logger)
}

// GetRequestID retrieves request ID from context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// GetDomain retrieves the sync domain from context.
func GetDomain(ctx context.Context) string {
	if d, ok := ctx.Value(domainKey).(string); ok {
		return d
	}
	return ""
}

// GetPayloadID retrieves the payload ID from context.
func GetPayloadID(ctx context.Context) string {
	if id, ok := ctx.Value(payloadIDKey).(string); ok {
		return id
	}
	return ""
}

var defaultLogger = &Logger{
	level:  InfoLevel,
	format: "text",
	output: os.Stdout,
	fields: make(map[string]interface{}),
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	defaultLogger = logger
}

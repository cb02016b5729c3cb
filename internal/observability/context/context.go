// Package context carries request-scoped identifiers used by logs and spans.
package context

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

type requestIDKey struct{}
type correlationIDKey struct{}
type projectIDKey struct{}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithProjectID tags the context with the project a request operates on.
func WithProjectID(ctx context.Context, projectID string) context.Context {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return ctx
	}
	return context.WithValue(ctx, projectIDKey{}, projectID)
}

func ProjectIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(projectIDKey{}).(string); ok {
		return v
	}
	return ""
}

// EnsureCorrelationID guarantees a correlation ID on the context, generating one when missing.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if cid := CorrelationIDFromContext(ctx); cid != "" {
		return ctx, cid
	}
	cid := ulid.Make().String()
	return context.WithValue(ctx, correlationIDKey{}, cid), cid
}

func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return v
	}
	return ""
}

// Gin context keys handlers set so request logs and spans describe the call.
const (
	KeyCounterName = "counter_name"
	KeyBatchSize   = "batch_size"
	KeyAccepted    = "accepted"
	KeyDirect      = "direct"
	KeyResourceID  = "resource_id"
)

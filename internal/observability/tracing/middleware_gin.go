package tracing

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/telemetry/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "telemetry/http"

// GinMiddleware opens one server span per request. Meter and resource handlers
// annotate the gin context and the span picks those annotations up on the way out.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer(tracerName)
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, c.Request.Method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
			ctx = withBaggage(ctx, "request_id", requestID)
			span.SetAttributes(attribute.String("request_id", requestID))
		}
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		span.SetName(c.Request.Method + " " + route)
		span.SetAttributes(SafeAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", c.Writer.Status()),
			attribute.Int64("http.server_duration_ms", time.Since(start).Milliseconds()),
		)...)
		span.SetAttributes(SafeAttributes(requestAttributes(c)...)...)

		if c.Writer.Status() < http.StatusInternalServerError {
			return
		}
		if lastErr := c.Errors.Last(); lastErr != nil {
			if safeErr := SafeError(lastErr.Err); safeErr != nil {
				span.RecordError(safeErr)
			}
		}
		span.SetStatus(codes.Error, "request error")
	}
}

// requestAttributes reads what the handler recorded about the meter call.
func requestAttributes(c *gin.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if name := c.GetString(obscontext.KeyCounterName); name != "" {
		attrs = append(attrs, attribute.String("telemetry.counter_name", name))
	}
	if id := c.GetString(obscontext.KeyResourceID); id != "" {
		attrs = append(attrs, attribute.String("telemetry.resource_id", id))
	}
	if projectID := obscontext.ProjectIDFromContext(c.Request.Context()); projectID != "" {
		attrs = append(attrs, attribute.String("telemetry.project_id", projectID))
	}
	if size, ok := c.Get(obscontext.KeyBatchSize); ok {
		if n, isInt := size.(int); isInt {
			attrs = append(attrs, attribute.Int("telemetry.batch_size", n))
		}
	}
	if accepted, ok := c.Get(obscontext.KeyAccepted); ok {
		if n, isInt := accepted.(int); isInt {
			attrs = append(attrs, attribute.Int("telemetry.accepted", n))
		}
	}
	if direct, ok := c.Get(obscontext.KeyDirect); ok {
		if b, isBool := direct.(bool); isBool {
			attrs = append(attrs, attribute.Bool("telemetry.direct", b))
		}
	}
	return attrs
}

func withBaggage(ctx context.Context, key, value string) context.Context {
	member, err := baggage.NewMember(key, value)
	if err != nil {
		return ctx
	}
	bag, err := baggage.FromContext(ctx).SetMember(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag)
}

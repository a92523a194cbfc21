package interceptors

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "account-lifecycle/http"

// Telemetry starts a server span per request and records request count and latency on the global
// tracer and meter providers. skipRoutes (route patterns such as /healthz) are not recorded.
// Instrument creation failures fall back to no metrics; requests are never failed by telemetry.
func Telemetry(skipRoutes map[string]bool) fiber.Handler {
	tracer := otel.Tracer(instrumentationName)
	meter := otel.Meter(instrumentationName)
	requests, _ := meter.Int64Counter("http.server.requests",
		metric.WithDescription("HTTP requests by route and status"))
	latency, _ := meter.Float64Histogram("http.server.duration",
		metric.WithDescription("HTTP request latency"), metric.WithUnit("ms"))

	return func(c *fiber.Ctx) error {
		if skipRoutes[c.Path()] {
			return c.Next()
		}
		start := time.Now()
		ctx, span := tracer.Start(c.UserContext(), c.Method()+" "+c.Path(), trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		c.SetUserContext(ctx)

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = StatusFor(err)
			span.RecordError(err)
		}
		if status >= fiber.StatusInternalServerError {
			span.SetStatus(codes.Error, "server error")
		}
		route := c.Route().Path
		span.SetName(c.Method() + " " + route)
		attrs := []attribute.KeyValue{
			attribute.String("http.request.method", c.Method()),
			attribute.String("http.route", route),
			attribute.Int("http.response.status_code", status),
		}
		span.SetAttributes(attrs...)
		if requests != nil {
			requests.Add(ctx, 1, metric.WithAttributes(attrs...))
		}
		if latency != nil {
			latency.Record(ctx, float64(time.Since(start).Microseconds())/1000, metric.WithAttributes(attrs...))
		}
		return err
	}
}

package http

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/Lightming99/RaSa-Metaconverse/internal/http"

// requestMetrics records per-route request counts, latency and concurrency.
type requestMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

func newRequestMetrics(meter metric.Meter) (*requestMetrics, error) {
	var m requestMetrics
	var err, e error
	m.requests, e = meter.Int64Counter("learning.http.requests",
		metric.WithDescription("Operator API requests by method, route and status."),
		metric.WithUnit("{request}"))
	err = errors.Join(err, e)
	m.duration, e = meter.Float64Histogram("learning.http.request.duration",
		metric.WithDescription("Operator API latency. /process and /train include pipeline work."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.5, 1, 5, 30, 120, 600))
	err = errors.Join(err, e)
	m.inFlight, e = meter.Int64UpDownCounter("learning.http.requests.in_flight",
		metric.WithDescription("Operator API requests being served."),
		metric.WithUnit("{request}"))
	err = errors.Join(err, e)
	return &m, err
}

func (m *requestMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			m.inFlight.Add(ctx, 1)
			defer m.inFlight.Add(ctx, -1)

			err := next(c)

			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", route(c.Path())),
				attribute.Int("status", c.Response().Status),
			)
			m.requests.Add(ctx, 1, attrs)
			m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			return err
		}
	}
}

// route is the matched route template, so ids never become label values.
func route(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}

// defaultMeter is the global meter, installed by telemetry when enabled.
func defaultMeter() metric.Meter {
	return otel.Meter(instrumentationName)
}

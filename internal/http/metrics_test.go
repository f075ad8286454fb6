package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestRequestMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := newRequestMetrics(mp.Meter(instrumentationName))
	require.NoError(t, err)

	e := echo.New()
	e.Use(m.middleware())
	e.GET("/api/v1/operations/:id", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"id": c.Param("id")})
	})
	e.POST("/api/v1/process", func(c echo.Context) error {
		return c.NoContent(http.StatusServiceUnavailable)
	})

	for _, r := range []struct{ method, target string }{
		{http.MethodGet, "/api/v1/operations/3f2a"},
		{http.MethodGet, "/api/v1/operations/9c1d"},
		{http.MethodPost, "/api/v1/process"},
	} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(r.method, r.target, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	counts := map[string]int64{}
	var observed uint64
	for _, md := range rm.ScopeMetrics[0].Metrics {
		switch data := md.Data.(type) {
		case metricdata.Sum[int64]:
			if md.Name != "learning.http.requests" {
				continue
			}
			for _, dp := range data.DataPoints {
				r, _ := dp.Attributes.Value("route")
				s, _ := dp.Attributes.Value("status")
				counts[r.AsString()+" "+s.Emit()] += dp.Value
			}
		case metricdata.Histogram[float64]:
			for _, dp := range data.DataPoints {
				observed += dp.Count
			}
		}
	}
	assert.Equal(t, map[string]int64{
		"/api/v1/operations/:id 200": 2,
		"/api/v1/process 503":        1,
	}, counts)
	assert.Equal(t, uint64(3), observed)
}

func TestRoute(t *testing.T) {
	assert.Equal(t, "unmatched", route(""))
	assert.Equal(t, "/api/v1/records/:state", route("/api/v1/records/:state"))
}

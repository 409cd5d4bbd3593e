package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"matchgate/internal/config"
)

func testSettings() Settings {
	settings := SettingsFromConfig(nil, "test")
	settings.ConsoleOutput = false
	return settings
}

func newTestManager(t *testing.T, settings Settings) (*ObservabilityManager, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	spans := tracetest.NewInMemoryExporter()
	om, err := NewObservabilityManager(settings, WithReader(reader), WithSpanExporter(spans))
	require.NoError(t, err)
	t.Cleanup(func() { _ = om.Shutdown(context.Background()) })
	return om, reader, spans
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Observability.Enabled = true
	cfg.Observability.ServiceName = "matchgate"
	cfg.Observability.SampleRate = 0.5
	cfg.Observability.Tracing = config.TracingConfig{Enabled: true, SampleRate: 0.25}
	cfg.Observability.Prometheus = config.PrometheusConfig{Enabled: true, Endpoint: "/m", Port: "9999"}

	settings := SettingsFromConfig(cfg, "1.2.3")
	assert.Equal(t, "1.2.3", settings.ServiceVersion)
	assert.Equal(t, 0.25, settings.SampleRate)
	assert.Equal(t, PrometheusSettings{Enabled: true, Endpoint: "/m", Port: "9999"}, settings.Prometheus)
	assert.Positive(t, settings.CollectionInterval)
}

func TestDisabledManagerIsInert(t *testing.T) {
	om, err := NewObservabilityManager(Settings{Enabled: false})
	require.NoError(t, err)

	assert.False(t, om.Enabled())
	assert.Nil(t, om.MetricsHandler())
	assert.Equal(t, http.DefaultTransport, om.Transport(nil))
	assert.NotPanics(t, func() {
		om.RecordRequest(context.Background(), "core", "GET", 200, "", 0)
		om.RecordTokenRefresh(context.Background(), true)
		NewOTelSink(om).Event(context.Background(), EventAPISuccess, nil)
	})
	assert.NoError(t, om.Shutdown(context.Background()))
}

func TestOTelSinkRecordsGatewayMetrics(t *testing.T) {
	om, reader, _ := newTestManager(t, testSettings())
	sink := NewOTelSink(om)
	ctx := context.Background()

	sink.Event(ctx, EventAPISuccess, Properties{"service": "core", "method": "GET", "status": 200, "duration_ms": 12.5})
	sink.Event(ctx, EventAPIError, Properties{"service": "core", "method": "POST", "status": 429, "kind": "rate_limited", "duration_ms": 3.0})
	sink.Event(ctx, EventTokenRefreshSuccess, nil)
	sink.Event(ctx, EventTokenRefreshFailed, nil)
	sink.Event(ctx, EventRateLimitHit, Properties{"scope": "inbound"})

	metrics := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, metrics["matchgate_gateway_requests_total"]))
	assert.Equal(t, int64(1), sumOf(t, metrics["matchgate_gateway_errors_total"]))
	assert.Equal(t, int64(2), sumOf(t, metrics["matchgate_token_refreshes_total"]))
	assert.Equal(t, int64(2), sumOf(t, metrics["matchgate_rate_limit_hits_total"]))

	hist, ok := metrics["matchgate_gateway_request_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(2), count)
}

func TestCustomMetricsCanBeDisabled(t *testing.T) {
	settings := testSettings()
	settings.Custom.Gateway.Enabled = false
	settings.Custom.Auth.Enabled = false
	om, reader, _ := newTestManager(t, settings)

	sink := NewOTelSink(om)
	sink.Event(context.Background(), EventAPISuccess, Properties{"service": "ml", "status": 200})
	sink.Event(context.Background(), EventTokenRefreshSuccess, nil)

	metrics := collect(t, reader)
	_, hasRequests := metrics["matchgate_gateway_requests_total"]
	_, hasRefreshes := metrics["matchgate_token_refreshes_total"]
	assert.False(t, hasRequests)
	assert.False(t, hasRefreshes)
}

func TestOTelSinkAnnotatesActiveSpan(t *testing.T) {
	om, _, spans := newTestManager(t, testSettings())
	sink := NewOTelSink(om)

	ctx, span := om.Tracer("test").Start(context.Background(), "call")
	sink.Event(ctx, EventAPIError, Properties{"service": "llm", "status": 500, "kind": "http"})
	sink.Error(ctx, errors.New("internal server error"), Properties{"status": 500})
	span.End()
	require.NoError(t, om.tracerProvider.ForceFlush(context.Background()))

	recorded := spans.GetSpans()
	require.Len(t, recorded, 1)
	names := make([]string, 0)
	for _, ev := range recorded[0].Events {
		names = append(names, ev.Name)
	}
	assert.Contains(t, names, EventAPIError)
	assert.Contains(t, names, "exception")
	assert.Equal(t, "internal server error", recorded[0].Status.Description)
}

func TestTransportCreatesClientSpans(t *testing.T) {
	om, _, spans := newTestManager(t, testSettings())

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("Traceparent"))
		_, _ = io.WriteString(w, "ok")
	}))
	defer upstream.Close()

	client := &http.Client{Transport: om.Transport(nil)}
	resp, err := client.Get(upstream.URL + "/jobs")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.NoError(t, om.tracerProvider.ForceFlush(context.Background()))

	var found bool
	for _, s := range spans.GetSpans() {
		if s.Name == "GET /jobs" {
			found = true
		}
	}
	assert.True(t, found, "expected a client span named after method and path")
}

func TestPrometheusHandlerExposesMetrics(t *testing.T) {
	settings := testSettings()
	settings.Prometheus = PrometheusSettings{Enabled: true, Endpoint: "/metrics"}
	om, _, _ := newTestManager(t, settings)

	om.RecordTokenRefresh(context.Background(), true)

	handler := om.MetricsHandler()
	require.NotNil(t, handler)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "matchgate_token_refreshes_total"))
}

func TestRequestAttributesMiddleware(t *testing.T) {
	om, _, spans := newTestManager(t, testSettings())

	handler := om.RequestAttributes(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, om.tracerProvider.ForceFlush(context.Background()))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotEmpty(t, spans.GetSpans())
	assert.Equal(t, "GET /health", spans.GetSpans()[0].Name)
}

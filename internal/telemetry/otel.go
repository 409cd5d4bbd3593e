package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Metrics holds the custom instruments for gateway traffic
type Metrics struct {
	RequestCount    metric.Int64Counter
	ErrorCount      metric.Int64Counter
	RequestDuration metric.Float64Histogram
	TokenRefreshes  metric.Int64Counter
	RateLimitHits   metric.Int64Counter
}

// ObservabilityManager manages OpenTelemetry setup
type ObservabilityManager struct {
	settings         Settings
	resource         *resource.Resource
	tracerProvider   *trace.TracerProvider
	meterProvider    *sdkmetric.MeterProvider
	metrics          *Metrics
	shutdownFuncs    []func(context.Context) error
	prometheusServer *http.ServeMux

	extraReaders []sdkmetric.Reader
	spanExporter trace.SpanExporter
}

// Option customizes an ObservabilityManager
type Option func(*ObservabilityManager)

// WithReader adds a metric reader, e.g. sdkmetric.NewManualReader in tests.
func WithReader(reader sdkmetric.Reader) Option {
	return func(om *ObservabilityManager) {
		om.extraReaders = append(om.extraReaders, reader)
	}
}

// WithSpanExporter replaces the configured span exporter.
func WithSpanExporter(exporter trace.SpanExporter) Option {
	return func(om *ObservabilityManager) {
		om.spanExporter = exporter
	}
}

// NewObservabilityManager creates a new observability manager
func NewObservabilityManager(settings Settings, opts ...Option) (*ObservabilityManager, error) {
	om := &ObservabilityManager{
		settings:      settings,
		shutdownFuncs: make([]func(context.Context) error, 0),
	}
	for _, opt := range opts {
		opt(om)
	}
	if !settings.Enabled {
		return om, nil
	}

	if err := om.initResource(); err != nil {
		return nil, fmt.Errorf("failed to initialize resource: %w", err)
	}

	if err := om.initTracing(); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	if err := om.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return om, nil
}

// Enabled reports whether telemetry export is active
func (om *ObservabilityManager) Enabled() bool {
	return om != nil && om.settings.Enabled
}

func (om *ObservabilityManager) initResource() error {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(om.settings.ServiceName),
			semconv.ServiceVersion(om.settings.ServiceVersion),
			attribute.String("service.instance.id", om.serviceInstanceID()),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}
	om.resource = res
	return nil
}

// initTracing sets up OpenTelemetry tracing
func (om *ObservabilityManager) initTracing() error {
	exporter := om.spanExporter
	if exporter == nil {
		var err error
		exporter, err = om.createSpanExporter()
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(om.resource),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(om.settings.SampleRate))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	om.tracerProvider = tp
	om.shutdownFuncs = append(om.shutdownFuncs, tp.Shutdown)
	return nil
}

func (om *ObservabilityManager) createSpanExporter() (trace.SpanExporter, error) {
	switch {
	case om.settings.ConsoleOutput:
		opts := []stdouttrace.Option{}
		if om.settings.PrettyPrint {
			opts = append(opts, stdouttrace.WithPrettyPrint())
		}
		return stdouttrace.New(opts...)
	case om.settings.OTLP.Enabled:
		return om.createOTLPExporter()
	default:
		return &noOpSpanExporter{}, nil
	}
}

// initMetrics sets up OpenTelemetry metrics
func (om *ObservabilityManager) initMetrics() error {
	readers, err := om.setupMetricReaders()
	if err != nil {
		return err
	}

	options := []sdkmetric.Option{sdkmetric.WithResource(om.resource)}
	for _, reader := range readers {
		options = append(options, sdkmetric.WithReader(reader))
	}

	mp := sdkmetric.NewMeterProvider(options...)
	otel.SetMeterProvider(mp)
	om.meterProvider = mp
	om.shutdownFuncs = append(om.shutdownFuncs, mp.Shutdown)

	return om.initCustomMetrics()
}

// setupMetricReaders sets up all metric readers based on configuration
func (om *ObservabilityManager) setupMetricReaders() ([]sdkmetric.Reader, error) {
	readers := append([]sdkmetric.Reader{}, om.extraReaders...)

	if om.settings.ConsoleOutput {
		exporter, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create console metric exporter: %w", err)
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(om.settings.CollectionInterval)))
	}

	if om.settings.OTLP.Enabled {
		reader, err := om.createOTLPMetricsReader()
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metrics reader: %w", err)
		}
		readers = append(readers, reader)
	}

	if err := om.setupPrometheusReader(&readers); err != nil {
		return nil, err
	}

	// If no readers configured, use manual reader as fallback
	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewManualReader())
	}
	return readers, nil
}

// setupPrometheusReader sets up Prometheus metric reader if enabled
func (om *ObservabilityManager) setupPrometheusReader(readers *[]sdkmetric.Reader) error {
	if !om.settings.Prometheus.Enabled {
		return nil
	}

	reader, mux, err := SetupPrometheusExporter(om.settings.Prometheus)
	if err != nil {
		return fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}
	*readers = append(*readers, reader)
	om.prometheusServer = mux

	if om.settings.Prometheus.Port != "" {
		server, err := StartPrometheusServer(mux, om.settings.Prometheus.Port)
		if err != nil {
			return fmt.Errorf("failed to start Prometheus server: %w", err)
		}
		om.shutdownFuncs = append(om.shutdownFuncs, server.Shutdown)
	}
	return nil
}

// initCustomMetrics creates the gateway, auth and rate limit instruments
func (om *ObservabilityManager) initCustomMetrics() error {
	meter := om.meterProvider.Meter(om.settings.ServiceName)
	om.metrics = &Metrics{}

	var err error
	om.metrics.RequestCount, err = meter.Int64Counter(
		"matchgate_gateway_requests_total",
		metric.WithDescription("Total number of gateway requests by service and outcome"),
	)
	if err != nil {
		return fmt.Errorf("failed to create gateway request count metric: %w", err)
	}

	om.metrics.ErrorCount, err = meter.Int64Counter(
		"matchgate_gateway_errors_total",
		metric.WithDescription("Total number of failed gateway requests by error kind"),
	)
	if err != nil {
		return fmt.Errorf("failed to create gateway error count metric: %w", err)
	}

	om.metrics.RequestDuration, err = meter.Float64Histogram(
		"matchgate_gateway_request_duration_seconds",
		metric.WithDescription("Time spent on gateway requests"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create gateway duration metric: %w", err)
	}

	om.metrics.TokenRefreshes, err = meter.Int64Counter(
		"matchgate_token_refreshes_total",
		metric.WithDescription("Total number of access token refresh attempts"),
	)
	if err != nil {
		return fmt.Errorf("failed to create token refresh metric: %w", err)
	}

	om.metrics.RateLimitHits, err = meter.Int64Counter(
		"matchgate_rate_limit_hits_total",
		metric.WithDescription("Total number of rate limit hits"),
	)
	if err != nil {
		return fmt.Errorf("failed to create rate limit hits metric: %w", err)
	}

	return nil
}

// GetMetrics returns the metrics instance
func (om *ObservabilityManager) GetMetrics() *Metrics {
	if om == nil || om.metrics == nil {
		return &Metrics{}
	}
	return om.metrics
}

// RecordRequest counts one gateway attempt and, when enabled, its duration.
func (om *ObservabilityManager) RecordRequest(ctx context.Context, service, method string, status int, kind string, duration time.Duration) {
	m := om.GetMetrics()
	if m.RequestCount == nil || !om.settings.Custom.Gateway.Enabled {
		return
	}

	outcome := "success"
	if kind != "" {
		outcome = "error"
	}
	attrs := []attribute.KeyValue{
		attribute.String("service", service),
		attribute.String("method", method),
		attribute.Int("status", status),
		attribute.String("outcome", outcome),
	}
	m.RequestCount.Add(ctx, 1, metric.WithAttributes(attrs...))

	if om.settings.Custom.Gateway.TrackDuration && duration > 0 {
		m.RequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}
	if kind != "" {
		m.ErrorCount.Add(ctx, 1, metric.WithAttributes(
			attribute.String("service", service),
			attribute.String("kind", kind),
		))
	}
}

// RecordTokenRefresh counts one refresh attempt.
func (om *ObservabilityManager) RecordTokenRefresh(ctx context.Context, success bool) {
	m := om.GetMetrics()
	if m.TokenRefreshes == nil || !om.settings.Custom.Auth.Enabled {
		return
	}
	m.TokenRefreshes.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}

// RecordRateLimitHit counts a throttled request. scope is "upstream" for a
// 429 from a backend and "inbound" for the local server limiter.
func (om *ObservabilityManager) RecordRateLimitHit(ctx context.Context, scope string, attrs ...attribute.KeyValue) {
	m := om.GetMetrics()
	if m.RateLimitHits == nil || !om.settings.Custom.Infrastructure.TrackRateLimits {
		return
	}
	attrs = append([]attribute.KeyValue{attribute.String("scope", scope)}, attrs...)
	m.RateLimitHits.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// HTTPMiddleware returns HTTP middleware with OpenTelemetry instrumentation
func (om *ObservabilityManager) HTTPMiddleware() func(http.Handler) http.Handler {
	if !om.Enabled() {
		return func(h http.Handler) http.Handler { return h }
	}

	return otelhttp.NewMiddleware(
		om.settings.ServiceName,
		otelhttp.WithTracerProvider(om.tracerProvider),
		otelhttp.WithMeterProvider(om.meterProvider),
	)
}

// Transport wraps base with client-side spans and metrics. Spans are named
// after the method and path so traces group by endpoint.
func (om *ObservabilityManager) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if !om.Enabled() {
		return base
	}
	return otelhttp.NewTransport(base,
		otelhttp.WithTracerProvider(om.tracerProvider),
		otelhttp.WithMeterProvider(om.meterProvider),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// MetricsHandler returns the Prometheus scrape mux, or nil when disabled.
func (om *ObservabilityManager) MetricsHandler() http.Handler {
	if om == nil || om.prometheusServer == nil {
		return nil
	}
	return om.prometheusServer
}

// Tracer returns a tracer for the service
func (om *ObservabilityManager) Tracer(name string) oteltrace.Tracer {
	if !om.Enabled() {
		return noop.NewTracerProvider().Tracer(name)
	}
	return om.tracerProvider.Tracer(name)
}

// Shutdown gracefully shuts down all observability components
func (om *ObservabilityManager) Shutdown(ctx context.Context) error {
	if om == nil {
		return nil
	}
	for _, shutdown := range om.shutdownFuncs {
		if err := shutdown(ctx); err != nil {
			return err
		}
	}
	return nil
}

// No-op exporter for when neither console nor OTLP output is configured
type noOpSpanExporter struct{}

func (n *noOpSpanExporter) ExportSpans(ctx context.Context, spans []trace.ReadOnlySpan) error {
	return nil
}

func (n *noOpSpanExporter) Shutdown(ctx context.Context) error {
	return nil
}

// createOTLPExporter creates an OTLP HTTP trace exporter
func (om *ObservabilityManager) createOTLPExporter() (trace.SpanExporter, error) {
	otlpConfig := om.settings.OTLP

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpointURL(otlpConfig.Endpoint),
	}
	if otlpConfig.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(otlpConfig.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(otlpConfig.Headers))
	}

	exporter, err := otlptracehttp.New(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}
	return exporter, nil
}

// createOTLPMetricsReader creates an OTLP HTTP metrics reader
func (om *ObservabilityManager) createOTLPMetricsReader() (sdkmetric.Reader, error) {
	otlpConfig := om.settings.OTLP

	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpointURL(otlpConfig.Endpoint),
	}
	if otlpConfig.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	if len(otlpConfig.Headers) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(otlpConfig.Headers))
	}

	exporter, err := otlpmetrichttp.New(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
	}
	return sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(om.settings.CollectionInterval)), nil
}

func (om *ObservabilityManager) serviceInstanceID() string {
	if om.settings.ServiceInstance != "" {
		return om.settings.ServiceInstance
	}
	return om.settings.ServiceName + "-1"
}

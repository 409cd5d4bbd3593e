package telemetry

import (
	"net/http"
	"time"

	"matchgate/internal/config"

	"go.opentelemetry.io/otel/attribute"
)

// Settings holds configuration for the ObservabilityManager
type Settings struct {
	ServiceName        string
	ServiceVersion     string
	ServiceInstance    string
	Enabled            bool
	ConsoleOutput      bool
	PrettyPrint        bool
	SampleRate         float64
	CollectionInterval time.Duration
	Prometheus         PrometheusSettings
	OTLP               config.OTLPConfig
	Custom             config.CustomMetricsConfig
}

// SettingsFromConfig derives observability settings from the loaded config
func SettingsFromConfig(cfg *config.Config, version string) Settings {
	if cfg == nil {
		return Settings{
			ServiceName:        "matchgate",
			ServiceVersion:     version,
			ServiceInstance:    "matchgate-1",
			Enabled:            true,
			ConsoleOutput:      true,
			PrettyPrint:        true,
			SampleRate:         1.0,
			CollectionInterval: 15 * time.Second,
			Prometheus:         PrometheusSettingsFromConfig(nil),
			Custom: config.CustomMetricsConfig{
				Gateway:        config.GatewayMetricsConfig{Enabled: true, TrackDuration: true},
				Auth:           config.AuthMetricsConfig{Enabled: true},
				Infrastructure: config.InfrastructureMetricsConfig{Enabled: true, TrackRateLimits: true},
			},
		}
	}

	obs := cfg.Observability

	// Use app version if service version not specified
	serviceVersion := obs.ServiceVersion
	if serviceVersion == "" {
		serviceVersion = version
	}

	sampleRate := obs.SampleRate
	if obs.Tracing.Enabled && obs.Tracing.SampleRate > 0 {
		sampleRate = obs.Tracing.SampleRate
	}

	interval := obs.Metrics.CollectionInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	return Settings{
		ServiceName:        obs.ServiceName,
		ServiceVersion:     serviceVersion,
		ServiceInstance:    obs.ServiceInstance,
		Enabled:            obs.Enabled,
		ConsoleOutput:      obs.ConsoleOutput,
		PrettyPrint:        obs.Console.PrettyPrint,
		SampleRate:         sampleRate,
		CollectionInterval: interval,
		Prometheus:         PrometheusSettingsFromConfig(cfg),
		OTLP:               obs.OTLP,
		Custom:             obs.CustomMetrics,
	}
}

// RequestAttributes annotates the active server span with request details.
func (om *ObservabilityManager) RequestAttributes(next http.Handler) http.Handler {
	if !om.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := om.Tracer("matchgate.http").Start(r.Context(), r.Method+" "+r.URL.Path)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
			attribute.String("http.user_agent", r.UserAgent()),
		)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

package telemetry

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"matchgate/internal/config"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
)

// PrometheusSettings holds Prometheus-specific configuration
type PrometheusSettings struct {
	Enabled  bool
	Endpoint string
	Port     string
}

// SetupPrometheusExporter creates a Prometheus exporter on its own registry
// and a mux serving it, so repeated managers in one process don't collide.
func SetupPrometheusExporter(settings PrometheusSettings) (metric.Reader, *http.ServeMux, error) {
	registry := promclient.NewRegistry()

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	endpoint := settings.Endpoint
	if endpoint == "" {
		endpoint = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(endpoint, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	return exporter, mux, nil
}

// StartPrometheusServer starts a dedicated HTTP server for Prometheus metrics.
// The listener is bound before returning so port conflicts surface here.
func StartPrometheusServer(mux *http.ServeMux, port string) (*http.Server, error) {
	addr := ":" + port
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second, // Prevent Slowloris attacks
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Prometheus metrics available at http://localhost%s/metrics", addr)

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("Prometheus server error: %v", err)
		}
	}()

	return server, nil
}

// PrometheusSettingsFromConfig creates Prometheus settings from provided config
func PrometheusSettingsFromConfig(cfg *config.Config) PrometheusSettings {
	if cfg != nil {
		return PrometheusSettings{
			Enabled:  cfg.Observability.Prometheus.Enabled,
			Endpoint: cfg.Observability.Prometheus.Endpoint,
			Port:     cfg.Observability.Prometheus.Port,
		}
	}

	return PrometheusSettings{
		Enabled:  false,
		Endpoint: "/metrics",
		Port:     "9090",
	}
}

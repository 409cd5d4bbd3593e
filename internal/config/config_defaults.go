package config

import (
	"time"

	"github.com/spf13/viper"
)

// Default per-service request timeouts. Core calls are short, ML scoring is
// slower and LLM analysis is the slowest.
const (
	DefaultCoreTimeout = 30 * time.Second
	DefaultMLTimeout   = 60 * time.Second
	DefaultLLMTimeout  = 120 * time.Second
)

// DefaultForwardHeaders are the caller headers the proxy passes on when
// server.forwardHeaders is not set.
var DefaultForwardHeaders = []string{
	"X-Request-ID",
	"X-Request-Signature",
	"X-Request-Validation",
	"Accept-Language",
}

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	// Backend services
	v.SetDefault("services.core.baseURL", "http://localhost:8000/api/v1")
	v.SetDefault("services.core.timeout", DefaultCoreTimeout)
	v.SetDefault("services.ml.baseURL", "http://localhost:8001/api/v1")
	v.SetDefault("services.ml.timeout", DefaultMLTimeout)
	v.SetDefault("services.llm.baseURL", "http://localhost:8002/api/v1")
	v.SetDefault("services.llm.timeout", DefaultLLMTimeout)

	for _, name := range ServiceNames() {
		prefix := "services." + name
		v.SetDefault(prefix+".headers", map[string]string{})

		v.SetDefault(prefix+".circuitBreaker.enabled", true)
		v.SetDefault(prefix+".circuitBreaker.maxRequests", 3)
		v.SetDefault(prefix+".circuitBreaker.interval", 60*time.Second)
		v.SetDefault(prefix+".circuitBreaker.timeout", 30*time.Second)
		v.SetDefault(prefix+".circuitBreaker.minRequests", 5)
		v.SetDefault(prefix+".circuitBreaker.failureThreshold", 0.6)

		v.SetDefault(prefix+".rateLimit.enabled", false)
		v.SetDefault(prefix+".rateLimit.requestsPerSecond", 10.0)
		v.SetDefault(prefix+".rateLimit.burst", 5)
	}

	// Auth / session
	v.SetDefault("auth.store", StoreFile)
	v.SetDefault("auth.profile", "default")
	v.SetDefault("auth.tokenFile", "")
	v.SetDefault("auth.watchTokenFile", false)
	v.SetDefault("auth.encryptionKey", "")
	v.SetDefault("auth.refreshToken", "")
	v.SetDefault("auth.loginPath", "/auth/login")
	v.SetDefault("auth.registerPath", "/auth/register")
	v.SetDefault("auth.logoutPath", "/auth/logout")
	v.SetDefault("auth.refreshPath", "/auth/refresh")
	v.SetDefault("auth.redis.addr", "")
	v.SetDefault("auth.redis.password", "")
	v.SetDefault("auth.redis.db", 0)
	v.SetDefault("auth.redis.keyPrefix", "matchgate:token:")

	// Server Configuration
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.readTimeout", 30*time.Second)
	v.SetDefault("server.writeTimeout", 150*time.Second) // must outlast the LLM timeout
	v.SetDefault("server.idleTimeout", 120*time.Second)
	v.SetDefault("server.maxRequestSize", 10*1024*1024)
	v.SetDefault("server.apiKeys", []string{})
	v.SetDefault("server.forwardHeaders", DefaultForwardHeaders)
	v.SetDefault("server.rateLimit.enabled", false)
	v.SetDefault("server.rateLimit.requestsPerMin", 120)
	v.SetDefault("server.rateLimit.burstCapacity", 20)
	v.SetDefault("server.rateLimit.byIP", true)
	v.SetDefault("server.rateLimit.byAPIKey", false)

	// App Configuration
	v.SetDefault("app.logLevel", "info")
	v.SetDefault("app.defaultFormat", "json")
	v.SetDefault("app.supportedFormats", []string{"json", "yaml", "text"})
	v.SetDefault("app.maxUploadSize", 10*1024*1024)

	// Vault Configuration
	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.address", "")
	v.SetDefault("vault.token", "")
	v.SetDefault("vault.tokenFile", "")
	v.SetDefault("vault.namespace", "")
	v.SetDefault("vault.secrets.auth", "")
	v.SetDefault("vault.secrets.apiKeys", "")
	v.SetDefault("vault.watch.enabled", false)
	v.SetDefault("vault.watch.pollInterval", 5*time.Minute)

	// Observability Configuration
	v.SetDefault("observability.enabled", false)
	v.SetDefault("observability.serviceName", "matchgate")
	v.SetDefault("observability.serviceVersion", "")
	v.SetDefault("observability.serviceInstance", "")
	v.SetDefault("observability.consoleOutput", false)
	v.SetDefault("observability.sampleRate", 1.0)
	v.SetDefault("observability.tracing.enabled", true)
	v.SetDefault("observability.tracing.sampleRate", 1.0)
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.collectionInterval", 15*time.Second)
	v.SetDefault("observability.customMetrics.gateway.enabled", true)
	v.SetDefault("observability.customMetrics.gateway.trackDuration", true)
	v.SetDefault("observability.customMetrics.auth.enabled", true)
	v.SetDefault("observability.customMetrics.infrastructure.enabled", true)
	v.SetDefault("observability.customMetrics.infrastructure.trackRateLimits", true)
	v.SetDefault("observability.console.enabled", false)
	v.SetDefault("observability.console.prettyPrint", true)
	v.SetDefault("observability.prometheus.enabled", false)
	v.SetDefault("observability.prometheus.endpoint", "/metrics")
	v.SetDefault("observability.prometheus.port", "9090")
	v.SetDefault("observability.otlp.enabled", false)
	v.SetDefault("observability.otlp.endpoint", "http://localhost:4318")
	v.SetDefault("observability.otlp.insecure", true)
	v.SetDefault("observability.otlp.headers", map[string]string{})
	v.SetDefault("observability.healthCheck.timeout", 5*time.Second)
}

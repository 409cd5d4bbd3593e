package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Service names used as keys under services.* and by the client registry.
const (
	ServiceCore = "core"
	ServiceML   = "ml"
	ServiceLLM  = "llm"
)

// Token store backends accepted by auth.store.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// Config holds all application configuration
// Secret precedence order:
// 1. Vault (if configured) - Highest priority
// 2. Environment Variables (MATCHGATE_AUTH_REFRESHTOKEN, etc.)
// 3. Config File values
// 4. Default values - Lowest priority
type Config struct {
	Services      ServicesConfig      `mapstructure:"services"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Server        ServerConfig        `mapstructure:"server"`
	App           AppConfig           `mapstructure:"app"`
	Vault         VaultConfig         `mapstructure:"vault"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ServicesConfig holds one endpoint block per backend collaborator
type ServicesConfig struct {
	Core ServiceConfig `mapstructure:"core"`
	ML   ServiceConfig `mapstructure:"ml"`
	LLM  ServiceConfig `mapstructure:"llm"`
}

// ServiceConfig describes how to reach a single backend service
type ServiceConfig struct {
	BaseURL        string               `mapstructure:"baseURL"`
	Timeout        time.Duration        `mapstructure:"timeout"`
	Headers        map[string]string    `mapstructure:"headers"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuitBreaker"`
	RateLimit      ClientRateLimit      `mapstructure:"rateLimit"`
}

// CircuitBreakerConfig represents circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`          // Whether circuit breaker is enabled
	MaxRequests      uint32        `mapstructure:"maxRequests"`      // Max requests allowed when half-open
	Interval         time.Duration `mapstructure:"interval"`         // Interval to clear counts
	Timeout          time.Duration `mapstructure:"timeout"`          // Timeout for half-open to open
	MinRequests      uint32        `mapstructure:"minRequests"`      // Minimum requests before tripping
	FailureThreshold float64       `mapstructure:"failureThreshold"` // Failure ratio threshold (0.0-1.0)
}

// ClientRateLimit throttles outbound calls to one service
type ClientRateLimit struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requestsPerSecond"`
	Burst             int     `mapstructure:"burst"`
}

// AuthConfig holds session and token storage configuration
type AuthConfig struct {
	Store          string      `mapstructure:"store"`
	Profile        string      `mapstructure:"profile"`
	TokenFile      string      `mapstructure:"tokenFile"`
	WatchTokenFile bool        `mapstructure:"watchTokenFile"`
	EncryptionKey  string      `mapstructure:"encryptionKey"`
	RefreshToken   string      `mapstructure:"refreshToken"`
	LoginPath      string      `mapstructure:"loginPath"`
	RegisterPath   string      `mapstructure:"registerPath"`
	LogoutPath     string      `mapstructure:"logoutPath"`
	RefreshPath    string      `mapstructure:"refreshPath"`
	Redis          RedisConfig `mapstructure:"redis"`

	// SecretVersion is the Vault version the auth secrets were loaded from.
	SecretVersion int64 `mapstructure:"-"`
}

// RedisConfig holds connection settings for the redis token store
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"keyPrefix"`
}

// ServerConfig holds HTTP server configuration for the local proxy
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"readTimeout"`
	WriteTimeout   time.Duration `mapstructure:"writeTimeout"`
	IdleTimeout    time.Duration `mapstructure:"idleTimeout"`
	MaxRequestSize int64         `mapstructure:"maxRequestSize"`

	// API Authentication
	APIKeys []string `mapstructure:"apiKeys"` // Valid API keys for authentication

	// Caller headers passed through the proxy to the backends
	ForwardHeaders []string `mapstructure:"forwardHeaders"`

	// Rate Limiting Configuration
	RateLimit RateLimitConfig `mapstructure:"rateLimit"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled        bool `mapstructure:"enabled"`        // Enable/disable rate limiting
	RequestsPerMin int  `mapstructure:"requestsPerMin"` // Requests allowed per minute
	BurstCapacity  int  `mapstructure:"burstCapacity"`  // Burst capacity for token bucket
	ByIP           bool `mapstructure:"byIP"`           // Enable per-IP rate limiting
	ByAPIKey       bool `mapstructure:"byAPIKey"`       // Enable per-API-key rate limiting
}

// AppConfig holds general application configuration
type AppConfig struct {
	LogLevel         string   `mapstructure:"logLevel"`
	DefaultFormat    string   `mapstructure:"defaultFormat"`
	SupportedFormats []string `mapstructure:"supportedFormats"`
	MaxUploadSize    int64    `mapstructure:"maxUploadSize"`
}

// ObservabilityConfig holds observability configuration
type ObservabilityConfig struct {
	Enabled         bool                `mapstructure:"enabled"`
	ServiceName     string              `mapstructure:"serviceName"`
	ServiceVersion  string              `mapstructure:"serviceVersion"`
	ServiceInstance string              `mapstructure:"serviceInstance"`
	ConsoleOutput   bool                `mapstructure:"consoleOutput"`
	SampleRate      float64             `mapstructure:"sampleRate"`
	Tracing         TracingConfig       `mapstructure:"tracing"`
	Metrics         MetricsConfig       `mapstructure:"metrics"`
	CustomMetrics   CustomMetricsConfig `mapstructure:"customMetrics"`
	Console         ConsoleConfig       `mapstructure:"console"`
	Prometheus      PrometheusConfig    `mapstructure:"prometheus"`
	OTLP            OTLPConfig          `mapstructure:"otlp"`
	HealthCheck     HealthCheckConfig   `mapstructure:"healthCheck"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	SampleRate float64 `mapstructure:"sampleRate"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	CollectionInterval time.Duration `mapstructure:"collectionInterval"`
}

// ConsoleConfig holds console output configuration
type ConsoleConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	PrettyPrint bool `mapstructure:"prettyPrint"`
}

// CustomMetricsConfig holds fine-grained custom metrics configuration
type CustomMetricsConfig struct {
	Gateway        GatewayMetricsConfig        `mapstructure:"gateway"`
	Auth           AuthMetricsConfig           `mapstructure:"auth"`
	Infrastructure InfrastructureMetricsConfig `mapstructure:"infrastructure"`
}

// GatewayMetricsConfig controls per-call gateway metrics
type GatewayMetricsConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	TrackDuration bool `mapstructure:"trackDuration"`
}

// AuthMetricsConfig controls token refresh metrics
type AuthMetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// InfrastructureMetricsConfig holds infrastructure metrics configuration
type InfrastructureMetricsConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	TrackRateLimits bool `mapstructure:"trackRateLimits"`
}

// PrometheusConfig holds Prometheus configuration
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Port     string `mapstructure:"port"`
}

// OTLPConfig holds OTLP exporter configuration
type OTLPConfig struct {
	Enabled  bool              `mapstructure:"enabled"`
	Endpoint string            `mapstructure:"endpoint"`
	Insecure bool              `mapstructure:"insecure"`
	Headers  map[string]string `mapstructure:"headers"`
}

// HealthCheckConfig holds health check configuration
type HealthCheckConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// LoadConfig loads configuration from environment variables and a config file.
// MATCHGATE_CONFIG points at an explicit file and skips the search paths.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(os.Getenv("MATCHGATE_CONFIG"))
}

// LoadConfigFrom loads configuration using configFile when it is not empty
func LoadConfigFrom(configFile string) (*Config, error) {
	log.Println("[CONFIG] Starting configuration loading process")

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MATCHGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/matchgate/")
		v.AddConfigPath("$HOME/.matchgate")
		v.AddConfigPath(".")
	}

	configFileUsed := ""
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		log.Println("[CONFIG] No config file found, using defaults and environment variables")
	} else {
		configFileUsed = v.ConfigFileUsed()
		log.Printf("[CONFIG] Successfully loaded config file: %s", configFileUsed)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyFallbacks()
	config.logConfigurationSources(configFileUsed)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log.Println("[CONFIG] Configuration loading completed successfully")
	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	for _, name := range ServiceNames() {
		svc, _ := c.Service(name)
		if err := svc.validate(name); err != nil {
			return err
		}
	}

	switch c.Auth.Store {
	case StoreMemory:
	case StoreFile:
		if c.Auth.TokenFile == "" {
			return fmt.Errorf("auth.tokenFile is required for the file token store")
		}
	case StoreRedis:
		if c.Auth.Redis.Addr == "" {
			return fmt.Errorf("auth.redis.addr is required for the redis token store")
		}
	default:
		return fmt.Errorf("invalid auth.store: %s (must be 'memory', 'file', or 'redis')", c.Auth.Store)
	}

	if !strings.HasPrefix(c.Auth.RefreshPath, "/") {
		return fmt.Errorf("auth.refreshPath must start with '/'")
	}

	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if !slices.Contains(c.App.SupportedFormats, c.App.DefaultFormat) {
		return fmt.Errorf("invalid default format: %s", c.App.DefaultFormat)
	}

	return nil
}

func (s ServiceConfig) validate(name string) error {
	if s.BaseURL == "" {
		return fmt.Errorf("services.%s.baseURL is required", name)
	}
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return fmt.Errorf("services.%s.baseURL is invalid: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("services.%s.baseURL must use http or https, got %q", name, u.Scheme)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("services.%s.timeout must be positive", name)
	}
	if s.CircuitBreaker.Enabled && (s.CircuitBreaker.FailureThreshold <= 0 || s.CircuitBreaker.FailureThreshold > 1) {
		return fmt.Errorf("services.%s.circuitBreaker.failureThreshold must be within (0, 1]", name)
	}
	if s.RateLimit.Enabled && s.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("services.%s.rateLimit.requestsPerSecond must be positive", name)
	}
	return nil
}

// ServiceNames lists the configured backend services in registry order
func ServiceNames() []string {
	return []string{ServiceCore, ServiceML, ServiceLLM}
}

// Service returns the endpoint block for a named service
func (c *Config) Service(name string) (ServiceConfig, bool) {
	switch name {
	case ServiceCore:
		return c.Services.Core, true
	case ServiceML:
		return c.Services.ML, true
	case ServiceLLM:
		return c.Services.LLM, true
	default:
		return ServiceConfig{}, false
	}
}

// RefreshURL returns the absolute URL of the Core API refresh endpoint
func (c *Config) RefreshURL() string {
	return joinURL(c.Services.Core.BaseURL, c.Auth.RefreshPath)
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

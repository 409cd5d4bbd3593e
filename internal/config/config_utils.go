package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// applyFallbacks fills in values that depend on the environment or on other settings
func (c *Config) applyFallbacks() {
	c.applyServerAPIKeyFallbacks()
	c.applyServiceDefaults()
	c.applyAuthDefaults()
	c.applyObservabilityDefaults()
}

// applyServerAPIKeyFallbacks accepts a comma-separated key list from the environment
// and trims whatever viper split for us
func (c *Config) applyServerAPIKeyFallbacks() {
	if len(c.Server.APIKeys) == 0 {
		if apiKeysEnv := os.Getenv("MATCHGATE_SERVER_APIKEYS"); apiKeysEnv != "" {
			c.Server.APIKeys = splitAndTrim(apiKeysEnv)
		}
		return
	}
	c.Server.APIKeys = splitAndTrim(strings.Join(c.Server.APIKeys, ","))
}

// applyServiceDefaults restores the per-service timeouts when a zero value slipped through
func (c *Config) applyServiceDefaults() {
	defaults := map[*ServiceConfig]time.Duration{
		&c.Services.Core: DefaultCoreTimeout,
		&c.Services.ML:   DefaultMLTimeout,
		&c.Services.LLM:  DefaultLLMTimeout,
	}
	for svc, timeout := range defaults {
		if svc.Timeout == 0 {
			svc.Timeout = timeout
		}
		if svc.Headers == nil {
			svc.Headers = map[string]string{}
		}
	}
}

// applyAuthDefaults resolves the default token file location
func (c *Config) applyAuthDefaults() {
	if c.Auth.Store == StoreFile && c.Auth.TokenFile == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Auth.TokenFile = filepath.Join(home, ".matchgate", "token.json")
		} else {
			c.Auth.TokenFile = ".matchgate-token.json"
		}
	}
	if c.Auth.Profile == "" {
		c.Auth.Profile = "default"
	}
}

// applyObservabilityDefaults sets dynamic observability values
func (c *Config) applyObservabilityDefaults() {
	if c.Observability.ServiceInstance == "" {
		if hostname, err := os.Hostname(); err == nil {
			c.Observability.ServiceInstance = fmt.Sprintf("%s-%s", c.Observability.ServiceName, hostname)
		} else {
			c.Observability.ServiceInstance = fmt.Sprintf("%s-1", c.Observability.ServiceName)
		}
	}

	if c.App.LogLevel == "debug" && !c.Observability.ConsoleOutput {
		c.Observability.ConsoleOutput = true
	}
}

// logConfigurationSources logs a summary of configuration sources being used
func (c *Config) logConfigurationSources(configFileUsed string) {
	if configFileUsed != "" {
		log.Printf("[CONFIG] Config file: %s", configFileUsed)
	} else {
		log.Println("[CONFIG] Config file: None (using defaults)")
	}

	envVars := []string{
		"MATCHGATE_SERVICES_CORE_BASEURL",
		"MATCHGATE_SERVICES_ML_BASEURL",
		"MATCHGATE_SERVICES_LLM_BASEURL",
		"MATCHGATE_AUTH_STORE",
		"MATCHGATE_AUTH_REFRESHTOKEN",
		"MATCHGATE_AUTH_ENCRYPTIONKEY",
		"MATCHGATE_APP_LOGLEVEL",
		"MATCHGATE_VAULT_ENABLED",
	}

	hasEnvVars := false
	for _, envVar := range envVars {
		value := os.Getenv(envVar)
		if value == "" {
			continue
		}
		if isSensitiveKey(envVar) {
			log.Printf("[CONFIG]   %s=***MASKED***", envVar)
		} else {
			log.Printf("[CONFIG]   %s=%s", envVar, value)
		}
		hasEnvVars = true
	}
	if !hasEnvVars {
		log.Println("[CONFIG] Environment variables: none set")
	}

	log.Printf("[CONFIG] Core API: %s (timeout %s)", c.Services.Core.BaseURL, c.Services.Core.Timeout)
	log.Printf("[CONFIG] ML service: %s (timeout %s)", c.Services.ML.BaseURL, c.Services.ML.Timeout)
	log.Printf("[CONFIG] LLM service: %s (timeout %s)", c.Services.LLM.BaseURL, c.Services.LLM.Timeout)
	log.Printf("[CONFIG] Token store: %s", c.Auth.Store)
	if c.Auth.EncryptionKey != "" {
		log.Println("[CONFIG] Token encryption: ***CONFIGURED***")
	} else {
		log.Println("[CONFIG] Token encryption: ***NOT SET***")
	}
	log.Printf("[CONFIG] Log Level: %s", c.App.LogLevel)
	log.Printf("[CONFIG] Vault Enabled: %t", c.Vault.Enabled)
	log.Printf("[CONFIG] Observability Enabled: %t", c.Observability.Enabled)
}

func isSensitiveKey(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "token") || strings.Contains(lower, "key") || strings.Contains(lower, "password")
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

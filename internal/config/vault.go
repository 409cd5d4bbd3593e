package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"matchgate/internal/errors"

	"github.com/hashicorp/vault/api"
)

// VaultConfig holds Vault connection configuration
type VaultConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Token     string `mapstructure:"token"`
	TokenFile string `mapstructure:"tokenFile"`
	Namespace string `mapstructure:"namespace"`

	Secrets VaultSecrets     `mapstructure:"secrets"`
	Watch   VaultWatchConfig `mapstructure:"watch"`
}

// VaultSecrets defines where to find secrets in Vault (KVv2 data paths)
type VaultSecrets struct {
	// Auth holds refresh_token, encryption_key and redis_password keys
	Auth string `mapstructure:"auth"`
	// APIKeys expects a single "keys" value with comma-separated API keys
	APIKeys string `mapstructure:"apiKeys"`
}

// VaultWatchConfig controls polling of the auth secret for rotations
type VaultWatchConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"pollInterval"`
}

// Keys read from the auth secret.
const (
	VaultKeyRefreshToken  = "refresh_token"
	VaultKeyEncryptionKey = "encryption_key"
	VaultKeyRedisPassword = "redis_password"
)

// VaultClient wraps the Vault API client
type VaultClient struct {
	client *api.Client
	config VaultConfig
	logger *errors.Logger
}

// NewVaultClient creates a new Vault client from configuration.
// It returns nil, nil when Vault is disabled.
func NewVaultClient(config VaultConfig, logger *errors.Logger) (*VaultClient, error) {
	if !config.Enabled {
		if logger != nil {
			logger.Debug("Vault integration disabled")
		}
		return nil, nil
	}

	client, err := createVaultAPIClient(config, logger)
	if err != nil {
		return nil, err
	}

	token, err := resolveVaultToken(config, logger)
	if err != nil {
		return nil, err
	}
	client.SetToken(token)

	if err := testVaultConnection(client, config.Address, logger); err != nil {
		return nil, err
	}

	return &VaultClient{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

// createVaultAPIClient creates and configures the Vault API client
func createVaultAPIClient(config VaultConfig, logger *errors.Logger) (*api.Client, error) {
	vaultConfig := api.DefaultConfig()
	if config.Address != "" {
		vaultConfig.Address = config.Address
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		if logger != nil {
			logger.LogError(err, "Failed to create Vault client")
		}
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	if config.Namespace != "" {
		client.SetNamespace(config.Namespace)
	}

	return client, nil
}

// resolveVaultToken resolves the Vault token from config or file
func resolveVaultToken(config VaultConfig, logger *errors.Logger) (string, error) {
	token := config.Token

	if token == "" && config.TokenFile != "" {
		tokenBytes, err := os.ReadFile(config.TokenFile)
		if err != nil {
			if logger != nil {
				logger.LogError(err, "Failed to read Vault token file", "file", config.TokenFile)
			}
			return "", fmt.Errorf("failed to read vault token file: %w", err)
		}
		token = strings.TrimSpace(string(tokenBytes))
	}

	if token == "" {
		return "", fmt.Errorf("vault token is required when vault is enabled")
	}

	return token, nil
}

// testVaultConnection tests the connection to Vault
func testVaultConnection(client *api.Client, address string, logger *errors.Logger) error {
	health, err := client.Sys().Health()
	if err != nil {
		if logger != nil {
			logger.LogError(err, "Failed to connect to Vault", "address", address)
		}
		return errors.NewNetworkError(errors.ErrCodeVaultUnavailable, "failed to connect to vault", err).
			WithContext("address", address)
	}

	if logger != nil {
		logger.Info("Successfully connected to Vault",
			"address", address,
			"version", health.Version,
			"sealed", health.Sealed)
	}

	return nil
}

// VaultSecret represents a secret read from Vault's KVv2 engine.
type VaultSecret struct {
	Data    map[string]any
	Version int64
}

// GetSecretV2 retrieves a secret from a Vault KVv2 store.
func (vc *VaultClient) GetSecretV2(path string) (*VaultSecret, error) {
	if vc == nil {
		return nil, fmt.Errorf("vault client not initialized")
	}

	secret, err := vc.client.Logical().Read(path)
	if err != nil {
		if vc.logger != nil {
			vc.logger.LogError(err, "Failed to read secret from Vault", "path", path)
		}
		return nil, fmt.Errorf("failed to read secret from %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("secret not found at path: %s", path)
	}

	data, ok := secret.Data["data"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("secret at %s is not in KVv2 format (missing 'data' field)", path)
	}

	metadata, ok := secret.Data["metadata"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("secret at %s is not in KVv2 format (missing 'metadata' field)", path)
	}
	versionRaw, ok := metadata["version"]
	if !ok {
		return nil, fmt.Errorf("secret metadata at %s is missing 'version' field", path)
	}
	version, err := parseVersionValue(versionRaw, path)
	if err != nil {
		return nil, err
	}

	return &VaultSecret{Data: data, Version: version}, nil
}

// parseVersionValue parses version value from various types
func parseVersionValue(versionRaw any, path string) (int64, error) {
	switch v := versionRaw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case interface{ Int64() (int64, error) }: // json.Number
		return v.Int64()
	case string:
		version, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("could not parse secret version at %s: %w", path, err)
		}
		return version, nil
	default:
		return 0, fmt.Errorf("unexpected type for version at %s: %T", path, versionRaw)
	}
}

// StringValue returns a string key of the secret, or "" when absent
func (s *VaultSecret) StringValue(key string) string {
	if s == nil {
		return ""
	}
	value, _ := s.Data[key].(string)
	return value
}

// GetStringSecret retrieves a string value from a Vault secret
func (vc *VaultClient) GetStringSecret(path, key string) (string, error) {
	secret, err := vc.GetSecretV2(path)
	if err != nil {
		return "", err
	}
	value, ok := secret.Data[key]
	if !ok {
		return "", fmt.Errorf("key '%s' not found in secret %s", key, path)
	}
	strValue, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("value for key '%s' is not a string in secret %s", key, path)
	}

	if vc.logger != nil {
		vc.logger.Debug("String secret retrieved from Vault",
			"path", path,
			"key", key,
			"masked_value", MaskSecret(strValue))
	}

	return strValue, nil
}

// GetStringSliceSecret retrieves a comma-separated string as a slice from Vault
func (vc *VaultClient) GetStringSliceSecret(path, key string) ([]string, error) {
	value, err := vc.GetStringSecret(path, key)
	if err != nil {
		return nil, err
	}
	return splitAndTrim(value), nil
}

// MaskSecret keeps the first and last four characters of long secrets
func MaskSecret(value string) string {
	switch {
	case len(value) > 8:
		return value[:4] + "****" + value[len(value)-4:]
	case len(value) > 0:
		return "****"
	default:
		return ""
	}
}

// ApplyVaultSecrets loads secrets from Vault and applies them to the config.
// The returned client is nil when Vault is disabled.
func ApplyVaultSecrets(config *Config, logger *errors.Logger) (*VaultClient, error) {
	if !config.Vault.Enabled {
		return nil, nil
	}

	client, err := NewVaultClient(config.Vault, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vault client: %w", err)
	}

	if err := loadAllSecretsFromVault(client, config, logger); err != nil {
		return nil, err
	}
	return client, nil
}

// SecretReader is the subset of the Vault client used to load secrets
type SecretReader interface {
	GetSecretV2(path string) (*VaultSecret, error)
	GetStringSliceSecret(path, key string) ([]string, error)
}

// loadAllSecretsFromVault loads all configured secrets from Vault
func loadAllSecretsFromVault(client SecretReader, config *Config, logger *errors.Logger) error {
	if err := loadAuthSecretsFromVault(client, config, logger); err != nil {
		return err
	}
	if err := loadAPIKeysFromVault(client, config, logger); err != nil {
		return err
	}
	if logger != nil {
		logger.Info("Successfully completed applying secrets from Vault")
	}
	return nil
}

// loadAuthSecretsFromVault applies the refresh credential, token encryption key
// and redis password
func loadAuthSecretsFromVault(client SecretReader, config *Config, logger *errors.Logger) error {
	path := config.Vault.Secrets.Auth
	if path == "" {
		return nil
	}

	secret, err := client.GetSecretV2(path)
	if err != nil {
		return fmt.Errorf("failed to load auth secrets from vault: %w", err)
	}

	config.Auth.SecretVersion = secret.Version

	applied := 0
	if v := secret.StringValue(VaultKeyRefreshToken); v != "" {
		config.Auth.RefreshToken = v
		applied++
	}
	if v := secret.StringValue(VaultKeyEncryptionKey); v != "" {
		config.Auth.EncryptionKey = v
		applied++
	}
	if v := secret.StringValue(VaultKeyRedisPassword); v != "" {
		config.Auth.Redis.Password = v
		applied++
	}

	if logger != nil {
		if applied == 0 {
			logger.Warn("No auth secrets found in Vault", "path", path)
		} else {
			logger.Info("Auth secrets loaded from Vault", "path", path, "count", applied, "version", secret.Version)
		}
	}
	return nil
}

// loadAPIKeysFromVault loads proxy API keys from Vault
func loadAPIKeysFromVault(client SecretReader, config *Config, logger *errors.Logger) error {
	path := config.Vault.Secrets.APIKeys
	if path == "" {
		return nil
	}

	apiKeys, err := client.GetStringSliceSecret(path, "keys")
	if err != nil {
		return fmt.Errorf("failed to load API keys from vault: %w", err)
	}

	if len(apiKeys) > 0 {
		config.Server.APIKeys = apiKeys
		if logger != nil {
			logger.Info("API keys loaded from Vault", "count", len(apiKeys))
		}
	} else if logger != nil {
		logger.Warn("No API keys found in Vault", "path", path)
	}
	return nil
}

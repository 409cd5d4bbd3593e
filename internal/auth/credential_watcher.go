package auth

import (
	"fmt"
	"sync"
	"time"

	"matchgate/internal/config"
	"matchgate/internal/errors"
)

// SecretSource is the subset of the Vault client the watcher needs.
type SecretSource interface {
	GetSecretV2(path string) (*config.VaultSecret, error)
}

// CredentialCallback receives the refresh credential from a new secret version.
type CredentialCallback func(credential string, err error)

// CredentialWatcher polls the Vault auth secret and hands a rotated refresh
// credential to its callback whenever the secret version increases.
type CredentialWatcher struct {
	mu sync.RWMutex

	source       SecretSource
	secretPath   string
	pollInterval time.Duration
	callback     CredentialCallback
	logger       *errors.Logger

	stopChan    chan struct{}
	running     bool
	lastVersion int64
}

// NewCredentialWatcher creates a watcher. loadedVersion is the secret version
// already applied at startup; only versions above it are reported. Pass 0 to
// have the first poll deliver the current credential.
func NewCredentialWatcher(source SecretSource, secretPath string, loadedVersion int64, pollInterval time.Duration, callback CredentialCallback, logger *errors.Logger) *CredentialWatcher {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	return &CredentialWatcher{
		source:       source,
		secretPath:   secretPath,
		pollInterval: pollInterval,
		callback:     callback,
		logger:       logger,
		stopChan:     make(chan struct{}),
		lastVersion:  loadedVersion,
	}
}

// Start begins polling Vault for secret changes
func (cw *CredentialWatcher) Start() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.running {
		return fmt.Errorf("credential watcher is already running")
	}
	cw.running = true
	go cw.pollLoop()
	if cw.logger != nil {
		cw.logger.Info("Credential watcher started", "secret_path", cw.secretPath, "poll_interval", cw.pollInterval)
	}
	return nil
}

// Stop stops the watcher
func (cw *CredentialWatcher) Stop() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if !cw.running {
		return nil
	}
	close(cw.stopChan)
	cw.running = false
	if cw.logger != nil {
		cw.logger.Info("Credential watcher stopped")
	}
	return nil
}

func (cw *CredentialWatcher) pollLoop() {
	ticker := time.NewTicker(cw.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cw.Poll()
		case <-cw.stopChan:
			return
		}
	}
}

// Poll checks the secret once and fires the callback on a version change.
func (cw *CredentialWatcher) Poll() {
	secret, changed, err := cw.checkForUpdates()
	if err != nil {
		if cw.logger != nil {
			cw.logger.LogError(err, "Failed to check Vault for credential updates")
		}
		cw.callback("", err)
		return
	}
	if !changed {
		return
	}

	credential := secret.StringValue(config.VaultKeyRefreshToken)
	if credential == "" {
		err := fmt.Errorf("secret %s version %d has no %s", cw.secretPath, secret.Version, config.VaultKeyRefreshToken)
		if cw.logger != nil {
			cw.logger.Warn("Rotated secret carries no refresh credential", "version", secret.Version)
		}
		cw.callback("", err)
		return
	}
	if cw.logger != nil {
		cw.logger.Info("Refresh credential rotated in Vault", "version", secret.Version, "masked_value", config.MaskSecret(credential))
	}
	cw.callback(credential, nil)
}

// checkForUpdates reads the secret and reports whether its version moved
func (cw *CredentialWatcher) checkForUpdates() (*config.VaultSecret, bool, error) {
	secret, err := cw.source.GetSecretV2(cw.secretPath)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read secret: %w", err)
	}

	cw.mu.Lock()
	defer cw.mu.Unlock()
	if secret.Version > cw.lastVersion {
		cw.lastVersion = secret.Version
		return secret, true, nil
	}
	return secret, false, nil
}

// Status returns the current status of the watcher for health reporting
func (cw *CredentialWatcher) Status() map[string]any {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return map[string]any{
		"running":       cw.running,
		"poll_interval": cw.pollInterval.String(),
		"secret_path":   cw.secretPath,
		"last_version":  cw.lastVersion,
	}
}

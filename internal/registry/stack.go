package registry

import (
	"context"
	"fmt"

	"matchgate/internal/auth"
	"matchgate/internal/config"
	"matchgate/internal/errors"
	"matchgate/internal/telemetry"
	"matchgate/internal/token"

	"github.com/redis/go-redis/v9"
)

// Stack is everything a command needs, built once from configuration.
type Stack struct {
	Config        *config.Config
	Logger        *errors.Logger
	Observability *telemetry.ObservabilityManager
	Sink          telemetry.Sink
	Store         token.Store
	Refresher     *auth.HTTPRefresher
	Tokens        *auth.Manager
	Session       *auth.Session
	Registry      *Registry

	closers []func(context.Context) error
}

// Option adjusts Build
type Option func(*buildOptions)

type buildOptions struct {
	store     token.Store
	extraSink telemetry.Sink
	telemetry []telemetry.Option
	watch     bool
}

// WithStore replaces the configured token store.
func WithStore(store token.Store) Option {
	return func(o *buildOptions) { o.store = store }
}

// WithExtraSink adds a sink next to the log and OpenTelemetry sinks.
func WithExtraSink(sink telemetry.Sink) Option {
	return func(o *buildOptions) { o.extraSink = sink }
}

// WithTelemetryOptions passes options to the observability manager.
func WithTelemetryOptions(opts ...telemetry.Option) Option {
	return func(o *buildOptions) { o.telemetry = append(o.telemetry, opts...) }
}

// WithWatchers starts the token file and Vault credential watchers. Long
// running processes want them; one-shot commands do not.
func WithWatchers() Option {
	return func(o *buildOptions) { o.watch = true }
}

// Build wires configuration into the full client stack. Close releases what
// it started; a failed Build releases it before returning.
func Build(cfg *config.Config, logger *errors.Logger, version string, opts ...Option) (_ *Stack, err error) {
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}
	if logger == nil {
		logger = errors.Discard()
	}

	s := &Stack{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = s.Close(context.Background())
		}
	}()

	vault, err := config.ApplyVaultSecrets(cfg, logger)
	if err != nil {
		return nil, err
	}

	om, err := telemetry.NewObservabilityManager(telemetry.SettingsFromConfig(cfg, version), bo.telemetry...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}
	s.Observability = om
	s.closers = append(s.closers, om.Shutdown)

	sinks := []telemetry.Sink{telemetry.NewLogSink(logger), bo.extraSink}
	if om.Enabled() {
		sinks = append(sinks, telemetry.NewOTelSink(om))
	}
	s.Sink = telemetry.Multi(sinks...)

	store := bo.store
	if store == nil {
		if store, err = s.openStore(bo.watch); err != nil {
			return nil, err
		}
	}
	s.Store = store

	httpClient, err := auth.NewHTTPClient(nil)
	if err != nil {
		return nil, err
	}
	refreshClient := instrumentedClient(httpClient, om)
	s.Refresher = auth.NewHTTPRefresher(cfg.RefreshURL(), cfg.Auth.RefreshToken, refreshClient, logger)
	s.Tokens = auth.NewManager(store, s.Refresher,
		auth.WithSink(s.Sink),
		auth.WithLogger(logger.With("component", "token_manager")),
		auth.WithRefreshTimeout(cfg.Services.Core.Timeout))

	deps := Deps{
		Logger:        logger,
		Sink:          s.Sink,
		Tokens:        s.Tokens,
		HTTPClient:    httpClient,
		Observability: om,
	}
	s.Registry, err = New(cfg, deps)
	if err != nil {
		return nil, err
	}

	publicDeps := deps
	publicDeps.Tokens = nil
	public, err := NewClient(config.ServiceCore, cfg.Services.Core, publicDeps)
	if err != nil {
		return nil, err
	}
	s.Session = auth.NewSession(public, s.Registry.Core(), s.Tokens, s.Refresher, auth.Paths{
		Login:    cfg.Auth.LoginPath,
		Register: cfg.Auth.RegisterPath,
		Logout:   cfg.Auth.LogoutPath,
	}, logger)

	if bo.watch && vault != nil && cfg.Vault.Watch.Enabled && cfg.Vault.Secrets.Auth != "" {
		s.watchCredential(vault)
	}
	return s, nil
}

// openStore builds the configured token store.
func (s *Stack) openStore(watch bool) (token.Store, error) {
	ac := s.Config.Auth
	switch ac.Store {
	case config.StoreMemory:
		return token.NewMemoryStore(), nil

	case config.StoreRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     ac.Redis.Addr,
			Password: ac.Redis.Password,
			DB:       ac.Redis.DB,
		})
		s.closers = append(s.closers, func(context.Context) error { return rdb.Close() })
		s.Logger.Info("Using redis token store", "addr", ac.Redis.Addr, "profile", ac.Profile)
		return token.NewRedisStore(rdb, ac.Redis.KeyPrefix, ac.Profile), nil

	case config.StoreFile, "":
		fs := token.NewFileStore(ac.TokenFile, ac.EncryptionKey, s.Logger)
		if watch && ac.WatchTokenFile {
			w := token.NewFileWatcher(fs.Path(), fs, 0, nil, s.Logger)
			if err := w.Start(); err != nil {
				s.Logger.LogError(err, "Failed to start token file watcher", "path", fs.Path())
			} else {
				s.closers = append(s.closers, func(context.Context) error { return w.Stop() })
			}
		}
		return fs, nil

	default:
		return nil, errors.NewConfigError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("unknown token store %q", ac.Store), nil)
	}
}

func (s *Stack) watchCredential(vault *config.VaultClient) {
	w := auth.NewCredentialWatcher(vault, s.Config.Vault.Secrets.Auth, s.Config.Auth.SecretVersion, s.Config.Vault.Watch.PollInterval,
		func(credential string, err error) {
			if err != nil {
				return
			}
			s.Refresher.SetCredential(credential)
		}, s.Logger)
	if err := w.Start(); err != nil {
		s.Logger.LogError(err, "Failed to start credential watcher")
		return
	}
	s.closers = append(s.closers, func(context.Context) error { return w.Stop() })
}

// Close stops watchers and flushes telemetry, in reverse start order.
func (s *Stack) Close(ctx context.Context) error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

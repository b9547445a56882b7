package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"warden/api"
	"warden/config"
	"warden/forward"
	"warden/monitor"
	"warden/policy"
	"warden/provenance"
	"warden/quarantine"
	"warden/stream"

	"go.uber.org/zap"
)

// App is the assembled warden service.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Storage    *StorageComponents
	Bus        *stream.Bus
	Registry   *policy.Registry
	Engine     *policy.Engine
	Quarantine *quarantine.Manager
	Monitor    *monitor.Service
	Provenance *provenance.Service
	Forwarder  *forward.Forwarder
	APIServer  *api.API

	apiErrCh chan error
}

// NewApp loads configuration and initializes every component. Nothing
// is started yet; call Start.
func NewApp(ctx context.Context) (*App, error) {
	app := &App{apiErrCh: make(chan error, 1)}

	cfg, err := InitConfig()
	if err != nil {
		return nil, err
	}
	app.Config = cfg

	logger, sugar, err := InitLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar

	sugar.Info("Warden starting...")
	LogConfig(cfg, sugar)

	storageComponents, err := InitStorage(ctx, cfg, sugar)
	if err != nil {
		return nil, err
	}
	app.Storage = storageComponents

	app.Bus = stream.NewBus(sugar)

	app.Registry = policy.NewRegistry(sugar)
	if err := loadPolicies(app.Registry, cfg.Policies.Dir, sugar); err != nil {
		return nil, err
	}
	app.Engine = policy.NewEngine(app.Registry, storageComponents.Events, sugar)

	app.Quarantine = quarantine.NewManager(storageComponents.Quarantines, app.Bus, sugar)
	app.Monitor = monitor.NewService(
		storageComponents.Events, app.Registry, app.Engine, app.Quarantine, app.Bus, sugar)

	keys, err := initKeys(cfg.Provenance.KeyFile, sugar)
	if err != nil {
		return nil, err
	}
	app.Provenance = provenance.NewService(keys, storageComponents.Provenance, storageComponents.Events, sugar)
	for _, chain := range cfg.Provenance.Chains {
		app.Provenance.RegisterSubmitter(chain.ID,
			provenance.NewHTTPSubmitter(chain.ID, chain.Endpoint, chain.APIKey, sugar))
		sugar.Infow("Chain submitter registered", "chain", chain.ID)
	}

	if cfg.Forwarder.Enabled {
		app.Forwarder = forward.NewForwarder(forward.Config{
			Endpoint:      cfg.Forwarder.Endpoint,
			AuthToken:     cfg.Forwarder.AuthToken,
			BatchSize:     cfg.Forwarder.BatchSize,
			FlushInterval: cfg.Forwarder.FlushInterval,
		}, app.Bus, sugar)
	}

	app.APIServer = api.NewAPI(app.Monitor, app.Quarantine, app.Provenance, app.Bus, cfg, sugar)

	return app, nil
}

// Start launches the background loops and the HTTP server.
func (a *App) Start() error {
	a.Monitor.StartAggregation(a.Config.Aggregation.Interval, a.Config.Aggregation.Window)
	a.Sugar.Infow("Aggregation loop started",
		"interval", a.Config.Aggregation.Interval, "window", a.Config.Aggregation.Window)

	if a.Forwarder != nil {
		a.Forwarder.Start()
		a.Sugar.Infow("Forwarder started", "endpoint", a.Config.Forwarder.Endpoint)
	}

	go func() {
		if err := a.APIServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.apiErrCh <- err
		}
	}()

	return nil
}

// WaitForShutdown blocks until SIGINT/SIGTERM or a server failure.
func (a *App) WaitForShutdown() error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-c:
		a.Sugar.Infow("Signal received", "signal", sig.String())
		return nil
	case err := <-a.apiErrCh:
		return fmt.Errorf("api server failed: %w", err)
	}
}

// Shutdown stops components in reverse dependency order.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.APIServer.Stop(ctx); err != nil {
		a.Sugar.Errorw("API shutdown error", "error", err)
	}

	if a.Forwarder != nil {
		a.Forwarder.Stop()
	}

	a.Monitor.Stop()
	a.Bus.Close()

	if err := a.Storage.Close(); err != nil {
		a.Sugar.Errorw("Storage close error", "error", err)
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}

// loadPolicies applies the built-in defaults then any YAML policies
// from dir on top of them.
func loadPolicies(registry *policy.Registry, dir string, sugar *zap.SugaredLogger) error {
	for _, p := range policy.Defaults() {
		if err := registry.Apply(p); err != nil {
			return fmt.Errorf("failed to apply default policy %s: %w", p.ID, err)
		}
	}

	if dir == "" {
		sugar.Infow("Policies loaded", "count", len(registry.List()))
		return nil
	}

	loaded, err := policy.LoadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to load policies from %s: %w", dir, err)
	}
	for _, p := range loaded {
		if err := registry.Apply(p); err != nil {
			return fmt.Errorf("failed to apply policy %s: %w", p.ID, err)
		}
	}
	sugar.Infow("Policies loaded", "count", len(registry.List()), "dir", dir)
	return nil
}

// initKeys loads the signing key from keyFile, generating and
// persisting one on first run. An empty keyFile means an ephemeral
// key: attestation survives only the process lifetime.
func initKeys(keyFile string, sugar *zap.SugaredLogger) (*provenance.KeyPair, error) {
	if keyFile == "" {
		keys, err := provenance.NewKeyPair()
		if err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
		sugar.Warn("No key file configured, using an ephemeral signing key")
		return keys, nil
	}

	keys, err := provenance.LoadKeyPair(keyFile)
	if err == nil {
		sugar.Infow("Signing key loaded", "path", keyFile, "public_key", keys.PublicHex())
		return keys, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	keys, err = provenance.NewKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	if err := keys.WriteKeyPair(keyFile); err != nil {
		return nil, fmt.Errorf("failed to persist signing key: %w", err)
	}
	sugar.Infow("Signing key generated", "path", keyFile, "public_key", keys.PublicHex())
	return keys, nil
}

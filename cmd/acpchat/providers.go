package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/acpchat/internal/acp/runtime"
	"github.com/kandev/acpchat/internal/chat"
	"github.com/kandev/acpchat/internal/chat/sqlstore"
	"github.com/kandev/acpchat/internal/common/config"
	"github.com/kandev/acpchat/internal/common/logger"
	"github.com/kandev/acpchat/internal/db"
	"github.com/kandev/acpchat/internal/events/bus"
	"github.com/kandev/acpchat/internal/metrics"
	"github.com/kandev/acpchat/internal/persona"
)

const requirementsTimeout = 15 * time.Second

// app holds what every command needs: configuration and a logger.
type app struct {
	loader *config.Loader
	cfg    *config.Config
	log    *logger.Logger
}

func loadApp(opts *rootOptions) (*app, error) {
	loader, cfg, err := config.NewLoader(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	logger.SetDefault(log)
	if file := loader.ConfigFile(); file != "" {
		log.Info("configuration loaded", zap.String("file", file))
	}
	return &app{loader: loader, cfg: cfg, log: log}, nil
}

// provideStore opens the chat store selected by store.driver. The cleanup
// closes the database, if any.
func provideStore(cfg config.StoreConfig, log *logger.Logger, listeners ...chat.Listener) (chat.Store, func() error, error) {
	triggers := chat.NewTriggers()
	switch cfg.Driver {
	case "", "memory":
		return chat.NewMemoryStore(triggers, listeners...), func() error { return nil }, nil
	case "sqlite", "postgres":
		pool, err := db.Open(db.Config{
			Driver:   cfg.Driver,
			Path:     cfg.Path,
			DSN:      cfg.DSN,
			MaxConns: cfg.MaxConns,
			MinConns: cfg.MinConns,
		}, log)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
		}
		store, err := sqlstore.New(pool, triggers, listeners...)
		if err != nil {
			_ = pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}

// provideAdapters builds the configured adapters and keeps the ones whose
// requirements are met. Unmet requirements are logged, not fatal.
func provideAdapters(ctx context.Context, cfg *config.Config, log *logger.Logger) ([]persona.Adapter, error) {
	all, err := persona.NewAdapters(cfg.Agents)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, requirementsTimeout)
	defer cancel()
	usable, unmet := persona.Available(ctx, all)
	for agentType, reason := range unmet {
		log.Warn("agent unavailable", zap.String("agent_type", agentType), zap.Error(reason))
	}
	if len(usable) == 0 {
		log.Warn("no agents available; messages will not be answered")
	}
	return usable, nil
}

func newRegistry(cfg *config.Config, eb bus.EventBus, m *metrics.Metrics, log *logger.Logger) *runtime.Registry {
	return runtime.NewRegistry(runtime.Options{
		Cwd:           cfg.Runtime.Cwd,
		ClientName:    cfg.Runtime.ClientName,
		ClientVersion: cfg.Runtime.ClientVersion,
		Bus:           eb,
		Metrics:       m,
		Logger:        log,
	})
}

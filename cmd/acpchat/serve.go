package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kandev/acpchat/internal/common/config"
	"github.com/kandev/acpchat/internal/events"
	"github.com/kandev/acpchat/internal/gateway"
	"github.com/kandev/acpchat/internal/gateway/handlers"
	"github.com/kandev/acpchat/internal/metrics"
	"github.com/kandev/acpchat/internal/persona"
	"github.com/kandev/acpchat/internal/tracing"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(root)
			if err != nil {
				return err
			}
			defer func() { _ = a.log.Sync() }()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	cfg, log := a.cfg, a.log
	log.Info("starting acpchat", zap.String("addr", cfg.Server.Addr()))

	a.loader.Watch(func(next *config.Config, err error) {
		if err != nil {
			log.Warn("ignoring invalid configuration change", zap.Error(err))
			return
		}
		if next.Logging.Level != log.Level() {
			log.SetLevel(next.Logging.Level)
			log.Info("log level changed", zap.String("level", next.Logging.Level))
		}
	})

	provided, closeBus, err := events.Provide(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = closeBus() }()

	store, closeStore, err := provideStore(cfg.Store, log, events.ChatListener(provided.Bus, log))
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	var m *metrics.Metrics
	if cfg.Server.MetricsEnabled {
		m = metrics.New()
	}

	adapters, err := provideAdapters(ctx, cfg, log)
	if err != nil {
		return err
	}
	registry := newRegistry(cfg, provided.Bus, m, log)
	rooms := persona.NewRooms(adapters, cfg.Runtime.DefaultAgent, store, registry, log)
	ctrl := handlers.NewController(store, rooms, registry, log)

	gin.SetMode(gin.ReleaseMode)
	router, gw := gateway.New(gateway.Options{
		Bus:        provided.Bus,
		Controller: ctrl,
		Metrics:    m,
		Logger:     log,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeoutDuration(),
		ReadTimeout:       cfg.Server.ReadTimeoutDuration(),
		WriteTimeout:      cfg.Server.WriteTimeoutDuration(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		gw.Hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http server shutdown", zap.Error(err))
		}
		if err := rooms.Shutdown(shutdownCtx); err != nil {
			log.Warn("room shutdown", zap.Error(err))
		}
		if err := registry.Close(shutdownCtx); err != nil {
			log.Warn("agent shutdown", zap.Error(err))
		}
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.Debug("tracing shutdown", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("acpchat stopped")
	return nil
}

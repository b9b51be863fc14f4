package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fayedaihall/tesseracts-world/config"
	"github.com/fayedaihall/tesseracts-world/core/events"
	"github.com/fayedaihall/tesseracts-world/gateway"
	"github.com/fayedaihall/tesseracts-world/gateway/middleware"
	"github.com/fayedaihall/tesseracts-world/gateway/webhooks"
	"github.com/fayedaihall/tesseracts-world/native/escrow"
	"github.com/fayedaihall/tesseracts-world/observability/logging"
	"github.com/fayedaihall/tesseracts-world/observability/otel"
	"github.com/fayedaihall/tesseracts-world/storage"
)

func main() {
	configPath := flag.String("config", "escrowd.toml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Setup("escrowd", "boot", "info").Error("load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup("escrowd", cfg.Environment, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, otel.Config{
		ServiceName: "escrowd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     otel.ParseHeaders(cfg.Telemetry.Headers),
	})
	if err != nil {
		logger.Error("init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()

	store, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Error("open storage", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}

	bus := events.NewBus()
	defer bus.Close()

	engine := escrow.NewEngine(store)
	engine.SetEmitter(bus)

	dispatcherDone := make(chan struct{})
	if len(cfg.Webhooks.Endpoints) > 0 {
		journal, err := webhooks.OpenJournal(cfg.Webhooks.JournalPath)
		if err != nil {
			logger.Error("open webhook journal", "path", cfg.Webhooks.JournalPath, "error", err)
			os.Exit(1)
		}
		defer journal.Close()

		endpoints := make([]webhooks.Endpoint, 0, len(cfg.Webhooks.Endpoints))
		for _, endpoint := range cfg.Webhooks.Endpoints {
			endpoints = append(endpoints, webhooks.Endpoint{
				Name:   endpoint.Name,
				URL:    endpoint.URL,
				Secret: endpoint.Secret,
			})
		}
		dispatcher := webhooks.NewDispatcher(journal, endpoints, logger)
		subscription := bus.Subscribe(events.DefaultSubscriberBuffer)
		go func() {
			defer close(dispatcherDone)
			dispatcher.Run(ctx, subscription)
		}()
	} else {
		close(dispatcherDone)
	}

	secret := cfg.ResolveAuthSecret()
	if secret == "" {
		logger.Error("auth secret not configured", "env", cfg.Auth.SecretEnv)
		os.Exit(1)
	}

	srv := gateway.New(gateway.Config{
		Registry: engine,
		Auth: middleware.AuthConfig{
			HMACSecret: secret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		},
		RateLimit: middleware.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		Logger: logger,
		Health: func(ctx context.Context) error {
			return store.View(ctx, func(escrow.State) error { return nil })
		},
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("escrowd listening", "addr", cfg.ListenAddress, "driver", cfg.Database.Driver)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	stop()
	select {
	case <-dispatcherDone:
	case <-time.After(5 * time.Second):
		logger.Warn("webhook dispatcher did not stop in time")
	}
}

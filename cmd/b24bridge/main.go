package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	bitrixadapter "github.com/ericfisherdev/b24bridge/internal/adapter/driven/bitrix"
	postgresadapter "github.com/ericfisherdev/b24bridge/internal/adapter/driven/postgres"
	sqliteadapter "github.com/ericfisherdev/b24bridge/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/b24bridge/internal/adapter/driving/http"
	"github.com/ericfisherdev/b24bridge/internal/application"
	"github.com/ericfisherdev/b24bridge/internal/config"
	"github.com/ericfisherdev/b24bridge/internal/domain/port/driven"
	"github.com/ericfisherdev/b24bridge/internal/obs"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_driver", cfg.DBDriver,
		"rate_limit", cfg.RateLimit,
		"rate_burst", cfg.RateBurst,
		"api_key_set", cfg.APIKey != "",
	)
	if cfg.AppBaseURL != "" {
		base := strings.TrimSuffix(cfg.AppBaseURL, "/")
		slog.Info("bitrix24 application handlers",
			"install_url", base+"/bitrix/install",
			"event_url", base+"/bitrix/events",
		)
	}

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open and migrate the portal store.
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := closeStore(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	// 4. Metrics registry.
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	obs.Register(registry)

	// 5. Wire Bitrix24 adapters.
	transport := bitrixadapter.NewTransport(bitrixadapter.TransportConfig{
		Timeout:   cfg.HTTPTimeout,
		RateLimit: cfg.RateLimit,
		Burst:     cfg.RateBurst,
		UserAgent: "b24bridge",
	}, logger)
	oauth := bitrixadapter.NewOAuthClient(transport, bitrixadapter.OAuthConfig{
		TokenURL:     cfg.OAuthURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	})

	// 6. Application services.
	portals := application.NewPortalService(store, logger)
	tokens := application.NewTokenManager(oauth, portals, logger)
	client := application.NewClient(transport, tokens, logger)
	install := application.NewInstallService(portals, logger)

	// 7. HTTP server.
	handler := httphandler.NewServeMux(
		httphandler.NewHandler(portals, install, client, cfg.APIKey, logger),
		obs.Handler(registry),
		logger,
	)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Large batches and list walks span many upstream requests.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	slog.Info("b24bridge started", "listen_addr", cfg.ListenAddr)

	// 8. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// openStore opens the configured database, applies migrations and returns the
// portal store with its close function.
func openStore(ctx context.Context, cfg *config.Config) (driven.PortalStore, func() error, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		db, err := postgresadapter.Open(ctx, cfg.DBDSN)
		if err != nil {
			return nil, nil, err
		}
		version, err := postgresadapter.RunMigrations(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		slog.Info("database opened", "driver", cfg.DBDriver, "schema_version", version)
		return postgresadapter.NewPortalRepo(db), db.Close, nil

	case config.DriverSQLite:
		// Dual reader/writer with WAL mode.
		db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		version, err := sqliteadapter.RunMigrations(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		slog.Info("database opened", "driver", cfg.DBDriver, "path", db.Path(), "schema_version", version)
		return sqliteadapter.NewPortalRepo(db), db.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.DBDriver)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/studiopanel/internal/adapter/driven/postgrest"
	sqliteadapter "github.com/ericfisherdev/studiopanel/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/studiopanel/internal/adapter/driving/http"
	webhandler "github.com/ericfisherdev/studiopanel/internal/adapter/driving/web"
	"github.com/ericfisherdev/studiopanel/internal/application"
	"github.com/ericfisherdev/studiopanel/internal/config"
	"github.com/ericfisherdev/studiopanel/internal/domain/port/driven"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on invalid env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"sync_interval", cfg.SyncInterval,
		"remote_timeout", cfg.RemoteTimeout,
		"remote_retries", cfg.RemoteRetries,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open the local cache database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	version, err := sqliteadapter.RunMigrations(db.Writer)
	if err != nil {
		return err
	}
	slog.Info("migrations complete", "version", version)

	// 5. Wire driven adapters.
	cacheStore := sqliteadapter.NewCacheRepo(db)
	userStore := sqliteadapter.NewUserRepo(db)
	credentialStore, err := sqliteadapter.NewCredentialRepo(db, cfg.SecretKey)
	if err != nil {
		return err
	}
	if cfg.SecretKey == nil {
		slog.Warn("STUDIOPANEL_SECRET_KEY not set, credentials cannot be saved from the settings page")
	}

	// 6. Create the remote store (nil when no credentials are configured).
	// Stored credentials take priority over env vars.
	remoteURL, remoteKey := cfg.RemoteURL, cfg.RemoteKey
	if storedURL, err := credentialStore.Get(ctx, driven.CredentialRemoteURL); err == nil && storedURL != "" {
		remoteURL = storedURL
	}
	if storedKey, err := credentialStore.Get(ctx, driven.CredentialRemoteKey); err == nil && storedKey != "" {
		remoteKey = storedKey
	}

	var remote driven.RemoteStore
	if remoteURL != "" && remoteKey != "" {
		client, err := postgrest.NewClient(remoteURL, remoteKey)
		if err != nil {
			return err
		}
		remote = client
		slog.Info("remote store configured", "url", client.BaseURL())
	} else {
		slog.Info("no remote store configured, working from the local cache until credentials are provided via GUI")
	}

	// 6b. Create RemoteProvider for hot-swap.
	provider := application.NewRemoteProvider(remote, remoteURL)

	// 7. Register one reconciler per studio collection.
	opts := application.DefaultReconcilerOptions()
	opts.Timeout = cfg.RemoteTimeout
	opts.MaxRetries = cfg.RemoteRetries

	registry := application.NewRegistry(provider, cacheStore, opts)
	for _, coll := range application.StudioCollections(cfg.OwnerID) {
		if _, err := registry.Register(coll); err != nil {
			return err
		}
	}

	// 7b. Create and start the sync service.
	syncSvc := application.NewSyncService(registry, cfg.SyncInterval)
	go syncSvc.Start(ctx)

	// 7c. Create studio, health and auth services.
	studioSvc := application.NewStudioService(registry)
	healthSvc := application.NewSyncHealthService(registry)
	authSvc := application.NewAuthService(userStore, application.DefaultSessionTTL)
	if err := authSvc.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		return err
	}

	// 7.5. Create HTTP handler and register API routes.
	apiHandler := httphandler.NewHandler(registry, studioSvc, syncSvc, healthSvc, authSvc, slog.Default())
	mux := http.NewServeMux()
	httphandler.RegisterRoutes(mux, apiHandler)

	// 7.6. Create web handler and register GUI routes.
	webHandler := webhandler.NewHandler(registry, studioSvc, healthSvc, syncSvc, authSvc, credentialStore, connectRemote, slog.Default())
	webhandler.RegisterRoutes(mux, webHandler)

	// Apply middleware.
	handler := httphandler.ApplyMiddleware(mux, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	// 8. Log startup complete.
	slog.Info("studiopanel started",
		"listen_addr", cfg.ListenAddr,
		"sync_interval", cfg.SyncInterval,
		"remote_configured", remote != nil,
	)

	// 9. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 10. Graceful shutdown with 10s timeout for in-flight requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	// 11. Log shutdown complete.
	slog.Info("shutdown complete")
	return nil
}

// connectRemote builds a client for the settings page and checks it answers.
func connectRemote(ctx context.Context, remoteURL, apiKey string) (driven.RemoteStore, error) {
	client, err := postgrest.NewClient(remoteURL, apiKey)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("check remote store: %w", err)
	}
	return client, nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"moonwatch/internal/api"
	"moonwatch/internal/auth"
	"moonwatch/internal/config"
	"moonwatch/internal/db"
	"moonwatch/internal/esi"
	"moonwatch/internal/logger"
	"moonwatch/internal/reconcile"
	"moonwatch/internal/scheduler"
	"moonwatch/internal/value"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "moonwatch.toml", "optional TOML config overlay")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	flag.Parse()

	logger.Banner(version)

	database, err := db.Open()
	if err != nil {
		logger.Error("DB", fmt.Sprintf("Failed to open database: %v", err))
		os.Exit(1)
	}
	defer database.Close()

	// Config layering: SQLite-stored values, then the TOML file, then env.
	cfg := database.LoadConfig()
	if err := config.LoadFile(*configPath, cfg); err != nil {
		logger.Error("Config", fmt.Sprintf("Failed to load %s: %v", *configPath, err))
		os.Exit(1)
	}
	cfg.SSOClientID = envOrDefault("ESI_CLIENT_ID", cfg.SSOClientID)
	cfg.SSOClientSecret = envOrDefault("ESI_CLIENT_SECRET", cfg.SSOClientSecret)
	cfg.SSOCallbackURL = envOrDefault("ESI_CALLBACK_URL", cfg.SSOCallbackURL)
	if *port != 0 {
		cfg.HTTPPort = *port
	}

	esiClient := esi.NewClient(database)
	if !esiClient.HealthCheck(context.Background()) {
		logger.Warn("ESI", "Health check failed, continuing anyway")
	}

	var ssoConfig *auth.SSOConfig
	if cfg.SSOClientID != "" {
		ssoConfig = &auth.SSOConfig{
			ClientID:     cfg.SSOClientID,
			ClientSecret: cfg.SSOClientSecret,
			CallbackURL:  cfg.SSOCallbackURL,
			Scopes:       auth.CharacterScopes,
		}
	} else {
		logger.Warn("Auth", "ESI_CLIENT_ID not set, character enrollment disabled")
	}
	sessions := auth.NewSessionStore(database.SqlDB())

	engine := &reconcile.Engine{
		DB:     database,
		Remote: esiClient,
		Tokens: tokenSource{sessions: sessions, sso: ssoConfig},
		Notify: &reconcile.StoreNotifier{DB: database},
	}

	sched := scheduler.New(engine, cfg.Workers, cfg.ImportInterval(), cfg.ObserverInterval())
	engine.Queue = sched

	var valuer *value.Valuer
	if cfg.MaterialFeedURL != "" {
		valuer = value.New(database, esiClient, cfg.MaterialFeedURL)
		go func() {
			ctx := context.Background()
			if err := valuer.RefreshMaterials(ctx); err != nil {
				logger.Warn("Value", fmt.Sprintf("Material refresh: %v", err))
			}
			if err := valuer.RefreshOreTypes(ctx); err != nil {
				logger.Warn("Value", fmt.Sprintf("Type refresh: %v", err))
			}
			if err := valuer.RefreshPrices(ctx); err != nil {
				logger.Warn("Value", fmt.Sprintf("Price refresh: %v", err))
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)

	srv := api.NewServer(cfg, esiClient, database, ssoConfig, sessions, sched, valuer)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", cfg.HTTPPort),
		Handler: srv.Handler(),
	}

	go func() {
		logger.Server(httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server", fmt.Sprintf("Failed: %v", err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
		logger.Info("Server", "Shutting down")
	case <-ctx.Done():
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	sched.Stop()
}

// tokenSource adapts the session store to the engine's TokenSource.
type tokenSource struct {
	sessions *auth.SessionStore
	sso      *auth.SSOConfig
}

func (t tokenSource) Token(characterID int64) (string, error) {
	return t.sessions.EnsureValidToken(t.sso, characterID)
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

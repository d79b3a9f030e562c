package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"notepush/internal/api"
	"notepush/internal/apns"
	"notepush/internal/config"
	"notepush/internal/filter"
	"notepush/internal/pipeline"
	"notepush/internal/relay"
	"notepush/internal/relayserver"
	"notepush/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	pushClient, err := apns.NewClient(log, apns.Config{
		KeyPath:     cfg.APNSKeyPath,
		KeyID:       cfg.APNSKeyID,
		TeamID:      cfg.AppleTeamID,
		Topic:       cfg.APNSTopic,
		Environment: cfg.APNSEnvironment,
	})
	if err != nil {
		log.Error("create push client", "error", err)
		os.Exit(1)
	}

	querier := relay.NewClient(log, cfg.RelayURL, cfg.RelayFetchTimeout)
	mutes := relay.NewMuteLists(log, querier, cfg.MuteListTTL, cfg.CacheCapacity)
	contacts := relay.NewContactLists(querier, cfg.MuteListTTL, cfg.CacheCapacity)

	cascade := filter.NewCascade(store, mutes, cfg.NotifiableKinds)
	pipe := pipeline.New(log, store, cascade, contacts, pushClient, pipeline.Options{
		DispatchConcurrency: int64(cfg.DispatchConcurrency),
		SendTimeout:         cfg.SendTimeout,
		MaxEventAge:         cfg.EventMaxAge,
	})

	relaySrv := relayserver.NewServer(log, pipe)
	apiSrv := api.NewServer(log, store, cfg.APIBaseURL)
	apiRouter := apiSrv.Router()

	mux := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			relaySrv.ServeHTTP(w, r)
			return
		}
		apiRouter.ServeHTTP(w, r)
	})

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown server", "error", err)
		}
	}()

	log.Info("starting notepush", "addr", cfg.Addr(), "relay", cfg.RelayURL, "environment", cfg.APNSEnvironment)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}

	log.Info("notepush stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

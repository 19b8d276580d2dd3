package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/bishwajit-sharma101/AstrixChat/internal/auth"
	"github.com/bishwajit-sharma101/AstrixChat/internal/config"
	"github.com/bishwajit-sharma101/AstrixChat/internal/db"
	"github.com/bishwajit-sharma101/AstrixChat/internal/presence"
	"github.com/bishwajit-sharma101/AstrixChat/internal/protocol"
	"github.com/bishwajit-sharma101/AstrixChat/internal/ratelimit"
	"github.com/bishwajit-sharma101/AstrixChat/internal/translate"
	"github.com/bishwajit-sharma101/AstrixChat/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	conn, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}

	store := db.NewStore(conn, logger)
	defer store.Close()

	hub := server.NewHub(logger)
	go hub.Run()

	registry := presence.NewRegistry(func(online []string) {
		hub.BroadcastEnvelope(protocol.TypeOnlineUsers, protocol.OnlineUsersMessage{UserIDs: online})
	})

	translator := translate.NewClient(cfg.TranslateBaseURL, cfg.TranslateTimeout)
	worker := server.NewTranslationWorker(store, translator, cfg.WorkerQueueSize, cfg.TranslateTimeout, logger)
	go worker.Run()

	limiter := ratelimit.NewLimiter(cfg.RateLimitWindow, cfg.RateLimitMax)
	engine := server.NewEngine(store, registry, limiter, worker, cfg.DefaultLanguage, logger)
	verifier := auth.NewVerifier(cfg.JWTSecret)

	srv := server.NewServer(hub, registry, engine, verifier, store, limiter,
		cfg.UpgradeRPS, cfg.UpgradeBurst, cfg.HistoryPageSize, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.HandleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown error", "error", err)
		}
		worker.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

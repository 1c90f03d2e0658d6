package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/roastlive/roastlive/internal/cache"
	"github.com/roastlive/roastlive/internal/catalog"
	"github.com/roastlive/roastlive/internal/config"
	"github.com/roastlive/roastlive/internal/effects"
	"github.com/roastlive/roastlive/internal/perf"
	"github.com/roastlive/roastlive/internal/server"
	"github.com/roastlive/roastlive/internal/session"
	"github.com/roastlive/roastlive/internal/store"
)

// battleLifecycle receives match-end notifications from final-blow behaviors.
// The real battle service consumes these through its own API; the engine only
// needs to hand the signal over.
type battleLifecycle struct {
	logger *slog.Logger
}

func (b *battleLifecycle) NotifyBattleEnded(matchID string) {
	b.logger.Info("battle ended by final blow", "match", matchID)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect db", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := cache.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Error("connect redis", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	cat := catalog.Default()
	if cfg.CatalogPath != "" {
		cat, err = catalog.Load(cfg.CatalogPath)
		if err != nil {
			logger.Error("load gift catalog", "path", cfg.CatalogPath, "err", err)
			os.Exit(1)
		}
	}
	logger.Info("gift catalog loaded", "gifts", cat.Size())

	gifts := store.NewBattleGiftStore(db)

	sessions := session.NewManager(session.Deps{
		Catalog: cat,
		Provider: func(sessionID string) effects.PlaybackProvider {
			return effects.NewNopProvider(logger.With("session", sessionID))
		},
		AudioBus: func(sessionID string) effects.AudioBus {
			l := logger.With("session", sessionID)
			return effects.BusFunc(func(gain float64) {
				l.Debug("bus gain", "gain", gain)
			})
		},
		Recorder:     gifts,
		Lifecycle:    &battleLifecycle{logger: logger},
		Cache:        rdb,
		Logger:       logger,
		GiftInterval: cfg.GiftMinInterval,
	})

	metrics := server.NewMetrics()
	hub := server.NewHub(logger, metrics)
	srv := server.New(cfg, db, rdb, sessions, hub, metrics, logger)

	// Load watcher toggles the drop-all-new fallback across every session.
	perfStop := make(chan struct{})
	feed := perf.NewRuntimeFeed(cfg.PerfHeapLimitMB, cfg.PerfMaxGoroutines)
	go sessions.WatchLoad(perfStop, feed, cfg.PerfHighWater, cfg.PerfLowWater)

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	close(perfStop)
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("shutdown", "err", err)
	}
	sessions.CloseAll(shutCtx)
}

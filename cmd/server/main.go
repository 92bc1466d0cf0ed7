package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/hongminglow/all-in-floor/internal/auth"
	"github.com/hongminglow/all-in-floor/internal/config"
	"github.com/hongminglow/all-in-floor/internal/ledger"
	"github.com/hongminglow/all-in-floor/internal/live"
	"github.com/hongminglow/all-in-floor/internal/notify"
	"github.com/hongminglow/all-in-floor/internal/server"
	"github.com/hongminglow/all-in-floor/internal/storage/backend"
)

func main() {
	loadLocalEnv()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := backend.Open(ctx, cfg.StorageDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	hub := live.NewHub(tokens, cfg.CORSOrigins, logger)
	defer hub.Close()

	publishers := notify.Fanout{hub}
	if len(cfg.KafkaBrokers) > 0 {
		kafka := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer closeQuietly(logger, "kafka", kafka.Close)
		publishers = append(publishers, kafka)
		logger.Info("publishing balance events to kafka", "topic", cfg.KafkaTopic)
	}
	if cfg.RedisAddr != "" {
		redis, err := notify.NewRedisPublisher(ctx, cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			logger.Warn("redis unavailable; balance events will not be published there", "error", err)
		} else {
			defer closeQuietly(logger, "redis", redis.Close)
			publishers = append(publishers, redis)
			logger.Info("publishing balance events to redis", "channel", cfg.RedisChannel)
		}
	}

	engine := ledger.NewEngine(store, publishers, logger, ledger.Options{
		AllowOverdraft: cfg.AllowOverdraft,
		Timeout:        cfg.AdjustTimeout,
	})

	srv := server.New(cfg, server.Deps{
		Store:  store,
		Ledger: engine,
		Tokens: tokens,
		Hub:    hub,
		Logger: logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("ALL-IN floor listening", "addr", cfg.HTTPAddress(), "storage", cfg.StorageDriver)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		hub.Close()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func closeQuietly(logger *slog.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Warn("close publisher", "publisher", name, "error", err)
	}
}

func loadLocalEnv() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found; relying on existing environment")
	}
}

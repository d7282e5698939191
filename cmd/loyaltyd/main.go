// loyaltyd serves the loyalty engine over HTTP.
//
// One binary covers the whole topology: role "both" applies transfers
// against its own store and answers bus requests, role "api" serves HTTP
// and delegates transfers to a remote authority over the bus, and role
// "authority" is that remote side. Configuration comes from a YAML file
// (-config) with LOYALTY_* environment overrides.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/loyalty"
	"github.com/xraph/loyalty/bus"
	busmem "github.com/xraph/loyalty/bus/memory"
	busredis "github.com/xraph/loyalty/bus/redis"
	"github.com/xraph/loyalty/httpapi"
	"github.com/xraph/loyalty/idempotency"
	idemmem "github.com/xraph/loyalty/idempotency/memory"
	idemredis "github.com/xraph/loyalty/idempotency/redis"
	"github.com/xraph/loyalty/store"
	"github.com/xraph/loyalty/store/memory"
	"github.com/xraph/loyalty/store/mongo"
	"github.com/xraph/loyalty/store/postgres"
	"github.com/xraph/loyalty/store/sqlite"
	"github.com/xraph/loyalty/webhook"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("loyaltyd failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *Config, logger *slog.Logger) error {
	ctx := context.Background()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	transport := openTransport(cfg.Bus)
	defer func() {
		if err := transport.Close(); err != nil {
			logger.Error("transport close failed", "error", err)
		}
	}()

	opts := []loyalty.Option{
		loyalty.WithLogger(logger),
	}

	// Only nodes serving the merchant surface gate mutations behind
	// idempotency keys; the authority dedups transfers by reference id.
	if cfg.Role != RoleAuthority {
		keeper := idempotency.NewKeeper(openKeeperStore(cfg.Idempotency),
			idempotency.WithLogger(logger),
			idempotency.WithRetention(cfg.Idempotency.Retention.Std()),
		)
		opts = append(opts, loyalty.WithIdempotency(keeper))
	}

	// Transfers apply wherever the ledger authority lives, and webhooks
	// fire from the applying side, so api-role processes carry neither.
	if cfg.Role == RoleAPI {
		b := bus.New(transport,
			bus.WithLogger(logger),
			bus.WithTimeout(cfg.Bus.RequestTimeout.Std()),
		)
		if err := b.Start(ctx); err != nil {
			return fmt.Errorf("start bus: %w", err)
		}
		defer b.Close()

		opts = append(opts, loyalty.WithTransactor(loyalty.NewDelegatedTransactor(b)))
	} else {
		dispatcher := webhook.NewDispatcher(st,
			webhook.WithLogger(logger),
			webhook.WithMaxAttempts(cfg.Webhook.MaxAttempts),
			webhook.WithRetryDelay(cfg.Webhook.RetryDelay.Std()),
		)
		defer dispatcher.Close()

		opts = append(opts, loyalty.WithWebhooks(dispatcher))
	}

	eng := loyalty.New(st, opts...)
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer func() {
		if err := eng.Stop(); err != nil {
			logger.Error("engine stop failed", "error", err)
		}
	}()

	if cfg.Role == RoleAuthority || cfg.Role == RoleBoth {
		responder := bus.NewResponder(transport,
			bus.WithResponderLogger(logger),
			bus.WithErrorMapper(loyalty.MapError),
		)
		loyalty.ServeTransfers(responder, eng)
		if err := responder.Start(ctx); err != nil {
			return fmt.Errorf("start responder: %w", err)
		}
		defer responder.Close()
	}

	api := httpapi.NewHandler(eng, httpapi.WithLogger(logger))

	// Authority nodes expose only liveness; the merchant surface lives on
	// api/both nodes sharing the same store.
	var root http.Handler
	if cfg.Role == RoleAuthority {
		r := chi.NewRouter()
		r.Get("/healthz", api.Health)
		root = r
	} else {
		root = api.Router()
	}

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      root,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("loyaltyd listening",
			"addr", cfg.Addr,
			"role", cfg.Role,
			"store", cfg.Store.Kind,
			"bus", cfg.Bus.Kind,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case sig := <-done:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg StoreConfig) (store.Store, error) {
	switch cfg.Kind {
	case "postgres":
		return postgres.Open(cfg.DSN)
	case "sqlite":
		return sqlite.Open(cfg.Path)
	case "mongo":
		return mongo.Open(ctx, cfg.URI, cfg.Database)
	default:
		return memory.New(), nil
	}
}

func openTransport(cfg BusConfig) bus.Transport {
	if cfg.Kind == "redis" {
		return busredis.New(goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr}))
	}
	return busmem.New()
}

func openKeeperStore(cfg IdempotencyConfig) idempotency.Store {
	if cfg.Kind == "redis" {
		return idemredis.New(goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr}))
	}
	return idemmem.New()
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/punchamoorthee/otaledger/internal/api"
	"github.com/punchamoorthee/otaledger/internal/config"
	"github.com/punchamoorthee/otaledger/internal/events"
	"github.com/punchamoorthee/otaledger/internal/keylock"
	"github.com/punchamoorthee/otaledger/internal/logging"
	"github.com/punchamoorthee/otaledger/internal/service"
	"github.com/punchamoorthee/otaledger/internal/snapshot"
	"github.com/punchamoorthee/otaledger/internal/store"
)

type persister interface {
	Load(ctx context.Context) (*snapshot.State, error)
	Save(ctx context.Context, state *snapshot.State) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithFutureStockDays(cfg.FutureStockDays),
	}

	if cfg.LockBackend == "redis" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("Unable to reach redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		opts = append(opts, service.WithLocker(keylock.NewRedis(rdb, cfg.LockTTL, logger)))
	}

	if cfg.AMQPURL != "" {
		pub, err := events.Dial(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Fatal("Unable to connect to broker", zap.Error(err))
		}
		defer pub.Close()
		opts = append(opts, service.WithSink(pub))
	}

	var persist persister = store.Dir(cfg.SnapshotDir)
	if cfg.DBSource != "" {
		pg, err := store.NewStore(ctx, cfg.DBSource, logger)
		if err != nil {
			logger.Fatal("Unable to connect to database", zap.Error(err))
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("Migration failed", zap.Error(err))
		}
		persist = pg
	} else if cfg.SnapshotDir == "" {
		persist = nil
	}

	ledger := service.New(opts...)
	defer ledger.Close()
	if persist != nil {
		state, err := persist.Load(ctx)
		if err != nil {
			logger.Fatal("Unable to load snapshot", zap.Error(err))
		}
		ledger.Hydrate(state)
		logger.Info("Ledger hydrated", zap.Int("inventory", len(state.Inventory)), zap.Int("orders", len(state.Orders)))
	}

	var p api.Persister
	if persist != nil {
		p = persist
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(api.NewHandler(ledger, p, logger)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Server starting", zap.String("port", cfg.Port), zap.String("locks", cfg.LockBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
	if persist != nil {
		if err := persist.Save(shutdownCtx, ledger.Snapshot()); err != nil {
			logger.Error("Final snapshot failed", zap.Error(err))
		}
	}
}

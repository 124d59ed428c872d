/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave ledger server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load config (.env, then LEAVE_* environment), apply flag overrides
  2. Build the logger
  3. Open the store (sqlite, postgres or memory)
  4. Pick the locker (Redis when LEAVE_REDIS_ADDR is set, in-process otherwise)
  5. Pick the publisher (Kafka when LEAVE_KAFKA_BROKERS is set, no-op otherwise)
  6. Build the ledgers and the API handler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides LEAVE_PORT)
  -db      SQLite database path (overrides LEAVE_SQLITE_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (LEAVE_SHUTDOWN_TIMEOUT)
  3. Close the publisher, the Redis client and the database
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/leave.db"

  # Run against PostgreSQL with a shared Redis lock
  LEAVE_STORE=postgres LEAVE_DATABASE_URL=postgres://... LEAVE_REDIS_ADDR=localhost:6379 ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
*/
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

	"github.com/redis/go-redis/v9"
	"github.com/warp/leave-ledger/api"
	"github.com/warp/leave-ledger/config"
	"github.com/warp/leave-ledger/events/kafka"
	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/leave"
	"github.com/warp/leave-ledger/logging"
	"github.com/warp/leave-ledger/reservation"
	"github.com/warp/leave-ledger/stock"
	"github.com/warp/leave-ledger/store/memory"
	"github.com/warp/leave-ledger/store/postgres"
	"github.com/warp/leave-ledger/store/redislock"
	"github.com/warp/leave-ledger/store/sqlite"
)

// stores bundles the three stores and how to close them.
type stores struct {
	leaves   leave.Store
	stock    stock.Store
	bookings reservation.Store
	close    func()
}

func main() {
	port := flag.Int("port", 0, "HTTP server port (overrides LEAVE_PORT)")
	dbPath := flag.String("db", "", "SQLite database path (overrides LEAVE_SQLITE_PATH)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.SQLitePath = *dbPath
	}

	logger := logging.New(cfg.Env, cfg.LogLevel, cfg.LogFormat, os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	var locker generic.Locker = generic.NewKeyedMutex()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		locker = redislock.New(client)
		logger.Info("using redis locker", "addr", cfg.RedisAddr)
	}

	var publisher leave.Publisher = leave.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := kp.Close(); err != nil {
				logger.Warn("failed to close kafka publisher", "error", err)
			}
		}()
		publisher = kp
		logger.Info("publishing events to kafka", "topic", cfg.KafkaTopic)
	}

	handler := &api.Handler{
		Leaves: st.leaves,
		Ledger: leave.NewLedger(st.leaves,
			leave.WithLocker(locker),
			leave.WithPublisher(publisher),
			leave.WithLogger(logger),
			leave.WithMaxRetries(cfg.MaxRetries),
		),
		Stock:              st.stock,
		StockLedger:        stock.NewLedger(st.stock, locker, logger),
		Bookings:           st.bookings,
		Reservations:       reservation.NewService(st.bookings, locker, logger),
		DefaultEntitlement: cfg.DefaultEntitlement,
		Logger:             logger,
	}

	router := api.NewRouter(handler, api.RouterOptions{
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      cfg.RateLimit,
		RateBurst:      cfg.RateBurst,
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "store", cfg.Store, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (stores, error) {
	switch cfg.Store {
	case config.StorePostgres:
		pg, err := postgres.New(ctx, postgres.Config{URL: cfg.DatabaseURL})
		if err != nil {
			return stores{}, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return stores{}, err
		}
		logger.Info("using postgres store")
		return stores{leaves: pg, stock: pg.Stock(), bookings: pg.Bookings(), close: pg.Close}, nil

	case config.StoreMemory:
		logger.Warn("using in-memory store, data is lost on exit")
		return stores{
			leaves:   memory.NewLeaveStore(),
			stock:    memory.NewStockStore(),
			bookings: memory.NewBookingStore(),
			close:    func() {},
		}, nil

	default:
		db, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return stores{}, fmt.Errorf("failed to initialize database: %w", err)
		}
		logger.Info("using sqlite store", "path", cfg.SQLitePath)
		return stores{
			leaves:   db,
			stock:    db.Stock(),
			bookings: db.Bookings(),
			close: func() {
				if err := db.Close(); err != nil {
					logger.Warn("failed to close database", "error", err)
				}
			},
		}, nil
	}
}

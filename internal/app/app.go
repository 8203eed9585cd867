package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	_ "github.com/glebarez/go-sqlite"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/stockledger/stockledger/internal/adapter/handler"
	"github.com/stockledger/stockledger/internal/adapter/storage"
	"github.com/stockledger/stockledger/internal/alert"
	"github.com/stockledger/stockledger/internal/config"
	"github.com/stockledger/stockledger/internal/core/service"
	"github.com/stockledger/stockledger/internal/port"
	"github.com/stockledger/stockledger/internal/report"
)

const shutdownTimeout = 5 * time.Second

// App wires a store, a locker and an idempotency guard into the core
// services according to the configured driver.
type App struct {
	Config   config.Config
	Log      *logrus.Logger
	Services handler.Services

	closers []func() error
}

type backend struct {
	store  port.CollectionStore
	locker port.Locker
	guard  port.IdempotencyGuard
}

func New(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Log: logger}

	b, err := a.openBackend(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := []service.Option{
		service.WithIdempotencyGuard(b.guard),
		service.WithPhoneRegion(cfg.PhoneRegion),
	}
	catalog := service.NewCatalogService(b.store, b.locker, logger, opts...)
	summary := service.NewAggregationService(b.store, logger, opts...)
	settings := service.NewSettingsService(b.store, b.locker, logger)
	a.Services = handler.Services{
		Ledger:   service.NewLedgerService(b.store, b.locker, logger, opts...),
		Catalog:  catalog,
		Summary:  summary,
		Settings: settings,
		Exporter: report.NewExporter(catalog, summary, settings),
	}

	logger.WithFields(logrus.Fields{"driver": cfg.StoreDriver}).Info("store ready")
	return a, nil
}

func (a *App) openBackend(ctx context.Context) (backend, error) {
	switch a.Config.StoreDriver {
	case config.DriverMemory:
		return backend{store: storage.NewMemoryStore(), locker: storage.NewMemoryLocker(), guard: storage.NewMemoryGuard()}, nil

	case config.DriverSQLite:
		db, err := sql.Open("sqlite", a.Config.SQLitePath)
		if err != nil {
			return backend{}, fmt.Errorf("open sqlite: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		// one connection keeps SQLite writers from tripping over each other
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			return backend{}, fmt.Errorf("configure sqlite: %w", err)
		}
		store, err := a.sqlStore(ctx, db, storage.DialectSQLite)
		if err != nil {
			return backend{}, err
		}
		return backend{store: store, locker: storage.NewMemoryLocker(), guard: storage.NewMemoryGuard()}, nil

	case config.DriverMySQL:
		db, err := sql.Open("mysql", a.Config.MySQLDSN)
		if err != nil {
			return backend{}, fmt.Errorf("open mysql: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			return backend{}, fmt.Errorf("ping mysql: %w", err)
		}
		store, err := a.sqlStore(ctx, db, storage.DialectMySQL)
		if err != nil {
			return backend{}, err
		}
		// several processes may share one database, so the lock and the
		// idempotency claims live in Redis
		rdb, err := a.redisClient(ctx)
		if err != nil {
			return backend{}, err
		}
		return backend{
			store:  store,
			locker: storage.NewRedisLocker(rdb, a.Config.RedisPrefix),
			guard:  storage.NewRedisAdapter(rdb, a.Config.RedisPrefix),
		}, nil

	case config.DriverRedis:
		rdb, err := a.redisClient(ctx)
		if err != nil {
			return backend{}, err
		}
		adapter := storage.NewRedisAdapter(rdb, a.Config.RedisPrefix)
		return backend{store: adapter, locker: storage.NewRedisLocker(rdb, a.Config.RedisPrefix), guard: adapter}, nil
	}
	return backend{}, fmt.Errorf("unknown store driver %q", a.Config.StoreDriver)
}

func (a *App) sqlStore(ctx context.Context, db *sql.DB, dialect storage.Dialect) (*storage.SQLAdapter, error) {
	store, err := storage.NewSQLAdapter(db, dialect)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

func (a *App) redisClient(ctx context.Context) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     a.Config.RedisAddr,
		Password: a.Config.RedisPass,
		PoolSize: 100,
	})
	a.closers = append(a.closers, rdb.Close)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return rdb, nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Serve runs the HTTP and gRPC servers and the low-stock job until ctx is
// cancelled, then shuts them down gracefully.
func (a *App) Serve(ctx context.Context) error {
	grpcLis, err := net.Listen("tcp", a.Config.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	httpLis, err := net.Listen("tcp", a.Config.HTTPAddr)
	if err != nil {
		grpcLis.Close()
		return fmt.Errorf("listen http: %w", err)
	}
	return a.serve(ctx, httpLis, grpcLis)
}

func (a *App) serve(ctx context.Context, httpLis, grpcLis net.Listener) error {
	grpcServer := grpc.NewServer()
	handler.RegisterLedgerServer(grpcServer, handler.NewGRPCHandler(a.Services, a.Log))

	httpServer := &http.Server{
		Handler:           handler.NewEcho(handler.NewHTTPHandler(a.Services, a.Log)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		a.Log.Infof("gRPC server listening on %s", grpcLis.Addr())
		if err := grpcServer.Serve(grpcLis); err != nil {
			errc <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		a.Log.Infof("HTTP server listening on %s", httpLis.Addr())
		if err := httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http server: %w", err)
		}
	}()

	if a.Config.LowStockSchedule != "" {
		job := alert.NewLowStockJob(a.Services.Summary, a.Log)
		scheduler, err := alert.Schedule(a.Config.LowStockSchedule, job)
		if err != nil {
			httpServer.Close()
			grpcServer.Stop()
			return err
		}
		scheduler.Start()
		defer func() {
			<-scheduler.Stop().Done()
			a.Log.Info("low stock job stopped")
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
	}

	a.Log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.Log.WithError(err).Warn("HTTP server shutdown")
	}
	a.Log.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	a.Log.Info("gRPC server stopped")

	return serveErr
}

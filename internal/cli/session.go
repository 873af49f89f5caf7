package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/example/migration-orchestrator/internal/config"
	ops "github.com/example/migration-orchestrator/internal/http"
	"github.com/example/migration-orchestrator/internal/logging"
	"github.com/example/migration-orchestrator/internal/metrics"
	"github.com/example/migration-orchestrator/internal/migration"
	"github.com/example/migration-orchestrator/internal/persistence/filestore"
	"github.com/example/migration-orchestrator/internal/persistence/redisstore"
	"github.com/example/migration-orchestrator/internal/persistence/sqlstore"
	"github.com/example/migration-orchestrator/internal/source"
)

// session holds everything a command needs to talk to one store.
type session struct {
	cfg       config.Config
	logger    *slog.Logger
	engine    *migration.Engine
	collector *metrics.Collector
	closers   []func() error
}

// loadConfig reads the configuration named by the --config flag.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, commandError(CodeConfig, err)
	}
	return cfg, nil
}

// newLogger builds the process logger. --verbose forces debug level.
func newLogger(cfg config.Config, opts *RootOptions, w io.Writer) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, commandError(CodeConfig, err)
	}
	if opts.Verbose {
		level = slog.LevelDebug
	}
	format, err := logging.ParseFormat(cfg.LogFormat)
	if err != nil {
		return nil, commandError(CodeConfig, err)
	}
	return logging.New(w, level, format), nil
}

// openSession loads configuration, opens the target database and storage
// backend, loads migration files and builds the engine. When a metrics
// address is configured the ops endpoints are served until Close.
func openSession(ctx context.Context, opts *RootOptions, logOut io.Writer) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg, opts, logOut)
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, logger: logger, collector: metrics.NewCollector()}
	if err := s.open(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) open(ctx context.Context) error {
	cfg := s.cfg

	db, err := s.openDatabase(ctx)
	if err != nil {
		return err
	}

	storage, err := s.openStorage(ctx, db)
	if err != nil {
		return err
	}
	if !cfg.Lock {
		storage = withoutLock(storage)
	}

	units, err := source.Load(os.DirFS(cfg.Dir), ".")
	if err != nil {
		return commandError(CodeSource, err)
	}

	ordering, err := migration.OrderingByName(cfg.Ordering)
	if err != nil {
		return commandError(CodeConfig, err)
	}

	engineOpts := []migration.Option{
		migration.WithLogger(s.logger),
		migration.WithOrdering(ordering),
		migration.WithUnitTimeout(cfg.UnitTimeout),
		migration.WithObserver(s.collector),
	}
	if db != nil {
		engineOpts = append(engineOpts, migration.WithHandle(db))
	}

	engine, err := migration.New(storage, units, engineOpts...)
	if err != nil {
		return err
	}
	s.engine = engine

	if cfg.MetricsAddr != "" {
		router := ops.NewRouter(ops.RouterConfig{
			Metrics:    s.collector.Handler(),
			Status:     engine,
			Logger:     s.logger,
			Middleware: []func(http.Handler) http.Handler{ops.RequestLogger(s.logger)},
		})
		server, err := ops.Listen(cfg.MetricsAddr, router, s.logger)
		if err != nil {
			return commandError(CodeConfig, fmt.Errorf("listen on %s: %w", cfg.MetricsAddr, err))
		}
		s.closers = append(s.closers, func() error {
			return server.Shutdown(ctx)
		})
	}

	return nil
}

// openDatabase opens the database migrations run against. Units receive it
// as their handle whatever backend records them.
func (s *session) openDatabase(ctx context.Context) (*sql.DB, error) {
	cfg := s.cfg
	if cfg.Driver == "" || cfg.DSN == "" {
		if cfg.Storage == config.StorageSQL {
			return nil, commandError(CodeConfig, errors.New("sql storage needs a driver and dsn"))
		}
		return nil, nil
	}

	db, err := sqlstore.Open(ctx, sqlstore.DefaultConfig(cfg.Driver, cfg.DSN))
	if err != nil {
		return nil, commandError(CodeStorage, err)
	}
	s.closers = append(s.closers, db.Close)
	s.logger.Debug("database opened", "driver", cfg.Driver)
	return db, nil
}

func (s *session) openStorage(ctx context.Context, db *sql.DB) (migration.Storage, error) {
	cfg := s.cfg
	switch cfg.Storage {
	case config.StorageSQL:
		dialect, err := sqlstore.DialectFor(cfg.Driver)
		if err != nil {
			return nil, commandError(CodeConfig, err)
		}
		store, err := sqlstore.New(db, dialect, sqlstore.WithTable(cfg.Table), sqlstore.WithLockTTL(cfg.LockTTL))
		if err != nil {
			return nil, commandError(CodeConfig, err)
		}
		return store, nil
	case config.StorageFile:
		store, err := filestore.New(cfg.File)
		if err != nil {
			return nil, commandError(CodeConfig, err)
		}
		return store, nil
	case config.StorageRedis:
		store, err := redisstore.Dial(ctx, cfg.RedisAddr,
			redisstore.WithPrefix(cfg.RedisPrefix),
			redisstore.WithLockTTL(cfg.LockTTL),
		)
		if err != nil {
			return nil, commandError(CodeStorage, err)
		}
		s.closers = append(s.closers, store.Close)
		return store, nil
	case config.StorageMemory:
		s.logger.Warn("memory storage does not persist executed migrations")
		return migration.NewMemoryStorage(), nil
	}
	return nil, commandError(CodeConfig, fmt.Errorf("unknown storage %q", cfg.Storage))
}

// Close releases resources in reverse order of acquisition.
func (s *session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// unlockedStorage hides a backend's Locker so runs proceed without the lock.
type unlockedStorage struct {
	migration.Storage
}

// unlockedHistory does the same for backends that keep history.
type unlockedHistory struct {
	migration.HistoryStorage
}

func withoutLock(storage migration.Storage) migration.Storage {
	if _, ok := storage.(migration.Locker); !ok {
		return storage
	}
	if history, ok := storage.(migration.HistoryStorage); ok {
		return unlockedHistory{history}
	}
	return unlockedStorage{storage}
}

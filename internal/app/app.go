// Package app is the process bootstrap: it wires every dependency the
// scheduler and worker components need and supervises them for the
// lifetime of one process, with a PreRun/run/PostRun split and
// signal-triggered graceful shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/daybreak-hq/daybreak/internal/config"
	"github.com/daybreak-hq/daybreak/internal/logging"
	"github.com/daybreak-hq/daybreak/internal/mqs"
	"github.com/daybreak-hq/daybreak/internal/redis"
	"github.com/daybreak-hq/daybreak/internal/worker"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// App owns every long-lived dependency of one daybreak process and the
// WorkerSupervisor driving its workers.
type App struct {
	config *config.Config
	logger *logging.Logger

	db          *pgxpool.Pool
	redisClient redis.Client
	mainQueue   *mqs.RabbitMQQueue
	dlQueue     *mqs.RabbitMQQueue

	supervisor   *worker.WorkerSupervisor
	cleanupFuncs []func(context.Context)
}

func New(cfg *config.Config) *App {
	return &App{config: cfg}
}

// Run wires dependencies (PreRun), runs until shutdown (run), then releases
// them (PostRun) regardless of how run exited.
func (a *App) Run(ctx context.Context) error {
	if err := a.PreRun(ctx); err != nil {
		return err
	}
	defer a.PostRun(ctx)

	return a.run(ctx)
}

// PreRun initializes every dependency before any worker starts.
func (a *App) PreRun(ctx context.Context) (err error) {
	if err := a.setupLogger(); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("panic during PreRun", zap.Any("panic", r))
			err = fmt.Errorf("panic during PreRun: %v", r)
		}
	}()

	a.logger.Info("starting daybreak", a.config.LogConfigurationSummary()...)

	if err := a.connectDB(ctx); err != nil {
		return err
	}
	if err := a.runMigrations(ctx); err != nil {
		return err
	}
	if err := a.initializeRedis(ctx); err != nil {
		return err
	}
	if err := a.declareBrokerInfra(ctx); err != nil {
		return err
	}
	if err := a.buildServices(ctx); err != nil {
		return err
	}

	return nil
}

// PostRun releases every dependency acquired in PreRun, in reverse
// acquisition order (LIFO).
func (a *App) PostRun(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := len(a.cleanupFuncs) - 1; i >= 0; i-- {
		a.cleanupFuncs[i](shutdownCtx)
	}

	if a.logger != nil {
		a.logger.Info("daybreak shutdown complete")
		a.logger.Sync()
	}
}

func (a *App) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	termChan := make(chan os.Signal, 1)
	signal.Notify(termChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- a.supervisor.Run(ctx)
	}()

	var exitErr error
	select {
	case <-termChan:
		a.logger.Info("shutdown signal received")
		cancel()
		err := <-errChan
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("error during graceful shutdown", zap.Error(err))
			exitErr = err
		}
	case err := <-errChan:
		if err != nil {
			a.logger.Error("workers exited unexpectedly", zap.Error(err))
			exitErr = err
		}
	}

	return exitErr
}

func (a *App) setupLogger() error {
	logger, err := logging.NewLogger(
		logging.WithLogLevel(a.config.LogLevel),
		logging.WithAuditLog(a.config.AuditLog),
	)
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

func (a *App) connectDB(ctx context.Context) error {
	poolCfg, err := pgxpool.ParseConfig(a.config.DBURL)
	if err != nil {
		return fmt.Errorf("app: parse db url: %w", err)
	}
	if a.config.DBPoolMax > 0 {
		poolCfg.MaxConns = int32(a.config.DBPoolMax)
	}

	db, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("app: connect db: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return fmt.Errorf("app: ping db: %w", err)
	}

	a.db = db
	a.cleanupFuncs = append(a.cleanupFuncs, func(context.Context) { db.Close() })
	return nil
}

func (a *App) runMigrations(ctx context.Context) error {
	return runMigration(ctx, a.config, a.logger)
}

func (a *App) initializeRedis(ctx context.Context) error {
	a.logger.Debug("initializing redis client")
	client, err := redis.New(ctx, a.config.Redis.ToConfig())
	if err != nil {
		a.logger.Error("redis client initialization failed", zap.Error(err))
		return err
	}
	a.redisClient = client
	a.cleanupFuncs = append(a.cleanupFuncs, func(context.Context) { client.Close() })
	return nil
}

// declareBrokerInfra ensures the exchange/queue/DLX/DLQ topology exists.
// Declaration is idempotent on the broker side, so every process instance
// (scheduler, worker, or all) runs this unconditionally rather than relying
// on one designated provisioner process.
func (a *App) declareBrokerInfra(ctx context.Context) error {
	a.logger.Debug("declaring broker infrastructure")
	if err := mqinfraDeclare(ctx, a.config); err != nil {
		a.logger.Error("broker infrastructure declaration failed", zap.Error(err))
		return err
	}
	return nil
}

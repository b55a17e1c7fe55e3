package app

import (
	"context"

	"github.com/daybreak-hq/daybreak/internal/config"
	"github.com/daybreak-hq/daybreak/internal/logging"
	"github.com/daybreak-hq/daybreak/internal/migrator"
	"go.uber.org/zap"
)

// runMigration applies every pending Postgres migration at process
// start, failing fast on error.
func runMigration(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	logger.Debug("running database migrations")

	m, err := migrator.New(cfg.DBURL)
	if err != nil {
		logger.Error("migrator initialization failed", zap.Error(err))
		return err
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Warn("migrator close reported errors", zap.Errors("errors", []error{srcErr, dbErr}))
		}
	}()

	version, applied, err := m.Up(ctx, -1)
	if err != nil {
		logger.Error("database migration failed", zap.Error(err))
		return err
	}
	logger.Info("database migrations applied", zap.Int("version", version), zap.Int("applied", applied))
	return nil
}

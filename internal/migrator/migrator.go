// Package migrator wraps golang-migrate over an embedded set of Postgres
// SQL migrations for the `users` and `message_logs` tables.
package migrator

import (
	"context"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Migrator struct {
	migrate *migrate.Migrate
}

// New builds a Migrator against the given Postgres connection URL.
func New(databaseURL string) (*Migrator, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("migrator: database URL is required")
	}

	d, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrator: failed to load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, databaseURL)
	if err != nil {
		return nil, sanitizeConnectionError(err, databaseURL)
	}

	return &Migrator{migrate: m}, nil
}

func (m *Migrator) Version(ctx context.Context) (int, error) {
	version, _, err := m.migrate.Version()
	if err != nil {
		if err == migrate.ErrNilVersion {
			return 0, nil
		}
		return 0, fmt.Errorf("migrator: version: %w", err)
	}
	return int(version), nil
}

// Up migrates the database up by n migrations, or all pending migrations
// when n < 0. It returns the resulting version and the count applied.
func (m *Migrator) Up(ctx context.Context, n int) (int, int, error) {
	initVersion, err := m.Version(ctx)
	if err != nil {
		return 0, 0, err
	}

	if n < 0 {
		if err := m.migrate.Up(); err != nil {
			if err == migrate.ErrNoChange {
				return initVersion, 0, nil
			}
			return initVersion, 0, fmt.Errorf("migrator: up: %w", err)
		}
	} else if err := m.migrate.Steps(n); err != nil {
		return initVersion, 0, fmt.Errorf("migrator: steps: %w", err)
	}

	version, err := m.Version(ctx)
	if err != nil {
		return initVersion, 0, fmt.Errorf("migrator: version after up: %w", err)
	}
	return version, version - initVersion, nil
}

// Down rolls back n migrations, or all of them when n <= 0.
func (m *Migrator) Down(ctx context.Context, n int) (int, int, error) {
	initVersion, err := m.Version(ctx)
	if err != nil {
		return 0, 0, err
	}

	if n > 0 {
		if n > initVersion {
			return initVersion, 0, fmt.Errorf("migrator: cannot roll back %d migrations, current version is %d", n, initVersion)
		}
		if err := m.migrate.Steps(-n); err != nil {
			return initVersion, 0, fmt.Errorf("migrator: steps down: %w", err)
		}
	} else if err := m.migrate.Down(); err != nil {
		if err == migrate.ErrNoChange {
			return initVersion, 0, nil
		}
		return initVersion, 0, fmt.Errorf("migrator: down: %w", err)
	}

	version, err := m.Version(ctx)
	if err != nil {
		return initVersion, 0, fmt.Errorf("migrator: version after down: %w", err)
	}
	return version, initVersion - version, nil
}

func (m *Migrator) Close() (error, error) {
	return m.migrate.Close()
}

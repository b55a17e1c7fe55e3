package main

import (
	"context"
	"fmt"
	"os"

	"github.com/daybreak-hq/daybreak/internal/app"
	"github.com/daybreak-hq/daybreak/internal/config"
	"github.com/daybreak-hq/daybreak/internal/migrator"
	"github.com/urfave/cli/v3"
)

var version = "dev"

func main() {
	cmd := &cli.Command{
		Name:    "daybreak",
		Usage:   "Daybreak - timezone-aware event greeting delivery engine",
		Version: version,
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the daybreak schedulers and/or delivery workers",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to a YAML or .env config file",
					},
					&cli.StringFlag{
						Name:  "service",
						Usage: "Which process role to run: 'scheduler', 'worker', or 'all'",
					},
				},
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "Database migration tools",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to a YAML or .env config file",
					},
				},
				Commands: []*cli.Command{
					{
						Name:   "up",
						Usage:  "Apply all pending migrations",
						Action: migrateUp,
					},
					{
						Name:   "down",
						Usage:  "Roll back the most recent migration",
						Action: migrateDown,
					},
					{
						Name:   "version",
						Usage:  "Print the current migration version",
						Action: migrateVersion,
					},
				},
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return cli.ShowAppHelp(c)
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, c *cli.Command) error {
	cfg, err := config.Parse(c.String("config"))
	if err != nil {
		return err
	}
	if service := c.String("service"); service != "" {
		cfg.Service = service
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	return app.New(cfg).Run(ctx)
}

func loadMigrator(c *cli.Command) (*migrator.Migrator, error) {
	cfg, err := config.ParseWithoutValidation(c.String("config"))
	if err != nil {
		return nil, err
	}
	if cfg.DBURL == "" {
		return nil, config.ErrMissingDBURL
	}
	return migrator.New(cfg.DBURL)
}

func migrateUp(ctx context.Context, c *cli.Command) error {
	m, err := loadMigrator(c)
	if err != nil {
		return err
	}
	defer m.Close()

	version, applied, err := m.Up(ctx, -1)
	if err != nil {
		return err
	}
	fmt.Printf("migrated to version %d (%d applied)\n", version, applied)
	return nil
}

func migrateDown(ctx context.Context, c *cli.Command) error {
	m, err := loadMigrator(c)
	if err != nil {
		return err
	}
	defer m.Close()

	version, rolledBack, err := m.Down(ctx, 1)
	if err != nil {
		return err
	}
	fmt.Printf("rolled back to version %d (%d reverted)\n", version, rolledBack)
	return nil
}

func migrateVersion(ctx context.Context, c *cli.Command) error {
	m, err := loadMigrator(c)
	if err != nil {
		return err
	}
	defer m.Close()

	version, err := m.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("current version: %d\n", version)
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/crescent-api/pkg/config"
	"github.com/noah-isme/crescent-api/pkg/database"
	"github.com/noah-isme/crescent-api/pkg/logger"
)

// env carries the dependencies shared by every subcommand.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *sqlx.DB
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:           "crescentctl",
		Short:         "Operator tooling for the Crescent API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return e.open()
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			e.close()
		},
	}
	root.AddCommand(newMigrateCmd(e), newSweepCmd(e), newUserCmd(e))
	return root
}

func (e *env) open() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	e.cfg, e.logger, e.db = cfg, logr, db
	return nil
}

func (e *env) close() {
	if e.db != nil {
		_ = e.db.Close()
	}
	if e.logger != nil {
		_ = e.logger.Sync()
	}
}

func newMigrateCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back schema migrations",
	}

	run := func(op func(context.Context, *database.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			migrator, err := database.NewMigrator(e.db)
			if err != nil {
				return err
			}
			return op(cmd.Context(), migrator)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: run(func(ctx context.Context, m *database.Migrator) error {
				return m.Up(ctx)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			RunE: run(func(ctx context.Context, m *database.Migrator) error {
				return m.Down(ctx)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the current schema version",
			RunE: run(func(ctx context.Context, m *database.Migrator) error {
				version, err := m.Version(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "schema version %d (%s)\n", version, e.cfg.Database.Driver)
				return nil
			}),
		},
	)
	return cmd
}

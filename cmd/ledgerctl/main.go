package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/helenavibes/ML-service/internal/config"
	"github.com/helenavibes/ML-service/internal/database"
	"github.com/helenavibes/ML-service/internal/jobs"
	"github.com/helenavibes/ML-service/internal/models"
	"github.com/helenavibes/ML-service/internal/server"
)

var (
	configPath string
	verbose    bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "ledgerctl",
		Short:        "Administrative tasks for the ML prediction service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "Path to configuration file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newMigrateCmd(),
		newSeedCmd(),
		newReconcileCmd(),
		newRecoverCmd(),
	)
	return root
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

// withComponents loads configuration, wires the services without starting
// background jobs and runs fn
func withComponents(cmd *cobra.Command, fn func(context.Context, *server.Components) error) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.Jobs.Enabled = false

	ctx := cmd.Context()
	c, err := server.NewComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	return fn(ctx, c)
}

func newMigrateCmd() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Database.Driver != "postgres" {
				return fmt.Errorf("migrate requires the postgres driver, got %q", cfg.Database.Driver)
			}

			db, err := database.NewDatabase(cfg.Database, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			if mode == "" {
				mode = cfg.Database.MigrateMode
			}
			if err := db.Migrate(mode); err != nil {
				return err
			}

			if mode == "sql" {
				version, dirty, err := db.MigrationVersion()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", version, dirty)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "Migration mode: sql, auto or none (defaults to database.migrate_mode)")
	return cmd
}

func newSeedCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create demo users and models that do not exist yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, func(ctx context.Context, c *server.Components) error {
				if file == "" {
					file = c.Config.Seed.File
				}
				result, err := c.Seed(ctx, file)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "users created: %d, models created: %d\n",
					result.UsersCreated, result.ModelsCreated)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML seed file (built-in demo data when empty)")
	return cmd
}

func newReconcileCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare stored balances with the transaction log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, func(ctx context.Context, c *server.Components) error {
				if userID == "" {
					return jobs.NewReconcileJob(c.Store, c.Ledger, c.Logger).Run(ctx)
				}

				id, err := uuid.Parse(userID)
				if err != nil {
					return fmt.Errorf("invalid user id: %w", err)
				}
				rec, err := c.Ledger.Reconcile(ctx, id)
				if err != nil && !errors.Is(err, models.ErrBalanceDrift) {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "user %s balance %s log %s drift %s\n",
					rec.UserID, rec.Balance, rec.LogSum, rec.Drift)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Reconcile a single user id")
	return cmd
}

func newRecoverCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "recover-stale",
		Short: "Fail PROCESSING tasks that have not moved for a while",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, func(ctx context.Context, c *server.Components) error {
				if olderThan <= 0 {
					olderThan = c.Config.Tasks.StaleAfter
				}
				n, err := c.Tasks.RecoverStale(ctx, olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "recovered %d tasks\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Minimum idle time (defaults to tasks.stale_after)")
	return cmd
}

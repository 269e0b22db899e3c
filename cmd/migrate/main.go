package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/barckcode/puyu-api/internal/app/migrate"
	"github.com/barckcode/puyu-api/pkg/config"
	"github.com/barckcode/puyu-api/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func root() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the puyu database schema",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", time.Minute, "command timeout")

	withRunner := func(fn func(context.Context, migrate.Runner) error) func(*cobra.Command, []string) error {
		return func(c *cobra.Command, _ []string) error {
			cfg := config.LoadAPIConfig()
			log := logger.New("migrate", logger.ParseLevel(cfg.LogLevel))

			ctx, cancel := context.WithTimeout(c.Context(), timeout)
			defer cancel()

			pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
			if err != nil {
				log.Error("failed to connect to database", "error", err)
				return err
			}
			runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
			if err != nil {
				pool.Close()
				log.Error("failed to configure migration runner", "error", err)
				return err
			}
			defer runner.Close()

			if err := fn(ctx, runner); err != nil {
				log.Error("migration command failed", "command", c.Name(), "error", err)
				return err
			}
			log.Info("migration command completed", "command", c.Name())
			return nil
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: withRunner(func(ctx context.Context, r migrate.Runner) error {
			return r.Ensure(ctx)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: withRunner(func(ctx context.Context, r migrate.Runner) error {
			migrations, err := r.Status(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tSTATE\tAPPLIED AT\tFILE")
			for _, m := range migrations {
				state, applied := "pending", "-"
				if m.Applied {
					state, applied = "applied", m.AppliedAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", m.Version, state, applied, m.Path)
			}
			return w.Flush()
		}),
	})

	var target int64
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration or down to --target",
		Args:  cobra.NoArgs,
		RunE: withRunner(func(ctx context.Context, r migrate.Runner) error {
			return r.Down(ctx, target)
		}),
	}
	down.Flags().Int64Var(&target, "target", 0, "target version to roll back to")
	cmd.AddCommand(down)

	return cmd
}

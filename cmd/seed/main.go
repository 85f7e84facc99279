// Command seed loads categories and universities into the registration
// database. Running it twice is harmless.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"int20h/internal/platform/config"
	"int20h/internal/platform/logger"
	"int20h/internal/platform/postgres"
	"int20h/internal/registration/store"
)

var (
	seedFile    string
	seedMigrate bool
	seedDryRun  bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "seed",
		Short:         "Insert reference categories and universities",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runSeed,
	}
	cmd.Flags().StringVarP(&seedFile, "file", "f", "", "seed JSON file (defaults to the built-in dataset)")
	cmd.Flags().BoolVar(&seedMigrate, "migrate", true, "apply schema migrations before seeding")
	cmd.Flags().BoolVar(&seedDryRun, "dry-run", false, "validate the dataset without touching the database")
	return cmd
}

func runSeed(cmd *cobra.Command, _ []string) error {
	data := defaultSeed
	if seedFile != "" {
		raw, err := os.ReadFile(seedFile)
		if err != nil {
			return fmt.Errorf("read seed file: %w", err)
		}
		data = raw
	}
	ds, err := ParseDataset(data)
	if err != nil {
		return err
	}
	if seedDryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "dataset ok: %d categories, %d universities\n", len(ds.Categories), len(ds.Universities))
		return nil
	}

	config.LoadDotEnv()
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if seedMigrate {
		if err := postgres.Migrate(db, log); err != nil {
			return err
		}
	}

	pgStore := store.NewPostgres(db)
	tx := store.NewPostgresTx(db, pgStore, cfg.Registration.TxTimeout)

	var sum Summary
	err = tx.Run(ctx, func(ctx context.Context) error {
		var err error
		sum, err = Apply(ctx, pgStore, ds)
		return err
	})
	if err != nil {
		return err
	}

	log.InfoContext(ctx, "seed complete",
		"categories_inserted", sum.Categories,
		"categories_total", len(ds.Categories),
		"universities_inserted", sum.Universities,
		"universities_total", len(ds.Universities),
	)
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/config"
)

func newServeCommand(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume HBI events, run the outbox flush scheduler and serve the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFiles(envFile)...)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func newFlushCommand(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Flush the outbox once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFiles(envFile)...)
			if err != nil {
				return err
			}

			app, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer app.close(context.Background())

			flushed, err := app.scheduler.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "flushed %d outbox records\n", flushed)
			return nil
		},
	}
}

func newMigrateCommand(envFile *string) *cobra.Command {
	var version uint

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFiles(envFile)...)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("version") {
				cfg.DatabaseMigrationVersion = version
			}

			logger, zl, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = zl.Sync() }()

			db, err := openDatabase(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			return migrate(cfg, db, logger)
		},
	}
	cmd.Flags().UintVar(&version, "version", 0, "Target schema version (0 for latest)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.close(context.Background())

	if err := app.startup.Start(ctx); err != nil {
		return err
	}
	app.health.SetReady(true)

	serverErr := make(chan error, 1)
	go func() {
		app.logger.Infof("Admin API listening on %s", app.server.Addr)
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		app.logger.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			app.logger.WithError(err).Error("Admin API stopped")
		}
	}

	app.health.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := app.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := app.startup.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	app.logger.Info("Shutdown complete")
	return errors.Join(errs...)
}

func serverTimeouts(cfg *config.Config) (read, write, idle time.Duration) {
	return time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
}

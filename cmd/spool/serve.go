package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/orrn/printspool/internal/api"
	"github.com/orrn/printspool/internal/config"
	"github.com/orrn/printspool/internal/core"
	"github.com/orrn/printspool/internal/db"
	"github.com/orrn/printspool/internal/label"
	"github.com/orrn/printspool/internal/logging"
	"github.com/orrn/printspool/internal/registry"
	"github.com/orrn/printspool/internal/webhook"
)

func newServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the print spooler HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "spool.yaml", "path to the YAML configuration file")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	if err := logging.Configure(cfg.Logging.Level, cfg.Logging.Format, nil); err != nil {
		return err
	}
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	if err := db.Init(db.Config{Path: cfg.Database.Path}); err != nil {
		return err
	}
	defer db.Close()

	reg := registry.NewSQLite(db.GetDB())

	sender := webhook.NewSender(webhook.Config{
		RetryCount:  cfg.Webhooks.RetryCount,
		RetryDelay:  cfg.Webhooks.RetryDelay,
		Timeout:     cfg.Webhooks.Timeout,
		WorkerCount: cfg.Webhooks.WorkerCount,
		QueueSize:   cfg.Webhooks.QueueSize,
	})
	sender.Start()
	defer sender.Stop()

	catalog := label.NewCatalog(cfg.Labels.TemplatesDir)
	renderer := label.NewRenderer(catalog, cfg.Labels.OutputDir, &label.Printer{
		Timeout:     cfg.Labels.PrinterTimeout,
		CheckStatus: cfg.Labels.CheckPrinterStatus,
	})

	opts := core.Options{
		MaxRunningJobs:    cfg.Jobs.MaxRunningJobs,
		MaxWaitingJobs:    cfg.Jobs.MaxWaitingJobs,
		IdleTimeout:       cfg.Jobs.IdleTimeout,
		ReconcileInterval: cfg.Jobs.ReconcileInterval,
		Comparator:        core.ByPriority,
		Notifier:          sender,
	}
	if cfg.Labels.ReportRetention > 0 {
		opts.Housekeeping = renderer.Purger(cfg.Labels.ReportRetention)
		opts.HousekeepingInterval = cfg.Labels.PurgeInterval
	}
	manager := core.NewManager(reg, opts)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := manager.Start(ctx); err != nil {
		return err
	}
	defer manager.Shutdown()

	router, err := api.NewRouter(ctx, api.Deps{
		Config:   cfg,
		Registry: reg,
		Manager:  manager,
		Catalog:  catalog,
		Renderer: renderer,
		Webhooks: sender,
		Version:  version,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	logger := logging.Component("server")
	logger.Info().
		Str("version", version).
		Int("port", cfg.Server.Port).
		Str("templates_dir", cfg.Labels.TemplatesDir).
		Msg("Spool server started")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/auditimport/internal/core"
	"github.com/JonMunkholm/auditimport/internal/metrics"
	"github.com/JonMunkholm/auditimport/internal/telemetry"
	"github.com/JonMunkholm/auditimport/internal/web"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the import HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("configuration loaded", "config", cfg.String())

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
		Endpoint:    cfg.Telemetry.Endpoint,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return err
	}

	be, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer be.close()

	objects, err := openObjects(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	recorder := metrics.New()
	service, err := core.NewService(core.Deps{
		Store:   be.store,
		Objects: objects,
		Audit:   be.audit,
		Metrics: recorder,
	}, cfg.Import.Options())
	if err != nil {
		return err
	}

	if cfg.Import.SeedTemplates {
		n, err := service.SeedTemplates(core.ContextWithActor(ctx, "seed"), core.DefaultTemplateSeeds())
		if err != nil {
			return err
		}
		slog.Info("mapping templates seeded", "created", n)
	}

	rates, err := web.NewRateStore(cfg.Rate)
	if err != nil {
		return err
	}

	server := web.NewServer(service, cfg, web.ServerDeps{
		Metrics:   recorder,
		RateStore: rates,
		Health:    be.health,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		slog.Info("shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	status := service.Limiter().Status()
	if status.Active > 0 {
		slog.Info("waiting for imports to complete", "active", status.Active)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Warn("tracer shutdown failed", "error", err)
	}
	slog.Info("server stopped")
	return nil
}

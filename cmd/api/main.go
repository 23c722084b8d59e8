package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/statusgrid/internal/aggregator"
	"github.com/hamed0406/statusgrid/internal/config"
	"github.com/hamed0406/statusgrid/internal/httpapi"
	"github.com/hamed0406/statusgrid/internal/logging"
	"github.com/hamed0406/statusgrid/internal/probe"
	"github.com/hamed0406/statusgrid/internal/registry"
	"github.com/hamed0406/statusgrid/internal/repo/memory"
	"github.com/hamed0406/statusgrid/internal/ws"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() (err error) {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(logging.Options{Dir: cfg.LogDir, Level: cfg.LogLevel, Stderr: cfg.LogStderr})
	if err != nil {
		return err
	}
	defer func() {
		// stderr/stdout sync returns EINVAL on some terminals
		_ = logger.Sync()
	}()

	reg, err := registry.Load(cfg.RegistryFile)
	if err != nil {
		logger.Error("registry_load_error", zap.Error(err))
		return err
	}

	checker, err := probe.NewHTTPChecker(
		probe.WithTimeout(cfg.ProbeTimeout),
		probe.WithErrorBody(cfg.ProbeErrorBody),
		probe.WithUserAgent("statusgrid"),
	)
	if err != nil {
		return err
	}

	agg, err := aggregator.New(logger, reg.Endpoints(), checker, memory.New())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := ws.New(agg, httpapi.WireView, logger, ws.WithAllowedOrigins(cfg.AllowedOrigins))
	hubDone := make(chan error, 1)
	go func() { hubDone <- hub.Run(ctx) }()

	api := httpapi.NewServer(ctx, logger, agg, hub, httpapi.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AdminKeys:      cfg.AdminAPIKeys,
		RateLimitRPM:   cfg.RateLimitRPM,
		RateLimitBurst: cfg.RateLimitBurst,
	})
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// refresh on load, like opening the dashboard
	if cfg.RefreshOnStart {
		go func() {
			if _, err := agg.RefreshAll(ctx); err != nil {
				logger.Warn("initial_refresh_error", zap.Error(err))
			}
		}()
	}

	srvErr := make(chan error, 1)
	go func() {
		logger.Info("api_listen",
			zap.String("addr", cfg.Addr),
			zap.Int("endpoints", reg.Len()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("api_shutdown")
	case err := <-srvErr:
		if err != nil {
			logger.Error("api_listen_error", zap.Error(err))
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	err = multierr.Append(err, srv.Shutdown(shutdownCtx))
	stop()
	err = multierr.Append(err, <-hubDone)
	api.Wait()
	return err
}

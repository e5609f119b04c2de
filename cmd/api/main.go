package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paperflow/internal/api"
	"paperflow/internal/app"
	"paperflow/internal/config"
	"paperflow/internal/intake"
	"paperflow/internal/logging"

	"github.com/joho/godotenv"
	tclient "go.temporal.io/sdk/client"
	sdklog "go.temporal.io/sdk/log"
)

func main() {
	_ = godotenv.Load(".env")
	cfg, err := config.Load()
	if err != nil {
		logging.New("error", "text").Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("start runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()
	ctx = rt.Watch(ctx)

	if cfg.RunConsumers {
		if err := rt.StartConsumers(ctx); err != nil {
			logger.Error("start consumers", "error", err)
			os.Exit(1)
		}
	}

	// The lazy client connects on first use, so the API serves without a
	// reachable Temporal frontend and only the retry endpoint degrades.
	tc, err := tclient.NewLazyClient(tclient.Options{
		HostPort: cfg.TemporalAddress,
		Logger:   sdklog.NewStructuredLogger(logger.With("component", "temporal")),
	})
	var retrier api.Retrier
	if err != nil {
		logger.Warn("temporal client unavailable; stage retry disabled", "error", err)
	} else {
		defer tc.Close()
		retrier = api.NewTemporalRetrier(tc, cfg.TemporalTaskQueue)
	}

	h := api.NewServer(api.Deps{
		Config:   cfg,
		Repos:    rt.Repos,
		Stages:   rt.Stages,
		Intake:   intake.New(rt.Repos.Papers, rt.Stages, rt.Blobs, rt.Broker, cfg.MaxUploadBytes, logger),
		Callback: rt.Callback,
		Registry: rt.Registry,
		Blobs:    rt.Blobs,
		Retrier:  retrier,
		Logger:   logger,
	})
	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("paperflow api listening", "addr", cfg.APIAddr, "store", cfg.Store, "broker", cfg.Broker,
		"consumers", cfg.RunConsumers, "extraction_client", cfg.ExtractionClient, "summarizer", cfg.Summarizer)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("serve", "error", err)
		os.Exit(1)
	}
	if errors.Is(context.Cause(ctx), app.ErrBrokerLost) {
		rt.Close()
		os.Exit(1)
	}
}

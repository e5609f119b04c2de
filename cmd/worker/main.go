package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"paperflow/internal/activities"
	"paperflow/internal/app"
	"paperflow/internal/config"
	"paperflow/internal/logging"
	"paperflow/internal/workflows"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	sdklog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"
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
	if err := rt.StartConsumers(ctx); err != nil {
		logger.Error("start consumers", "error", err)
		os.Exit(1)
	}

	c, err := client.Dial(client.Options{
		HostPort: cfg.TemporalAddress,
		Logger:   sdklog.NewStructuredLogger(logger.With("component", "temporal")),
	})
	if err != nil {
		logger.Error("dial temporal", "error", err)
		os.Exit(1)
	}
	defer c.Close()

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	workflows.Register(w)
	activities.Register(w, activities.New(rt.Repos.Papers, rt.Repos.Summaries, rt.Stages, rt.Blobs, rt.Broker, activities.SummaryOptions{
		Prompt:   cfg.SummaryPrompt,
		Language: cfg.SummaryLanguage,
	}))

	interrupt := make(chan interface{})
	go func() {
		<-ctx.Done()
		close(interrupt)
	}()

	logger.Info("paperflow worker running", "temporal", cfg.TemporalAddress, "queue", cfg.TemporalTaskQueue,
		"workers", cfg.ConsumerWorkers, "extraction_client", cfg.ExtractionClient, "summarizer", cfg.Summarizer)
	if err := w.Run(interrupt); err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
	if errors.Is(context.Cause(ctx), app.ErrBrokerLost) {
		c.Close()
		rt.Close()
		os.Exit(1)
	}
}

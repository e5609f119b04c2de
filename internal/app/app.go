// Package app assembles the services shared by the api and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"paperflow/internal/blob"
	"paperflow/internal/broker"
	"paperflow/internal/callback"
	"paperflow/internal/config"
	"paperflow/internal/consumers"
	"paperflow/internal/events"
	"paperflow/internal/extraction"
	"paperflow/internal/notify"
	"paperflow/internal/providers"
	"paperflow/internal/stagelog"
	"paperflow/internal/storage"
	"paperflow/internal/summarizer"
)

// Broker is what the runtime needs from a message broker.
type Broker interface {
	events.Publisher
	events.Subscriber
	notify.Broadcaster
	Done() <-chan struct{}
	Err() error
	Close() error
}

// ErrBrokerLost is the cancellation cause of a context returned by Watch once
// the broker connection has gone away underneath the process.
var ErrBrokerLost = errors.New("broker connection lost")

type Runtime struct {
	Config   config.Config
	Logger   *slog.Logger
	Repos    storage.Repos
	Broker   Broker
	Blobs    *blob.Local
	Stages   *stagelog.Service
	Registry *notify.Registry
	Relay    *notify.Relay
	Callback *callback.Service

	db *storage.DB
}

// Open connects the store and broker selected by cfg and builds the services
// on top of them. The relay starts listening immediately so pushes from any
// instance reach connections held by this one.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger}

	switch cfg.Store {
	case "memory":
		rt.Repos = storage.NewMemoryRepos(storage.NewMemory())
	default:
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		db, err := storage.NewDB(dialCtx, cfg.PostgresURL)
		cancel()
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		rt.db = db
		rt.Repos = storage.NewPostgresRepos(db)
	}

	switch cfg.Broker {
	case "memory":
		rt.Broker = broker.NewMemory(logger)
	default:
		b, err := broker.DialAMQP(broker.AMQPOptions{
			URL:                cfg.AMQPURL,
			EventExchange:      cfg.EventExchange,
			NotifyExchange:     cfg.NotifyExchange,
			DeadLetterExchange: cfg.DeadLetterExchange,
		}, logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Broker = b
	}

	blobs, err := blob.NewLocal(cfg.BlobRoot, cfg.PublicBaseURL)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Blobs = blobs
	rt.Stages = stagelog.New(rt.Repos.Papers, rt.Repos.StageLogs, logger)
	rt.Registry = notify.NewRegistry(cfg.SSELifetime(), logger)
	rt.Relay = notify.NewRelay(rt.Broker, rt.Registry, logger)
	if err := rt.Relay.Listen(ctx); err != nil {
		rt.Close()
		return nil, fmt.Errorf("listen for notifications: %w", err)
	}
	rt.Callback = callback.New(rt.Repos.Papers, rt.Repos.Artifacts, rt.Stages, rt.Broker, rt.Relay,
		callback.Options{Prompt: cfg.SummaryPrompt, Language: cfg.SummaryLanguage}, logger)
	return rt, nil
}

// StartConsumers registers the pipeline consumers, plus the local summarizer
// when it is enabled. They run until ctx is cancelled.
func (rt *Runtime) StartConsumers(ctx context.Context) error {
	cfg := rt.Config
	client, err := extraction.Resolve(cfg.ExtractionClient, extraction.Deps{
		EngineURL: cfg.ExtractionEngineURL,
		Timeout:   cfg.ExtractionTimeout(),
		Blobs:     rt.Blobs,
		Sink:      rt.Callback,
		Logger:    rt.Logger,
	})
	if err != nil {
		return err
	}
	if err := consumers.New(rt.Repos, rt.Stages, client, rt.Relay, rt.Logger).Register(ctx, rt.Broker, cfg.ConsumerWorkers); err != nil {
		return err
	}
	if cfg.Summarizer != "local" {
		return nil
	}
	pm, err := providers.NewManager(cfg.LLMProviders)
	if err != nil {
		return fmt.Errorf("build llm providers: %w", err)
	}
	if pm.LLMCount() == 0 {
		return fmt.Errorf("local summarizer needs at least one llm provider")
	}
	return summarizer.New(pm, rt.Blobs, rt.Broker, rt.Repos.Papers, rt.Stages, rt.Logger).Register(ctx, rt.Broker, cfg.ConsumerWorkers)
}

// Watch returns a context that is cancelled with ErrBrokerLost when the broker
// connection is lost. Consumers stop receiving at that point, so callers
// should shut down and exit non-zero rather than keep serving.
func (rt *Runtime) Watch(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancelCause(ctx)
	go func() {
		select {
		case <-ctx.Done():
		case <-rt.Broker.Done():
			if err := rt.Broker.Err(); err != nil {
				rt.Logger.Error("shutting down after broker loss", "error", err)
				cancel(fmt.Errorf("%w: %v", ErrBrokerLost, err))
			}
		}
	}()
	return ctx
}

func (rt *Runtime) Close() {
	if rt.Broker != nil {
		if err := rt.Broker.Close(); err != nil {
			rt.Logger.Warn("close broker", "error", err)
		}
	}
	rt.db.Close()
}

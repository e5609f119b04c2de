// Package consumers holds the broker handlers that drive papers between
// stages.
package consumers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"paperflow/internal/events"
	"paperflow/internal/extraction"
	"paperflow/internal/models"
	"paperflow/internal/notify"
	"paperflow/internal/stagelog"
	"paperflow/internal/storage"
)

type Consumers struct {
	papers    storage.Papers
	summaries storage.Summaries
	stats     storage.Stats
	stages    *stagelog.Service
	client    extraction.Client
	pusher    notify.Pusher
	logger    *slog.Logger
	now       func() time.Time
}

func New(repos storage.Repos, stages *stagelog.Service, client extraction.Client, pusher notify.Pusher, logger *slog.Logger) *Consumers {
	return &Consumers{
		papers:    repos.Papers,
		summaries: repos.Summaries,
		stats:     repos.Stats,
		stages:    stages,
		client:    client,
		pusher:    pusher,
		logger:    logger.With("component", "consumers"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Register attaches every handler to its queue.
func (c *Consumers) Register(ctx context.Context, sub events.Subscriber, workers int) error {
	bindings := []struct {
		queue string
		h     events.Handler
	}{
		{events.QueueFor(events.KindExtractionRequested), c.HandleExtractionRequested},
		{events.QueueFor(events.KindSummarizationCompleted), c.HandleSummarizationCompleted},
		{events.StatsQueue, c.HandleStats},
	}
	for _, b := range bindings {
		if err := sub.Consume(ctx, b.queue, workers, b.h); err != nil {
			return fmt.Errorf("register consumer %s: %w", b.queue, err)
		}
		c.logger.Info("consumer registered", "queue", b.queue, "workers", workers)
	}
	return nil
}

// HandleExtractionRequested hands the job to the extraction engine. A failed
// send is recorded on the stage log and returned so the broker drops the
// message without requeue.
func (c *Consumers) HandleExtractionRequested(ctx context.Context, env events.Envelope) error {
	req, err := events.Decode[events.ExtractionRequested](env, events.KindExtractionRequested)
	if err != nil {
		return err
	}
	log := c.logger.With("paper_id", req.WorkItemID, "event", env.Kind)

	if sendErr := c.client.RequestExtraction(ctx, req); sendErr != nil {
		log.Error("extraction request failed", "error", sendErr)
		if _, err := c.stages.MarkFailed(ctx, req.WorkItemID, models.StageExtract, sendErr.Error()); err != nil {
			log.Error("record extraction failure", "error", err)
		}
		if err := c.papers.UpdatePaperStatus(ctx, req.WorkItemID, models.PaperFailed); err != nil {
			log.Error("mark paper failed", "error", err)
		}
		return sendErr
	}
	if _, err := c.stages.Reaffirm(ctx, req.WorkItemID, models.StageExtract, models.SourceAnalyzeRequest); err != nil {
		log.Error("confirm extraction pending", "error", err)
		return err
	}
	log.Info("extraction accepted by engine")
	return nil
}

// HandleSummarizationCompleted closes the SUMMARIZE stage and creates the
// paper's summary. A redelivered message finds the summary already present
// and is dropped. Processing errors are logged and the message is acked.
func (c *Consumers) HandleSummarizationCompleted(ctx context.Context, env events.Envelope) error {
	msg, err := events.Decode[events.SummarizationCompleted](env, events.KindSummarizationCompleted)
	if err != nil {
		c.logger.Error("dropping undecodable completion", "error", err)
		return nil
	}
	log := c.logger.With("paper_id", msg.WorkItemID, "event", env.Kind)

	if _, err := c.stages.MarkSuccess(ctx, msg.WorkItemID, models.StageSummarize); err != nil {
		log.Error("dropping completion: mark summarize success", "error", err)
		return nil
	}
	out, err := c.summaries.CreateSummary(ctx, msg.WorkItemID, msg.ResultLocator)
	if err != nil {
		log.Error("dropping completion: create summary", "error", err)
		return nil
	}
	if out.Outcome == storage.OutcomeAlreadyExists {
		log.Info("duplicate completion dropped", "summary_id", out.Summary.SummaryID)
		return nil
	}
	log.Info("summary created", "summary_id", out.Summary.SummaryID)

	err = c.pusher.Push(ctx, msg.WorkItemID, notify.EventSummarizationCompleted, map[string]any{
		"paperId":       msg.WorkItemID,
		"summaryId":     out.Summary.SummaryID,
		"resultLocator": out.Summary.ResultLocator,
	})
	switch {
	case errors.Is(err, notify.ErrNotListening):
		log.Debug("no live connection for summary push")
	case err != nil:
		log.Warn("summary push failed", "error", err)
	}
	return nil
}

// HandleStats counts every event by kind and day. Redeliveries are counted
// again.
func (c *Consumers) HandleStats(ctx context.Context, env events.Envelope) error {
	if err := c.stats.IncrementStat(ctx, string(env.Kind), c.now()); err != nil {
		return fmt.Errorf("count %s: %w", env.Kind, err)
	}
	return nil
}

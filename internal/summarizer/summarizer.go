// Package summarizer is an in-process summarization engine. It answers
// SUMMARIZATION_REQUESTED with SUMMARIZATION_COMPLETED the way the external
// engine does.
package summarizer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"paperflow/internal/blob"
	"paperflow/internal/events"
	"paperflow/internal/models"
	"paperflow/internal/providers"
	"paperflow/internal/stagelog"
	"paperflow/internal/storage"
)

const summaryFolder = "summaries"

// maxDocumentBytes bounds how much extracted text is read.
const maxDocumentBytes = 4 << 20

type Engine struct {
	llm    providers.LLMProvider
	blobs  blob.Store
	pub    events.Publisher
	papers storage.Papers
	stages *stagelog.Service
	logger *slog.Logger
}

func New(llm providers.LLMProvider, blobs blob.Store, pub events.Publisher, papers storage.Papers, stages *stagelog.Service, logger *slog.Logger) *Engine {
	return &Engine{
		llm:    llm,
		blobs:  blobs,
		pub:    pub,
		papers: papers,
		stages: stages,
		logger: logger.With("component", "summarizer"),
	}
}

func (e *Engine) Register(ctx context.Context, sub events.Subscriber, workers int) error {
	q := events.QueueFor(events.KindSummarizationRequested)
	if err := sub.Consume(ctx, q, workers, e.Handle); err != nil {
		return fmt.Errorf("register summarizer: %w", err)
	}
	e.logger.Info("summarizer registered", "queue", q, "workers", workers)
	return nil
}

// Handle summarizes one paper. A failure is recorded on the SUMMARIZE stage
// log and the paper is marked FAILED before the error goes back to the broker,
// which drops the message without requeue.
func (e *Engine) Handle(ctx context.Context, env events.Envelope) error {
	req, err := events.Decode[events.SummarizationRequested](env, events.KindSummarizationRequested)
	if err != nil {
		return err
	}
	log := e.logger.With("paper_id", req.WorkItemID)

	if err := e.summarize(ctx, log, req); err != nil {
		log.Error("summarization failed", "error", err)
		if _, markErr := e.stages.MarkFailed(ctx, req.WorkItemID, models.StageSummarize, err.Error()); markErr != nil {
			log.Error("record summarization failure", "error", markErr)
		}
		if statusErr := e.papers.UpdatePaperStatus(ctx, req.WorkItemID, models.PaperFailed); statusErr != nil {
			log.Error("mark paper failed", "error", statusErr)
		}
		return err
	}
	return nil
}

func (e *Engine) summarize(ctx context.Context, log *slog.Logger, req events.SummarizationRequested) error {
	doc, err := e.readDocument(ctx, req.ExtractedDocURL)
	if err != nil {
		return err
	}
	resp, info, err := e.llm.Generate(ctx, providers.GenerateRequest{
		Operation: "paper_summary",
		Prompt:    req.Prompt,
		Language:  req.Language,
		Document:  doc,
	})
	if err != nil {
		return fmt.Errorf("generate summary: %w", err)
	}
	locator, err := e.blobs.Upload(ctx, fmt.Sprintf("paper-%d.md", req.WorkItemID), strings.NewReader(resp.Text), summaryFolder)
	if err != nil {
		return fmt.Errorf("store summary: %w", err)
	}
	done := events.SummarizationCompleted{WorkItemID: req.WorkItemID, ResultLocator: locator}
	if err := events.PublishPayload(ctx, e.pub, events.KindSummarizationCompleted, done); err != nil {
		return err
	}
	log.Info("summary generated", "provider", info.Name, "model", info.Model, "locator", locator)
	return nil
}

func (e *Engine) readDocument(ctx context.Context, rawURL string) (string, error) {
	locator, ok := e.blobs.Locator(rawURL)
	if !ok {
		return "", fmt.Errorf("extracted document %q is not in the local blob store", rawURL)
	}
	rc, err := e.blobs.Open(ctx, locator)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	b, err := io.ReadAll(io.LimitReader(rc, maxDocumentBytes))
	if err != nil {
		return "", fmt.Errorf("read extracted document: %w", err)
	}
	return string(b), nil
}

// Package callback ingests results pushed back by the extraction engine and
// moves the paper on to summarization.
package callback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"paperflow/internal/apperr"
	"paperflow/internal/events"
	"paperflow/internal/extraction"
	"paperflow/internal/models"
	"paperflow/internal/notify"
	"paperflow/internal/stagelog"
	"paperflow/internal/storage"
	"paperflow/internal/util"
)

type Options struct {
	Prompt   string
	Language string
}

type Service struct {
	papers    storage.Papers
	artifacts storage.Artifacts
	stages    *stagelog.Service
	pub       events.Publisher
	pusher    notify.Pusher
	opts      Options
	logger    *slog.Logger
}

var _ extraction.ResultSink = (*Service)(nil)

func New(papers storage.Papers, artifacts storage.Artifacts, stages *stagelog.Service, pub events.Publisher, pusher notify.Pusher, opts Options, logger *slog.Logger) *Service {
	return &Service{
		papers:    papers,
		artifacts: artifacts,
		stages:    stages,
		pub:       pub,
		pusher:    pusher,
		opts:      opts,
		logger:    logger.With("component", "callback"),
	}
}

// ReceiveExtractionResult records a finished extraction and requests the
// summary. Each step commits on its own; a failure part way leaves the
// earlier writes in place and is returned to the caller.
func (s *Service) ReceiveExtractionResult(ctx context.Context, paperID int64, result models.ExtractionResult) error {
	if _, err := s.papers.GetPaper(ctx, paperID); err != nil {
		return err
	}
	title := util.Truncate(util.SanitizeText(result.Title), 500)
	if err := s.papers.MarkAnalyzed(ctx, paperID, title, result.ExtractedDocURL, result.SideArtifactListURL); err != nil {
		return fmt.Errorf("update paper: %w", err)
	}
	if _, err := s.stages.MarkSuccess(ctx, paperID, models.StageExtract); err != nil {
		return err
	}
	if arts := sideArtifacts(result); len(arts) > 0 {
		if err := s.artifacts.SaveArtifacts(ctx, paperID, arts); err != nil {
			return fmt.Errorf("save side artifacts: %w", err)
		}
	}
	if err := s.stages.AdvanceStage(ctx, paperID, models.StageExtract, models.StageSummarize); err != nil {
		return err
	}
	if _, err := s.stages.MarkPending(ctx, paperID, models.StageSummarize, models.SourceCallback); err != nil {
		return err
	}
	req := events.SummarizationRequested{
		WorkItemID:      paperID,
		ExtractedDocURL: result.ExtractedDocURL,
		Prompt:          s.opts.Prompt,
		Language:        s.opts.Language,
	}
	if err := events.PublishPayload(ctx, s.pub, events.KindSummarizationRequested, req); err != nil {
		return apperr.Unavailable(err.Error())
	}
	s.logger.Info("extraction result ingested", "paper_id", paperID, "figures", len(result.Figures), "tables", len(result.Tables))

	err := s.pusher.Push(ctx, paperID, notify.EventExtractionCompleted, map[string]any{
		"paperId": paperID,
		"title":   title,
	})
	if err != nil && !errors.Is(err, notify.ErrNotListening) {
		s.logger.Warn("extraction push failed", "paper_id", paperID, "error", err)
	}
	return nil
}

func sideArtifacts(result models.ExtractionResult) []models.SideArtifact {
	out := make([]models.SideArtifact, 0, len(result.Figures)+len(result.Tables))
	add := func(kind models.ArtifactKind, refs []models.ArtifactRef) {
		for _, r := range refs {
			if r.URL == "" {
				continue
			}
			out = append(out, models.SideArtifact{Kind: kind, URL: r.URL, Caption: util.SanitizeText(r.Caption), Page: r.Page})
		}
	}
	add(models.ArtifactFigure, result.Figures)
	add(models.ArtifactTable, result.Tables)
	return out
}

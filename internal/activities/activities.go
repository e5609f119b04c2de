// Package activities holds the Temporal activities behind operator stage
// retries.
package activities

import (
	"context"
	"errors"
	"fmt"

	"paperflow/internal/apperr"
	"paperflow/internal/blob"
	"paperflow/internal/events"
	"paperflow/internal/models"
	"paperflow/internal/stagelog"
	"paperflow/internal/storage"

	"go.temporal.io/sdk/temporal"
)

type SummaryOptions struct {
	Prompt   string
	Language string
}

type Activities struct {
	papers    storage.Papers
	summaries storage.Summaries
	stages    *stagelog.Service
	blobs     blob.Store
	pub       events.Publisher
	summary   SummaryOptions
}

func New(papers storage.Papers, summaries storage.Summaries, stages *stagelog.Service, blobs blob.Store, pub events.Publisher, summary SummaryOptions) *Activities {
	return &Activities{papers: papers, summaries: summaries, stages: stages, blobs: blobs, pub: pub, summary: summary}
}

// nonRetryable stops Temporal from retrying errors that will not go away.
func nonRetryable(err error) error {
	var e *apperr.Error
	if errors.As(err, &e) && (e.Code == apperr.CodeNotFound || e.Code == apperr.CodeValidation) {
		return temporal.NewNonRetryableApplicationError(e.Message, string(e.Code), err)
	}
	return err
}

// LoadRetryTargetActivity decides whether the stage needs a retry. A stage
// whose latest attempt succeeded is skipped, as is SUMMARIZE before
// extraction produced a document. SUMMARIZE only counts as done once the
// summary row exists; the completion consumer marks the stage before
// creating it.
func (a *Activities) LoadRetryTargetActivity(ctx context.Context, in LoadRetryTargetInput) (LoadRetryTargetOutput, error) {
	if !in.Stage.Valid() {
		return LoadRetryTargetOutput{}, nonRetryable(apperr.Validation(fmt.Sprintf("unknown stage %q", in.Stage)))
	}
	p, err := a.papers.GetPaper(ctx, in.PaperID)
	if err != nil {
		return LoadRetryTargetOutput{}, nonRetryable(err)
	}
	if in.Stage == models.StageSummarize && p.ExtractedDocURL == "" {
		return LoadRetryTargetOutput{Skip: true, Reason: "extraction has not produced a document yet"}, nil
	}
	cur, err := a.stages.Current(ctx, in.PaperID, in.Stage)
	if apperr.Is(err, apperr.CodeNotFound) {
		return LoadRetryTargetOutput{}, nil
	}
	if err != nil {
		return LoadRetryTargetOutput{}, err
	}
	if cur.Status == models.StageSuccess && in.Stage == models.StageSummarize {
		_, err := a.summaries.GetSummaryByPaper(ctx, in.PaperID)
		switch {
		case err == nil:
			return LoadRetryTargetOutput{Skip: true, Reason: "summary already exists", CurrentStatus: cur.Status}, nil
		case apperr.Is(err, apperr.CodeNotFound):
			return LoadRetryTargetOutput{CurrentStatus: cur.Status}, nil
		default:
			return LoadRetryTargetOutput{}, err
		}
	}
	if cur.Status == models.StageSuccess {
		return LoadRetryTargetOutput{Skip: true, Reason: "stage already succeeded", CurrentStatus: cur.Status}, nil
	}
	return LoadRetryTargetOutput{CurrentStatus: cur.Status}, nil
}

// RequeueStageActivity opens a RETRY attempt and republishes the event that
// starts the stage.
func (a *Activities) RequeueStageActivity(ctx context.Context, in RequeueStageInput) (RequeueStageOutput, error) {
	p, err := a.papers.GetPaper(ctx, in.PaperID)
	if err != nil {
		return RequeueStageOutput{}, nonRetryable(err)
	}
	entry, err := a.stages.MarkPending(ctx, in.PaperID, in.Stage, models.SourceRetry)
	if err != nil {
		return RequeueStageOutput{}, nonRetryable(err)
	}

	var (
		kind    events.Kind
		payload any
		status  models.PaperStatus
	)
	switch in.Stage {
	case models.StageExtract:
		kind, status = events.KindExtractionRequested, models.PaperPending
		payload = events.ExtractionRequested{WorkItemID: p.PaperID, OwnerID: p.OwnerID, SourceURL: a.blobs.URL(p.StorageLocator)}
	case models.StageSummarize:
		kind, status = events.KindSummarizationRequested, models.PaperAnalyzed
		payload = events.SummarizationRequested{WorkItemID: p.PaperID, ExtractedDocURL: p.ExtractedDocURL, Prompt: a.summary.Prompt, Language: a.summary.Language}
	default:
		return RequeueStageOutput{}, nonRetryable(apperr.Validation(fmt.Sprintf("unknown stage %q", in.Stage)))
	}
	if err := a.papers.UpdatePaperStatus(ctx, p.PaperID, status); err != nil {
		return RequeueStageOutput{}, err
	}
	if err := events.PublishPayload(ctx, a.pub, kind, payload); err != nil {
		return RequeueStageOutput{}, err
	}
	return RequeueStageOutput{LogID: entry.LogID, EventKind: string(kind)}, nil
}

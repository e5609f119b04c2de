// Package stagelog is the per-paper, per-stage state machine. Each attempt at
// a stage is one row that moves from PENDING to SUCCESS or FAILED.
package stagelog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"paperflow/internal/apperr"
	"paperflow/internal/models"
	"paperflow/internal/storage"
	"paperflow/internal/util"
)

// MaxErrorRunes bounds the stored error message.
const MaxErrorRunes = 1000

type Service struct {
	papers storage.Papers
	logs   storage.StageLogs
	logger *slog.Logger
	now    func() time.Time
}

func New(papers storage.Papers, logs storage.StageLogs, logger *slog.Logger) *Service {
	return &Service{
		papers: papers,
		logs:   logs,
		logger: logger.With("component", "stagelog"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source; used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// MarkPending opens a new attempt for stage. When the current row is already
// PENDING it is returned unchanged, so a re-affirmation never creates a
// second open attempt.
func (s *Service) MarkPending(ctx context.Context, paperID int64, stage models.Stage, source models.SourceType) (models.StageLogEntry, error) {
	if !stage.Valid() {
		return models.StageLogEntry{}, apperr.Validation(fmt.Sprintf("unknown stage %q", stage))
	}
	e, created, err := s.logs.InsertPending(ctx, paperID, stage, source, s.now())
	if err != nil {
		return models.StageLogEntry{}, fmt.Errorf("mark %s pending: %w", stage, err)
	}
	if !created {
		s.logger.Debug("stage already pending", "paper_id", paperID, "stage", stage, "log_id", e.LogID)
	}
	return e, nil
}

// Reaffirm confirms that stage is still in flight after an engine accepted
// the job. An open PENDING row is kept as is and a SUCCESS row is left alone,
// since a fast callback may already have completed the stage. A missing or
// FAILED row starts a new attempt.
func (s *Service) Reaffirm(ctx context.Context, paperID int64, stage models.Stage, source models.SourceType) (models.StageLogEntry, error) {
	cur, err := s.logs.CurrentEntry(ctx, paperID, stage)
	switch {
	case apperr.Is(err, apperr.CodeNotFound):
	case err != nil:
		return models.StageLogEntry{}, fmt.Errorf("reaffirm %s: %w", stage, err)
	case cur.Status != models.StageFailed:
		return cur, nil
	}
	return s.MarkPending(ctx, paperID, stage, source)
}

func (s *Service) MarkSuccess(ctx context.Context, paperID int64, stage models.Stage) (models.StageLogEntry, error) {
	e, err := s.logs.CompleteCurrent(ctx, paperID, stage, models.StageSuccess, nil, s.now())
	if err != nil {
		return models.StageLogEntry{}, fmt.Errorf("mark %s success: %w", stage, err)
	}
	return e, nil
}

func (s *Service) MarkFailed(ctx context.Context, paperID int64, stage models.Stage, msg string) (models.StageLogEntry, error) {
	msg = util.Truncate(util.SanitizeText(msg), MaxErrorRunes)
	e, err := s.logs.CompleteCurrent(ctx, paperID, stage, models.StageFailed, &msg, s.now())
	if err != nil {
		return models.StageLogEntry{}, fmt.Errorf("mark %s failed: %w", stage, err)
	}
	return e, nil
}

// AdvanceStage moves the paper's current-stage pointer from -> to. It does not
// open a log row; callers follow it with MarkPending. Re-applying an advance
// that already happened is a no-op.
func (s *Service) AdvanceStage(ctx context.Context, paperID int64, from, to models.Stage) error {
	if !from.Valid() || !to.Valid() || to.Order() <= from.Order() {
		return apperr.Validation(fmt.Sprintf("cannot advance from %s to %s", from, to))
	}
	moved, err := s.papers.CompareAndSetStage(ctx, paperID, from, to)
	if err != nil {
		return err
	}
	if moved {
		return nil
	}
	p, err := s.papers.GetPaper(ctx, paperID)
	if err != nil {
		return err
	}
	if p.CurrentStage == to {
		return nil
	}
	return apperr.Conflict(fmt.Sprintf("paper %d is at stage %s, not %s", paperID, p.CurrentStage, from))
}

func (s *Service) Current(ctx context.Context, paperID int64, stage models.Stage) (models.StageLogEntry, error) {
	return s.logs.CurrentEntry(ctx, paperID, stage)
}

func (s *Service) History(ctx context.Context, paperID int64) ([]models.StageLogEntry, error) {
	return s.logs.History(ctx, paperID)
}

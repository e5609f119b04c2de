package storage

import (
	"context"
	"fmt"

	"paperflow/internal/apperr"
	"paperflow/internal/models"

	"github.com/jackc/pgx/v5"
)

const summaryColumns = `summary_id, paper_id, result_locator, publish_status, created_at`

type SummaryRepo struct {
	db *DB
}

var _ Summaries = (*SummaryRepo)(nil)

func NewSummaryRepo(db *DB) *SummaryRepo {
	return &SummaryRepo{db: db}
}

func scanSummary(row pgx.Row) (models.Summary, error) {
	var s models.Summary
	err := row.Scan(&s.SummaryID, &s.PaperID, &s.ResultLocator, &s.PublishStatus, &s.CreatedAt)
	return s, err
}

// CreateSummary inserts the paper's summary unless one exists. The unique
// paper_id constraint makes this safe against concurrent duplicate deliveries.
func (r *SummaryRepo) CreateSummary(ctx context.Context, paperID int64, resultLocator string) (SummaryOutcome, error) {
	s, err := scanSummary(r.db.Pool.QueryRow(ctx, `
INSERT INTO summaries (paper_id, result_locator, publish_status)
VALUES ($1, $2, $3)
ON CONFLICT (paper_id) DO NOTHING
RETURNING `+summaryColumns, paperID, resultLocator, models.SummaryDraft))
	switch {
	case err == nil:
		return SummaryOutcome{Outcome: OutcomeCreated, Summary: s}, nil
	case isNoRows(err):
		existing, err := r.GetSummaryByPaper(ctx, paperID)
		if err != nil {
			return SummaryOutcome{}, err
		}
		return SummaryOutcome{Outcome: OutcomeAlreadyExists, Summary: existing}, nil
	case isPgCode(err, pgForeignKeyViolation):
		return SummaryOutcome{}, apperr.NotFound("paper", paperID)
	default:
		return SummaryOutcome{}, fmt.Errorf("insert summary: %w", err)
	}
}

func (r *SummaryRepo) GetSummaryByPaper(ctx context.Context, paperID int64) (models.Summary, error) {
	s, err := scanSummary(r.db.Pool.QueryRow(ctx, `SELECT `+summaryColumns+` FROM summaries WHERE paper_id=$1`, paperID))
	if isNoRows(err) {
		return models.Summary{}, apperr.NotFound("summary", paperID)
	}
	if err != nil {
		return models.Summary{}, fmt.Errorf("get summary: %w", err)
	}
	return s, nil
}

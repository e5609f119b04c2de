package storage

import (
	"context"
	"fmt"

	"paperflow/internal/apperr"
	"paperflow/internal/models"

	"github.com/jackc/pgx/v5"
)

const paperColumns = `paper_id, owner_id, title, original_filename, storage_locator, content_type, size_bytes,
       page_count, status, current_stage, COALESCE(extracted_doc_url,''), COALESCE(side_artifact_list_url,''),
       created_at, updated_at`

type PaperRepo struct {
	db *DB
}

var _ Papers = (*PaperRepo)(nil)

func NewPaperRepo(db *DB) *PaperRepo {
	return &PaperRepo{db: db}
}

func scanPaper(row pgx.Row) (models.Paper, error) {
	var p models.Paper
	err := row.Scan(&p.PaperID, &p.OwnerID, &p.Title, &p.OriginalFilename, &p.StorageLocator, &p.ContentType, &p.SizeBytes,
		&p.PageCount, &p.Status, &p.CurrentStage, &p.ExtractedDocURL, &p.SideArtifactListURL, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *PaperRepo) CreatePaper(ctx context.Context, p models.Paper) (models.Paper, error) {
	if p.CurrentStage == "" {
		p.CurrentStage = models.StageExtract
	}
	out, err := scanPaper(r.db.Pool.QueryRow(ctx, `
INSERT INTO papers (owner_id, title, original_filename, storage_locator, content_type, size_bytes, page_count, status, current_stage)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING `+paperColumns,
		p.OwnerID, p.Title, p.OriginalFilename, p.StorageLocator, p.ContentType, p.SizeBytes, p.PageCount, p.Status, p.CurrentStage,
	))
	if err != nil {
		return models.Paper{}, fmt.Errorf("insert paper: %w", err)
	}
	return out, nil
}

func (r *PaperRepo) GetPaper(ctx context.Context, paperID int64) (models.Paper, error) {
	p, err := scanPaper(r.db.Pool.QueryRow(ctx, `SELECT `+paperColumns+` FROM papers WHERE paper_id=$1`, paperID))
	if isNoRows(err) {
		return models.Paper{}, apperr.NotFound("paper", paperID)
	}
	if err != nil {
		return models.Paper{}, fmt.Errorf("get paper: %w", err)
	}
	return p, nil
}

func (r *PaperRepo) MarkAnalyzed(ctx context.Context, paperID int64, title, extractedDocURL, sideArtifactListURL string) error {
	tag, err := r.db.Pool.Exec(ctx, `
UPDATE papers
SET status=$2, title=COALESCE(NULLIF($3,''), title), extracted_doc_url=NULLIF($4,''),
    side_artifact_list_url=NULLIF($5,''), updated_at=NOW()
WHERE paper_id=$1`, paperID, models.PaperAnalyzed, title, extractedDocURL, sideArtifactListURL)
	if err != nil {
		return fmt.Errorf("mark paper analyzed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("paper", paperID)
	}
	return nil
}

func (r *PaperRepo) UpdatePaperStatus(ctx context.Context, paperID int64, status models.PaperStatus) error {
	tag, err := r.db.Pool.Exec(ctx, `UPDATE papers SET status=$2, updated_at=NOW() WHERE paper_id=$1`, paperID, status)
	if err != nil {
		return fmt.Errorf("update paper status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("paper", paperID)
	}
	return nil
}

func (r *PaperRepo) CompareAndSetStage(ctx context.Context, paperID int64, from, to models.Stage) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `UPDATE papers SET current_stage=$3, updated_at=NOW() WHERE paper_id=$1 AND current_stage=$2`, paperID, from, to)
	if err != nil {
		return false, fmt.Errorf("advance paper stage: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

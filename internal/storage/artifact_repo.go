package storage

import (
	"context"
	"fmt"

	"paperflow/internal/apperr"
	"paperflow/internal/models"
)

type ArtifactRepo struct {
	db *DB
}

var _ Artifacts = (*ArtifactRepo)(nil)

func NewArtifactRepo(db *DB) *ArtifactRepo {
	return &ArtifactRepo{db: db}
}

func (r *ArtifactRepo) SaveArtifacts(ctx context.Context, paperID int64, artifacts []models.SideArtifact) error {
	if len(artifacts) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx save artifacts: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	for _, a := range artifacts {
		_, err := tx.Exec(ctx, `
INSERT INTO side_artifacts (paper_id, kind, url, caption, page)
VALUES ($1, $2, $3, NULLIF($4,''), NULLIF($5,0))`,
			paperID, a.Kind, a.URL, a.Caption, a.Page)
		if isPgCode(err, pgForeignKeyViolation) {
			return apperr.NotFound("paper", paperID)
		}
		if err != nil {
			return fmt.Errorf("insert side artifact: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit artifacts tx: %w", err)
	}
	return nil
}

func (r *ArtifactRepo) ListArtifacts(ctx context.Context, paperID int64) ([]models.SideArtifact, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT artifact_id, paper_id, kind, url, COALESCE(caption,''), COALESCE(page,0), created_at
FROM side_artifacts
WHERE paper_id=$1
ORDER BY artifact_id ASC`, paperID)
	if err != nil {
		return nil, fmt.Errorf("list side artifacts: %w", err)
	}
	defer rows.Close()
	out := make([]models.SideArtifact, 0)
	for rows.Next() {
		var a models.SideArtifact
		if err := rows.Scan(&a.ArtifactID, &a.PaperID, &a.Kind, &a.URL, &a.Caption, &a.Page, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan side artifact: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate side artifacts: %w", err)
	}
	return out, nil
}

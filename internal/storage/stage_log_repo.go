package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"paperflow/internal/apperr"
	"paperflow/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
)

var stageLogColumns = []string{"log_id", "paper_id", "stage", "status", "source_type", "started_at", "completed_at", "error_message"}

type StageLogRepo struct {
	db *DB
}

var _ StageLogs = (*StageLogRepo)(nil)

func NewStageLogRepo(db *DB) *StageLogRepo {
	return &StageLogRepo{db: db}
}

func scanStageLog(row pgx.Row) (models.StageLogEntry, error) {
	var e models.StageLogEntry
	err := row.Scan(&e.LogID, &e.PaperID, &e.Stage, &e.Status, &e.SourceType, &e.StartedAt, &e.CompletedAt, &e.ErrorMessage)
	return e, err
}

func (r *StageLogRepo) InsertPending(ctx context.Context, paperID int64, stage models.Stage, source models.SourceType, at time.Time) (models.StageLogEntry, bool, error) {
	q, args, err := psql.Insert("stage_logs").
		Columns("paper_id", "stage", "status", "source_type", "started_at").
		Values(paperID, stage, models.StagePending, source, at).
		Suffix("ON CONFLICT (paper_id, stage) WHERE status = 'PENDING' DO NOTHING").
		Suffix("RETURNING " + strings.Join(stageLogColumns, ", ")).
		ToSql()
	if err != nil {
		return models.StageLogEntry{}, false, fmt.Errorf("build insert stage log: %w", err)
	}
	e, err := scanStageLog(r.db.Pool.QueryRow(ctx, q, args...))
	switch {
	case err == nil:
		return e, true, nil
	case isNoRows(err):
		// An open PENDING row already exists for this stage.
		cur, err := r.CurrentEntry(ctx, paperID, stage)
		return cur, false, err
	case isPgCode(err, pgForeignKeyViolation):
		return models.StageLogEntry{}, false, apperr.NotFound("paper", paperID)
	default:
		return models.StageLogEntry{}, false, fmt.Errorf("insert stage log: %w", err)
	}
}

func (r *StageLogRepo) CurrentEntry(ctx context.Context, paperID int64, stage models.Stage) (models.StageLogEntry, error) {
	q, args, err := psql.Select(stageLogColumns...).
		From("stage_logs").
		Where(squirrel.Eq{"paper_id": paperID, "stage": stage}).
		OrderBy("log_id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return models.StageLogEntry{}, fmt.Errorf("build current stage log: %w", err)
	}
	e, err := scanStageLog(r.db.Pool.QueryRow(ctx, q, args...))
	if isNoRows(err) {
		return models.StageLogEntry{}, apperr.NotFound("stage log", fmt.Sprintf("%d/%s", paperID, stage))
	}
	if err != nil {
		return models.StageLogEntry{}, fmt.Errorf("get current stage log: %w", err)
	}
	return e, nil
}

func (r *StageLogRepo) CompleteCurrent(ctx context.Context, paperID int64, stage models.Stage, status models.StageStatus, errMsg *string, at time.Time) (models.StageLogEntry, error) {
	q, args, err := psql.Update("stage_logs").
		Set("status", status).
		Set("completed_at", at).
		Set("error_message", errMsg).
		Where(squirrel.Expr("log_id = (SELECT log_id FROM stage_logs WHERE paper_id = ? AND stage = ? ORDER BY log_id DESC LIMIT 1)", paperID, stage)).
		Suffix("RETURNING " + strings.Join(stageLogColumns, ", ")).
		ToSql()
	if err != nil {
		return models.StageLogEntry{}, fmt.Errorf("build complete stage log: %w", err)
	}
	e, err := scanStageLog(r.db.Pool.QueryRow(ctx, q, args...))
	if isNoRows(err) {
		return models.StageLogEntry{}, apperr.NotFound("stage log", fmt.Sprintf("%d/%s", paperID, stage))
	}
	if err != nil {
		return models.StageLogEntry{}, fmt.Errorf("complete stage log: %w", err)
	}
	return e, nil
}

func (r *StageLogRepo) History(ctx context.Context, paperID int64) ([]models.StageLogEntry, error) {
	q, args, err := psql.Select(stageLogColumns...).
		From("stage_logs").
		Where(squirrel.Eq{"paper_id": paperID}).
		OrderBy("log_id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build stage history: %w", err)
	}
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list stage history: %w", err)
	}
	defer rows.Close()
	out := make([]models.StageLogEntry, 0, 4)
	for rows.Next() {
		e, err := scanStageLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stage log: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stage history: %w", err)
	}
	return out, nil
}

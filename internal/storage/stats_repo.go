package storage

import (
	"context"
	"fmt"
	"time"

	"paperflow/internal/models"

	"github.com/Masterminds/squirrel"
)

type StatsRepo struct {
	db *DB
}

var _ Stats = (*StatsRepo)(nil)

func NewStatsRepo(db *DB) *StatsRepo {
	return &StatsRepo{db: db}
}

func (r *StatsRepo) IncrementStat(ctx context.Context, kind string, day time.Time) error {
	q, args, err := psql.Insert("pipeline_stats").
		Columns("kind", "day", "count").
		Values(kind, Day(day), 1).
		Suffix("ON CONFLICT (kind, day) DO UPDATE SET count = pipeline_stats.count + 1").
		ToSql()
	if err != nil {
		return fmt.Errorf("build increment stat: %w", err)
	}
	if _, err := r.db.Pool.Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("increment stat: %w", err)
	}
	return nil
}

func (r *StatsRepo) ListStats(ctx context.Context, since time.Time) ([]models.PipelineStat, error) {
	q, args, err := psql.Select("kind", "day", "count").
		From("pipeline_stats").
		Where(squirrel.GtOrEq{"day": Day(since)}).
		OrderBy("day ASC", "kind ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list stats: %w", err)
	}
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list stats: %w", err)
	}
	defer rows.Close()
	out := make([]models.PipelineStat, 0)
	for rows.Next() {
		var s models.PipelineStat
		if err := rows.Scan(&s.Kind, &s.Day, &s.Count); err != nil {
			return nil, fmt.Errorf("scan stat: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}
	return out, nil
}

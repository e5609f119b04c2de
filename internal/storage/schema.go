package storage

import (
	"context"
	"fmt"
)

// migrations are applied in order; index+1 is the schema version.
var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS papers (
  paper_id               BIGSERIAL PRIMARY KEY,
  owner_id               BIGINT NOT NULL,
  title                  TEXT,
  original_filename      TEXT NOT NULL,
  storage_locator        TEXT NOT NULL,
  content_type           TEXT NOT NULL,
  size_bytes             BIGINT NOT NULL,
  page_count             INTEGER NOT NULL DEFAULT 0,
  status                 TEXT NOT NULL,
  current_stage          TEXT NOT NULL DEFAULT 'EXTRACT',
  extracted_doc_url      TEXT,
  side_artifact_list_url TEXT,
  created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_papers_owner ON papers(owner_id);

CREATE TABLE IF NOT EXISTS stage_logs (
  log_id        BIGSERIAL PRIMARY KEY,
  paper_id      BIGINT NOT NULL REFERENCES papers(paper_id) ON DELETE CASCADE,
  stage         TEXT NOT NULL,
  status        TEXT NOT NULL,
  source_type   TEXT NOT NULL,
  started_at    TIMESTAMPTZ NOT NULL,
  completed_at  TIMESTAMPTZ,
  error_message TEXT
);
CREATE INDEX IF NOT EXISTS idx_stage_logs_current ON stage_logs(paper_id, stage, log_id DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_stage_logs_one_pending ON stage_logs(paper_id, stage) WHERE status = 'PENDING';

CREATE TABLE IF NOT EXISTS summaries (
  summary_id     BIGSERIAL PRIMARY KEY,
  paper_id       BIGINT NOT NULL UNIQUE REFERENCES papers(paper_id) ON DELETE CASCADE,
  result_locator TEXT NOT NULL,
  publish_status TEXT NOT NULL,
  created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS side_artifacts (
  artifact_id BIGSERIAL PRIMARY KEY,
  paper_id    BIGINT NOT NULL REFERENCES papers(paper_id) ON DELETE CASCADE,
  kind        TEXT NOT NULL,
  url         TEXT NOT NULL,
  caption     TEXT,
  page        INTEGER,
  created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_side_artifacts_paper ON side_artifacts(paper_id);

CREATE TABLE IF NOT EXISTS pipeline_stats (
  kind  TEXT NOT NULL,
  day   DATE NOT NULL,
  count BIGINT NOT NULL DEFAULT 0,
  PRIMARY KEY (kind, day)
);`,
}

// CurrentSchemaVersion is the latest schema version.
var CurrentSchemaVersion = len(migrations)

// Migrate applies pending migrations, recording progress in schema_migrations.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.Pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW())`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	var version int
	if err := d.Pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for i := version; i < len(migrations); i++ {
		tx, err := d.Pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(ctx, migrations[i]); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations(version) VALUES ($1)`, i+1); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}
	return nil
}

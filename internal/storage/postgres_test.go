package storage

import (
	"context"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"paperflow/internal/apperr"
	"paperflow/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB migrates a throwaway schema on the database named by
// PAPERFLOW_TEST_POSTGRES_URL (a postgres:// URL) and drops it afterwards.
func openTestDB(t *testing.T) Repos {
	t.Helper()
	dsn := os.Getenv("PAPERFLOW_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("PAPERFLOW_TEST_POSTGRES_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schema := "paperflow_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	admin, err := NewDB(ctx, dsn)
	require.NoError(t, err)
	_, err = admin.Pool.Exec(ctx, "CREATE SCHEMA "+pgx.Identifier{schema}.Sanitize())
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Pool.Exec(context.Background(), "DROP SCHEMA "+pgx.Identifier{schema}.Sanitize()+" CASCADE")
		admin.Close()
	})

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()

	db, err := NewDB(ctx, u.String())
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(ctx))
	return NewPostgresRepos(db)
}

func createTestPaper(t *testing.T, repos Repos) models.Paper {
	t.Helper()
	p, err := repos.Papers.CreatePaper(context.Background(), models.Paper{
		OwnerID: 1, Status: models.PaperPending, CurrentStage: models.StageExtract, StorageLocator: "papers/a.pdf",
	})
	require.NoError(t, err)
	return p
}

func TestPostgresStageLogKeepsOnePendingRow(t *testing.T) {
	repos := openTestDB(t)
	ctx := context.Background()
	p := createTestPaper(t, repos)
	now := time.Now().UTC()

	first, created, err := repos.StageLogs.InsertPending(ctx, p.PaperID, models.StageExtract, models.SourceUpload, now)
	require.NoError(t, err)
	require.True(t, created)

	again, created, err := repos.StageLogs.InsertPending(ctx, p.PaperID, models.StageExtract, models.SourceAnalyzeRequest, now)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.LogID, again.LogID)

	done, err := repos.StageLogs.CompleteCurrent(ctx, p.PaperID, models.StageExtract, models.StageSuccess, nil, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, models.StageSuccess, done.Status)

	next, created, err := repos.StageLogs.InsertPending(ctx, p.PaperID, models.StageExtract, models.SourceRetry, now.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.LogID, next.LogID)

	hist, err := repos.StageLogs.History(ctx, p.PaperID)
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestPostgresInsertPendingUnknownPaper(t *testing.T) {
	repos := openTestDB(t)
	_, _, err := repos.StageLogs.InsertPending(context.Background(), 999999, models.StageExtract, models.SourceUpload, time.Now())
	require.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestPostgresCreateSummaryOnce(t *testing.T) {
	repos := openTestDB(t)
	ctx := context.Background()
	p := createTestPaper(t, repos)

	first, err := repos.Summaries.CreateSummary(ctx, p.PaperID, "summaries/a.md")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, first.Outcome)

	second, err := repos.Summaries.CreateSummary(ctx, p.PaperID, "summaries/b.md")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyExists, second.Outcome)
	assert.Equal(t, first.Summary.SummaryID, second.Summary.SummaryID)

	got, err := repos.Summaries.GetSummaryByPaper(ctx, p.PaperID)
	require.NoError(t, err)
	assert.Equal(t, first.Summary.SummaryID, got.SummaryID)
}

func TestPostgresCompareAndSetStage(t *testing.T) {
	repos := openTestDB(t)
	ctx := context.Background()
	p := createTestPaper(t, repos)

	moved, err := repos.Papers.CompareAndSetStage(ctx, p.PaperID, models.StageExtract, models.StageSummarize)
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = repos.Papers.CompareAndSetStage(ctx, p.PaperID, models.StageExtract, models.StageSummarize)
	require.NoError(t, err)
	assert.False(t, moved)

	got, err := repos.Papers.GetPaper(ctx, p.PaperID)
	require.NoError(t, err)
	assert.Equal(t, models.StageSummarize, got.CurrentStage)
}

func TestPostgresIncrementStat(t *testing.T) {
	repos := openTestDB(t)
	ctx := context.Background()
	day := Day(time.Now())

	require.NoError(t, repos.Stats.IncrementStat(ctx, "PAPER_UPLOADED", day))
	require.NoError(t, repos.Stats.IncrementStat(ctx, "PAPER_UPLOADED", day))

	stats, err := repos.Stats.ListStats(ctx, day)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, int64(2), stats[0].Count)
}

func TestPostgresArtifacts(t *testing.T) {
	repos := openTestDB(t)
	ctx := context.Background()
	p := createTestPaper(t, repos)

	require.NoError(t, repos.Artifacts.SaveArtifacts(ctx, p.PaperID, []models.SideArtifact{
		{Kind: models.ArtifactFigure, URL: "http://x/fig1.png", Caption: "Figure 1", Page: 2},
		{Kind: models.ArtifactTable, URL: "http://x/tab1.csv", Page: 3},
	}))
	got, err := repos.Artifacts.ListArtifacts(ctx, p.PaperID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.ArtifactFigure, got[0].Kind)
	assert.Equal(t, "Figure 1", got[0].Caption)
}

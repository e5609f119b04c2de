package storage

import (
	"context"
	"time"

	"paperflow/internal/models"
)

type Papers interface {
	CreatePaper(ctx context.Context, p models.Paper) (models.Paper, error)
	GetPaper(ctx context.Context, paperID int64) (models.Paper, error)
	MarkAnalyzed(ctx context.Context, paperID int64, title, extractedDocURL, sideArtifactListURL string) error
	UpdatePaperStatus(ctx context.Context, paperID int64, status models.PaperStatus) error
	// CompareAndSetStage moves current_stage from -> to and reports whether a row changed.
	CompareAndSetStage(ctx context.Context, paperID int64, from, to models.Stage) (bool, error)
}

type StageLogs interface {
	// InsertPending appends a PENDING row unless one is already open for the
	// stage, in which case the open row is returned with created=false.
	InsertPending(ctx context.Context, paperID int64, stage models.Stage, source models.SourceType, at time.Time) (entry models.StageLogEntry, created bool, err error)
	CurrentEntry(ctx context.Context, paperID int64, stage models.Stage) (models.StageLogEntry, error)
	CompleteCurrent(ctx context.Context, paperID int64, stage models.Stage, status models.StageStatus, errMsg *string, at time.Time) (models.StageLogEntry, error)
	History(ctx context.Context, paperID int64) ([]models.StageLogEntry, error)
}

type Outcome int

const (
	OutcomeCreated Outcome = iota
	OutcomeAlreadyExists
)

func (o Outcome) String() string {
	if o == OutcomeAlreadyExists {
		return "already_exists"
	}
	return "created"
}

// SummaryOutcome is the result of CreateSummary. Summary holds the new row
// when Outcome is OutcomeCreated and the pre-existing row otherwise.
type SummaryOutcome struct {
	Outcome Outcome
	Summary models.Summary
}

type Summaries interface {
	CreateSummary(ctx context.Context, paperID int64, resultLocator string) (SummaryOutcome, error)
	GetSummaryByPaper(ctx context.Context, paperID int64) (models.Summary, error)
}

type Artifacts interface {
	SaveArtifacts(ctx context.Context, paperID int64, artifacts []models.SideArtifact) error
	ListArtifacts(ctx context.Context, paperID int64) ([]models.SideArtifact, error)
}

type Stats interface {
	IncrementStat(ctx context.Context, kind string, day time.Time) error
	ListStats(ctx context.Context, since time.Time) ([]models.PipelineStat, error)
}

// Repos groups the repositories a process needs.
type Repos struct {
	Papers    Papers
	StageLogs StageLogs
	Summaries Summaries
	Artifacts Artifacts
	Stats     Stats
}

func NewPostgresRepos(db *DB) Repos {
	return Repos{
		Papers:    NewPaperRepo(db),
		StageLogs: NewStageLogRepo(db),
		Summaries: NewSummaryRepo(db),
		Artifacts: NewArtifactRepo(db),
		Stats:     NewStatsRepo(db),
	}
}

func NewMemoryRepos(m *Memory) Repos {
	return Repos{Papers: m, StageLogs: m, Summaries: m, Artifacts: m, Stats: m}
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, mo, d := t.UTC().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

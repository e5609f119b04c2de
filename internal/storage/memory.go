package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"paperflow/internal/apperr"
	"paperflow/internal/models"
)

// Memory is an in-process implementation of every repository. It enforces
// the same uniqueness rules as the Postgres schema.
type Memory struct {
	mu sync.Mutex

	nextPaper    int64
	nextLog      int64
	nextSummary  int64
	nextArtifact int64

	papers    map[int64]models.Paper
	logs      []models.StageLogEntry
	summaries map[int64]models.Summary
	artifacts map[int64][]models.SideArtifact
	stats     map[statKey]int64

	now func() time.Time
}

type statKey struct {
	kind string
	day  time.Time
}

var (
	_ Papers    = (*Memory)(nil)
	_ StageLogs = (*Memory)(nil)
	_ Summaries = (*Memory)(nil)
	_ Artifacts = (*Memory)(nil)
	_ Stats     = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		papers:    map[int64]models.Paper{},
		summaries: map[int64]models.Summary{},
		artifacts: map[int64][]models.SideArtifact{},
		stats:     map[statKey]int64{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) CreatePaper(_ context.Context, p models.Paper) (models.Paper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextPaper++
	now := m.now()
	p.PaperID = m.nextPaper
	if p.CurrentStage == "" {
		p.CurrentStage = models.StageExtract
	}
	p.CreatedAt, p.UpdatedAt = now, now
	m.papers[p.PaperID] = p
	return p, nil
}

func (m *Memory) GetPaper(_ context.Context, paperID int64) (models.Paper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.papers[paperID]
	if !ok {
		return models.Paper{}, apperr.NotFound("paper", paperID)
	}
	return p, nil
}

func (m *Memory) MarkAnalyzed(_ context.Context, paperID int64, title, extractedDocURL, sideArtifactListURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.papers[paperID]
	if !ok {
		return apperr.NotFound("paper", paperID)
	}
	p.Status = models.PaperAnalyzed
	if title != "" {
		t := title
		p.Title = &t
	}
	p.ExtractedDocURL = extractedDocURL
	p.SideArtifactListURL = sideArtifactListURL
	p.UpdatedAt = m.now()
	m.papers[paperID] = p
	return nil
}

func (m *Memory) UpdatePaperStatus(_ context.Context, paperID int64, status models.PaperStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.papers[paperID]
	if !ok {
		return apperr.NotFound("paper", paperID)
	}
	p.Status = status
	p.UpdatedAt = m.now()
	m.papers[paperID] = p
	return nil
}

func (m *Memory) CompareAndSetStage(_ context.Context, paperID int64, from, to models.Stage) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.papers[paperID]
	if !ok || p.CurrentStage != from {
		return false, nil
	}
	p.CurrentStage = to
	p.UpdatedAt = m.now()
	m.papers[paperID] = p
	return true, nil
}

// currentIndex returns the index of the latest row for (paper, stage), or -1.
func (m *Memory) currentIndex(paperID int64, stage models.Stage) int {
	for i := len(m.logs) - 1; i >= 0; i-- {
		if m.logs[i].PaperID == paperID && m.logs[i].Stage == stage {
			return i
		}
	}
	return -1
}

func (m *Memory) InsertPending(_ context.Context, paperID int64, stage models.Stage, source models.SourceType, at time.Time) (models.StageLogEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.papers[paperID]; !ok {
		return models.StageLogEntry{}, false, apperr.NotFound("paper", paperID)
	}
	if i := m.currentIndex(paperID, stage); i >= 0 && m.logs[i].Status == models.StagePending {
		return m.logs[i], false, nil
	}
	m.nextLog++
	e := models.StageLogEntry{
		LogID:      m.nextLog,
		PaperID:    paperID,
		Stage:      stage,
		Status:     models.StagePending,
		SourceType: source,
		StartedAt:  at,
	}
	m.logs = append(m.logs, e)
	return e, true, nil
}

func (m *Memory) CurrentEntry(_ context.Context, paperID int64, stage models.Stage) (models.StageLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.currentIndex(paperID, stage)
	if i < 0 {
		return models.StageLogEntry{}, apperr.NotFound("stage log", fmt.Sprintf("%d/%s", paperID, stage))
	}
	return m.logs[i], nil
}

func (m *Memory) CompleteCurrent(_ context.Context, paperID int64, stage models.Stage, status models.StageStatus, errMsg *string, at time.Time) (models.StageLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.currentIndex(paperID, stage)
	if i < 0 {
		return models.StageLogEntry{}, apperr.NotFound("stage log", fmt.Sprintf("%d/%s", paperID, stage))
	}
	done := at
	m.logs[i].Status = status
	m.logs[i].CompletedAt = &done
	m.logs[i].ErrorMessage = errMsg
	return m.logs[i], nil
}

func (m *Memory) History(_ context.Context, paperID int64) ([]models.StageLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.StageLogEntry, 0, 4)
	for _, e := range m.logs {
		if e.PaperID == paperID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) CreateSummary(_ context.Context, paperID int64, resultLocator string) (SummaryOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.papers[paperID]; !ok {
		return SummaryOutcome{}, apperr.NotFound("paper", paperID)
	}
	if s, ok := m.summaries[paperID]; ok {
		return SummaryOutcome{Outcome: OutcomeAlreadyExists, Summary: s}, nil
	}
	m.nextSummary++
	s := models.Summary{
		SummaryID:     m.nextSummary,
		PaperID:       paperID,
		ResultLocator: resultLocator,
		PublishStatus: models.SummaryDraft,
		CreatedAt:     m.now(),
	}
	m.summaries[paperID] = s
	return SummaryOutcome{Outcome: OutcomeCreated, Summary: s}, nil
}

func (m *Memory) GetSummaryByPaper(_ context.Context, paperID int64) (models.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.summaries[paperID]
	if !ok {
		return models.Summary{}, apperr.NotFound("summary", paperID)
	}
	return s, nil
}

// SummaryCount reports how many summaries exist.
func (m *Memory) SummaryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.summaries)
}

func (m *Memory) SaveArtifacts(_ context.Context, paperID int64, artifacts []models.SideArtifact) error {
	if len(artifacts) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.papers[paperID]; !ok {
		return apperr.NotFound("paper", paperID)
	}
	now := m.now()
	for _, a := range artifacts {
		m.nextArtifact++
		a.ArtifactID = m.nextArtifact
		a.PaperID = paperID
		a.CreatedAt = now
		m.artifacts[paperID] = append(m.artifacts[paperID], a)
	}
	return nil
}

func (m *Memory) ListArtifacts(_ context.Context, paperID int64) ([]models.SideArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.SideArtifact(nil), m.artifacts[paperID]...), nil
}

func (m *Memory) IncrementStat(_ context.Context, kind string, day time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats[statKey{kind: kind, day: Day(day)}]++
	return nil
}

func (m *Memory) ListStats(_ context.Context, since time.Time) ([]models.PipelineStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	from := Day(since)
	out := make([]models.PipelineStat, 0, len(m.stats))
	for k, n := range m.stats {
		if k.day.Before(from) {
			continue
		}
		out = append(out, models.PipelineStat{Kind: k.kind, Day: k.day, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Day.Equal(out[j].Day) {
			return out[i].Day.Before(out[j].Day)
		}
		return out[i].Kind < out[j].Kind
	})
	return out, nil
}

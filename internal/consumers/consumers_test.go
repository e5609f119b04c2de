package consumers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"paperflow/internal/broker"
	"paperflow/internal/events"
	"paperflow/internal/extraction"
	"paperflow/internal/logging"
	"paperflow/internal/models"
	"paperflow/internal/stagelog"
	"paperflow/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type push struct {
	paperID int64
	event   string
}

type countingPusher struct {
	mu     sync.Mutex
	pushes []push
}

func (p *countingPusher) Push(_ context.Context, paperID int64, event string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, push{paperID, event})
	return nil
}

func (p *countingPusher) all() []push {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]push(nil), p.pushes...)
}

type harness struct {
	ctx    context.Context
	store  *storage.Memory
	broker *broker.Memory
	stages *stagelog.Service
	fake   *extraction.Fake
	pusher *countingPusher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	m := storage.NewMemory()
	b := broker.NewMemory(logging.Discard())
	t.Cleanup(func() { _ = b.Close() })
	stages := stagelog.New(m, m, logging.Discard())
	h := &harness{ctx: ctx, store: m, broker: b, stages: stages, fake: extraction.NewFake(), pusher: &countingPusher{}}

	c := New(storage.NewMemoryRepos(m), stages, h.fake, h.pusher, logging.Discard())
	require.NoError(t, c.Register(ctx, b, 2))
	return h
}

// paperAt creates papers until one with the wanted id exists.
func (h *harness) paperAt(t *testing.T, id int64) {
	t.Helper()
	for {
		p, err := h.store.CreatePaper(h.ctx, models.Paper{OwnerID: 5, Status: models.PaperPending})
		require.NoError(t, err)
		if p.PaperID == id {
			return
		}
		require.Less(t, p.PaperID, id)
	}
}

func (h *harness) publish(t *testing.T, kind events.Kind, payload any) {
	t.Helper()
	require.NoError(t, events.PublishPayload(h.ctx, h.broker, kind, payload))
}

func TestExtractionRequestedAccepted(t *testing.T) {
	h := newHarness(t)
	h.paperAt(t, 1)
	_, err := h.stages.MarkPending(h.ctx, 1, models.StageExtract, models.SourceUpload)
	require.NoError(t, err)

	req := events.ExtractionRequested{WorkItemID: 1, OwnerID: 5, SourceURL: "http://api/files/papers/x.pdf"}
	h.publish(t, events.KindExtractionRequested, req)
	require.NoError(t, h.broker.WaitIdle(h.ctx))

	assert.Equal(t, []events.ExtractionRequested{req}, h.fake.Calls())
	hist, err := h.store.History(h.ctx, 1)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, models.StagePending, hist[0].Status)
	assert.Equal(t, int64(0), h.broker.Rejected(events.QueueFor(events.KindExtractionRequested)))
}

func TestExtractionRequestedEngineDown(t *testing.T) {
	h := newHarness(t)
	h.paperAt(t, 1)
	_, err := h.stages.MarkPending(h.ctx, 1, models.StageExtract, models.SourceUpload)
	require.NoError(t, err)
	h.fake.Err = errors.New("dial tcp: connection refused")

	h.publish(t, events.KindExtractionRequested, events.ExtractionRequested{WorkItemID: 1, OwnerID: 5, SourceURL: "u"})
	require.NoError(t, h.broker.WaitIdle(h.ctx))

	cur, err := h.store.CurrentEntry(h.ctx, 1, models.StageExtract)
	require.NoError(t, err)
	assert.Equal(t, models.StageFailed, cur.Status)
	require.NotNil(t, cur.ErrorMessage)
	assert.Contains(t, *cur.ErrorMessage, "connection refused")

	p, err := h.store.GetPaper(h.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.PaperFailed, p.Status)
	assert.Equal(t, int64(1), h.broker.Rejected(events.QueueFor(events.KindExtractionRequested)))
}

func TestDuplicateCompletionCreatesOneSummary(t *testing.T) {
	h := newHarness(t)
	h.paperAt(t, 7)
	_, err := h.stages.MarkPending(h.ctx, 7, models.StageSummarize, models.SourceCallback)
	require.NoError(t, err)

	done := events.SummarizationCompleted{WorkItemID: 7, ResultLocator: "k"}
	h.publish(t, events.KindSummarizationCompleted, done)
	h.publish(t, events.KindSummarizationCompleted, done)
	require.NoError(t, h.broker.WaitIdle(h.ctx))

	assert.Equal(t, 1, h.store.SummaryCount())
	s, err := h.store.GetSummaryByPaper(h.ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "k", s.ResultLocator)
	assert.Equal(t, []push{{7, "summarization_completed"}}, h.pusher.all())

	cur, err := h.store.CurrentEntry(h.ctx, 7, models.StageSummarize)
	require.NoError(t, err)
	assert.Equal(t, models.StageSuccess, cur.Status)
	assert.Equal(t, int64(0), h.broker.Rejected(events.QueueFor(events.KindSummarizationCompleted)))
}

func TestCompletionForUnknownPaperIsAcked(t *testing.T) {
	h := newHarness(t)
	h.publish(t, events.KindSummarizationCompleted, events.SummarizationCompleted{WorkItemID: 99, ResultLocator: "k"})
	require.NoError(t, h.broker.WaitIdle(h.ctx))

	assert.Equal(t, 0, h.store.SummaryCount())
	assert.Empty(t, h.pusher.all())
	assert.Equal(t, int64(0), h.broker.Rejected(events.QueueFor(events.KindSummarizationCompleted)))
}

func TestStatsCountEveryKind(t *testing.T) {
	h := newHarness(t)
	h.publish(t, events.KindSummarizationRequested, events.SummarizationRequested{WorkItemID: 1})
	h.publish(t, events.KindSummarizationRequested, events.SummarizationRequested{WorkItemID: 2})
	h.publish(t, events.KindSummarizationCompleted, events.SummarizationCompleted{WorkItemID: 3})
	require.NoError(t, h.broker.WaitIdle(h.ctx))

	stats, err := h.store.ListStats(h.ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	counts := map[string]int64{}
	for _, s := range stats {
		counts[s.Kind] += s.Count
	}
	assert.Equal(t, int64(2), counts[string(events.KindSummarizationRequested)])
	assert.Equal(t, int64(1), counts[string(events.KindSummarizationCompleted)])
}

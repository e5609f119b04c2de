package intake

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"paperflow/internal/apperr"
	"paperflow/internal/blob"
	"paperflow/internal/events"
	"paperflow/internal/logging"
	"paperflow/internal/models"
	"paperflow/internal/stagelog"
	"paperflow/internal/storage"
	"paperflow/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu   sync.Mutex
	envs []events.Envelope
}

func (p *recordingPublisher) Publish(_ context.Context, env events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envs = append(p.envs, env)
	return nil
}

type fixture struct {
	svc   *Service
	store *storage.Memory
	pub   *recordingPublisher
	blobs *blob.Local
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	m := storage.NewMemory()
	blobs, err := blob.NewLocal(t.TempDir(), "http://api.local")
	require.NoError(t, err)
	pub := &recordingPublisher{}
	stages := stagelog.New(m, m, logging.Discard())
	return fixture{
		svc:   New(m, stages, blobs, pub, 1<<20, logging.Discard()),
		store: m,
		pub:   pub,
		blobs: blobs,
	}
}

func pdfFile() File {
	return File{Name: "paper.pdf", ContentType: "application/pdf", Body: bytes.NewReader(testutil.MinimalPDF("A Study"))}
}

func TestUploadCreatesPaperAndExtractRow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	p, err := f.svc.Upload(ctx, pdfFile(), 42)
	require.NoError(t, err)
	assert.Equal(t, models.PaperPending, p.Status)
	assert.Equal(t, int64(42), p.OwnerID)
	assert.Equal(t, 1, p.PageCount)
	assert.Nil(t, p.Title)
	assert.Equal(t, "paper.pdf", p.OriginalFilename)

	hist, err := f.store.History(ctx, p.PaperID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, models.StageExtract, hist[0].Stage)
	assert.Equal(t, models.StagePending, hist[0].Status)
	assert.Equal(t, models.SourceUpload, hist[0].SourceType)

	rc, err := f.blobs.Open(ctx, p.StorageLocator)
	require.NoError(t, err)
	rc.Close()
	assert.Empty(t, f.pub.envs)
}

func TestUploadValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cases := map[string]File{
		"content type": {Name: "a.txt", ContentType: "text/plain", Body: strings.NewReader("hi")},
		"empty":        {Name: "a.pdf", ContentType: "application/pdf", Body: strings.NewReader("")},
		"not a pdf":    {Name: "a.pdf", ContentType: "application/pdf", Body: strings.NewReader("plain text")},
		"too large":    {Name: "a.pdf", ContentType: "application/pdf", Body: bytes.NewReader(make([]byte, 2<<20))},
	}
	for name, file := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Upload(ctx, file, 1)
			require.True(t, apperr.Is(err, apperr.CodeValidation), "got %v", err)
		})
	}
	_, err := f.svc.Upload(ctx, pdfFile(), 0)
	require.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestRequestAnalysisPublishesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p, err := f.svc.Upload(ctx, pdfFile(), 42)
	require.NoError(t, err)

	req, err := f.svc.RequestAnalysis(ctx, p.PaperID, 42)
	require.NoError(t, err)
	require.Len(t, f.pub.envs, 1)

	got, err := events.Decode[events.ExtractionRequested](f.pub.envs[0], events.KindExtractionRequested)
	require.NoError(t, err)
	assert.Equal(t, req, got)
	assert.Equal(t, p.PaperID, got.WorkItemID)
	assert.Equal(t, int64(42), got.OwnerID)
	assert.Equal(t, f.blobs.URL(p.StorageLocator), got.SourceURL)
}

func TestRequestAnalysisOtherOwnerDenied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p, err := f.svc.Upload(ctx, pdfFile(), 42)
	require.NoError(t, err)

	_, err = f.svc.RequestAnalysis(ctx, p.PaperID, 43)
	require.True(t, apperr.Is(err, apperr.CodeAccessDenied))
	assert.Empty(t, f.pub.envs)

	_, err = f.svc.RequestAnalysis(ctx, p.PaperID+99, 42)
	require.True(t, apperr.Is(err, apperr.CodeNotFound))
	assert.Empty(t, f.pub.envs)
}

func TestRequestAnalysisReopensFailedPaper(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p, err := f.svc.Upload(ctx, pdfFile(), 42)
	require.NoError(t, err)
	require.NoError(t, f.store.UpdatePaperStatus(ctx, p.PaperID, models.PaperFailed))

	_, err = f.svc.RequestAnalysis(ctx, p.PaperID, 42)
	require.NoError(t, err)

	got, err := f.store.GetPaper(ctx, p.PaperID)
	require.NoError(t, err)
	assert.Equal(t, models.PaperPending, got.Status)
	require.Len(t, f.pub.envs, 1)
}

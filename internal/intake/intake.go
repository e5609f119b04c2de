// Package intake accepts uploaded papers and starts their pipeline.
package intake

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"

	"paperflow/internal/apperr"
	"paperflow/internal/blob"
	"paperflow/internal/events"
	"paperflow/internal/models"
	"paperflow/internal/stagelog"
	"paperflow/internal/storage"

	"github.com/ledongthuc/pdf"
)

const (
	AcceptedContentType = "application/pdf"
	paperFolder         = "papers"
)

type File struct {
	Name        string
	ContentType string
	Body        io.Reader
}

type Service struct {
	papers   storage.Papers
	stages   *stagelog.Service
	blobs    blob.Store
	pub      events.Publisher
	maxBytes int64
	logger   *slog.Logger
}

func New(papers storage.Papers, stages *stagelog.Service, blobs blob.Store, pub events.Publisher, maxBytes int64, logger *slog.Logger) *Service {
	return &Service{
		papers:   papers,
		stages:   stages,
		blobs:    blobs,
		pub:      pub,
		maxBytes: maxBytes,
		logger:   logger.With("component", "intake"),
	}
}

// Upload validates f, stores its bytes and creates the paper with an open
// EXTRACT attempt. The blob write and the two inserts are not atomic; a
// failed insert leaves an orphaned blob behind.
func (s *Service) Upload(ctx context.Context, f File, ownerID int64) (models.Paper, error) {
	if ownerID <= 0 {
		return models.Paper{}, apperr.Validation("owner id is required")
	}
	mediaType, _, err := mime.ParseMediaType(f.ContentType)
	if err != nil || mediaType != AcceptedContentType {
		return models.Paper{}, apperr.Validation(fmt.Sprintf("unsupported content type %q, want %s", f.ContentType, AcceptedContentType))
	}
	raw, err := io.ReadAll(io.LimitReader(f.Body, s.maxBytes+1))
	if err != nil {
		return models.Paper{}, fmt.Errorf("read upload: %w", err)
	}
	if len(raw) == 0 {
		return models.Paper{}, apperr.Validation("file is empty")
	}
	if int64(len(raw)) > s.maxBytes {
		return models.Paper{}, apperr.Validation(fmt.Sprintf("file exceeds %d bytes", s.maxBytes))
	}
	pages, err := PageCount(raw)
	if err != nil {
		return models.Paper{}, err
	}

	name := filepath.Base(f.Name)
	locator, err := s.blobs.Upload(ctx, name, bytes.NewReader(raw), paperFolder)
	if err != nil {
		return models.Paper{}, fmt.Errorf("store upload: %w", err)
	}
	paper, err := s.papers.CreatePaper(ctx, models.Paper{
		OwnerID:          ownerID,
		OriginalFilename: name,
		StorageLocator:   locator,
		ContentType:      mediaType,
		SizeBytes:        int64(len(raw)),
		PageCount:        pages,
		Status:           models.PaperPending,
		CurrentStage:     models.StageExtract,
	})
	if err != nil {
		return models.Paper{}, err
	}
	if _, err := s.stages.MarkPending(ctx, paper.PaperID, models.StageExtract, models.SourceUpload); err != nil {
		return models.Paper{}, err
	}
	s.logger.Info("paper uploaded", "paper_id", paper.PaperID, "owner_id", ownerID, "pages", pages, "bytes", len(raw))
	return paper, nil
}

// RequestAnalysis publishes the extraction request for a paper owned by ownerID.
func (s *Service) RequestAnalysis(ctx context.Context, paperID, ownerID int64) (events.ExtractionRequested, error) {
	paper, err := s.papers.GetPaper(ctx, paperID)
	if err != nil {
		return events.ExtractionRequested{}, err
	}
	if paper.OwnerID != ownerID {
		return events.ExtractionRequested{}, apperr.AccessDenied(fmt.Sprintf("paper %d belongs to another owner", paperID))
	}
	// A paper failed by an earlier extraction attempt is back in flight.
	if paper.Status == models.PaperFailed {
		if err := s.papers.UpdatePaperStatus(ctx, paperID, models.PaperPending); err != nil {
			return events.ExtractionRequested{}, fmt.Errorf("reset paper status: %w", err)
		}
	}
	req := events.ExtractionRequested{
		WorkItemID: paper.PaperID,
		OwnerID:    paper.OwnerID,
		SourceURL:  s.blobs.URL(paper.StorageLocator),
	}
	if err := events.PublishPayload(ctx, s.pub, events.KindExtractionRequested, req); err != nil {
		return events.ExtractionRequested{}, apperr.Unavailable(err.Error())
	}
	s.logger.Info("analysis requested", "paper_id", paperID)
	return req, nil
}

// PageCount parses raw as a PDF and returns its page count.
func PageCount(raw []byte) (int, error) {
	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return 0, apperr.Validation(fmt.Sprintf("file is not a readable PDF: %v", err))
	}
	n := r.NumPage()
	if n < 1 {
		return 0, apperr.Validation("PDF has no pages")
	}
	return n, nil
}

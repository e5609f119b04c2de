package extraction

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"paperflow/internal/blob"
	"paperflow/internal/events"
	"paperflow/internal/models"
	"paperflow/internal/util"

	"github.com/ledongthuc/pdf"
)

const extractedFolder = "extracted"

// Local extracts plain text in-process and delivers the result straight to
// the sink, standing in for a remote engine in single-binary mode.
type Local struct {
	blobs  blob.Store
	sink   ResultSink
	logger *slog.Logger
}

func NewLocal(blobs blob.Store, sink ResultSink, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{blobs: blobs, sink: sink, logger: logger.With("component", "local_extraction")}
}

func (l *Local) RequestExtraction(ctx context.Context, req events.ExtractionRequested) error {
	locator, ok := l.blobs.Locator(req.SourceURL)
	if !ok {
		return fmt.Errorf("source url %q is not served by the local blob store", req.SourceURL)
	}
	rc, err := l.blobs.Open(ctx, locator)
	if err != nil {
		return err
	}
	raw, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return fmt.Errorf("read source document: %w", err)
	}
	text, err := PlainText(raw)
	if err != nil {
		return err
	}
	docLocator, err := l.blobs.Upload(ctx, fmt.Sprintf("paper-%d.txt", req.WorkItemID), strings.NewReader(text), extractedFolder)
	if err != nil {
		return fmt.Errorf("store extracted text: %w", err)
	}
	result := models.ExtractionResult{
		Title:           util.Truncate(util.FirstLine(text), 300),
		ExtractedDocURL: l.blobs.URL(docLocator),
	}
	l.logger.Info("extracted text", "paper_id", req.WorkItemID, "chars", len(text))
	return l.sink.ReceiveExtractionResult(ctx, req.WorkItemID, result)
}

// PlainText returns the sanitized text of a PDF document.
func PlainText(raw []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, reader); err != nil {
		return "", fmt.Errorf("read extracted text: %w", err)
	}
	text := util.SanitizeText(buf.String())
	if text == "" {
		return "", util.ErrNoExtractableText
	}
	return text, nil
}

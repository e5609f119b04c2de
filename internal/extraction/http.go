package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"paperflow/internal/apperr"
	"paperflow/internal/events"
)

const engineService = "extraction engine"

// HTTP posts jobs to a remote engine. There is no retry; the consumer
// records the failure on the stage log.
type HTTP struct {
	url    string
	client *http.Client
}

func NewHTTP(url string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTP{url: url, client: &http.Client{Timeout: timeout}}
}

func (h *HTTP) RequestExtraction(ctx context.Context, req events.ExtractionRequested) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal extraction request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build extraction request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(httpReq)
	if err != nil {
		return apperr.ExternalDependency(engineService, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apperr.ExternalDependency(engineService, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

package workflows

import "paperflow/internal/models"

const (
	QueryGetRetryStatus = "GetRetryStatus"

	PhaseLoading  = "loading"
	PhaseSkipped  = "skipped"
	PhaseRequeued = "requeued"
	PhaseFailed   = "failed"
)

type StageRetryInput struct {
	PaperID int64        `json:"paper_id"`
	Stage   models.Stage `json:"stage"`
}

type StageRetryStatus struct {
	PaperID   int64        `json:"paper_id"`
	Stage     models.Stage `json:"stage"`
	Phase     string       `json:"phase"`
	Detail    string       `json:"detail,omitempty"`
	LogID     int64        `json:"log_id,omitempty"`
	EventKind string       `json:"event_kind,omitempty"`
}

package activities

import "paperflow/internal/models"

type LoadRetryTargetInput struct {
	PaperID int64        `json:"paper_id"`
	Stage   models.Stage `json:"stage"`
}

type LoadRetryTargetOutput struct {
	Skip          bool               `json:"skip"`
	Reason        string             `json:"reason,omitempty"`
	CurrentStatus models.StageStatus `json:"current_status,omitempty"`
}

type RequeueStageInput struct {
	PaperID int64        `json:"paper_id"`
	Stage   models.Stage `json:"stage"`
}

type RequeueStageOutput struct {
	LogID     int64  `json:"log_id"`
	EventKind string `json:"event_kind"`
}

package models

import "time"

type PaperStatus string

const (
	PaperPending   PaperStatus = "PENDING"
	PaperAnalyzed  PaperStatus = "ANALYZED"
	PaperPublished PaperStatus = "PUBLISHED"
	PaperFailed    PaperStatus = "FAILED"
)

type Stage string

const (
	StageExtract   Stage = "EXTRACT"
	StageSummarize Stage = "SUMMARIZE"
)

// Order returns the position of the stage in the pipeline, or -1 if unknown.
func (s Stage) Order() int {
	switch s {
	case StageExtract:
		return 0
	case StageSummarize:
		return 1
	default:
		return -1
	}
}

func (s Stage) Valid() bool { return s.Order() >= 0 }

type StageStatus string

const (
	StagePending StageStatus = "PENDING"
	StageSuccess StageStatus = "SUCCESS"
	StageFailed  StageStatus = "FAILED"
)

func (s StageStatus) Terminal() bool { return s == StageSuccess || s == StageFailed }

// SourceType records what triggered a stage attempt.
type SourceType string

const (
	SourceUpload         SourceType = "UPLOAD"
	SourceAnalyzeRequest SourceType = "ANALYZE_REQUEST"
	SourceCallback       SourceType = "CALLBACK"
	SourceRetry          SourceType = "RETRY"
)

type Paper struct {
	PaperID             int64       `json:"paper_id"`
	OwnerID             int64       `json:"owner_id"`
	Title               *string     `json:"title,omitempty"`
	OriginalFilename    string      `json:"original_filename"`
	StorageLocator      string      `json:"storage_locator"`
	ContentType         string      `json:"content_type"`
	SizeBytes           int64       `json:"size_bytes"`
	PageCount           int         `json:"page_count"`
	Status              PaperStatus `json:"status"`
	CurrentStage        Stage       `json:"current_stage"`
	ExtractedDocURL     string      `json:"extracted_doc_url,omitempty"`
	SideArtifactListURL string      `json:"side_artifact_list_url,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

type StageLogEntry struct {
	LogID        int64       `json:"log_id"`
	PaperID      int64       `json:"paper_id"`
	Stage        Stage       `json:"stage"`
	Status       StageStatus `json:"status"`
	SourceType   SourceType  `json:"source_type"`
	StartedAt    time.Time   `json:"started_at"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	ErrorMessage *string     `json:"error_message,omitempty"`
}

type ArtifactKind string

const (
	ArtifactFigure ArtifactKind = "FIGURE"
	ArtifactTable  ArtifactKind = "TABLE"
)

type SideArtifact struct {
	ArtifactID int64        `json:"artifact_id"`
	PaperID    int64        `json:"paper_id"`
	Kind       ArtifactKind `json:"kind"`
	URL        string       `json:"url"`
	Caption    string       `json:"caption,omitempty"`
	Page       int          `json:"page,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

type SummaryStatus string

const (
	SummaryDraft     SummaryStatus = "DRAFT"
	SummaryPublished SummaryStatus = "PUBLISHED"
)

type Summary struct {
	SummaryID     int64         `json:"summary_id"`
	PaperID       int64         `json:"paper_id"`
	ResultLocator string        `json:"result_locator"`
	PublishStatus SummaryStatus `json:"publish_status"`
	CreatedAt     time.Time     `json:"created_at"`
}

// PipelineStat is the number of events of one kind observed on one day.
type PipelineStat struct {
	Kind  string    `json:"kind"`
	Day   time.Time `json:"day"`
	Count int64     `json:"count"`
}

// ArtifactRef is a figure or table reference as reported by the extraction engine.
type ArtifactRef struct {
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
	Page    int    `json:"page,omitempty"`
}

// ExtractionResult is the payload pushed back by the extraction engine.
type ExtractionResult struct {
	Title               string        `json:"title"`
	ExtractedDocURL     string        `json:"extractedDocUrl"`
	SideArtifactListURL string        `json:"sideArtifactListUrl"`
	Figures             []ArtifactRef `json:"figures"`
	Tables              []ArtifactRef `json:"tables"`
}

package domain

import "time"

// Run status values.
const (
	RunStatusPending   = "pending"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run records one execution of the analytics pipeline for a dataset.
type Run struct {
	ID        string    `json:"id"`
	DatasetID string    `json:"datasetId"`
	Status    string    `json:"status"`
	AsOfDate  string    `json:"asOfDate,omitempty"`
	RawDir    string    `json:"rawDir,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Stats     RunStats  `json:"stats"`
}

// RunStats summarises the row counts of a run.
type RunStats struct {
	Members           int     `json:"members"`
	Admissions        int     `json:"admissions"`
	Claims            int     `json:"claims"`
	Readmissions      int     `json:"readmissions"`
	Events            int     `json:"events"`
	DroppedEvents     int     `json:"droppedEvents"`
	FailedPreventable int     `json:"failedPreventableChecks"`
	HighRiskMembers   int     `json:"highRiskMembers"`
	MaxRawScore       float64 `json:"maxRawScore"`
	DurationMs        int64   `json:"durationMs"`
}

// RunRequest is the bus payload asking a worker to build a run.
type RunRequest struct {
	RunID     string `json:"runId"`
	DatasetID string `json:"datasetId"`
	RawDir    string `json:"rawDir"`
	AsOf      string `json:"asOf,omitempty"`
	OutDir    string `json:"outDir,omitempty"`
}

// RunEvent is the bus payload announcing a finished run.
type RunEvent struct {
	RunID     string   `json:"runId"`
	DatasetID string   `json:"datasetId"`
	Status    string   `json:"status"`
	AsOfDate  string   `json:"asOfDate,omitempty"`
	Error     string   `json:"error,omitempty"`
	Files     []string `json:"files,omitempty"`
	Stats     RunStats `json:"stats"`
}

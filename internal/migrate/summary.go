package migrate

import (
	"fmt"
	"time"

	"migrate/internal/workflow"
)

// Status values of a finished job.
const (
	StatusCompleted = "completed"
	StatusAborted   = "aborted"
)

// Summary describes how a job ended.
type Summary struct {
	JobID        string                 `json:"job_id"`
	Kind         string                 `json:"kind"`
	Status       string                 `json:"status"`
	AbortedAt    string                 `json:"aborted_at,omitempty"`
	Cause        string                 `json:"cause,omitempty"`
	Failed       int                    `json:"failed_items"`
	ErrorLogPath string                 `json:"error_log,omitempty"`
	BundlePath   string                 `json:"bundle,omitempty"`
	ArchivePath  string                 `json:"archive,omitempty"`
	SizeReports  map[string]string      `json:"size_reports,omitempty"`
	Stages       []workflow.StageResult `json:"stages"`
	Started      time.Time              `json:"started_at"`
	Duration     time.Duration          `json:"duration"`
}

// Message is the one-line result shown to the operator.
func (s Summary) Message() string {
	if s.Status == StatusAborted {
		return fmt.Sprintf("aborted at stage %s: %s", s.AbortedAt, s.Cause)
	}
	return fmt.Sprintf("completed, %d items recorded as failed", s.Failed)
}

package job

import (
	"encoding/json"
	"time"

	"migrate/internal/services"
)

// ErrorRecord is one entry of the job's error log.
type ErrorRecord struct {
	// Label is the stage title or work item label that failed.
	Label   string    `json:"label"`
	Stage   string    `json:"stage"`
	Message string    `json:"message"`
	Kind    string    `json:"kind"`
	Fatal   bool      `json:"fatal"`
	Time    time.Time `json:"time"`
	Cause   error     `json:"-"`
}

// NewErrorRecord builds a record from err.
func NewErrorRecord(stageTitle, label string, err error, fatal bool) ErrorRecord {
	rec := ErrorRecord{
		Label: label,
		Stage: stageTitle,
		Fatal: fatal,
		Time:  time.Now().UTC(),
		Cause: err,
	}
	if err != nil {
		rec.Message = err.Error()
		rec.Kind = string(services.Details(err).Kind)
	}
	return rec
}

// MarshalErrorLog renders records as the JSON error log.
func MarshalErrorLog(records []ErrorRecord) ([]byte, error) {
	if records == nil {
		records = []ErrorRecord{}
	}
	return json.MarshalIndent(records, "", "  ")
}

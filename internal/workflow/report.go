package workflow

import "time"

// StageStatus is the final state of one stage in a run.
type StageStatus string

const (
	StageCompleted  StageStatus = "completed"
	StageSkipped    StageStatus = "skipped"
	StageRecovered  StageStatus = "failed_recoverable"
	StageFailed     StageStatus = "failed"
	StageNotReached StageStatus = "not_reached"
)

// StageResult summarizes one stage.
type StageResult struct {
	Title    string        `json:"title"`
	Status   StageStatus   `json:"status"`
	Items    int           `json:"items"`
	Failed   int           `json:"failed_items"`
	Bound    int           `json:"concurrency,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report is the per-stage account of a run.
type Report struct {
	Stages    []StageResult `json:"stages"`
	AbortedAt string        `json:"aborted_at,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Failed counts failed work items across every stage plus recoverable stage failures.
func (r Report) Failed() int {
	total := 0
	for _, s := range r.Stages {
		total += s.Failed
		if s.Status == StageRecovered {
			total++
		}
	}
	return total
}

// Executed lists the titles of stages whose body ran, in order.
func (r Report) Executed() []string {
	out := make([]string, 0, len(r.Stages))
	for _, s := range r.Stages {
		switch s.Status {
		case StageCompleted, StageRecovered, StageFailed:
			out = append(out, s.Title)
		}
	}
	return out
}

// Status returns the status recorded for title.
func (r Report) Status(title string) (StageStatus, bool) {
	for _, s := range r.Stages {
		if s.Title == title {
			return s.Status, true
		}
	}
	return "", false
}

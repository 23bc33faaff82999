package stage

// Criticality decides whether a failure in a stage aborts the job.
type Criticality int

const (
	// Fatal stages abort the job when they fail.
	Fatal Criticality = iota
	// Recoverable stages record their failure and let the job continue.
	Recoverable
)

func (c Criticality) String() string {
	switch c {
	case Fatal:
		return "fatal"
	case Recoverable:
		return "recoverable"
	default:
		return "unknown"
	}
}

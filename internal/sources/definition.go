package sources

import (
	"log/slog"
	"sort"
	"time"

	"migrate/internal/fetch"
	"migrate/internal/logging"
	"migrate/internal/services"
	"migrate/internal/workflow"
)

// Env carries the process-level collaborators stage bodies need. Everything
// job specific is read from the job.Context when a stage runs.
type Env struct {
	Logger *slog.Logger
	// Client overrides the HTTP client built from the job options.
	Client *fetch.Client
	// Now overrides the clock used for artifact names.
	Now func() time.Time
}

func (e Env) logger() *slog.Logger {
	if e.Logger == nil {
		return logging.NewNop()
	}
	return e.Logger
}

func (e Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Definition describes one export kind.
type Definition struct {
	Kind  string
	Title string
	// NeedsURL reports whether the pipeline refuses to run without a site URL.
	NeedsURL bool
	Stages   func(Env) []workflow.Stage
}

var registry = map[string]Definition{
	KindJekyll:   Jekyll(),
	KindSubstack: Substack(),
}

// Lookup returns the definition registered for kind.
func Lookup(kind string) (Definition, error) {
	def, ok := registry[kind]
	if !ok {
		return Definition{}, services.Wrap(services.ErrConfiguration, "sources", "lookup", "unknown source kind "+kind, nil)
	}
	return def, nil
}

// Kinds lists the registered kinds in a stable order.
func Kinds() []string {
	kinds := make([]string, 0, len(registry))
	for kind := range registry {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

package job

import (
	"sync"
	"time"

	"migrate/internal/assets"
	"migrate/internal/document"
	"migrate/internal/filecache"
	"migrate/internal/linkfixer"
	"migrate/internal/webscraper"
)

// Handles are the collaborators created by the initialization stage. They
// live for exactly one job.
type Handles struct {
	FileCache    *filecache.Cache
	WebScraper   *webscraper.Scraper
	ImageScraper *assets.Scraper
	MediaScraper *assets.Scraper
	LinkFixer    *linkfixer.Fixer
}

// Context is the mutable state of one job.
type Context struct {
	ID      string
	Options Options
	Started time.Time

	Document *document.Document
	Handles  Handles

	// SizeReports maps an asset kind to the report file written for it.
	SizeReports map[string]string

	BundlePath         string
	ErrorLogPath       string
	OutputArtifactPath string

	mu     sync.Mutex
	errors []ErrorRecord
}

// New creates the context for a job.
func New(id string, opts Options) *Context {
	return &Context{
		ID:          id,
		Options:     opts,
		Started:     time.Now().UTC(),
		SizeReports: make(map[string]string),
	}
}

// AppendError adds rec to the error log.
func (c *Context) AppendError(rec ErrorRecord) {
	if rec.Time.IsZero() {
		rec.Time = time.Now().UTC()
	}
	c.mu.Lock()
	c.errors = append(c.errors, rec)
	c.mu.Unlock()
}

// Errors returns a copy of the error log in the order records were appended.
func (c *Context) Errors() []ErrorRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ErrorRecord, len(c.errors))
	copy(out, c.errors)
	return out
}

// FailedItems counts the recoverable records.
func (c *Context) FailedItems() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, rec := range c.errors {
		if !rec.Fatal {
			count++
		}
	}
	return count
}

package job

import (
	"fmt"
	"os"
	"strings"
	"time"

	"migrate/internal/services"
)

// FeatureImageOG promotes the scraped og:image to the post feature image.
const FeatureImageOG = "og:image"

// Options is the immutable configuration snapshot for one job. It is built
// once from the config file and CLI flags and never changes while the job runs.
type Options struct {
	// Source is the path of the export being migrated.
	Source string
	// Kind names the pipeline definition (jekyll, substack).
	Kind string
	// URL is the public address of the site being migrated.
	URL string

	Scrape        ScrapeSet
	UseMetaImage  bool
	UseMetaAuthor bool
	FeatureImage  string
	// SizeLimit is the media size ceiling in megabytes; 0 disables it.
	SizeLimit int
	Zip       bool
	// Concurrent is the default bound for expanded stages.
	Concurrent int
	FixLinks   bool

	CacheDir       string
	OutputDir      string
	UserAgent      string
	RequestTimeout time.Duration
}

// SizeLimitBytes converts SizeLimit to bytes.
func (o Options) SizeLimitBytes() int64 {
	if o.SizeLimit <= 0 {
		return 0
	}
	return int64(o.SizeLimit) * 1024 * 1024
}

// Validate checks the options before any stage runs. needsURL is true for
// pipelines that cannot enrich or link-fix without knowing the site address.
func (o Options) Validate(needsURL bool) error {
	if strings.TrimSpace(o.Source) == "" {
		return configError("source path is required")
	}
	info, err := os.Stat(o.Source)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "options", "validate", "source is not readable", err)
	}
	if info.IsDir() {
		return configError(fmt.Sprintf("source %q is a directory", o.Source))
	}
	if o.Concurrent < 1 {
		return configError(fmt.Sprintf("concurrent must be at least 1 (got %d)", o.Concurrent))
	}
	if o.SizeLimit < 0 {
		return configError(fmt.Sprintf("size limit must not be negative (got %d)", o.SizeLimit))
	}
	if o.FeatureImage != "" && o.FeatureImage != FeatureImageOG {
		return configError(fmt.Sprintf("unsupported feature image source %q", o.FeatureImage))
	}
	url := strings.TrimSpace(o.URL)
	if needsURL && url == "" {
		return configError("a site URL is required for this source")
	}
	if url == "" && o.Scrape.Explicit(CategoryWeb) {
		return configError("web scraping requested without a site URL")
	}
	if url != "" && !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return configError(fmt.Sprintf("site URL %q must start with http:// or https://", url))
	}
	return nil
}

func configError(message string) error {
	return services.Wrap(services.ErrConfiguration, "options", "validate", message, nil)
}

package job

import (
	"fmt"
	"slices"
	"strings"

	"migrate/internal/services"
)

// Category is one enrichment family that can be enabled for a job.
type Category string

const (
	CategoryWeb   Category = "web"
	CategoryImg   Category = "img"
	CategoryMedia Category = "media"
)

// ScrapeSet is the set of enabled enrichment categories.
type ScrapeSet struct {
	all      bool
	explicit map[Category]bool
}

// ParseScrapeSet parses values such as "all", "web,img" or repeated flag
// values. "none" clears everything selected before it. An empty input
// selects nothing.
func ParseScrapeSet(values ...string) (ScrapeSet, error) {
	set := ScrapeSet{explicit: map[Category]bool{}}
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			switch part {
			case "":
				continue
			case "all":
				set.all = true
			case "none":
				set = ScrapeSet{explicit: map[Category]bool{}}
			case string(CategoryWeb), string(CategoryImg), string(CategoryMedia):
				set.explicit[Category(part)] = true
			default:
				return ScrapeSet{}, services.Wrap(
					services.ErrConfiguration,
					"options",
					"parse scrape",
					fmt.Sprintf("unknown scrape category %q (want all, web, img, media or none)", part),
					nil,
				)
			}
		}
	}
	return set, nil
}

// AllScrape enables every category.
func AllScrape() ScrapeSet {
	return ScrapeSet{all: true}
}

// Has reports whether category is enabled, either explicitly or through "all".
func (s ScrapeSet) Has(category Category) bool {
	return s.all || s.explicit[category]
}

// Explicit reports whether category was named on its own rather than implied by "all".
func (s ScrapeSet) Explicit(category Category) bool {
	return s.explicit[category]
}

// String renders the set in its canonical flag form.
func (s ScrapeSet) String() string {
	if s.all {
		return "all"
	}
	parts := make([]string, 0, len(s.explicit))
	for category, on := range s.explicit {
		if on {
			parts = append(parts, string(category))
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	slices.Sort(parts)
	return strings.Join(parts, ",")
}

package preflight

import (
	"context"

	"migrate/internal/config"
	"migrate/internal/fetch"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes all applicable preflight checks for the given config.
// siteURL is checked when non-empty.
func RunAll(ctx context.Context, cfg *config.Config, siteURL string) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	// Cache and output directories (always checked)
	results = append(results, CheckDirectoryAccess("Cache directory", cfg.Paths.CacheDir))
	results = append(results, CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir))
	results = append(results, CheckCache(ctx, cfg.Paths.CacheDir, cfg.Paths.CacheMaxMB))

	if cfg.History.Enabled {
		results = append(results, CheckHistory(ctx, cfg.Paths.HistoryDB))
	}

	if siteURL != "" {
		client := fetch.New(cfg.Scrape.UserAgent, cfg.RequestTimeout())
		results = append(results, CheckSite(ctx, client, siteURL))
	}

	return results
}

// Failed reports whether any result did not pass.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}

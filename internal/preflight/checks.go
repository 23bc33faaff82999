package preflight

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"migrate/internal/fetch"
	"migrate/internal/filecache"
	"migrate/internal/history"
	"migrate/internal/logging"
	"migrate/internal/stage"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSite verifies that the site being migrated answers requests.
func CheckSite(ctx context.Context, client *fetch.Client, siteURL string) Result {
	return CheckCollaborator(ctx, fetch.SiteCheck{Client: client, URL: siteURL})
}

// CheckCollaborator runs a collaborator's own health check.
func CheckCollaborator(ctx context.Context, hc stage.HealthChecker) Result {
	return FromHealth(hc.HealthCheck(ctx))
}

// CheckHistory verifies that the job ledger opens with the expected schema.
func CheckHistory(ctx context.Context, path string) Result {
	const name = "Job history"
	if path == "" {
		return Result{Name: name, Detail: "no database path configured"}
	}
	store, err := history.Open(ctx, path)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	defer store.Close()
	jobs, err := store.List(ctx, 0)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d jobs)", path, len(jobs))}
}

// CheckCache reports workspace usage against the configured budget.
func CheckCache(ctx context.Context, root string, maxMB int) Result {
	const name = "Workspace cache"
	stats, err := filecache.NewStore(root, maxMB, logging.NewNop()).Stats(ctx)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	detail := fmt.Sprintf("%d workspaces, %s", stats.Entries, humanize.IBytes(uint64(stats.TotalBytes)))
	if stats.MaxBytes > 0 {
		detail += fmt.Sprintf(" of %s", humanize.IBytes(uint64(stats.MaxBytes)))
		if stats.TotalBytes > stats.MaxBytes {
			return Result{Name: name, Detail: detail + " (over budget, run migrate cache prune)"}
		}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// FromHealth converts a collaborator health report.
func FromHealth(h stage.Health) Result {
	return Result{Name: h.Name, Passed: h.Ready, Detail: h.Detail}
}

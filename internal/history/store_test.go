package history_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"migrate/internal/history"
	"migrate/internal/job"
)

func openStore(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.Open(context.Background(), filepath.Join(t.TempDir(), "state", "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAndGet(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	started := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	entry := history.Job{
		ID:           "job-1",
		Kind:         "substack",
		Source:       "/exports/posts.csv",
		SiteURL:      "https://example.substack.com",
		Status:       history.StatusCompleted,
		FailedItems:  1,
		BundlePath:   "/cache/zip/ghost-import.json",
		ErrorLogPath: "/cache/errors.json",
		StartedAt:    started,
		FinishedAt:   started.Add(90 * time.Second),
	}
	records := []job.ErrorRecord{
		{Stage: "Fetch images via ImageScraper", Label: "https://cdn.example.com/a.png", Message: "not found", Kind: "not_found", Time: started.Add(time.Minute)},
	}
	if err := store.Record(ctx, entry, records); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff(&entry, got); diff != "" {
		t.Fatalf("job mismatch (-want +got):\n%s", diff)
	}
	if got.Duration() != 90*time.Second {
		t.Fatalf("duration = %s", got.Duration())
	}

	gotRecords, err := store.Errors(ctx, "job-1")
	if err != nil {
		t.Fatalf("Errors: %v", err)
	}
	if diff := cmp.Diff(records, gotRecords, cmpopts.IgnoreFields(job.ErrorRecord{}, "Cause")); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}

	missing, err := store.Get(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown job, got %+v, %v", missing, err)
	}
}

func TestRecordReplacesExistingJob(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	entry := history.Job{ID: "job-1", Kind: "jekyll", Source: "site.zip", Status: history.StatusAborted, AbortedAt: "Read Jekyll export zip"}
	if err := store.Record(ctx, entry, []job.ErrorRecord{{Label: "Read Jekyll export zip", Message: "boom", Fatal: true}}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	entry.Status = history.StatusCompleted
	entry.AbortedAt = ""
	if err := store.Record(ctx, entry, nil); err != nil {
		t.Fatalf("Record again: %v", err)
	}
	got, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != history.StatusCompleted || got.AbortedAt != "" {
		t.Fatalf("job not replaced: %+v", got)
	}
	records, err := store.Errors(ctx, "job-1")
	if err != nil {
		t.Fatalf("Errors: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("stale error records kept: %+v", records)
	}
}

func TestListAndPrune(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		entry := history.Job{
			ID:        fmt.Sprintf("job-%d", i),
			Kind:      "jekyll",
			Source:    "site.zip",
			Status:    history.StatusCompleted,
			StartedAt: base.Add(time.Duration(i)*time.Hour + time.Duration(i)*time.Millisecond),
		}
		if err := store.Record(ctx, entry, nil); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	jobs, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var ids []string
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	if diff := cmp.Diff([]string{"job-4", "job-3"}, ids); diff != "" {
		t.Fatalf("list order (-want +got):\n%s", diff)
	}

	removed, err := store.Prune(ctx, 3)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	all, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 || all[2].ID != "job-2" {
		t.Fatalf("unexpected jobs after prune: %+v", all)
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := history.Open(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()
	store, err := history.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Record(ctx, history.Job{ID: "a", Kind: "jekyll", Source: "x", Status: history.StatusCompleted}, nil); err != nil {
		t.Fatalf("Record: %v", err)
	}
	_ = store.Close()

	store, err = history.Open(ctx, path)
	if errors.Is(err, history.ErrSchemaMismatch) || err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	jobs, err := store.List(ctx, 0)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("expected persisted job, got %+v, %v", jobs, err)
	}
}

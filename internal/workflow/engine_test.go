package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"migrate/internal/job"
	"migrate/internal/logging"
	"migrate/internal/stage"
	"migrate/internal/workflow"
)

func newEngine(concurrency int) *workflow.Engine {
	return workflow.NewEngine(logging.NewNop(), workflow.DefaultPolicy{}, concurrency)
}

func newContext(opts job.Options) *job.Context {
	return job.New("job-test", opts)
}

// tracer records the order stage bodies run in.
type tracer struct {
	mu    sync.Mutex
	calls []string
}

func (tr *tracer) stage(title string, crit stage.Criticality, err error) workflow.Stage {
	return workflow.Stage{
		Title:       title,
		Criticality: crit,
		Body: func(context.Context, *job.Context) (stage.Outcome, error) {
			tr.mu.Lock()
			tr.calls = append(tr.calls, title)
			tr.mu.Unlock()
			return stage.Mutated(), err
		},
	}
}

func TestEngineRunsEveryStageInOrder(t *testing.T) {
	tr := &tracer{}
	stages := []workflow.Stage{
		tr.stage("one", stage.Fatal, nil),
		tr.stage("two", stage.Recoverable, nil),
		tr.stage("three", stage.Fatal, nil),
		tr.stage("four", stage.Recoverable, nil),
	}
	jc := newContext(job.Options{})
	report, err := newEngine(2).Run(context.Background(), stages, jc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"one", "two", "three", "four"}
	if diff := cmp.Diff(want, tr.calls); diff != "" {
		t.Fatalf("call order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, report.Executed()); diff != "" {
		t.Fatalf("report mismatch (-want +got):\n%s", diff)
	}
	if len(jc.Errors()) != 0 {
		t.Fatalf("expected no error records, got %+v", jc.Errors())
	}
}

func TestEngineSkippedStageNeverRuns(t *testing.T) {
	tr := &tracer{}
	skipped := tr.stage("skipped", stage.Fatal, errors.New("must not run"))
	skipped.Skip = func(*job.Context) bool { return true }
	stages := []workflow.Stage{tr.stage("before", stage.Fatal, nil), skipped, tr.stage("after", stage.Fatal, nil)}

	jc := newContext(job.Options{})
	report, err := newEngine(1).Run(context.Background(), stages, jc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]string{"before", "after"}, tr.calls); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
	if status, _ := report.Status("skipped"); status != workflow.StageSkipped {
		t.Fatalf("status = %q", status)
	}
	if len(jc.Errors()) != 0 {
		t.Fatalf("skipped stage produced records: %+v", jc.Errors())
	}
}

func TestEngineSkipEvaluatedAfterEarlierStages(t *testing.T) {
	tr := &tracer{}
	setter := workflow.Stage{
		Title:       "discover",
		Criticality: stage.Fatal,
		Body: func(_ context.Context, jc *job.Context) (stage.Outcome, error) {
			jc.BundlePath = "discovered"
			return stage.Mutated(), nil
		},
	}
	gated := tr.stage("gated", stage.Recoverable, nil)
	gated.Skip = func(jc *job.Context) bool { return jc.BundlePath == "" }

	if _, err := newEngine(1).Run(context.Background(), []workflow.Stage{setter, gated}, newContext(job.Options{})); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(tr.calls) != 1 {
		t.Fatalf("gated stage should see state set by earlier stage, calls=%v", tr.calls)
	}
}

func TestEngineFatalStopsPipeline(t *testing.T) {
	tr := &tracer{}
	cause := errors.New("corrupt export")
	stages := []workflow.Stage{
		tr.stage("init", stage.Fatal, nil),
		tr.stage("ingest", stage.Fatal, cause),
		tr.stage("enrich", stage.Recoverable, nil),
		tr.stage("write", stage.Fatal, nil),
	}
	jc := newContext(job.Options{})
	report, err := newEngine(1).Run(context.Background(), stages, jc)

	var fatal *workflow.FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected FatalError, got %v", err)
	}
	if fatal.Stage != "ingest" || !errors.Is(err, cause) {
		t.Fatalf("unexpected fatal error %+v", fatal)
	}
	if diff := cmp.Diff([]string{"init", "ingest"}, tr.calls); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
	records := jc.Errors()
	if len(records) != 1 || !records[0].Fatal || records[0].Label != "ingest" {
		t.Fatalf("expected exactly one fatal record, got %+v", records)
	}
	if report.AbortedAt != "ingest" {
		t.Fatalf("AbortedAt = %q", report.AbortedAt)
	}
	if status, _ := report.Status("write"); status != workflow.StageNotReached {
		t.Fatalf("write status = %q", status)
	}
}

func TestEngineRecoverableStageContinues(t *testing.T) {
	tr := &tracer{}
	stages := []workflow.Stage{
		tr.stage("links", stage.Recoverable, errors.New("bad map")),
		tr.stage("write", stage.Fatal, nil),
	}
	jc := newContext(job.Options{})
	report, err := newEngine(1).Run(context.Background(), stages, jc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(tr.calls) != 2 {
		t.Fatalf("expected both stages to run, got %v", tr.calls)
	}
	records := jc.Errors()
	if len(records) != 1 || records[0].Fatal {
		t.Fatalf("expected one recoverable record, got %+v", records)
	}
	if report.Failed() != 1 {
		t.Fatalf("Failed() = %d", report.Failed())
	}
}

func TestEnginePanickingStageIsClassified(t *testing.T) {
	st := workflow.Stage{
		Title:       "explode",
		Criticality: stage.Recoverable,
		Body: func(context.Context, *job.Context) (stage.Outcome, error) {
			panic("boom")
		},
	}
	jc := newContext(job.Options{})
	if _, err := newEngine(1).Run(context.Background(), []workflow.Stage{st}, jc); err != nil {
		t.Fatalf("recoverable panic should not abort: %v", err)
	}
	var panicErr *workflow.PanicError
	if records := jc.Errors(); len(records) != 1 || !errors.As(records[0].Cause, &panicErr) {
		t.Fatalf("expected panic record, got %+v", records)
	}
}

func TestEngineCancelledContextIsFatal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr := &tracer{}
	stages := []workflow.Stage{tr.stage("enrich", stage.Recoverable, ctx.Err()), tr.stage("write", stage.Fatal, nil)}
	_, err := newEngine(1).Run(ctx, stages, newContext(job.Options{}))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation to abort, got %v", err)
	}
	if len(tr.calls) != 1 {
		t.Fatalf("expected pipeline to stop, calls=%v", tr.calls)
	}
}

func expandedStage(title string, items []stage.WorkItem, concurrency int, apply func()) workflow.Stage {
	return workflow.Stage{
		Title:       title,
		Criticality: stage.Recoverable,
		Body: func(context.Context, *job.Context) (stage.Outcome, error) {
			return stage.Expanded(stage.Batch{Items: items, Apply: apply}, concurrency), nil
		},
	}
}

func TestEngineItemFailuresAreIsolated(t *testing.T) {
	const n = 10
	var attempted atomic.Int32
	items := make([]stage.WorkItem, n)
	for i := range items {
		items[i] = stage.WorkItem{
			Label: fmt.Sprintf("item-%d", i),
			Run: func(context.Context) error {
				attempted.Add(1)
				if i%3 == 0 {
					return fmt.Errorf("item %d failed", i)
				}
				if i == 5 {
					panic("item panic")
				}
				return nil
			},
		}
	}
	applied := 0
	tr := &tracer{}
	stages := []workflow.Stage{
		expandedStage("fetch", items, 3, func() { applied++ }),
		tr.stage("write", stage.Fatal, nil),
	}
	jc := newContext(job.Options{})
	report, err := newEngine(4).Run(context.Background(), stages, jc)
	if err != nil {
		t.Fatalf("item failures must not abort: %v", err)
	}
	if attempted.Load() != n {
		t.Fatalf("attempted %d items, want %d", attempted.Load(), n)
	}
	if applied != 1 {
		t.Fatalf("Apply called %d times", applied)
	}
	if len(tr.calls) != 1 {
		t.Fatal("stage after expanded stage did not run")
	}

	var labels []string
	for _, rec := range jc.Errors() {
		if rec.Fatal {
			t.Fatalf("item record marked fatal: %+v", rec)
		}
		labels = append(labels, rec.Label)
	}
	want := []string{"item-0", "item-3", "item-5", "item-6", "item-9"}
	if diff := cmp.Diff(want, labels); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
	if status, _ := report.Status("fetch"); status != workflow.StageCompleted {
		t.Fatalf("fetch status = %q", status)
	}
	if report.Stages[0].Failed != 5 || report.Stages[0].Items != n {
		t.Fatalf("unexpected stage result %+v", report.Stages[0])
	}
}

func TestEngineConcurrencyBound(t *testing.T) {
	for _, tc := range []struct {
		name     string
		override int
		def      int
		want     int
	}{
		{"override one", 1, 8, 1},
		{"override three", 3, 8, 3},
		{"job default", 0, 4, 4},
		{"default floor", 0, 0, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var inFlight, peak atomic.Int32
			items := make([]stage.WorkItem, 24)
			for i := range items {
				items[i] = stage.WorkItem{
					Label: fmt.Sprintf("item-%d", i),
					Run: func(context.Context) error {
						cur := inFlight.Add(1)
						for {
							old := peak.Load()
							if cur <= old || peak.CompareAndSwap(old, cur) {
								break
							}
						}
						time.Sleep(2 * time.Millisecond)
						inFlight.Add(-1)
						return nil
					},
				}
			}
			report, err := newEngine(tc.def).Run(context.Background(), []workflow.Stage{expandedStage("bounded", items, tc.override, nil)}, newContext(job.Options{}))
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got := int(peak.Load()); got > tc.want {
				t.Fatalf("peak in-flight %d exceeds bound %d", got, tc.want)
			}
			if report.Stages[0].Bound != tc.want {
				t.Fatalf("resolved bound = %d, want %d", report.Stages[0].Bound, tc.want)
			}
		})
	}
}

// Scenario A: [Init, Ingest(fails fatally)] aborts after stage 2 with one
// fatal record and no bundle.
func TestScenarioFatalIngestAborts(t *testing.T) {
	out := t.TempDir()
	bundle := filepath.Join(out, "bundle.json")
	stages := []workflow.Stage{
		{Title: "Init", Criticality: stage.Fatal, Body: func(context.Context, *job.Context) (stage.Outcome, error) {
			return stage.Mutated(), nil
		}},
		{Title: "Ingest", Criticality: stage.Fatal, Body: func(context.Context, *job.Context) (stage.Outcome, error) {
			return stage.Mutated(), errors.New("unreadable zip")
		}},
		{Title: "Write", Criticality: stage.Fatal, Body: func(_ context.Context, jc *job.Context) (stage.Outcome, error) {
			jc.BundlePath = bundle
			return stage.Mutated(), os.WriteFile(bundle, []byte("{}"), 0o644)
		}},
	}
	jc := newContext(job.Options{})
	_, err := newEngine(2).Run(context.Background(), stages, jc)
	var fatal *workflow.FatalError
	if !errors.As(err, &fatal) || fatal.Stage != "Ingest" {
		t.Fatalf("expected abort at Ingest, got %v", err)
	}
	records := jc.Errors()
	if len(records) != 1 || !records[0].Fatal {
		t.Fatalf("expected one fatal record, got %+v", records)
	}
	if _, statErr := os.Stat(bundle); !os.IsNotExist(statErr) {
		t.Fatalf("bundle should not exist, stat err=%v", statErr)
	}
}

// Scenario B: an enrichment stage with 3 items where 2 fail completes the job
// with two recoverable records and only the successful enrichment applied.
func TestScenarioPartialEnrichment(t *testing.T) {
	titles := map[string]string{}
	stages := []workflow.Stage{
		{Title: "Init", Criticality: stage.Fatal},
		{Title: "Ingest", Criticality: stage.Fatal, Body: func(context.Context, *job.Context) (stage.Outcome, error) {
			titles["a"], titles["b"], titles["c"] = "", "", ""
			return stage.Mutated(), nil
		}},
		{Title: "Enrich", Criticality: stage.Recoverable, Body: func(context.Context, *job.Context) (stage.Outcome, error) {
			scraped := make([]string, 3)
			keys := []string{"a", "b", "c"}
			items := make([]stage.WorkItem, len(keys))
			for i, key := range keys {
				items[i] = stage.WorkItem{Label: key, Run: func(context.Context) error {
					if key != "a" {
						return fmt.Errorf("scrape %s: 503", key)
					}
					scraped[i] = "Scraped A"
					return nil
				}}
			}
			apply := func() {
				for i, key := range keys {
					if scraped[i] != "" {
						titles[key] = scraped[i]
					}
				}
			}
			return stage.Expanded(stage.Batch{Items: items, Apply: apply}, 0), nil
		}},
	}
	jc := newContext(job.Options{})
	if _, err := newEngine(3).Run(context.Background(), stages, jc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	records := jc.Errors()
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %+v", records)
	}
	for _, rec := range records {
		if rec.Fatal {
			t.Fatalf("record should be recoverable: %+v", rec)
		}
	}
	want := map[string]string{"a": "Scraped A", "b": "", "c": ""}
	if diff := cmp.Diff(want, titles); diff != "" {
		t.Fatalf("document mismatch (-want +got):\n%s", diff)
	}
}

// Scenario C: scrape=img skips the web enrichment stage without a record
// while the image stage still runs.
func TestScenarioScrapeSelectionGatesStages(t *testing.T) {
	set, err := job.ParseScrapeSet("img")
	if err != nil {
		t.Fatalf("ParseScrapeSet: %v", err)
	}
	tr := &tracer{}
	web := tr.stage("Fetch missing data via WebScraper", stage.Recoverable, nil)
	web.Skip = func(jc *job.Context) bool { return !jc.Options.Scrape.Has(job.CategoryWeb) }
	img := tr.stage("Fetch images", stage.Recoverable, nil)
	img.Skip = func(jc *job.Context) bool { return !jc.Options.Scrape.Has(job.CategoryImg) }

	jc := newContext(job.Options{Scrape: set})
	report, err := newEngine(1).Run(context.Background(), []workflow.Stage{web, img}, jc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]string{"Fetch images"}, tr.calls); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
	if status, _ := report.Status("Fetch missing data via WebScraper"); status != workflow.StageSkipped {
		t.Fatalf("web status = %q", status)
	}
	if len(jc.Errors()) != 0 {
		t.Fatalf("unexpected records %+v", jc.Errors())
	}
}

// Scenario D: without zip the packaging stage is skipped; the bundle
// directory exists and no archive is produced.
func TestScenarioNoZipSkipsPackaging(t *testing.T) {
	out := t.TempDir()
	bundleDir := filepath.Join(out, "zip")
	archive := filepath.Join(out, "import.zip")
	stages := []workflow.Stage{
		{Title: "Write import JSON", Criticality: stage.Fatal, Body: func(context.Context, *job.Context) (stage.Outcome, error) {
			return stage.Mutated(), os.MkdirAll(bundleDir, 0o755)
		}},
		{
			Title:       "Write import zip",
			Criticality: stage.Fatal,
			Skip:        func(jc *job.Context) bool { return !jc.Options.Zip },
			Body: func(_ context.Context, jc *job.Context) (stage.Outcome, error) {
				jc.OutputArtifactPath = archive
				return stage.Mutated(), os.WriteFile(archive, nil, 0o644)
			},
		},
	}
	jc := newContext(job.Options{Zip: false})
	if _, err := newEngine(1).Run(context.Background(), stages, jc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if info, err := os.Stat(bundleDir); err != nil || !info.IsDir() {
		t.Fatalf("bundle dir missing: %v", err)
	}
	if _, err := os.Stat(archive); !os.IsNotExist(err) {
		t.Fatalf("archive should not exist: %v", err)
	}
	if jc.OutputArtifactPath != "" {
		t.Fatalf("OutputArtifactPath = %q", jc.OutputArtifactPath)
	}
}

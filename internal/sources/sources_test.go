package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"

	"migrate/internal/document"
	"migrate/internal/fetch"
	"migrate/internal/job"
	"migrate/internal/logging"
	"migrate/internal/services"
	"migrate/internal/testsupport"
	"migrate/internal/webscraper"
	"migrate/internal/workflow"
)

func fixedNow() time.Time {
	return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
}

func titles(stages []workflow.Stage) []string {
	out := make([]string, len(stages))
	for i, st := range stages {
		out[i] = st.Title
	}
	return out
}

func TestDefinitionStageOrder(t *testing.T) {
	jekyll, err := Lookup(KindJekyll)
	if err != nil {
		t.Fatalf("Lookup jekyll: %v", err)
	}
	want := []string{
		"Initialising Workspace",
		"Read Jekyll export zip",
		TitleWebScraper,
		TitleLinkMap,
		TitleFormat,
		TitleImages,
		TitleLinks,
		TitleMobiledoc,
		TitleWrite,
		TitleZip,
	}
	if diff := cmp.Diff(want, titles(jekyll.Stages(Env{}))); diff != "" {
		t.Fatalf("jekyll stages (-want +got):\n%s", diff)
	}
	if !jekyll.NeedsURL {
		t.Fatal("jekyll must require a site URL")
	}

	substack, err := Lookup(KindSubstack)
	if err != nil {
		t.Fatalf("Lookup substack: %v", err)
	}
	want = []string{
		"Initializing",
		"Read csv file",
		TitleWebScraper,
		TitleLinkMap,
		TitleFormat,
		TitleImages,
		TitleMedia,
		TitleLinks,
		TitleMobiledoc,
		TitleWrite,
		TitleSizes,
		TitleZip,
	}
	if diff := cmp.Diff(want, titles(substack.Stages(Env{}))); diff != "" {
		t.Fatalf("substack stages (-want +got):\n%s", diff)
	}

	if _, err := Lookup("medium"); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for unknown kind, got %v", err)
	}
	if diff := cmp.Diff([]string{"jekyll", "substack"}, Kinds()); diff != "" {
		t.Fatalf("kinds (-want +got):\n%s", diff)
	}
}

func TestSkipPredicatesFollowOptions(t *testing.T) {
	stages := Substack().Stages(Env{})
	byTitle := map[string]workflow.Stage{}
	for _, st := range stages {
		byTitle[st.Title] = st
	}
	none, _ := job.ParseScrapeSet("none")
	jc := job.New("skip", job.Options{Scrape: none, URL: "https://example.com"})
	for _, title := range []string{TitleWebScraper, TitleImages, TitleMedia, TitleLinks, TitleSizes, TitleZip} {
		if !byTitle[title].Skip(jc) {
			t.Fatalf("%s should be skipped", title)
		}
	}

	jc = job.New("run", job.Options{Scrape: job.AllScrape(), FixLinks: true, SizeLimit: 5, Zip: true})
	if !byTitle[TitleWebScraper].Skip(jc) {
		t.Fatal("web scraping must be skipped without a site URL")
	}
	for _, title := range []string{TitleImages, TitleMedia, TitleLinks, TitleSizes, TitleZip} {
		if byTitle[title].Skip(jc) {
			t.Fatalf("%s should run", title)
		}
	}
}

func TestSubstackScrapeConfig(t *testing.T) {
	cfg := SubstackScrapeConfig(job.Options{})
	if cfg.AuthorsSelector != "" {
		t.Fatal("authors must not be scraped unless requested")
	}
	for _, rule := range cfg.Rules {
		if rule.Field == webscraper.FieldFeatureImage {
			t.Fatal("feature image rule must not be present unless requested")
		}
	}
	if !cfg.Skip(&document.Post{Data: document.PostData{Status: "draft"}}) {
		t.Fatal("drafts must be skipped")
	}

	cfg = SubstackScrapeConfig(job.Options{UseMetaImage: true, UseMetaAuthor: true})
	if cfg.AuthorsSelector == "" {
		t.Fatal("authors selector missing")
	}
	if last := cfg.Rules[len(cfg.Rules)-1]; last.Field != webscraper.FieldFeatureImage {
		t.Fatalf("expected feature image rule, got %+v", last)
	}
}

func TestJekyllScrapeConfigPostProcess(t *testing.T) {
	res := &webscraper.Result{Fields: map[webscraper.Field]string{
		webscraper.FieldOGImage:      "https://blog.example.com/img/cover-1200x630.jpg",
		webscraper.FieldTwitterImage: "https://blog.example.com/img/card-800x400.png",
	}}
	JekyllScrapeConfig(job.Options{}).PostProcess(res)
	if res.Fields[webscraper.FieldOGImage] != "https://blog.example.com/img/cover.jpg" {
		t.Fatalf("og image = %q", res.Fields[webscraper.FieldOGImage])
	}
	if _, ok := res.Fields[webscraper.FieldFeatureImage]; ok {
		t.Fatal("feature image must not be set without og:image promotion")
	}

	JekyllScrapeConfig(job.Options{FeatureImage: job.FeatureImageOG}).PostProcess(res)
	if res.Fields[webscraper.FieldFeatureImage] != "https://blog.example.com/img/cover.jpg" {
		t.Fatalf("feature image = %q", res.Fields[webscraper.FieldFeatureImage])
	}
}

type site struct {
	*httptest.Server
	draftHits atomic.Int32
}

func newSite(t *testing.T) *site {
	t.Helper()
	s := &site{}
	mux := http.NewServeMux()
	mux.HandleFunc("/p/hello-world", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><head>
<title>Hello World | Site</title>
<meta name="description" content="%s">
<meta property="og:image" content="%s/img/og.png">
</head><body>
<div class="post-header"><div class="post-label"><a href="/s/essays?utm_source=x">Essays</a></div></div>
</body></html>`, strings.Repeat("d", 600), s.URL)
	})
	mux.HandleFunc("/p/paid-episode", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Paid Episode</title></head></html>`)
	})
	mux.HandleFunc("/p/draft-thing", func(w http.ResponseWriter, r *http.Request) {
		s.draftHits.Add(1)
		http.NotFound(w, r)
	})
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "missing.png") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("png-bytes"))
	})
	mux.HandleFunc("/ep.mp3", func(w http.ResponseWriter, r *http.Request) {
		size := 1<<20 + 10
		w.Header().Set("Content-Length", strconv.Itoa(size))
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write(make([]byte, size))
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func writeCSVExport(t *testing.T, siteURL string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "posts"), 0o755); err != nil {
		t.Fatal(err)
	}
	index := "post_id,post_date,is_published,type,audience,title,subtitle,podcast_url\n" +
		"101.hello-world,2021-03-04T05:06:07.000Z,true,newsletter,everyone,Hello World,First post,\n" +
		"102.paid-episode,2021-04-01T00:00:00.000Z,true,podcast,only_paid,Paid Episode,," + siteURL + "/ep.mp3\n" +
		"103.draft-thing,,false,newsletter,everyone,Draft Thing,,\n"
	bodies := map[string]string{
		"101.hello-world.html":  fmt.Sprintf(`<p>Hi <img src="%[1]s/img/a.png"> <img src="%[1]s/img/missing.png"> <a href="%[1]s/p/paid-episode">next</a></p>`, siteURL),
		"102.paid-episode.html": "<p>Listen</p>",
		"103.draft-thing.html":  "<p>Soon</p>",
	}
	if err := os.WriteFile(filepath.Join(dir, "posts.csv"), []byte(index), 0o644); err != nil {
		t.Fatal(err)
	}
	for name, body := range bodies {
		if err := os.WriteFile(filepath.Join(dir, "posts", name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return filepath.Join(dir, "posts.csv")
}

func runPipeline(t *testing.T, def Definition, opts job.Options, env Env) (*job.Context, workflow.Report, error) {
	t.Helper()
	jc := job.New("job-"+def.Kind, opts)
	engine := workflow.NewEngine(logging.NewNop(), workflow.DefaultPolicy{}, opts.Concurrent)
	report, err := engine.Run(context.Background(), def.Stages(env), jc)
	t.Cleanup(func() {
		if jc.Handles.FileCache != nil {
			_ = jc.Handles.FileCache.Unlock()
		}
	})
	return jc, report, err
}

func TestSubstackPipelineEndToEnd(t *testing.T) {
	srv := newSite(t)
	opts := job.Options{
		Source:         writeCSVExport(t, srv.URL),
		Kind:           KindSubstack,
		URL:            srv.URL,
		Scrape:         job.AllScrape(),
		SizeLimit:      1,
		Zip:            true,
		Concurrent:     2,
		FixLinks:       true,
		CacheDir:       t.TempDir(),
		OutputDir:      t.TempDir(),
		RequestTimeout: 5 * time.Second,
	}
	env := Env{Client: fetch.New("migrate-test", 5*time.Second), Now: fixedNow}
	jc, report, err := runPipeline(t, Substack(), opts, env)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.AbortedAt != "" {
		t.Fatalf("unexpected abort at %s", report.AbortedAt)
	}
	for _, title := range titles(Substack().Stages(env)) {
		if status, _ := report.Status(title); status == workflow.StageSkipped {
			t.Fatalf("stage %s was skipped", title)
		}
	}

	records := jc.Errors()
	if len(records) != 1 {
		t.Fatalf("expected one error record, got %+v", records)
	}
	if rec := records[0]; rec.Fatal || rec.Stage != TitleImages || !strings.HasSuffix(rec.Label, "/img/missing.png") {
		t.Fatalf("unexpected record %+v", rec)
	}
	if srv.draftHits.Load() != 0 {
		t.Fatal("draft page must not be scraped")
	}

	var hello, podcast *document.Post
	for _, post := range jc.Document.Posts {
		switch post.Data.Slug {
		case "hello-world":
			hello = post
		case "paid-episode":
			podcast = post
		}
	}
	if hello == nil || podcast == nil {
		t.Fatalf("posts missing from document")
	}
	if hello.Data.MetaTitle != "Hello World | Site" {
		t.Fatalf("meta title = %q", hello.Data.MetaTitle)
	}
	if n := utf8.RuneCountInString(hello.Data.MetaDescription); n != descriptionLimit {
		t.Fatalf("meta description length = %d", n)
	}
	if !strings.HasPrefix(hello.Data.OGImage, "__GHOST_URL__/content/images/") {
		t.Fatalf("og image not localized: %q", hello.Data.OGImage)
	}
	var tagSlugs []string
	for _, tag := range hello.Data.Tags {
		tagSlugs = append(tagSlugs, tag.Slug)
	}
	if diff := cmp.Diff([]string{"newsletter", "essays"}, tagSlugs); diff != "" {
		t.Fatalf("tags (-want +got):\n%s", diff)
	}
	if hello.Data.HTML != "" {
		t.Fatal("converted posts must not keep html")
	}
	for _, fragment := range []string{"__GHOST_URL__/content/images/", "/img/missing.png", "/paid-episode/"} {
		if !strings.Contains(hello.Data.Mobiledoc, fragment) {
			t.Fatalf("mobiledoc missing %q: %s", fragment, hello.Data.Mobiledoc)
		}
	}
	if strings.Contains(hello.Data.Mobiledoc, "/p/paid-episode") {
		t.Fatalf("old link kept: %s", hello.Data.Mobiledoc)
	}
	if !strings.Contains(podcast.Data.Mobiledoc, srv.URL+"/ep.mp3") {
		t.Fatalf("oversized media must keep its remote url: %s", podcast.Data.Mobiledoc)
	}

	payload, err := os.ReadFile(jc.BundlePath)
	if err != nil {
		t.Fatalf("read bundle: %v", err)
	}
	var bundle document.ImportFile
	if err := json.Unmarshal(payload, &bundle); err != nil {
		t.Fatalf("decode bundle: %v", err)
	}
	if got := len(bundle.DB[0].Data.Posts); got != 3 {
		t.Fatalf("bundle posts = %d", got)
	}

	if _, err := os.Stat(jc.ErrorLogPath); err != nil {
		t.Fatalf("error log missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(jc.Handles.FileCache.TmpDir(), "csv-export-data.json")); err != nil {
		t.Fatalf("tmp export data missing: %v", err)
	}

	report2, err := os.ReadFile(jc.SizeReports["media"])
	if err != nil {
		t.Fatalf("size report: %v", err)
	}
	if !strings.Contains(string(report2), srv.URL+"/ep.mp3,1048586,1048576") {
		t.Fatalf("size report missing oversized media:\n%s", report2)
	}

	want := filepath.Join(opts.OutputDir, fmt.Sprintf("ghost-import-%d.zip", fixedNow().UnixMilli()))
	if jc.OutputArtifactPath != want {
		t.Fatalf("archive path = %q, want %q", jc.OutputArtifactPath, want)
	}
}

func writeJekyllZip(t *testing.T) string {
	t.Helper()
	return testsupport.WriteZip(t, "site.zip", map[string]string{
		"_posts/2020-01-01-first.md":  "---\ntitle: First\ntags: [go]\n---\nSee [second](https://blog.example.com/2020/01/02/second/).\n",
		"_posts/2020-01-02-second.md": "---\ntitle: Second\n---\nBack to [first](/2020/01/01/first/#top).\n",
	})
}

func TestJekyllPipelineWithoutEnrichment(t *testing.T) {
	none, _ := job.ParseScrapeSet("none")
	opts := job.Options{
		Source:     writeJekyllZip(t),
		Kind:       KindJekyll,
		URL:        "https://blog.example.com",
		Scrape:     none,
		Concurrent: 3,
		FixLinks:   true,
		CacheDir:   t.TempDir(),
		OutputDir:  t.TempDir(),
	}
	jc, report, err := runPipeline(t, Jekyll(), opts, Env{Now: fixedNow})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for title, want := range map[string]workflow.StageStatus{
		TitleWebScraper: workflow.StageSkipped,
		TitleImages:     workflow.StageSkipped,
		TitleZip:        workflow.StageSkipped,
		TitleLinks:      workflow.StageCompleted,
		TitleMobiledoc:  workflow.StageCompleted,
	} {
		if got, _ := report.Status(title); got != want {
			t.Fatalf("%s status = %s, want %s", title, got, want)
		}
	}
	if len(jc.Errors()) != 0 {
		t.Fatalf("unexpected records %+v", jc.Errors())
	}
	if jc.OutputArtifactPath != "" {
		t.Fatal("no archive expected without zip")
	}
	first, second := jc.Document.Posts[0].Data, jc.Document.Posts[1].Data
	if !strings.Contains(first.Mobiledoc, `/second/`) || strings.Contains(first.Mobiledoc, "blog.example.com") {
		t.Fatalf("absolute link not rewritten: %s", first.Mobiledoc)
	}
	if !strings.Contains(second.Mobiledoc, `/first/#top`) {
		t.Fatalf("relative link not rewritten: %s", second.Mobiledoc)
	}
}

func TestPipelineAbortsOnUnreadableExport(t *testing.T) {
	source := filepath.Join(t.TempDir(), "broken.zip")
	if err := os.WriteFile(source, []byte("not a zip"), 0o644); err != nil {
		t.Fatal(err)
	}
	opts := job.Options{
		Source:     source,
		Kind:       KindJekyll,
		URL:        "https://blog.example.com",
		Scrape:     job.AllScrape(),
		Concurrent: 1,
		CacheDir:   t.TempDir(),
		OutputDir:  t.TempDir(),
	}
	jc, report, err := runPipeline(t, Jekyll(), opts, Env{Now: fixedNow})
	var fatal *workflow.FatalError
	if !errors.As(err, &fatal) || fatal.Stage != "Read Jekyll export zip" {
		t.Fatalf("expected fatal error at read stage, got %v", err)
	}
	if status, _ := report.Status(TitleWrite); status != workflow.StageNotReached {
		t.Fatalf("write stage status = %s", status)
	}
	records := jc.Errors()
	if len(records) != 1 || !records[0].Fatal {
		t.Fatalf("expected one fatal record, got %+v", records)
	}
}

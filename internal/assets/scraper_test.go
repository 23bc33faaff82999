package assets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"migrate/internal/document"
	"migrate/internal/fetch"
	"migrate/internal/filecache"
	"migrate/internal/logging"
	"migrate/internal/stage"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/img/feature.jpg", "/img/inline.png", "/img/avatar.png":
			_, _ = w.Write([]byte("image-bytes"))
		case "/media/small.mp3":
			_, _ = w.Write([]byte("tiny"))
		case "/media/large.mp4":
			w.Header().Set("Content-Length", "4096")
			if r.Method == http.MethodGet {
				_, _ = w.Write(make([]byte, 4096))
			}
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func runAll(batch stage.Batch) []error {
	var errs []error
	for _, item := range batch.Items {
		if err := item.Run(context.Background()); err != nil {
			errs = append(errs, err)
		}
	}
	if batch.Apply != nil {
		batch.Apply()
	}
	return errs
}

func TestImageFetchRewritesReferences(t *testing.T) {
	server := newServer(t)
	cache, err := filecache.New(t.TempDir(), "export.zip", "jekyll", nil)
	if err != nil {
		t.Fatal(err)
	}
	doc := &document.Document{Posts: []*document.Post{{Data: document.PostData{
		FeatureImage: server.URL + "/img/feature.jpg",
		OGImage:      server.URL + "/img/feature.jpg",
		HTML:         `<p>hi</p><img src="/img/inline.png"><img src="/img/missing.png">`,
		Authors:      []*document.User{{Name: "A", ProfileImage: server.URL + "/img/avatar.png"}},
	}}}}

	scraper := NewImages(cache, fetch.New("test", 0), logging.NewNop())
	batch := scraper.Fetch(doc, server.URL)
	if batch.Len() != 4 {
		t.Fatalf("expected 4 unique images, got %d", batch.Len())
	}
	errs := runAll(batch)
	if len(errs) != 1 {
		t.Fatalf("expected only the missing image to fail, got %v", errs)
	}

	host := strings.TrimPrefix(server.URL, "http://")
	host = strings.ReplaceAll(host, ":", "-")
	data := doc.Posts[0].Data
	if data.FeatureImage != "__GHOST_URL__/content/images/"+host+"/img/feature.jpg" || data.OGImage != data.FeatureImage {
		t.Fatalf("feature/og not rewritten: %q %q", data.FeatureImage, data.OGImage)
	}
	if !strings.Contains(data.HTML, `src="__GHOST_URL__/content/images/`+host+`/img/inline.png"`) {
		t.Fatalf("inline image not rewritten: %s", data.HTML)
	}
	if !strings.Contains(data.HTML, `src="/img/missing.png"`) {
		t.Fatalf("failed image should keep its original reference: %s", data.HTML)
	}
	if data.Authors[0].ProfileImage != "__GHOST_URL__/content/images/"+host+"/img/avatar.png" {
		t.Fatalf("profile image = %q", data.Authors[0].ProfileImage)
	}
	local, _ := cache.AssetPath(filecache.AssetImages, server.URL+"/img/feature.jpg")
	if raw, err := os.ReadFile(local); err != nil || string(raw) != "image-bytes" {
		t.Fatalf("downloaded file = %q, %v", raw, err)
	}
}

func TestMediaOverLimitIsReportedNotFailed(t *testing.T) {
	server := newServer(t)
	cache, err := filecache.New(t.TempDir(), "export.csv", "substack", nil)
	if err != nil {
		t.Fatal(err)
	}
	doc := &document.Document{Posts: []*document.Post{{Data: document.PostData{
		HTML: `<audio src="` + server.URL + `/media/small.mp3"></audio><video><source src="` + server.URL + `/media/large.mp4"></video>`,
	}}}}

	scraper := NewMedia(cache, fetch.New("test", 0), 1024, logging.NewNop())
	errs := runAll(scraper.Fetch(doc, ""))
	if len(errs) != 0 {
		t.Fatalf("oversized media must not fail: %v", errs)
	}
	report := scraper.SizeReport()
	if len(report) != 1 || report[0].Bytes != 4096 || !strings.HasSuffix(report[0].URL, "/media/large.mp4") {
		t.Fatalf("unexpected size report %+v", report)
	}
	html := doc.Posts[0].Data.HTML
	host := strings.ReplaceAll(strings.TrimPrefix(server.URL, "http://"), ":", "-")
	if !strings.Contains(html, "__GHOST_URL__/content/media/"+host+"/media/small.mp3") {
		t.Fatalf("small media not rewritten: %s", html)
	}
	if !strings.Contains(html, server.URL+"/media/large.mp4") {
		t.Fatalf("oversized media should keep its remote reference: %s", html)
	}
}

func TestSamePathOnDifferentHostsGetsSeparateFiles(t *testing.T) {
	serve := func(body string) *httptest.Server {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/img/cover.jpg" {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write([]byte(body))
		}))
		t.Cleanup(server.Close)
		return server
	}
	first, second := serve("AAAA"), serve("BBBB")
	cache, err := filecache.New(t.TempDir(), "export.csv", "substack", nil)
	if err != nil {
		t.Fatal(err)
	}
	doc := &document.Document{Posts: []*document.Post{
		{Data: document.PostData{FeatureImage: first.URL + "/img/cover.jpg"}},
		{Data: document.PostData{FeatureImage: second.URL + "/img/cover.jpg"}},
	}}

	scraper := NewImages(cache, fetch.New("test", 0), logging.NewNop())
	if errs := runAll(scraper.Fetch(doc, "")); len(errs) != 0 {
		t.Fatalf("fetch errors: %v", errs)
	}
	a, b := doc.Posts[0].Data.FeatureImage, doc.Posts[1].Data.FeatureImage
	if a == b {
		t.Fatalf("both posts point at %s", a)
	}
	for _, tc := range []struct{ url, want string }{
		{first.URL + "/img/cover.jpg", "AAAA"},
		{second.URL + "/img/cover.jpg", "BBBB"},
	} {
		local, _ := cache.AssetPath(filecache.AssetImages, tc.url)
		raw, err := os.ReadFile(local)
		if err != nil || string(raw) != tc.want {
			t.Errorf("%s stored %q, %v; want %q", tc.url, raw, err, tc.want)
		}
	}
}

func TestRewriteKeepsLeadingStyleBlock(t *testing.T) {
	server := newServer(t)
	cache, err := filecache.New(t.TempDir(), "export.zip", "jekyll", nil)
	if err != nil {
		t.Fatal(err)
	}
	doc := &document.Document{Posts: []*document.Post{{Data: document.PostData{
		HTML: `<style>.x{color:red}</style><p><img src="/img/inline.png"></p>`,
	}}}}

	scraper := NewImages(cache, fetch.New("test", 0), logging.NewNop())
	if errs := runAll(scraper.Fetch(doc, server.URL)); len(errs) != 0 {
		t.Fatalf("fetch errors: %v", errs)
	}
	_, public := cache.AssetPath(filecache.AssetImages, server.URL+"/img/inline.png")
	want := `<style>.x{color:red}</style><p><img src="` + public + `"/></p>`
	if got := doc.Posts[0].Data.HTML; got != want {
		t.Fatalf("html = %s, want %s", got, want)
	}
}

func TestResolve(t *testing.T) {
	cases := []struct {
		base, raw, want string
		ok              bool
	}{
		{"https://site.com/blog/", "/img/a.png", "https://site.com/img/a.png", true},
		{"https://site.com", "https://cdn.com/a.png#x", "https://cdn.com/a.png", true},
		{"", "/img/a.png", "", false},
		{"https://site.com", "data:image/png;base64,xx", "", false},
		{"https://site.com", "__GHOST_URL__/content/images/a.png", "", false},
		{"https://site.com", "mailto:a@b.c", "", false},
	}
	for _, tc := range cases {
		got, ok := resolve(tc.base, tc.raw)
		if ok != tc.ok || got != tc.want {
			t.Errorf("resolve(%q, %q) = %q, %v", tc.base, tc.raw, got, ok)
		}
	}
}

package jekyllexport

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"migrate/internal/services"
	"migrate/internal/testsupport"
)

func TestIngestPostsAndDrafts(t *testing.T) {
	source := testsupport.WriteZip(t, "site.zip", map[string]string{
		"site/_posts/2020-01-02-hello-world.md": "---\n" +
			"title: Hello World\n" +
			"date: 2020-01-02 10:30:00 +0000\n" +
			"author: Jane Doe\n" +
			"tags: [Go, Migration]\n" +
			"categories: notes\n" +
			"image: /assets/cover.png\n" +
			"---\n" +
			"# Heading\n\nSome *text* with a [link](/2019/12/01/older/).\n",
		"site/_posts/2020-02-03-custom.html": "---\ntitle: Custom\npermalink: /blog/:title/\n---\n<p>Raw html</p>\n",
		"site/_drafts/idea.md":               "---\ntitle: An Idea\n---\nNot yet.\n",
		"site/_config.yml":                   "title: site\n",
		"site/_posts/.DS_Store":              "junk",
	})

	doc, err := Ingest(Options{Source: source, URL: "https://blog.example.com/"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(doc.Posts) != 3 {
		t.Fatalf("expected 3 posts, got %d", len(doc.Posts))
	}

	draft := doc.Posts[0]
	if draft.Data.Status != "draft" || draft.URL != "" || draft.Data.Slug != "idea" {
		t.Fatalf("unexpected draft %+v url=%q", draft.Data, draft.URL)
	}

	hello := doc.Posts[1]
	if hello.URL != "https://blog.example.com/2020/01/02/hello-world/" {
		t.Fatalf("url = %q", hello.URL)
	}
	if want := time.Date(2020, 1, 2, 10, 30, 0, 0, time.UTC); !hello.Data.PublishedAt.Equal(want) {
		t.Fatalf("published_at = %v", hello.Data.PublishedAt)
	}
	if hello.Data.FeatureImage != "https://blog.example.com/assets/cover.png" {
		t.Fatalf("feature image = %q", hello.Data.FeatureImage)
	}
	wantHTML := "<h1>Heading</h1>\n<p>Some <em>text</em> with a <a href=\"/2019/12/01/older/\">link</a>.</p>"
	if diff := cmp.Diff(wantHTML, hello.Data.HTML); diff != "" {
		t.Fatalf("html mismatch (-want +got):\n%s", diff)
	}
	var tags []string
	for _, tag := range hello.Data.Tags {
		tags = append(tags, tag.Slug+" "+tag.URL)
	}
	wantTags := []string{
		"go https://blog.example.com/tag/go/",
		"migration https://blog.example.com/tag/migration/",
		"notes https://blog.example.com/category/notes/",
	}
	if diff := cmp.Diff(wantTags, tags); diff != "" {
		t.Fatalf("tags mismatch (-want +got):\n%s", diff)
	}
	if len(hello.Data.Authors) != 1 || hello.Data.Authors[0].Slug != "jane-doe" {
		t.Fatalf("unexpected authors %+v", hello.Data.Authors)
	}

	custom := doc.Posts[2]
	if custom.URL != "https://blog.example.com/blog/custom/" {
		t.Fatalf("permalink url = %q", custom.URL)
	}
	if custom.Data.HTML != "<p>Raw html</p>" {
		t.Fatalf("html post body = %q", custom.Data.HTML)
	}
	if want := time.Date(2020, 2, 3, 0, 0, 0, 0, time.UTC); !custom.Data.PublishedAt.Equal(want) {
		t.Fatalf("date from file name = %v", custom.Data.PublishedAt)
	}
}

func TestIngestPublishedFalseIsDraft(t *testing.T) {
	source := testsupport.WriteZip(t, "site.zip", map[string]string{
		"_posts/2021-05-06-hidden.md": "---\ntitle: Hidden\npublished: false\n---\nbody\n",
	})
	doc, err := Ingest(Options{Source: source, URL: "https://blog.example.com"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if got := doc.Posts[0].Data.Status; got != "draft" {
		t.Fatalf("status = %q", got)
	}
}

func TestIngestErrors(t *testing.T) {
	cases := map[string]map[string]string{
		"no posts":         {"README.md": "hi"},
		"bad front matter": {"_posts/2020-01-01-x.md": "---\ntitle: [unclosed\n---\n"},
		"unterminated":     {"_posts/2020-01-01-x.md": "---\ntitle: x\n"},
		"bad date":         {"_posts/2020-01-01-x.md": "---\ndate: yesterday\n---\n"},
	}
	for name, files := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Ingest(Options{Source: testsupport.WriteZip(t, "site.zip", files)})
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	if _, err := Ingest(Options{Source: filepath.Join(t.TempDir(), "missing.zip")}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for missing zip, got %v", err)
	}
}

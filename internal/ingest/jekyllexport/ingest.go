// Package jekyllexport reads a zipped static site: every markdown or HTML
// file under _posts/ or _drafts/ becomes a post. YAML front matter supplies
// the metadata and the file name supplies the date and slug.
package jekyllexport

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"gopkg.in/yaml.v3"

	"migrate/internal/document"
	"migrate/internal/services"
)

// Options configures ingestion.
type Options struct {
	// Source is the zip file.
	Source string
	// URL is the public address of the site.
	URL string
}

// frontMatter is the subset of Jekyll front matter the migration uses.
type frontMatter struct {
	Title        string     `yaml:"title"`
	Date         string     `yaml:"date"`
	Slug         string     `yaml:"slug"`
	Permalink    string     `yaml:"permalink"`
	Author       stringList `yaml:"author"`
	Authors      stringList `yaml:"authors"`
	Tags         stringList `yaml:"tags"`
	Categories   stringList `yaml:"categories"`
	Excerpt      string     `yaml:"excerpt"`
	Description  string     `yaml:"description"`
	Image        imageField `yaml:"image"`
	FeatureImage string     `yaml:"feature_image"`
	Published    *bool      `yaml:"published"`
	Layout       string     `yaml:"layout"`
}

// stringList accepts a YAML sequence or a space separated scalar.
type stringList []string

func (l *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = strings.Fields(node.Value)
		return nil
	case yaml.SequenceNode:
		var values []string
		if err := node.Decode(&values); err != nil {
			return err
		}
		*l = values
		return nil
	default:
		return fmt.Errorf("line %d: expected string or list", node.Line)
	}
}

// imageField accepts either a path or a mapping with a path key.
type imageField string

func (i *imageField) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		var m struct {
			Path    string `yaml:"path"`
			Feature string `yaml:"feature"`
		}
		if err := node.Decode(&m); err != nil {
			return err
		}
		*i = imageField(firstNonEmpty(m.Path, m.Feature))
		return nil
	}
	*i = imageField(node.Value)
	return nil
}

var fileNamePattern = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})-(.+)$`)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM, extension.Footnote),
	goldmark.WithRendererOptions(html.WithUnsafe()),
)

// Ingest reads the zip into a document.
func Ingest(opts Options) (*document.Document, error) {
	zr, err := zip.OpenReader(opts.Source)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "jekyllexport", "open zip", opts.Source, err)
	}
	defer zr.Close()

	siteURL := strings.TrimRight(strings.TrimSpace(opts.URL), "/")
	var files []*zip.File
	for _, f := range zr.File {
		if isPostFile(f.Name) {
			files = append(files, f)
		}
	}
	if len(files) == 0 {
		return nil, services.Wrap(services.ErrValidation, "jekyllexport", "scan", "no files found under _posts or _drafts", nil)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	doc := &document.Document{}
	for _, f := range files {
		post, err := readPost(f, siteURL)
		if err != nil {
			return nil, err
		}
		doc.Posts = append(doc.Posts, post)
	}
	return doc, nil
}

func isPostFile(name string) bool {
	if strings.HasSuffix(name, "/") || strings.HasPrefix(path.Base(name), ".") {
		return false
	}
	if !strings.Contains("/"+name, "/_posts/") && !strings.Contains("/"+name, "/_drafts/") {
		return false
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".md", ".markdown", ".html", ".htm":
		return true
	}
	return false
}

func readPost(f *zip.File, siteURL string) (*document.Post, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "jekyllexport", "read", f.Name, err)
	}
	raw, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "jekyllexport", "read", f.Name, err)
	}

	meta, body, err := splitFrontMatter(raw)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "jekyllexport", "parse front matter", f.Name, err)
	}

	ext := strings.ToLower(path.Ext(f.Name))
	stem := strings.TrimSuffix(path.Base(f.Name), path.Ext(f.Name))
	isDraft := strings.Contains("/"+f.Name, "/_drafts/")

	var fileDate time.Time
	slug := stem
	if m := fileNamePattern.FindStringSubmatch(stem); m != nil {
		fileDate, _ = time.Parse("2006-01-02", m[1]+"-"+m[2]+"-"+m[3])
		slug = m[4]
	}
	if meta.Slug != "" {
		slug = meta.Slug
	}
	slug = document.Slugify(slug)

	published := fileDate
	if meta.Date != "" {
		if ts, err := parseDate(meta.Date); err == nil {
			published = ts
		} else {
			return nil, services.Wrap(services.ErrValidation, "jekyllexport", "parse date", f.Name, err)
		}
	}

	htmlBody := strings.TrimSpace(string(body))
	if ext == ".md" || ext == ".markdown" {
		var buf bytes.Buffer
		if err := markdown.Convert(body, &buf); err != nil {
			return nil, services.Wrap(services.ErrValidation, "jekyllexport", "render markdown", f.Name, err)
		}
		htmlBody = strings.TrimSpace(buf.String())
	}

	data := document.PostData{
		Slug:          slug,
		Title:         firstNonEmpty(meta.Title, strings.ReplaceAll(slug, "-", " ")),
		Type:          "post",
		HTML:          htmlBody,
		CustomExcerpt: firstNonEmpty(meta.Excerpt, meta.Description),
		FeatureImage:  absolute(siteURL, firstNonEmpty(meta.FeatureImage, string(meta.Image))),
		CreatedAt:     published,
		UpdatedAt:     published,
	}
	if meta.Layout == "page" {
		data.Type = "page"
	}
	if isDraft || (meta.Published != nil && !*meta.Published) {
		data.Status = "draft"
	} else {
		data.Status = "published"
		data.PublishedAt = published
	}
	for _, name := range append(meta.Author, meta.Authors...) {
		userSlug := document.Slugify(name)
		data.Authors = append(data.Authors, &document.User{Name: name, Slug: userSlug, URL: siteLink(siteURL, "/author/"+userSlug+"/")})
	}
	for _, name := range meta.Tags {
		tagSlug := document.Slugify(name)
		data.Tags = append(data.Tags, &document.Tag{Name: name, Slug: tagSlug, URL: siteLink(siteURL, "/tag/"+tagSlug+"/")})
	}
	for _, name := range meta.Categories {
		tagSlug := document.Slugify(name)
		data.Tags = append(data.Tags, &document.Tag{Name: name, Slug: tagSlug, URL: siteLink(siteURL, "/category/"+tagSlug+"/")})
	}

	post := &document.Post{Data: data}
	if siteURL != "" && data.Status == "published" {
		post.URL = siteURL + permalink(meta.Permalink, slug, published)
	}
	return post, nil
}

func splitFrontMatter(raw []byte) (frontMatter, []byte, error) {
	var meta frontMatter
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if !bytes.HasPrefix(raw, []byte("---")) {
		return meta, raw, nil
	}
	rest := raw[3:]
	end := bytes.Index(rest, []byte("\n---"))
	if end < 0 {
		return meta, nil, fmt.Errorf("front matter is not terminated")
	}
	if err := yaml.Unmarshal(rest[:end], &meta); err != nil {
		return meta, nil, err
	}
	body := rest[end+len("\n---"):]
	if idx := bytes.IndexByte(body, '\n'); idx >= 0 {
		body = body[idx+1:]
	} else {
		body = nil
	}
	return meta, body, nil
}

var dateLayouts = []string{
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05 -07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.RFC3339,
	"2006-01-02",
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	var lastErr error
	for _, layout := range dateLayouts {
		ts, err := time.Parse(layout, raw)
		if err == nil {
			return ts.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// permalink expands the common Jekyll placeholders. Without a permalink the
// date style /year/month/day/slug/ is used.
func permalink(pattern, slug string, date time.Time) string {
	if strings.TrimSpace(pattern) == "" {
		if date.IsZero() {
			return "/" + slug + "/"
		}
		return fmt.Sprintf("/%04d/%02d/%02d/%s/", date.Year(), int(date.Month()), date.Day(), slug)
	}
	replacer := strings.NewReplacer(
		":year", fmt.Sprintf("%04d", date.Year()),
		":month", fmt.Sprintf("%02d", int(date.Month())),
		":day", fmt.Sprintf("%02d", date.Day()),
		":title", slug,
		":slug", slug,
	)
	out := replacer.Replace(pattern)
	if !strings.HasPrefix(out, "/") {
		out = "/" + out
	}
	return out
}

func absolute(siteURL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || siteURL == "" || strings.Contains(ref, "://") || strings.HasPrefix(ref, "//") {
		return ref
	}
	return siteURL + "/" + strings.TrimPrefix(ref, "/")
}

func siteLink(siteURL, p string) string {
	if siteURL == "" {
		return ""
	}
	return siteURL + p
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

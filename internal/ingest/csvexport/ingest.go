// Package csvexport reads a newsletter platform's CSV export: a posts.csv
// index plus one posts/<post_id>.html body per post, either as loose files or
// packed in a zip.
package csvexport

import (
	"archive/zip"
	"encoding/csv"
	"errors"
	"fmt"
	"html"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"migrate/internal/document"
	"migrate/internal/services"
)

const indexName = "posts.csv"

// Options configures ingestion.
type Options struct {
	// Source is posts.csv or a zip containing it.
	Source string
	// URL is the public address posts were published at.
	URL string
}

// Ingest reads the export into a document.
func Ingest(opts Options) (*document.Document, error) {
	fsys, index, closer, err := open(opts.Source)
	if err != nil {
		return nil, err
	}
	defer closer()

	f, err := fsys.Open(index)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "csvexport", "open index", index, err)
	}
	defer f.Close()

	rows, err := readRows(f)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, services.Wrap(services.ErrValidation, "csvexport", "read index", "export contains no posts", nil)
	}

	bodyDir := path.Join(path.Dir(index), "posts")
	siteURL := strings.TrimRight(strings.TrimSpace(opts.URL), "/")
	title := cases.Title(language.English)
	doc := &document.Document{}
	for _, row := range rows {
		post, err := buildPost(row, siteURL, title)
		if err != nil {
			return nil, err
		}
		body, err := fs.ReadFile(fsys, path.Join(bodyDir, row.get("post_id")+".html"))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrValidation, "csvexport", "read body", row.get("post_id"), err)
		}
		post.Data.HTML = strings.TrimSpace(string(body))
		if podcast := row.get("podcast_url"); podcast != "" {
			post.Data.HTML = fmt.Sprintf(`<audio src="%s" controls></audio>`, html.EscapeString(podcast)) + post.Data.HTML
		}
		doc.Posts = append(doc.Posts, post)
	}
	return doc, nil
}

// open returns a filesystem and the index path within it. Loose exports are
// read from the directory holding posts.csv.
func open(source string) (fs.FS, string, func(), error) {
	source = strings.TrimSpace(source)
	info, err := os.Stat(source)
	if err != nil {
		return nil, "", nil, services.Wrap(services.ErrValidation, "csvexport", "open", source, err)
	}
	if info.IsDir() {
		return nil, "", nil, services.Wrap(services.ErrValidation, "csvexport", "open", source+" is a directory; pass posts.csv or the export zip", nil)
	}
	if strings.EqualFold(filepath.Ext(source), ".zip") {
		zr, err := zip.OpenReader(source)
		if err != nil {
			return nil, "", nil, services.Wrap(services.ErrValidation, "csvexport", "open zip", source, err)
		}
		for _, f := range zr.File {
			if path.Base(f.Name) == indexName {
				return zr, f.Name, func() { _ = zr.Close() }, nil
			}
		}
		_ = zr.Close()
		return nil, "", nil, services.Wrap(services.ErrValidation, "csvexport", "open zip", source+" has no "+indexName, nil)
	}
	return os.DirFS(filepath.Dir(source)), filepath.Base(source), func() {}, nil
}

type row map[string]string

func (r row) get(key string) string { return strings.TrimSpace(r[key]) }

func readRows(r io.Reader) ([]row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "csvexport", "parse index", "", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	header := records[0]
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff")))
	}
	if !slices.Contains(header, "post_id") {
		return nil, services.Wrap(services.ErrValidation, "csvexport", "parse index", "missing post_id column", nil)
	}
	rows := make([]row, 0, len(records)-1)
	for _, record := range records[1:] {
		entry := make(row, len(header))
		for i, value := range record {
			if i < len(header) {
				entry[header[i]] = value
			}
		}
		if entry.get("post_id") == "" {
			continue
		}
		rows = append(rows, entry)
	}
	return rows, nil
}

func buildPost(r row, siteURL string, title cases.Caser) (*document.Post, error) {
	id := r.get("post_id")
	slug := id
	if idx := strings.IndexByte(id, '.'); idx >= 0 {
		slug = id[idx+1:]
	}
	data := document.PostData{
		Slug:          slug,
		Title:         r.get("title"),
		CustomExcerpt: r.get("subtitle"),
		Type:          "post",
		Status:        "draft",
		Visibility:    visibility(r.get("audience")),
	}
	if strings.EqualFold(r.get("is_published"), "true") {
		data.Status = "published"
	}
	if raw := r.get("post_date"); raw != "" {
		ts, err := parseTime(raw)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "csvexport", "parse post_date", id, err)
		}
		data.CreatedAt = ts
		data.UpdatedAt = ts
		if data.Status == "published" {
			data.PublishedAt = ts
		}
	}
	if kind := r.get("type"); kind != "" {
		data.Tags = append(data.Tags, &document.Tag{Slug: document.Slugify(kind), Name: title.String(strings.ReplaceAll(kind, "-", " "))})
	}
	post := &document.Post{Data: data}
	if siteURL != "" && slug != "" {
		post.URL = siteURL + "/p/" + slug
	}
	return post, nil
}

func visibility(audience string) string {
	switch strings.ToLower(audience) {
	case "only_paid":
		return "paid"
	case "only_free":
		return "members"
	default:
		return "public"
	}
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z", "2006-01-02 15:04:05", "2006-01-02"}

func parseTime(raw string) (time.Time, error) {
	var lastErr error
	for _, layout := range timeLayouts {
		ts, err := time.Parse(layout, raw)
		if err == nil {
			return ts.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// Package linkfixer rewrites links between migrated posts, tags and authors
// from their old site URLs to the paths they will have after import.
package linkfixer

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"migrate/internal/document"
	"migrate/internal/logging"
	"migrate/internal/services"
	"migrate/internal/stage"
)

type targetKind int

const (
	targetPost targetKind = iota
	targetTag
	targetAuthor
)

// target resolves its new path lazily so that slugs assigned during
// normalization, after the map is built, are the ones used.
type target struct {
	kind targetKind
	post *document.Post
	tag  *document.Tag
	user *document.User
}

func (t target) path() string {
	switch t.kind {
	case targetTag:
		return "/tag/" + t.tag.Slug + "/"
	case targetAuthor:
		return "/author/" + t.user.Slug + "/"
	default:
		return "/" + t.post.Data.Slug + "/"
	}
}

// Fixer holds the link map of one job.
type Fixer struct {
	logger *slog.Logger

	mu    sync.RWMutex
	links map[string]target
	hosts map[string]struct{}
}

// New builds an empty fixer.
func New(logger *slog.Logger) *Fixer {
	return &Fixer{
		logger: logging.NewComponentLogger(logger, "linkfixer"),
		links:  make(map[string]target),
		hosts:  make(map[string]struct{}),
	}
}

// BuildMap records the old URL of every post, tag and author in doc.
func (f *Fixer) BuildMap(doc *document.Document, siteURL string) error {
	if doc == nil {
		return services.Wrap(services.ErrValidation, "linkfixer", "build map", "document is nil", nil)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if siteURL = strings.TrimSpace(siteURL); siteURL != "" {
		parsed, err := url.Parse(siteURL)
		if err != nil || parsed.Host == "" {
			return services.Wrap(services.ErrConfiguration, "linkfixer", "build map", "invalid site url "+siteURL, err)
		}
		f.hosts[strings.ToLower(parsed.Host)] = struct{}{}
	}
	for _, post := range doc.Posts {
		if post == nil {
			continue
		}
		f.add(post.URL, target{kind: targetPost, post: post})
		for _, tag := range post.Data.Tags {
			if tag != nil {
				f.add(tag.URL, target{kind: targetTag, tag: tag})
			}
		}
		for _, user := range post.Data.Authors {
			if user != nil {
				f.add(user.URL, target{kind: targetAuthor, user: user})
			}
		}
	}
	f.logger.Debug("link map built", logging.Int("links", len(f.links)))
	return nil
}

func (f *Fixer) add(raw string, t target) {
	key, host, ok := keyFor(raw)
	if !ok {
		return
	}
	if host != "" {
		f.hosts[host] = struct{}{}
	}
	if _, exists := f.links[key]; !exists {
		f.links[key] = t
	}
}

// Len reports the number of mapped links.
func (f *Fixer) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.links)
}

// Lookup returns the new path for href, keeping any fragment.
func (f *Fixer) Lookup(href string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	key, host, ok := keyFor(href)
	if !ok {
		return "", false
	}
	if host != "" {
		if _, known := f.hosts[host]; !known {
			return "", false
		}
	}
	t, found := f.links[key]
	if !found {
		return "", false
	}
	path := t.path()
	if idx := strings.IndexByte(href, '#'); idx >= 0 {
		path += href[idx:]
	}
	return path, true
}

// Fix returns one work item per post with HTML. Each item rewrites the
// post's anchors into its own slot; Apply stores the rewritten HTML.
func (f *Fixer) Fix(doc *document.Document) stage.Batch {
	if doc == nil {
		return stage.Batch{}
	}
	var targets []*document.Post
	for _, post := range doc.Posts {
		if post != nil && strings.TrimSpace(post.Data.HTML) != "" {
			targets = append(targets, post)
		}
	}
	rewritten := make([]string, len(targets))
	items := make([]stage.WorkItem, len(targets))
	for i, post := range targets {
		label := post.URL
		if label == "" {
			label = post.Data.Slug
		}
		html := post.Data.HTML
		items[i] = stage.WorkItem{
			Label: label,
			Run: func(context.Context) error {
				out, changed, err := f.rewrite(html)
				if err != nil {
					return services.Wrap(services.ErrValidation, "linkfixer", "rewrite", label, err)
				}
				if changed {
					rewritten[i] = out
				}
				return nil
			},
		}
	}
	return stage.Batch{
		Items: items,
		Apply: func() {
			for i, out := range rewritten {
				if out != "" {
					targets[i].Data.HTML = out
				}
			}
		},
	}
}

func (f *Fixer) rewrite(html string) (string, bool, error) {
	page, err := document.ParseFragment(html)
	if err != nil {
		return "", false, err
	}
	changed := false
	page.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if path, ok := f.Lookup(href); ok {
			sel.SetAttr("href", path)
			changed = true
		}
	})
	if !changed {
		return html, false, nil
	}
	out, err := document.RenderFragment(page)
	if err != nil {
		return "", false, err
	}
	return out, true, nil
}

// keyFor reduces a URL to its lowercase path with a trailing slash, plus its
// host when absolute.
func keyFor(raw string) (key string, host string, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return "", "", false
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", "", false
	}
	if parsed.Scheme != "" && parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", "", false
	}
	path := parsed.Path
	if path == "" || path == "/" {
		return "", "", false
	}
	if !strings.HasPrefix(path, "/") {
		return "", "", false
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return strings.ToLower(path), strings.ToLower(parsed.Host), true
}

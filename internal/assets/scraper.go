package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"migrate/internal/document"
	"migrate/internal/fetch"
	"migrate/internal/filecache"
	"migrate/internal/logging"
	"migrate/internal/services"
	"migrate/internal/stage"
)

// Scraper fetches one kind of asset.
type Scraper struct {
	kind      filecache.AssetKind
	cache     *filecache.Cache
	client    *fetch.Client
	sizeLimit int64
	logger    *slog.Logger

	mu     sync.Mutex
	report []filecache.SizeEntry
}

// NewImages builds the image scraper.
func NewImages(cache *filecache.Cache, client *fetch.Client, logger *slog.Logger) *Scraper {
	return newScraper(filecache.AssetImages, cache, client, 0, logger)
}

// NewMedia builds the media scraper. sizeLimit is in bytes; 0 disables it.
func NewMedia(cache *filecache.Cache, client *fetch.Client, sizeLimit int64, logger *slog.Logger) *Scraper {
	return newScraper(filecache.AssetMedia, cache, client, sizeLimit, logger)
}

func newScraper(kind filecache.AssetKind, cache *filecache.Cache, client *fetch.Client, sizeLimit int64, logger *slog.Logger) *Scraper {
	return &Scraper{
		kind:      kind,
		cache:     cache,
		client:    client,
		sizeLimit: sizeLimit,
		logger:    logging.NewComponentLogger(logger, "assets").With(logging.String("asset_kind", string(kind))),
	}
}

// Kind reports the asset kind.
func (s *Scraper) Kind() filecache.AssetKind { return s.kind }

// SizeReport lists the assets skipped for exceeding the size limit.
func (s *Scraper) SizeReport() []filecache.SizeEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]filecache.SizeEntry, len(s.report))
	copy(out, s.report)
	return out
}

// SizeLimit returns the limit in bytes.
func (s *Scraper) SizeLimit() int64 { return s.sizeLimit }

type itemResult struct {
	public  string
	skipped *filecache.SizeEntry
}

// Fetch returns one work item per unique asset URL referenced by doc.
// Relative references are resolved against baseURL. Apply rewrites every
// reference to a downloaded asset.
func (s *Scraper) Fetch(doc *document.Document, baseURL string) stage.Batch {
	if doc == nil {
		return stage.Batch{}
	}
	refs := collect(doc, s.kind, baseURL)
	results := make([]itemResult, len(refs.urls))
	items := make([]stage.WorkItem, len(refs.urls))
	for i, assetURL := range refs.urls {
		items[i] = stage.WorkItem{
			Label: assetURL,
			Run: func(ctx context.Context) error {
				res, err := s.download(ctx, assetURL)
				if err != nil {
					return err
				}
				results[i] = res
				return nil
			},
		}
	}
	return stage.Batch{
		Items: items,
		Apply: func() {
			resolved := make(map[string]string, len(results))
			var skipped []filecache.SizeEntry
			for i, res := range results {
				if res.skipped != nil {
					skipped = append(skipped, *res.skipped)
					continue
				}
				if res.public != "" {
					resolved[refs.urls[i]] = res.public
				}
			}
			s.mu.Lock()
			s.report = append(s.report, skipped...)
			s.mu.Unlock()
			rewrite(doc, s.kind, baseURL, resolved)
		},
	}
}

func (s *Scraper) download(ctx context.Context, assetURL string) (itemResult, error) {
	local, public := s.cache.AssetPath(s.kind, assetURL)
	if filecache.Exists(local) {
		return itemResult{public: public}, nil
	}

	if s.sizeLimit > 0 {
		size, err := s.client.Size(ctx, assetURL)
		if err == nil && size > s.sizeLimit {
			s.logger.InfoContext(ctx, "asset exceeds size limit",
				logging.String("url", assetURL),
				logging.Bytes("size", size),
				logging.Bytes("limit", s.sizeLimit),
			)
			return itemResult{skipped: &filecache.SizeEntry{URL: assetURL, Bytes: size}}, nil
		}
	}

	resp, err := s.client.Get(ctx, assetURL)
	if err != nil {
		return itemResult{}, err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return itemResult{}, services.Wrap(services.ErrExternal, "assets", "store", local, err)
	}
	tmp := fmt.Sprintf("%s.%d.part", local, time.Now().UnixNano())
	out, err := os.Create(tmp)
	if err != nil {
		return itemResult{}, services.Wrap(services.ErrExternal, "assets", "store", local, err)
	}
	var body io.Reader = resp.Body
	if s.sizeLimit > 0 {
		body = io.LimitReader(resp.Body, s.sizeLimit+1)
	}
	written, copyErr := io.Copy(out, body)
	closeErr := out.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(tmp)
		return itemResult{}, services.Wrap(services.ErrTransient, "assets", "download", assetURL, err)
	}
	if s.sizeLimit > 0 && written > s.sizeLimit {
		_ = os.Remove(tmp)
		return itemResult{skipped: &filecache.SizeEntry{URL: assetURL, Bytes: written}}, nil
	}
	if written == 0 {
		_ = os.Remove(tmp)
		return itemResult{}, services.Wrap(services.ErrExternal, "assets", "download", assetURL+" returned an empty body", nil)
	}
	if err := os.Rename(tmp, local); err != nil {
		_ = os.Remove(tmp)
		return itemResult{}, services.Wrap(services.ErrExternal, "assets", "store", local, err)
	}
	s.logger.DebugContext(ctx, "asset downloaded", logging.String("url", assetURL), logging.Bytes("size", written))
	return itemResult{public: public}, nil
}

// htmlSelectors lists the elements whose src attribute references each kind.
var htmlSelectors = map[filecache.AssetKind]string{
	filecache.AssetImages: "img[src]",
	filecache.AssetMedia:  "video[src], audio[src], source[src]",
}

type references struct {
	urls []string
}

func collect(doc *document.Document, kind filecache.AssetKind, baseURL string) references {
	seen := make(map[string]struct{})
	var refs references
	add := func(raw string) {
		abs, ok := resolve(baseURL, raw)
		if !ok {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		refs.urls = append(refs.urls, abs)
	}
	for _, post := range doc.Posts {
		if kind == filecache.AssetImages {
			for _, field := range post.Data.ImageFields() {
				add(*field)
			}
			for _, author := range post.Data.Authors {
				add(author.ProfileImage)
			}
		}
		if post.Data.HTML == "" {
			continue
		}
		page, err := document.ParseFragment(post.Data.HTML)
		if err != nil {
			continue
		}
		page.Find(htmlSelectors[kind]).Each(func(_ int, sel *goquery.Selection) {
			src, _ := sel.Attr("src")
			add(src)
		})
	}
	if kind == filecache.AssetImages {
		for _, user := range doc.Users {
			add(user.ProfileImage)
		}
	}
	return refs
}

func rewrite(doc *document.Document, kind filecache.AssetKind, baseURL string, resolved map[string]string) {
	if len(resolved) == 0 {
		return
	}
	lookup := func(raw string) (string, bool) {
		abs, ok := resolve(baseURL, raw)
		if !ok {
			return "", false
		}
		public, found := resolved[abs]
		return public, found
	}
	replace := func(field *string) {
		if public, ok := lookup(*field); ok {
			*field = public
		}
	}
	for _, post := range doc.Posts {
		if kind == filecache.AssetImages {
			for _, field := range post.Data.ImageFields() {
				replace(field)
			}
			for _, author := range post.Data.Authors {
				replace(&author.ProfileImage)
			}
		}
		if post.Data.HTML == "" {
			continue
		}
		if html, changed := rewriteHTML(post.Data.HTML, htmlSelectors[kind], lookup); changed {
			post.Data.HTML = html
		}
	}
	if kind == filecache.AssetImages {
		for _, user := range doc.Users {
			replace(&user.ProfileImage)
		}
	}
}

func rewriteHTML(html, selector string, lookup func(string) (string, bool)) (string, bool) {
	page, err := document.ParseFragment(html)
	if err != nil {
		return html, false
	}
	changed := false
	page.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		if public, ok := lookup(src); ok {
			sel.SetAttr("src", public)
			changed = true
		}
	})
	if !changed {
		return html, false
	}
	out, err := document.RenderFragment(page)
	if err != nil {
		return html, false
	}
	return out, true
}

// resolve turns raw into an absolute http(s) URL. Data URIs, bundle
// references and unparsable values are ignored.
func resolve(baseURL, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "data:") || strings.HasPrefix(raw, filecache.PublicPrefix) {
		return "", false
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if !ref.IsAbs() {
		if strings.TrimSpace(baseURL) == "" {
			return "", false
		}
		base, err := url.Parse(baseURL)
		if err != nil {
			return "", false
		}
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return "", false
	}
	ref.Fragment = ""
	return ref.String(), true
}

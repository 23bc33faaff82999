package webscraper

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"migrate/internal/document"
	"migrate/internal/fetch"
	"migrate/internal/filecache"
	"migrate/internal/logging"
	"migrate/internal/services"
	"migrate/internal/stage"
)

// maxPageBytes bounds how much of a page is read.
const maxPageBytes = 8 << 20

// Result is what one page yielded.
type Result struct {
	Fields  map[Field]string `json:"fields"`
	Authors []*document.User `json:"authors,omitempty"`
	Tags    []*document.Tag  `json:"tags,omitempty"`
}

// Scraper hydrates posts from their live pages.
type Scraper struct {
	cache  *filecache.Cache
	config Config
	client *fetch.Client
	logger *slog.Logger
}

// New builds a scraper.
func New(cache *filecache.Cache, cfg Config, client *fetch.Client, logger *slog.Logger) *Scraper {
	return &Scraper{
		cache:  cache,
		config: cfg,
		client: client,
		logger: logging.NewComponentLogger(logger, "webscraper"),
	}
}

// Hydrate returns one work item per post that has a URL and is not skipped.
// Apply merges every successful result into its post.
func (s *Scraper) Hydrate(doc *document.Document) stage.Batch {
	if doc == nil {
		return stage.Batch{}
	}
	var (
		targets []*document.Post
		items   []stage.WorkItem
	)
	for _, post := range doc.Posts {
		if post == nil || strings.TrimSpace(post.URL) == "" {
			continue
		}
		if s.config.Skip != nil && s.config.Skip(post) {
			continue
		}
		targets = append(targets, post)
	}
	results := make([]*Result, len(targets))
	for i, post := range targets {
		pageURL := post.URL
		items = append(items, stage.WorkItem{
			Label: pageURL,
			Run: func(ctx context.Context) error {
				res, err := s.scrape(ctx, pageURL)
				if err != nil {
					return err
				}
				results[i] = res
				return nil
			},
		})
	}
	return stage.Batch{
		Items: items,
		Apply: func() {
			for i, res := range results {
				if res != nil {
					merge(&targets[i].Data, res)
				}
			}
		},
	}
}

func (s *Scraper) scrape(ctx context.Context, pageURL string) (*Result, error) {
	cacheName := cacheFileName(pageURL)
	if s.cache != nil {
		var cached Result
		if found, err := s.cache.ReadTmpFile(cacheName, &cached); err == nil && found {
			s.logger.DebugContext(ctx, "scrape cache hit", logging.String("url", pageURL))
			return &cached, nil
		}
	}

	body, err := s.client.ReadAll(ctx, pageURL, maxPageBytes)
	if err != nil {
		return nil, err
	}
	page, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "webscraper", "parse", pageURL, err)
	}
	res, err := s.extract(page)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "webscraper", "extract", pageURL, err)
	}
	if s.config.PostProcess != nil {
		s.config.PostProcess(res)
	}
	if s.cache != nil {
		if _, err := s.cache.WriteTmpFile(cacheName, res); err != nil {
			s.logger.WarnContext(ctx, "scrape cache write failed", logging.String("url", pageURL), logging.Error(err))
		}
	}
	return res, nil
}

func (s *Scraper) extract(page *goquery.Document) (*Result, error) {
	res := &Result{Fields: make(map[Field]string)}
	for _, rule := range s.config.Rules {
		sel := page.Find(rule.Selector).First()
		if sel.Length() == 0 {
			continue
		}
		var value string
		if rule.Attr != "" {
			value, _ = sel.Attr(rule.Attr)
		} else {
			value = sel.Text()
		}
		value = strings.TrimSpace(value)
		if rule.Convert != nil && value != "" {
			value = rule.Convert(value)
		}
		if value != "" {
			res.Fields[rule.Field] = value
		}
	}

	if s.config.AuthorsSelector != "" {
		authors, err := ldJSONAuthors(page.Find(s.config.AuthorsSelector).First().Text())
		if err != nil {
			return nil, err
		}
		res.Authors = authors
	}

	if rule := s.config.Labels; rule != nil && rule.Pattern != nil {
		page.Find(rule.Selector).Each(func(_ int, sel *goquery.Selection) {
			href, _ := sel.Attr("href")
			match := rule.Pattern.FindStringSubmatch(href)
			if len(match) < 2 || match[1] == "" {
				return
			}
			name := strings.TrimSpace(sel.Text())
			if name == "" {
				name = match[1]
			}
			res.Tags = append(res.Tags, &document.Tag{Slug: match[1], Name: name, URL: href})
		})
	}
	return res, nil
}

type ldAuthor struct {
	Name string `json:"name"`
}

// ldJSONAuthors reads author names from an ld+json blob. The author may be a
// single object or a list.
func ldJSONAuthors(raw string) ([]*document.User, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var envelope struct {
		Author json.RawMessage `json:"author"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, err
	}
	var bylines []string
	var single ldAuthor
	var many []ldAuthor
	switch {
	case len(envelope.Author) == 0:
		return nil, nil
	case json.Unmarshal(envelope.Author, &single) == nil:
		bylines = append(bylines, single.Name)
	case json.Unmarshal(envelope.Author, &many) == nil:
		for _, author := range many {
			bylines = append(bylines, author.Name)
		}
	}
	var users []*document.User
	for _, byline := range bylines {
		for _, name := range SplitAuthors(byline) {
			users = append(users, &document.User{Name: name, Slug: document.Slugify(name)})
		}
	}
	return users, nil
}

// merge folds a result into a post. Scraped values only fill empty fields,
// except the feature image, which is only scraped when explicitly requested.
// Scraped authors replace the export's authors; scraped tags are appended.
func merge(data *document.PostData, res *Result) {
	for field, value := range res.Fields {
		target := fieldPtr(data, field)
		if target == nil {
			continue
		}
		if *target == "" || field == FieldFeatureImage {
			*target = value
		}
	}
	if len(res.Authors) > 0 {
		data.Authors = res.Authors
	}
	data.Tags = append(data.Tags, res.Tags...)
}

func fieldPtr(data *document.PostData, field Field) *string {
	switch field {
	case FieldMetaTitle:
		return &data.MetaTitle
	case FieldMetaDescription:
		return &data.MetaDescription
	case FieldOGImage:
		return &data.OGImage
	case FieldOGTitle:
		return &data.OGTitle
	case FieldOGDescription:
		return &data.OGDescription
	case FieldTwitterImage:
		return &data.TwitterImage
	case FieldTwitterTitle:
		return &data.TwitterTitle
	case FieldTwitterDescription:
		return &data.TwitterDescription
	case FieldFeatureImage:
		return &data.FeatureImage
	default:
		return nil
	}
}

func cacheFileName(pageURL string) string {
	sum := sha256.Sum256([]byte(pageURL))
	return "scrape/" + hex.EncodeToString(sum[:10]) + ".json"
}

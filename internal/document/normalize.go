package document

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"migrate/internal/services"
)

const (
	bundleVersion = "2.0.0"

	maxTitle         = 255
	maxSlug          = 191
	maxMetaTitle     = 300
	maxMetaDesc      = 500
	maxCustomExcerpt = 300
)

// DefaultAuthor is attached to posts that reach normalization without any author.
var DefaultAuthor = User{Slug: "migrator", Name: "Migrator", Email: "migrator@example.com"}

// NormalizeOptions tunes Normalize.
type NormalizeOptions struct {
	// Now supplies the export timestamp; time.Now when nil.
	Now func() time.Time
	// DefaultAuthor overrides the package default when non-empty.
	DefaultAuthor *User
}

// Normalize converts ingested posts into the destination schema: every post
// receives an id and a unique slug, authors and tags are deduplicated into
// the document-wide Users and Tags lists with ids, status and timestamps are
// filled, and length-limited fields are truncated. Normalizing an already
// normalized document is a no-op.
func Normalize(doc *Document, opts NormalizeOptions) error {
	if doc == nil {
		return services.Wrap(services.ErrValidation, "normalize", "document", "document is nil", nil)
	}
	if doc.Normalized {
		return nil
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	fallback := DefaultAuthor
	if opts.DefaultAuthor != nil && opts.DefaultAuthor.Slug != "" {
		fallback = *opts.DefaultAuthor
	}

	exported := now().UTC()
	doc.Meta = Meta{ExportedOn: exported.UnixMilli(), Version: bundleVersion}

	users := newRegistry[User]()
	tags := newRegistry[Tag]()
	slugs := make(map[string]int, len(doc.Posts))

	for i, post := range doc.Posts {
		if post == nil {
			return services.Wrap(services.ErrValidation, "normalize", "post", fmt.Sprintf("post %d is nil", i), nil)
		}
		data := &post.Data
		data.ID = strconv.Itoa(i + 1)
		data.Title = truncate(strings.TrimSpace(data.Title), maxTitle)
		if data.Title == "" {
			data.Title = "(Untitled)"
		}
		data.Slug = uniqueSlug(slugs, postSlug(post))
		if data.Type == "" {
			data.Type = "post"
		}
		if data.Visibility == "" {
			data.Visibility = "public"
		}
		if data.Status == "" {
			if data.PublishedAt.IsZero() {
				data.Status = "draft"
			} else {
				data.Status = "published"
			}
		}
		if data.CreatedAt.IsZero() {
			data.CreatedAt = firstNonZero(data.PublishedAt, exported)
		}
		if data.UpdatedAt.IsZero() {
			data.UpdatedAt = data.CreatedAt
		}
		if data.Status == "published" && data.PublishedAt.IsZero() {
			data.PublishedAt = data.CreatedAt
		}
		data.CustomExcerpt = truncate(data.CustomExcerpt, maxCustomExcerpt)
		data.MetaTitle = truncate(data.MetaTitle, maxMetaTitle)
		data.MetaDescription = truncate(data.MetaDescription, maxMetaDesc)
		data.OGTitle = truncate(data.OGTitle, maxMetaTitle)
		data.OGDescription = truncate(data.OGDescription, maxMetaDesc)
		data.TwitterTitle = truncate(data.TwitterTitle, maxMetaTitle)
		data.TwitterDescription = truncate(data.TwitterDescription, maxMetaDesc)

		if len(data.Authors) == 0 {
			author := fallback
			data.Authors = []*User{&author}
		}
		for j, author := range data.Authors {
			data.Authors[j] = users.add(normalizeUser(author))
		}
		for j, tag := range data.Tags {
			data.Tags[j] = tags.add(normalizeTag(tag))
		}
		data.Authors = dedupe(data.Authors, func(u *User) string { return u.ID })
		data.Tags = dedupe(data.Tags, func(t *Tag) string { return t.ID })
	}

	doc.Users = users.items
	doc.Tags = tags.items
	doc.Normalized = true
	return nil
}

type keyed interface {
	User | Tag
}

// registry deduplicates users and tags by slug and assigns sequential ids.
type registry[T keyed] struct {
	bySlug map[string]*T
	items  []*T
}

func newRegistry[T keyed]() *registry[T] {
	return &registry[T]{bySlug: make(map[string]*T)}
}

func (r *registry[T]) add(item *T) *T {
	slug, id := fieldsOf(item)
	if existing, ok := r.bySlug[*slug]; ok {
		mergeInto(existing, item)
		return existing
	}
	*id = strconv.Itoa(len(r.items) + 1)
	r.bySlug[*slug] = item
	r.items = append(r.items, item)
	return item
}

func fieldsOf[T keyed](item *T) (slug *string, id *string) {
	switch v := any(item).(type) {
	case *User:
		return &v.Slug, &v.ID
	case *Tag:
		return &v.Slug, &v.ID
	}
	panic("unreachable")
}

// mergeInto fills empty fields of existing from other so that later
// occurrences of the same author or tag can contribute details.
func mergeInto[T keyed](existing, other *T) {
	switch dst := any(existing).(type) {
	case *User:
		src := any(other).(*User)
		fillEmpty(&dst.Name, src.Name)
		fillEmpty(&dst.ProfileImage, src.ProfileImage)
		fillEmpty(&dst.Bio, src.Bio)
		fillEmpty(&dst.Website, src.Website)
		fillEmpty(&dst.URL, src.URL)
	case *Tag:
		src := any(other).(*Tag)
		fillEmpty(&dst.Description, src.Description)
		fillEmpty(&dst.URL, src.URL)
	}
}

func normalizeUser(u *User) *User {
	if u == nil {
		author := DefaultAuthor
		return &author
	}
	u.Name = strings.TrimSpace(u.Name)
	if u.Slug == "" {
		u.Slug = Slugify(u.Name)
	} else {
		u.Slug = Slugify(u.Slug)
	}
	if u.Slug == "" {
		u.Slug = DefaultAuthor.Slug
	}
	if u.Name == "" {
		u.Name = u.Slug
	}
	if u.Email == "" {
		u.Email = u.Slug + "@example.com"
	}
	if len(u.Roles) == 0 {
		u.Roles = []string{"Contributor"}
	}
	return u
}

func normalizeTag(t *Tag) *Tag {
	if t == nil {
		return &Tag{Slug: "uncategorized", Name: "Uncategorized"}
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Slug == "" {
		t.Slug = Slugify(t.Name)
	} else {
		t.Slug = Slugify(t.Slug)
	}
	if t.Slug == "" {
		t.Slug = "uncategorized"
	}
	if t.Name == "" {
		t.Name = t.Slug
	}
	return t
}

func postSlug(post *Post) string {
	if slug := Slugify(post.Data.Slug); slug != "" {
		return slug
	}
	if post.URL != "" {
		if parsed, err := url.Parse(post.URL); err == nil {
			base := path.Base(strings.TrimSuffix(parsed.Path, "/"))
			if slug := Slugify(strings.TrimSuffix(base, path.Ext(base))); slug != "" {
				return slug
			}
		}
	}
	if slug := Slugify(post.Data.Title); slug != "" {
		return slug
	}
	return "untitled"
}

func uniqueSlug(seen map[string]int, slug string) string {
	slug = truncate(slug, maxSlug)
	count := seen[slug]
	seen[slug] = count + 1
	if count == 0 {
		return slug
	}
	candidate := fmt.Sprintf("%s-%d", slug, count+1)
	for seen[candidate] > 0 {
		count++
		candidate = fmt.Sprintf("%s-%d", slug, count+1)
	}
	seen[candidate] = 1
	return candidate
}

func dedupe[T any](items []*T, key func(*T) string) []*T {
	seen := make(map[string]struct{}, len(items))
	out := items[:0]
	for _, item := range items {
		k := key(item)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, item)
	}
	return out
}

// truncate shortens value to at most limit runes.
func truncate(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit])
}

func fillEmpty(dst *string, value string) {
	if *dst == "" {
		*dst = value
	}
}

func firstNonZero(values ...time.Time) time.Time {
	for _, v := range values {
		if !v.IsZero() {
			return v
		}
	}
	return time.Time{}
}

package document

import (
	"encoding/json"
	"time"

	"migrate/internal/services"
)

// ImportFile is the top-level shape of the import JSON.
type ImportFile struct {
	DB []ImportDB `json:"db"`
}

// ImportDB wraps one export's metadata and tables.
type ImportDB struct {
	Meta Meta       `json:"meta"`
	Data ImportData `json:"data"`
}

// ImportData contains the destination tables.
type ImportData struct {
	Posts        []ImportPost `json:"posts"`
	Tags         []*Tag       `json:"tags"`
	Users        []*User      `json:"users"`
	PostsTags    []Relation   `json:"posts_tags"`
	PostsAuthors []Relation   `json:"posts_authors"`
}

// ImportPost is a post row without nested relations.
type ImportPost struct {
	ID                 string     `json:"id"`
	Slug               string     `json:"slug"`
	Title              string     `json:"title"`
	Type               string     `json:"type"`
	Status             string     `json:"status"`
	Visibility         string     `json:"visibility"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	PublishedAt        *time.Time `json:"published_at"`
	HTML               string     `json:"html,omitempty"`
	Mobiledoc          string     `json:"mobiledoc,omitempty"`
	CustomExcerpt      string     `json:"custom_excerpt,omitempty"`
	FeatureImage       string     `json:"feature_image,omitempty"`
	MetaTitle          string     `json:"meta_title,omitempty"`
	MetaDescription    string     `json:"meta_description,omitempty"`
	OGImage            string     `json:"og_image,omitempty"`
	OGTitle            string     `json:"og_title,omitempty"`
	OGDescription      string     `json:"og_description,omitempty"`
	TwitterImage       string     `json:"twitter_image,omitempty"`
	TwitterTitle       string     `json:"twitter_title,omitempty"`
	TwitterDescription string     `json:"twitter_description,omitempty"`
}

// Relation links a post to a tag or an author.
type Relation struct {
	PostID    string `json:"post_id"`
	TagID     string `json:"tag_id,omitempty"`
	AuthorID  string `json:"author_id,omitempty"`
	SortOrder int    `json:"sort_order"`
}

// Bundle renders a normalized document in the import schema.
func (d *Document) Bundle() (ImportFile, error) {
	if !d.Normalized {
		return ImportFile{}, services.Wrap(services.ErrValidation, "bundle", "render", "document has not been normalized", nil)
	}
	data := ImportData{
		Posts:        make([]ImportPost, 0, len(d.Posts)),
		Tags:         nonNil(d.Tags),
		Users:        nonNil(d.Users),
		PostsTags:    []Relation{},
		PostsAuthors: []Relation{},
	}
	for _, post := range d.Posts {
		p := post.Data
		row := ImportPost{
			ID:                 p.ID,
			Slug:               p.Slug,
			Title:              p.Title,
			Type:               p.Type,
			Status:             p.Status,
			Visibility:         p.Visibility,
			CreatedAt:          p.CreatedAt,
			UpdatedAt:          p.UpdatedAt,
			HTML:               p.HTML,
			Mobiledoc:          p.Mobiledoc,
			CustomExcerpt:      p.CustomExcerpt,
			FeatureImage:       p.FeatureImage,
			MetaTitle:          p.MetaTitle,
			MetaDescription:    p.MetaDescription,
			OGImage:            p.OGImage,
			OGTitle:            p.OGTitle,
			OGDescription:      p.OGDescription,
			TwitterImage:       p.TwitterImage,
			TwitterTitle:       p.TwitterTitle,
			TwitterDescription: p.TwitterDescription,
		}
		if !p.PublishedAt.IsZero() {
			published := p.PublishedAt
			row.PublishedAt = &published
		}
		data.Posts = append(data.Posts, row)
		for i, tag := range p.Tags {
			data.PostsTags = append(data.PostsTags, Relation{PostID: p.ID, TagID: tag.ID, SortOrder: i})
		}
		for i, author := range p.Authors {
			data.PostsAuthors = append(data.PostsAuthors, Relation{PostID: p.ID, AuthorID: author.ID, SortOrder: i})
		}
	}
	return ImportFile{DB: []ImportDB{{Meta: d.Meta, Data: data}}}, nil
}

// MarshalBundle renders the import JSON with indentation.
func (d *Document) MarshalBundle() ([]byte, error) {
	bundle, err := d.Bundle()
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(bundle, "", "  ")
}

func nonNil[T any](items []*T) []*T {
	if items == nil {
		return []*T{}
	}
	return items
}

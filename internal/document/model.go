package document

import "time"

// Document is the evolving representation of the migrated site. Ingestion
// fills Posts (with nested authors and tags); Normalize assigns identifiers,
// deduplicates users and tags and flips Normalized.
type Document struct {
	Meta       Meta    `json:"meta"`
	Posts      []*Post `json:"posts"`
	Users      []*User `json:"users,omitempty"`
	Tags       []*Tag  `json:"tags,omitempty"`
	Normalized bool    `json:"normalized"`
}

// Meta describes the export itself.
type Meta struct {
	ExportedOn int64  `json:"exported_on,omitempty"`
	Version    string `json:"version,omitempty"`
}

// Post pairs the source URL a post was published at with its data.
type Post struct {
	URL  string   `json:"url"`
	Data PostData `json:"data"`
}

// PostData holds every field the destination understands for a post or page.
type PostData struct {
	ID                 string    `json:"id,omitempty"`
	Slug               string    `json:"slug"`
	Title              string    `json:"title"`
	Type               string    `json:"type,omitempty"`
	Status             string    `json:"status,omitempty"`
	Visibility         string    `json:"visibility,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	PublishedAt        time.Time `json:"published_at"`
	HTML               string    `json:"html,omitempty"`
	Mobiledoc          string    `json:"mobiledoc,omitempty"`
	CustomExcerpt      string    `json:"custom_excerpt,omitempty"`
	FeatureImage       string    `json:"feature_image,omitempty"`
	MetaTitle          string    `json:"meta_title,omitempty"`
	MetaDescription    string    `json:"meta_description,omitempty"`
	OGImage            string    `json:"og_image,omitempty"`
	OGTitle            string    `json:"og_title,omitempty"`
	OGDescription      string    `json:"og_description,omitempty"`
	TwitterImage       string    `json:"twitter_image,omitempty"`
	TwitterTitle       string    `json:"twitter_title,omitempty"`
	TwitterDescription string    `json:"twitter_description,omitempty"`
	Authors            []*User   `json:"authors,omitempty"`
	Tags               []*Tag    `json:"tags,omitempty"`
}

// User is a post author.
type User struct {
	ID           string   `json:"id,omitempty"`
	Slug         string   `json:"slug"`
	Name         string   `json:"name"`
	Email        string   `json:"email,omitempty"`
	ProfileImage string   `json:"profile_image,omitempty"`
	Bio          string   `json:"bio,omitempty"`
	Website      string   `json:"website,omitempty"`
	URL          string   `json:"url,omitempty"`
	Roles        []string `json:"roles,omitempty"`
}

// Tag is a post tag or category.
type Tag struct {
	ID          string `json:"id,omitempty"`
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
}

// ImageFields returns pointers to every image-bearing scalar field of the
// post so asset collaborators can read and rewrite them uniformly.
func (d *PostData) ImageFields() []*string {
	return []*string{&d.FeatureImage, &d.OGImage, &d.TwitterImage}
}

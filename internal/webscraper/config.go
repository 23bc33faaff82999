package webscraper

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"migrate/internal/document"
)

// Field names a scalar post field a rule can fill.
type Field string

const (
	FieldMetaTitle          Field = "meta_title"
	FieldMetaDescription    Field = "meta_description"
	FieldOGImage            Field = "og_image"
	FieldOGTitle            Field = "og_title"
	FieldOGDescription      Field = "og_description"
	FieldTwitterImage       Field = "twitter_image"
	FieldTwitterTitle       Field = "twitter_title"
	FieldTwitterDescription Field = "twitter_description"
	FieldFeatureImage       Field = "feature_image"
)

// Rule extracts one field from the first element matching Selector.
type Rule struct {
	Field    Field
	Selector string
	// Attr is read instead of the element text when set.
	Attr    string
	Convert func(string) string
}

// LabelRule turns links inside a page into tags.
type LabelRule struct {
	Selector string
	// Pattern must capture the tag slug in its first group.
	Pattern *regexp.Regexp
}

// Config is the per-job scrape configuration.
type Config struct {
	Rules []Rule
	// AuthorsSelector points at an ld+json script whose author names become
	// the post authors. Empty disables author scraping.
	AuthorsSelector string
	Labels          *LabelRule
	// PostProcess may adjust a result after extraction.
	PostProcess func(*Result)
	// Skip excludes posts from scraping.
	Skip func(*document.Post) bool
}

// MetaRules returns the selectors shared by every source: document title,
// description and the Open Graph and Twitter card tags.
func MetaRules() []Rule {
	return []Rule{
		{Field: FieldMetaTitle, Selector: "title"},
		{Field: FieldMetaDescription, Selector: `meta[name="description"]`, Attr: "content"},
		{Field: FieldOGImage, Selector: `meta[property="og:image"]`, Attr: "content"},
		{Field: FieldOGTitle, Selector: `meta[property="og:title"]`, Attr: "content"},
		{Field: FieldOGDescription, Selector: `meta[property="og:description"]`, Attr: "content"},
		{Field: FieldTwitterImage, Selector: `meta[name="twitter:image"], meta[name="twitter:image:src"]`, Attr: "content"},
		{Field: FieldTwitterTitle, Selector: `meta[name="twitter:title"]`, Attr: "content"},
		{Field: FieldTwitterDescription, Selector: `meta[name="twitter:description"]`, Attr: "content"},
	}
}

// FeatureImageRule reads the og:image as the feature image.
func FeatureImageRule() Rule {
	return Rule{Field: FieldFeatureImage, Selector: `meta[property="og:image"]`, Attr: "content"}
}

// Truncate returns a converter that keeps at most limit runes.
func Truncate(limit int) func(string) string {
	return func(value string) string {
		if utf8.RuneCountInString(value) <= limit {
			return value
		}
		return string([]rune(value)[:limit])
	}
}

var sizeSuffix = regexp.MustCompile(`(?i)-\d{2,4}x\d{2,4}(\.\w+)$`)

// StripSizeSuffix removes a WordPress style "-800x600" suffix before the
// extension so the original image is fetched.
func StripSizeSuffix(value string) string {
	return sizeSuffix.ReplaceAllString(value, "$1")
}

var authorSplit = regexp.MustCompile(`\s*(?:,|&|\band\b)\s*`)

// SplitAuthors splits a byline such as "Ann, Bob and Cy" into names.
func SplitAuthors(byline string) []string {
	var names []string
	for _, part := range authorSplit.Split(byline, -1) {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	return names
}

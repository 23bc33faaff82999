// Package mobiledoc converts post HTML into the destination's structured
// content format. Each post becomes a document holding one HTML card.
package mobiledoc

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"migrate/internal/document"
	"migrate/internal/services"
	"migrate/internal/stage"
)

// Version is the mobiledoc format version produced.
const Version = "0.3.1"

// sectionCard is the mobiledoc section type for cards.
const sectionCard = 10

// Doc is a mobiledoc document.
type Doc struct {
	Version  string  `json:"version"`
	Atoms    [][]any `json:"atoms"`
	Cards    [][]any `json:"cards"`
	Markups  [][]any `json:"markups"`
	Sections [][]any `json:"sections"`
}

type htmlCard struct {
	CardName string `json:"cardName"`
	HTML     string `json:"html"`
}

// FromHTML cleans raw and wraps it in an HTML card.
func FromHTML(raw string) (string, error) {
	if !utf8.ValidString(raw) {
		return "", services.Wrap(services.ErrValidation, "mobiledoc", "convert", "html is not valid UTF-8", nil)
	}
	cleaned, err := cleanHTML(raw)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "mobiledoc", "parse html", "", err)
	}
	doc := Doc{
		Version:  Version,
		Atoms:    [][]any{},
		Cards:    [][]any{{"html", htmlCard{CardName: "html", HTML: cleaned}}},
		Markups:  [][]any{},
		Sections: [][]any{{sectionCard, 0}},
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "mobiledoc", "encode", "", err)
	}
	return string(payload), nil
}

// cleanHTML parses raw as a body fragment and renders it back, which closes
// unbalanced tags and drops document-level wrappers.
func cleanHTML(raw string) (string, error) {
	page, err := document.ParseFragment(raw)
	if err != nil {
		return "", err
	}
	out, err := document.RenderFragment(page)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Convert returns one work item per post with HTML. Apply stores the
// mobiledoc and clears the HTML of every converted post; posts whose
// conversion failed keep their HTML.
func Convert(doc *document.Document) (stage.Batch, error) {
	if doc == nil {
		return stage.Batch{}, services.Wrap(services.ErrValidation, "mobiledoc", "convert", "document is nil", nil)
	}
	if !doc.Normalized {
		return stage.Batch{}, services.Wrap(services.ErrValidation, "mobiledoc", "convert", "document has not been normalized", nil)
	}
	var targets []*document.Post
	for _, post := range doc.Posts {
		if post != nil && strings.TrimSpace(post.Data.HTML) != "" {
			targets = append(targets, post)
		}
	}
	converted := make([]string, len(targets))
	items := make([]stage.WorkItem, len(targets))
	for i, post := range targets {
		raw := post.Data.HTML
		items[i] = stage.WorkItem{
			Label: post.Data.Slug,
			Run: func(context.Context) error {
				out, err := FromHTML(raw)
				if err != nil {
					return err
				}
				converted[i] = out
				return nil
			},
		}
	}
	return stage.Batch{
		Items: items,
		Apply: func() {
			for i, out := range converted {
				if out == "" {
					continue
				}
				targets[i].Data.Mobiledoc = out
				targets[i].Data.HTML = ""
			}
		},
	}, nil
}

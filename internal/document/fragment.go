package document

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ParseFragment parses post HTML in a body context. Leading style, script,
// link and meta elements stay where they are instead of moving into a head.
// The returned document is rooted at a synthetic body holding the fragment.
func ParseFragment(raw string) (*goquery.Document, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(raw), body)
	if err != nil {
		return nil, err
	}
	for _, node := range nodes {
		body.AppendChild(node)
	}
	return goquery.NewDocumentFromNode(body), nil
}

// RenderFragment serializes the children of a document built by
// ParseFragment.
func RenderFragment(page *goquery.Document) (string, error) {
	var buf bytes.Buffer
	for node := page.Nodes[0].FirstChild; node != nil; node = node.NextSibling {
		if err := html.Render(&buf, node); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

package ingest

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// htmlText reduces an HTML fragment to whitespace-collapsed plain text.
func htmlText(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.Join(strings.Fields(fragment), " ")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}

	doc.Find("script, style, noscript, iframe, form").Remove()
	// Keep block boundaries from gluing words together
	doc.Find("p, br, li, h1, h2, h3, h4, h5, h6, blockquote, pre, div, td").AfterHtml(" ")

	return strings.Join(strings.Fields(doc.Text()), " ")
}

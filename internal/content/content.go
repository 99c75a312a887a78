// Package content extracts plain-text facts from article HTML.
package content

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultExcerptWords is the excerpt length used when none is configured.
const DefaultExcerptWords = 55

const blockElements = "p, div, br, li, h1, h2, h3, h4, h5, h6, blockquote, pre, tr, td, th, figcaption"

// Text returns the visible text of an HTML fragment with whitespace collapsed.
func Text(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.Join(strings.Fields(html), " ")
	}
	doc.Find("script, style").Remove()
	doc.Find(blockElements).AfterHtml(" ")
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// WordCount counts whitespace-separated words in the visible text of html.
func WordCount(html string) int {
	return len(strings.Fields(Text(html)))
}

// Excerpt returns the first maxWords words of the visible text, with an
// ellipsis when truncated.
func Excerpt(html string, maxWords int) string {
	if maxWords <= 0 {
		maxWords = DefaultExcerptWords
	}
	words := strings.Fields(Text(html))
	if len(words) <= maxWords {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:maxWords], " ") + "…"
}

// FirstHeading returns the text of the first h1 in html, or "".
func FirstHeading(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(doc.Find("h1").First().Text()), " ")
}

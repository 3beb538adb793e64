// Package content normalizes HTML bodies pulled from storefronts: sanitized
// HTML for storage, plain-text excerpts for listings and SEO, Markdown for
// page bodies, and page-type classification.
package content

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

const (
	// ShortDescriptionLength bounds product short descriptions.
	ShortDescriptionLength = 200
	// SEODescriptionLength bounds SEO descriptions.
	SEODescriptionLength = 160
)

// Normalizer is safe for concurrent use.
type Normalizer struct {
	ugc    *bluemonday.Policy
	strict *bluemonday.Policy
	md     *converter.Converter
}

// NewNormalizer builds the sanitizing policies and the Markdown converter.
func NewNormalizer() *Normalizer {
	strict := bluemonday.StrictPolicy()
	strict.AddSpaceWhenStrippingTag(true)

	return &Normalizer{
		ugc:    bluemonday.UGCPolicy(),
		strict: strict,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// SanitizeHTML removes scripts, event handlers and other unsafe markup
// while keeping formatting.
func (n *Normalizer) SanitizeHTML(body string) string {
	if body == "" {
		return ""
	}
	return n.ugc.Sanitize(body)
}

// PlainText strips every tag, decodes entities and collapses whitespace.
func (n *Normalizer) PlainText(body string) string {
	if body == "" {
		return ""
	}
	text := html.UnescapeString(n.strict.Sanitize(body))
	return strings.Join(strings.Fields(text), " ")
}

// Excerpt returns the first limit runes of the plain text, with "..."
// appended when the text was cut.
func (n *Normalizer) Excerpt(body string, limit int) string {
	text := n.PlainText(body)
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	return truncateRunes(text, limit) + "..."
}

// SEODescription returns at most SEODescriptionLength runes of plain text.
func (n *Normalizer) SEODescription(body string) string {
	return truncateRunes(n.PlainText(body), SEODescriptionLength)
}

// Markdown converts an HTML page body to Markdown. Relative links are
// resolved against domain when it is non-empty.
func (n *Normalizer) Markdown(body, domain string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", nil
	}
	var (
		md  string
		err error
	)
	if domain != "" {
		md, err = n.md.ConvertString(body, converter.WithDomain(domain))
	} else {
		md, err = n.md.ConvertString(body)
	}
	if err != nil {
		return "", fmt.Errorf("failed to convert html to markdown: %w", err)
	}
	return strings.TrimSpace(md), nil
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}

package content

import (
	"strings"

	"github.com/timmy/storesync/internal/domain"
)

type pageRule struct {
	pageType     string
	titleKeyword string
	handleKey    string
}

// Checked in order; the first hit wins.
var pageRules = []pageRule{
	{domain.PageTypeAbout, "about", "about"},
	{domain.PageTypeFAQ, "faq", "faq"},
	{domain.PageTypeContact, "contact", "contact"},
	{domain.PageTypeShipping, "shipping", "shipping"},
	{domain.PageTypeReturns, "returns", "return"},
	{domain.PageTypeTerms, "terms", "terms"},
	{domain.PageTypePrivacy, "privacy", "privacy"},
}

// ClassifyPage assigns a page type from keywords in the title or handle.
func ClassifyPage(title, handle string) string {
	lowerTitle := strings.ToLower(title)
	lowerHandle := strings.ToLower(handle)
	for _, rule := range pageRules {
		if strings.Contains(lowerTitle, rule.titleKeyword) || strings.Contains(lowerHandle, rule.handleKey) {
			return rule.pageType
		}
	}
	return domain.PageTypeOther
}

// PolicyPageType turns a policy identifier ("refund-policy", "refundPolicy",
// "Refund policy") into a snake_case page type ("refund_policy").
func PolicyPageType(kind string) string {
	var b strings.Builder
	prevUnderscore := true
	for i, r := range kind {
		switch {
		case r >= 'A' && r <= 'Z':
			if i > 0 && !prevUnderscore {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			prevUnderscore = false
		case r == '-' || r == ' ' || r == '_':
			if !prevUnderscore {
				b.WriteByte('_')
				prevUnderscore = true
			}
		default:
			b.WriteRune(r)
			prevUnderscore = false
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

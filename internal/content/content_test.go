package content

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/storesync/internal/domain"
)

func TestSanitizeHTMLDropsScripts(t *testing.T) {
	n := NewNormalizer()
	out := n.SanitizeHTML(`<p onclick="steal()">Soft <em>cotton</em><script>alert(1)</script></p>`)

	assert.Contains(t, out, "<em>cotton</em>")
	assert.NotContains(t, out, "script")
	assert.NotContains(t, out, "onclick")
	assert.Equal(t, "", n.SanitizeHTML(""))
}

func TestPlainTextAndExcerpt(t *testing.T) {
	n := NewNormalizer()
	body := "<p>Hello <b>world</b></p><p>again &amp; more</p>"

	assert.Equal(t, "Hello world again & more", n.PlainText(body))
	assert.Equal(t, "Hello...", n.Excerpt(body, 5))
	assert.Equal(t, "Hello world again & more", n.Excerpt(body, 200))

	long := "<p>" + strings.Repeat("a", 300) + "</p>"
	assert.Len(t, n.SEODescription(long), SEODescriptionLength)
	assert.Len(t, n.Excerpt(long, ShortDescriptionLength), ShortDescriptionLength+3)
}

func TestTruncateRunesKeepsCharacters(t *testing.T) {
	assert.Equal(t, "héll", truncateRunes("héllo", 4))
	assert.Equal(t, "abc", truncateRunes("abc", 10))
	assert.Equal(t, "", truncateRunes("abc", 0))
}

func TestMarkdown(t *testing.T) {
	n := NewNormalizer()
	md, err := n.Markdown(`<h1>About</h1><p>We <strong>ship</strong> <a href="/pages/faq">fast</a></p>`, "https://acme.example")
	require.NoError(t, err)

	assert.Contains(t, md, "# About")
	assert.Contains(t, md, "**ship**")
	assert.Contains(t, md, "https://acme.example/pages/faq")

	empty, err := n.Markdown("   ", "")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestClassifyPage(t *testing.T) {
	tests := []struct {
		title, handle, want string
	}{
		{"About Us", "our-story", domain.PageTypeAbout},
		{"Questions", "faq", domain.PageTypeFAQ},
		{"Get in touch", "contact-us", domain.PageTypeContact},
		{"Delivery", "shipping-info", domain.PageTypeShipping},
		{"Refunds", "return-policy", domain.PageTypeReturns},
		{"Terms & Conditions", "tc", domain.PageTypeTerms},
		{"Your data", "privacy", domain.PageTypePrivacy},
		{"Lookbook", "lookbook-2024", domain.PageTypeOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyPage(tt.title, tt.handle), tt.title)
	}
}

func TestPolicyPageType(t *testing.T) {
	assert.Equal(t, "refund_policy", PolicyPageType("refund-policy"))
	assert.Equal(t, "refund_policy", PolicyPageType("refundPolicy"))
	assert.Equal(t, "terms_of_service", PolicyPageType("TermsOfService"))
	assert.Equal(t, "privacy_policy", PolicyPageType("Privacy policy"))
	assert.Equal(t, "shipping_policy", PolicyPageType("shipping_policy"))
}

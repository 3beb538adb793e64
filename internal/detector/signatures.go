package detector

import (
	"net/http"
	"strings"

	"github.com/timmy/storesync/internal/domain"
)

// Indicator is one weighted piece of evidence. It matches when the named
// response header is present, when any Body marker occurs in the page, or
// when the generator meta tag contains Generator.
type Indicator struct {
	Name      string
	Weight    int
	Header    string
	Body      []string
	Generator string
}

// Signature scores a page for one platform.
type Signature struct {
	Platform   domain.Platform
	Indicators []Indicator
}

// MinimumScore is the lowest score a signature needs to be selected.
// It equals the weakest single indicator weight.
const MinimumScore = 15

// DefaultSignatures returns the built-in signatures in evaluation order.
// Ties are won by the earlier signature.
func DefaultSignatures() []Signature {
	return []Signature{
		{
			Platform: domain.PlatformShopify,
			Indicators: []Indicator{
				{Name: "Shopify stage header", Weight: 40, Header: "X-Shopify-Stage"},
				{Name: "Shopify ID header", Weight: 30, Header: "X-ShopId"},
				{Name: "Shopify CDN", Weight: 25, Body: []string{"cdn.shopify.com"}},
				{Name: "Shopify theme object", Weight: 20, Body: []string{"Shopify.theme", "Shopify.shop"}},
				{Name: "Shopify sections", Weight: 15, Body: []string{"shopify-section"}},
				{Name: "Shopify generator tag", Weight: 30, Generator: "shopify"},
			},
		},
		{
			Platform: domain.PlatformWooCommerce,
			Indicators: []Indicator{
				{Name: "WooCommerce mentions", Weight: 30, Body: []string{"woocommerce", "WooCommerce"}},
				{Name: "WooCommerce plugin path", Weight: 40, Body: []string{"wp-content/plugins/woocommerce"}},
				{Name: "WooCommerce CSS classes", Weight: 20, Body: []string{"wc-"}},
				{Name: "WordPress detected", Weight: 15, Body: []string{"wp-content", "wordpress"}},
				{Name: "WooCommerce generator tag", Weight: 30, Generator: "woocommerce"},
			},
		},
		{
			Platform: domain.PlatformBigCommerce,
			Indicators: []Indicator{
				{Name: "BigCommerce store hash header", Weight: 50, Header: "X-Bc-Store-Hash"},
				{Name: "BigCommerce domain", Weight: 30, Body: []string{"bigcommerce.com"}},
				{Name: "BigCommerce CDN", Weight: 25, Body: []string{"cdn.bcapp.dev", "cdn11.bigcommerce.com"}},
				{Name: "BigCommerce Stencil", Weight: 20, Body: []string{"stencil-utils"}},
			},
		},
		{
			Platform: domain.PlatformMagento,
			Indicators: []Indicator{
				{Name: "Magento JS object", Weight: 30, Body: []string{"Mage.", "Magento"}},
				{Name: "Magento paths", Weight: 25, Body: []string{"mage/cookies", "magento"}},
				{Name: "Magento URL structure", Weight: 20, Body: []string{"catalog/product/view"}},
				{Name: "Magento generator tag", Weight: 35, Generator: "magento"},
			},
		},
	}
}

// page is the evidence gathered from one fetch.
type page struct {
	header    http.Header
	body      string
	generator string
}

func (ind Indicator) matches(p *page) bool {
	if ind.Header != "" && p.header.Get(ind.Header) != "" {
		return true
	}
	for _, marker := range ind.Body {
		if strings.Contains(p.body, marker) {
			return true
		}
	}
	return ind.Generator != "" && strings.Contains(p.generator, ind.Generator)
}

// score returns the capped score and the names of matched indicators.
func (s Signature) score(p *page) (int, []string) {
	total := 0
	var matched []string
	for _, ind := range s.Indicators {
		if ind.matches(p) {
			total += ind.Weight
			matched = append(matched, ind.Name)
		}
	}
	if total > 100 {
		total = 100
	}
	return total, matched
}

// evaluate picks the highest-scoring signature; ties keep the earlier one.
func evaluate(signatures []Signature, p *page) *domain.DetectionResult {
	result := &domain.DetectionResult{
		Platform:   domain.PlatformCustom,
		Indicators: []string{},
	}
	for _, sig := range signatures {
		score, matched := sig.score(p)
		result.Indicators = append(result.Indicators, matched...)
		if score >= MinimumScore && score > result.Confidence {
			result.Confidence = score
			result.Platform = sig.Platform
		}
	}
	return result
}

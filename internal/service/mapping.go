package service

import (
	"context"
	"strings"

	"github.com/timmy/storesync/internal/content"
	"github.com/timmy/storesync/internal/domain"
	"github.com/timmy/storesync/internal/logger"
	"github.com/timmy/storesync/internal/source"
)

func (s *ExtractionService) toProduct(p source.Product, currency string) domain.ExtractedProduct {
	return domain.ExtractedProduct{
		ExternalID:       p.ExternalID,
		Title:            p.Title,
		Description:      s.content.SanitizeHTML(p.BodyHTML),
		ShortDescription: s.content.Excerpt(p.BodyHTML, content.ShortDescriptionLength),
		Price:            p.Price,
		CompareAtPrice:   p.CompareAtPrice,
		Currency:         currency,
		SKU:              p.SKU,
		Barcode:          p.Barcode,
		Weight:           p.Weight,
		WeightUnit:       p.WeightUnit,
		Inventory:        p.Inventory,
		ProductType:      p.ProductType,
		Vendor:           p.Vendor,
		Handle:           p.Handle,
		Status:           p.Status,
		Images:           domain.RawJSON(p.Images),
		Variants:         domain.RawJSON(p.Variants),
		Options:          domain.RawJSON(p.Options),
		Tags:             domain.StringArray(p.Tags),
		SEOTitle:         p.Title,
		SEODescription:   s.content.SEODescription(p.BodyHTML),
		RawData:          domain.RawJSON(p.Raw),
	}
}

func (s *ExtractionService) toCollection(c source.Collection) domain.ExtractedCollection {
	return domain.ExtractedCollection{
		ExternalID:     c.ExternalID,
		Title:          c.Title,
		Description:    s.content.SanitizeHTML(c.BodyHTML),
		Handle:         c.Handle,
		ImageURL:       c.ImageURL,
		ProductCount:   c.ProductCount,
		SortOrder:      c.SortOrder,
		CollectionType: c.Type,
		Metadata:       domain.JSONMap(c.Metadata),
		RawData:        domain.RawJSON(c.Raw),
	}
}

func (s *ExtractionService) toPage(ctx context.Context, p source.Page, storeDomain string) domain.ExtractedPage {
	return domain.ExtractedPage{
		Handle:          p.Handle,
		PageType:        content.ClassifyPage(p.Title, p.Handle),
		Title:           p.Title,
		Content:         s.content.SanitizeHTML(p.BodyHTML),
		ContentMarkdown: s.markdown(ctx, p.BodyHTML, storeDomain),
		URL:             p.URL,
		Metadata:        domain.JSONMap(p.Metadata),
		RawData:         domain.RawJSON(p.Raw),
	}
}

// policyPage stores a policy as a page whose handle is the hyphenated kind,
// e.g. "refund-policy" with page type "refund_policy".
func (s *ExtractionService) policyPage(ctx context.Context, p source.Policy, storeDomain string) domain.ExtractedPage {
	kind := content.PolicyPageType(p.Kind)
	return domain.ExtractedPage{
		Handle:          strings.ReplaceAll(kind, "_", "-"),
		PageType:        kind,
		Title:           p.Title,
		Content:         s.content.SanitizeHTML(p.BodyHTML),
		ContentMarkdown: s.markdown(ctx, p.BodyHTML, storeDomain),
		URL:             p.URL,
		Metadata:        domain.JSONMap{"source": "policy"},
		RawData:         domain.RawJSON(p.Raw),
	}
}

func (s *ExtractionService) markdown(ctx context.Context, body, storeDomain string) string {
	md, err := s.content.Markdown(body, storeDomain)
	if err != nil {
		logger.CtxWarn(ctx, "Markdown conversion failed: %v", err)
		return ""
	}
	return md
}

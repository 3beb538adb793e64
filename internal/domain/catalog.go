package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExtractedProduct is a product pulled from a store, unique per (store_id, external_id).
type ExtractedProduct struct {
	ID               string              `gorm:"type:text;primaryKey" json:"id"`
	StoreID          string              `gorm:"type:text;not null;uniqueIndex:idx_extracted_products_natural" json:"store_id"`
	ExternalID       string              `gorm:"type:text;not null;uniqueIndex:idx_extracted_products_natural" json:"external_id"`
	Title            string              `gorm:"type:text" json:"title"`
	Description      string              `gorm:"type:text" json:"description"`
	ShortDescription string              `gorm:"type:text" json:"short_description"`
	Price            decimal.Decimal     `gorm:"type:decimal(14,2);not null;default:0" json:"price"`
	CompareAtPrice   decimal.NullDecimal `gorm:"type:decimal(14,2)" json:"compare_at_price"`
	Currency         string              `gorm:"type:text" json:"currency"`
	SKU              string              `gorm:"column:sku;type:text" json:"sku,omitempty"`
	Barcode          string              `gorm:"type:text" json:"barcode,omitempty"`
	Weight           *float64            `json:"weight,omitempty"`
	WeightUnit       string              `gorm:"type:text" json:"weight_unit,omitempty"`
	Inventory        *int64              `json:"inventory,omitempty"`
	ProductType      string              `gorm:"type:text" json:"product_type,omitempty"`
	Vendor           string              `gorm:"type:text" json:"vendor,omitempty"`
	Handle           string              `gorm:"type:text;index:idx_extracted_products_handle" json:"handle"`
	Status           string              `gorm:"type:text" json:"status"`
	Images           RawJSON             `gorm:"type:text" json:"images"`
	Variants         RawJSON             `gorm:"type:text" json:"variants"`
	Options          RawJSON             `gorm:"type:text" json:"options"`
	Tags             StringArray         `gorm:"type:text" json:"tags"`
	SEOTitle         string              `gorm:"column:seo_title;type:text" json:"seo_title"`
	SEODescription   string              `gorm:"column:seo_description;type:text" json:"seo_description"`
	RawData          RawJSON             `gorm:"type:text" json:"-"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// TableName returns the database table name for ExtractedProduct.
func (ExtractedProduct) TableName() string {
	return "extracted_products"
}

// CollectionType distinguishes hand-curated from rule-based groupings.
type CollectionType string

const (
	CollectionTypeCustom CollectionType = "custom"
	CollectionTypeSmart  CollectionType = "smart"
)

// ExtractedCollection is a product grouping pulled from a store, unique per (store_id, external_id).
type ExtractedCollection struct {
	ID             string         `gorm:"type:text;primaryKey" json:"id"`
	StoreID        string         `gorm:"type:text;not null;uniqueIndex:idx_extracted_collections_natural" json:"store_id"`
	ExternalID     string         `gorm:"type:text;not null;uniqueIndex:idx_extracted_collections_natural" json:"external_id"`
	Title          string         `gorm:"type:text" json:"title"`
	Description    string         `gorm:"type:text" json:"description,omitempty"`
	Handle         string         `gorm:"type:text" json:"handle"`
	ImageURL       string         `gorm:"type:text" json:"image_url,omitempty"`
	ProductCount   int            `gorm:"not null;default:0" json:"product_count"`
	SortOrder      string         `gorm:"type:text" json:"sort_order,omitempty"`
	CollectionType CollectionType `gorm:"type:text" json:"collection_type"`
	Metadata       JSONMap        `gorm:"type:text" json:"metadata"`
	RawData        RawJSON        `gorm:"type:text" json:"-"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TableName returns the database table name for ExtractedCollection.
func (ExtractedCollection) TableName() string {
	return "extracted_collections"
}

// ExtractedPage is a content page or policy, unique per (store_id, handle).
type ExtractedPage struct {
	ID              string    `gorm:"type:text;primaryKey" json:"id"`
	StoreID         string    `gorm:"type:text;not null;uniqueIndex:idx_extracted_pages_natural" json:"store_id"`
	Handle          string    `gorm:"type:text;not null;uniqueIndex:idx_extracted_pages_natural" json:"handle"`
	PageType        string    `gorm:"type:text;index:idx_extracted_pages_type" json:"page_type"`
	Title           string    `gorm:"type:text" json:"title"`
	Content         string    `gorm:"type:text" json:"content"`
	ContentMarkdown string    `gorm:"type:text" json:"content_markdown,omitempty"`
	URL             string    `gorm:"column:url;type:text" json:"url"`
	Metadata        JSONMap   `gorm:"type:text" json:"metadata"`
	RawData         RawJSON   `gorm:"type:text" json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName returns the database table name for ExtractedPage.
func (ExtractedPage) TableName() string {
	return "extracted_pages"
}

// Page types assigned to content pages.
const (
	PageTypeAbout    = "about"
	PageTypeFAQ      = "faq"
	PageTypeContact  = "contact"
	PageTypeShipping = "shipping"
	PageTypeReturns  = "returns"
	PageTypeTerms    = "terms"
	PageTypePrivacy  = "privacy"
	PageTypeOther    = "other"
)

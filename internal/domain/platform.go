package domain

// Platform identifies the commerce platform a store runs on.
type Platform string

const (
	PlatformShopify     Platform = "shopify"
	PlatformWooCommerce Platform = "woocommerce"
	PlatformBigCommerce Platform = "bigcommerce"
	PlatformMagento     Platform = "magento"
	PlatformCustom      Platform = "custom"
)

// IsValid returns true if the platform is one of the known kinds.
func (p Platform) IsValid() bool {
	switch p {
	case PlatformShopify, PlatformWooCommerce, PlatformBigCommerce, PlatformMagento, PlatformCustom:
		return true
	default:
		return false
	}
}

// String returns the string representation of Platform.
func (p Platform) String() string {
	return string(p)
}

// DisplayName returns a human-readable name for the platform.
func (p Platform) DisplayName() string {
	switch p {
	case PlatformShopify:
		return "Shopify"
	case PlatformWooCommerce:
		return "WooCommerce"
	case PlatformBigCommerce:
		return "BigCommerce"
	case PlatformMagento:
		return "Magento"
	case PlatformCustom:
		return "Custom"
	default:
		return string(p)
	}
}

// DetectionResult is the transient outcome of probing a storefront URL.
type DetectionResult struct {
	Platform   Platform `json:"platform"`
	Confidence int      `json:"confidence"`
	Indicators []string `json:"indicators"`
}

package detector

import (
	"fmt"
	"net/url"
	"strings"
)

const myshopifySuffix = ".myshopify.com"

// NormalizeURL trims whitespace and one trailing slash, and prepends
// https:// when the scheme is missing.
func NormalizeURL(raw string) string {
	normalized := strings.TrimSuffix(strings.TrimSpace(raw), "/")
	lower := strings.ToLower(normalized)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		normalized = "https://" + normalized
	}
	return normalized
}

// ValidateURL reports whether raw is a usable http(s) storefront URL.
func ValidateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("url is empty")
	}
	u, err := url.Parse(NormalizeURL(raw))
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" || strings.ContainsAny(host, " \t") {
		return fmt.Errorf("invalid host %q", u.Host)
	}
	if !strings.Contains(host, ".") && host != "localhost" {
		return fmt.Errorf("invalid host %q", host)
	}
	return nil
}

// ExtractDomain returns the lowercase hostname without a leading "www.".
func ExtractDomain(raw string) string {
	u, err := url.Parse(NormalizeURL(raw))
	if err != nil || u.Hostname() == "" {
		return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), "www.")
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// ShopifyShopHost resolves the Admin API host for a store. An explicit
// shopDomain wins; a bare shop name becomes {name}.myshopify.com. Otherwise
// the storefront's own domain is used.
func ShopifyShopHost(storeURL, shopDomain string) string {
	if shopDomain = strings.ToLower(strings.TrimSpace(shopDomain)); shopDomain != "" {
		shopDomain = ExtractDomain(shopDomain)
		if !strings.Contains(shopDomain, ".") {
			return shopDomain + myshopifySuffix
		}
		return shopDomain
	}
	return ExtractDomain(storeURL)
}

// ShopName returns the myshopify subdomain of host, or host unchanged.
func ShopName(host string) string {
	return strings.TrimSuffix(host, myshopifySuffix)
}

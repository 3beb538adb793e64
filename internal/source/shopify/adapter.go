// Package shopify implements source.Adapter against the Shopify Admin REST API.
package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/timmy/storesync/internal/content"
	"github.com/timmy/storesync/internal/detector"
	"github.com/timmy/storesync/internal/domain"
	"github.com/timmy/storesync/internal/logger"
	"github.com/timmy/storesync/internal/source"
)

// Adapter talks to one Shopify store.
type Adapter struct {
	opts   Options
	client *resty.Client
	host   string
}

var (
	_ source.Adapter               = (*Adapter)(nil)
	_ source.ProductCounter        = (*Adapter)(nil)
	_ source.ShippingZoneExtractor = (*Adapter)(nil)
)

// New creates an uninitialized adapter.
func New(opts Options) *Adapter {
	return &Adapter{opts: opts.withDefaults()}
}

// Factory returns a source.Factory producing adapters with opts.
func Factory(opts Options) source.Factory {
	return func() source.Adapter { return New(opts) }
}

// Platform returns domain.PlatformShopify.
func (a *Adapter) Platform() domain.Platform {
	return domain.PlatformShopify
}

// Host returns the shop host the adapter was initialized for.
func (a *Adapter) Host() string {
	return a.host
}

// Initialize picks token or key/secret authentication and checks it with
// a GET /shop.json round-trip.
func (a *Adapter) Initialize(ctx context.Context, cfg source.Config) error {
	creds := cfg.Credentials
	var auth func(*resty.Client)
	switch {
	case creds.HasToken():
		token := strings.TrimSpace(creds.AccessToken)
		auth = func(c *resty.Client) { c.SetHeader("X-Shopify-Access-Token", token) }
	case creds.HasKeyPair():
		key, secret := strings.TrimSpace(creds.APIKey), strings.TrimSpace(creds.APISecret)
		auth = func(c *resty.Client) { c.SetBasicAuth(key, secret) }
	default:
		return &domain.ConfigError{
			Platform: domain.PlatformShopify,
			Message:  "missing credentials: an access token or an API key and secret are required",
		}
	}

	host := detector.ShopifyShopHost(cfg.StoreURL, creds.ShopDomain)
	if host == "" {
		return &domain.ConfigError{Platform: domain.PlatformShopify, Message: "store URL has no host"}
	}
	a.host = host
	a.client = newClient(a.opts, host, auth)

	var probe shopEnvelope
	if err := getJSON(ctx, a.client, "shop.json", nil, &probe); err != nil {
		a.client = nil
		connErr := &domain.AdapterConnectionError{Platform: domain.PlatformShopify, Err: err}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			connErr.StatusCode = apiErr.StatusCode
		}
		return connErr
	}
	return nil
}

// ExtractStoreInfo fetches the shop profile.
func (a *Adapter) ExtractStoreInfo(ctx context.Context) (*source.StoreInfo, error) {
	var env shopEnvelope
	if err := getJSON(ctx, a.client, "shop.json", nil, &env); err != nil {
		return nil, fmt.Errorf("failed to extract store info: %w", err)
	}
	var shop shopRecord
	if err := json.Unmarshal(env.Shop, &shop); err != nil {
		return nil, fmt.Errorf("failed to decode shop: %w", err)
	}

	timezone := shop.IANATimezone
	if timezone == "" {
		timezone = "UTC"
	}
	return &source.StoreInfo{
		Name:     shop.Name,
		Domain:   shop.Domain,
		Email:    shop.Email,
		Currency: shop.Currency,
		Timezone: timezone,
		Metadata: map[string]interface{}{
			"shop_owner": shop.ShopOwner,
			"phone":      shop.Phone,
			"address": map[string]interface{}{
				"address1":      shop.Address1,
				"address2":      shop.Address2,
				"city":          shop.City,
				"province":      shop.Province,
				"province_code": shop.ProvinceCode,
				"country":       shop.Country,
				"country_code":  shop.CountryCode,
				"zip":           shop.Zip,
			},
			"plan":                           shop.PlanName,
			"primary_locale":                 shop.PrimaryLocale,
			"enabled_presentment_currencies": shop.EnabledPresentmentCurrencies,
			"myshopify_domain":               shop.MyshopifyDomain,
		},
		Raw: env.Shop,
	}, nil
}

// CountProducts returns the product total from products/count.json.
func (a *Adapter) CountProducts(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := getJSON(ctx, a.client, "products/count.json", nil, &out); err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return out.Count, nil
}

// ExtractProducts walks products.json with since_id pagination.
func (a *Adapter) ExtractProducts(ctx context.Context, pageSize int, fn source.PageFunc[source.Product]) (int, error) {
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	fetch := func(ctx context.Context, cursor string, limit int) ([]source.Product, error) {
		var env struct {
			Products []json.RawMessage `json:"products"`
		}
		if err := getJSON(ctx, a.client, "products.json", pageParams(cursor, limit), &env); err != nil {
			return nil, err
		}
		out := make([]source.Product, 0, len(env.Products))
		for _, raw := range env.Products {
			p, err := decodeProduct(raw)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		return out, nil
	}
	n, err := source.Paginate(ctx, pageSize, fetch, func(p source.Product) string { return p.ExternalID }, fn)
	if err != nil {
		return n, fmt.Errorf("failed to extract products: %w", err)
	}
	return n, nil
}

// ExtractCollections returns custom collections followed by smart collections.
func (a *Adapter) ExtractCollections(ctx context.Context) ([]source.Collection, error) {
	var all []source.Collection
	for _, kind := range []domain.CollectionType{domain.CollectionTypeCustom, domain.CollectionTypeSmart} {
		endpoint := string(kind) + "_collections.json"
		field := string(kind) + "_collections"
		fetch := func(ctx context.Context, cursor string, limit int) ([]source.Collection, error) {
			var env map[string][]json.RawMessage
			if err := getJSON(ctx, a.client, endpoint, pageParams(cursor, limit), &env); err != nil {
				return nil, err
			}
			out := make([]source.Collection, 0, len(env[field]))
			for _, raw := range env[field] {
				c, err := decodeCollection(raw, kind)
				if err != nil {
					return nil, err
				}
				out = append(out, c)
			}
			return out, nil
		}
		items, err := source.Collect(ctx, MaxPageSize, fetch, func(c source.Collection) string { return c.ExternalID })
		if err != nil {
			return nil, fmt.Errorf("failed to extract %s collections: %w", kind, err)
		}
		all = append(all, items...)
	}
	return all, nil
}

// ExtractPages returns every page from pages.json.
func (a *Adapter) ExtractPages(ctx context.Context) ([]source.Page, error) {
	fetch := func(ctx context.Context, cursor string, limit int) ([]source.Page, error) {
		var env struct {
			Pages []json.RawMessage `json:"pages"`
		}
		if err := getJSON(ctx, a.client, "pages.json", pageParams(cursor, limit), &env); err != nil {
			return nil, err
		}
		out := make([]source.Page, 0, len(env.Pages))
		for _, raw := range env.Pages {
			var rec pageRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				return nil, fmt.Errorf("failed to decode page: %w", err)
			}
			out = append(out, source.Page{
				ExternalID: strconv.FormatInt(rec.ID, 10),
				Title:      rec.Title,
				BodyHTML:   rec.BodyHTML,
				Handle:     rec.Handle,
				URL:        fmt.Sprintf("https://%s/pages/%s", a.host, rec.Handle),
				Metadata: map[string]interface{}{
					"id":           rec.ID,
					"author":       rec.Author,
					"created_at":   rec.CreatedAt,
					"updated_at":   rec.UpdatedAt,
					"published_at": rec.PublishedAt,
				},
				Raw: raw,
			})
		}
		return out, nil
	}
	pages, err := source.Collect(ctx, MaxPageSize, fetch, func(p source.Page) string { return p.ExternalID })
	if err != nil {
		return nil, fmt.Errorf("failed to extract pages: %w", err)
	}
	return pages, nil
}

// ExtractPolicies reads policies.json. Failures are logged and yield no policies.
func (a *Adapter) ExtractPolicies(ctx context.Context) ([]source.Policy, error) {
	var env struct {
		Policies []json.RawMessage `json:"policies"`
	}
	if err := getJSON(ctx, a.client, "policies.json", nil, &env); err != nil {
		logger.CtxWarn(ctx, "%v", &domain.PartialExtractionFailure{Resource: "policies", Err: err})
		return []source.Policy{}, nil
	}
	out := make([]source.Policy, 0, len(env.Policies))
	for _, raw := range env.Policies {
		var rec policyRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			logger.CtxWarn(ctx, "Skipping undecodable policy: %v", err)
			continue
		}
		if strings.TrimSpace(rec.Body) == "" {
			continue
		}
		kind := rec.Handle
		if kind == "" {
			kind = rec.Title
		}
		out = append(out, source.Policy{
			Kind:     content.PolicyPageType(kind),
			Title:    rec.Title,
			BodyHTML: rec.Body,
			URL:      rec.URL,
			Raw:      raw,
		})
	}
	return out, nil
}

// ExtractShippingZones reads shipping_zones.json. Failures are logged and
// yield no zones.
func (a *Adapter) ExtractShippingZones(ctx context.Context) ([]json.RawMessage, error) {
	var env struct {
		ShippingZones []json.RawMessage `json:"shipping_zones"`
	}
	if err := getJSON(ctx, a.client, "shipping_zones.json", nil, &env); err != nil {
		logger.CtxWarn(ctx, "%v", &domain.PartialExtractionFailure{Resource: "shipping zones", Err: err})
		return []json.RawMessage{}, nil
	}
	if env.ShippingZones == nil {
		return []json.RawMessage{}, nil
	}
	return env.ShippingZones, nil
}

// Disconnect drops the HTTP client.
func (a *Adapter) Disconnect() error {
	a.client = nil
	return nil
}

func pageParams(cursor string, limit int) map[string]string {
	params := map[string]string{"limit": strconv.Itoa(limit)}
	if cursor != "" {
		params["since_id"] = cursor
	}
	return params
}

func decodeProduct(raw json.RawMessage) (source.Product, error) {
	var rec productRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return source.Product{}, fmt.Errorf("failed to decode product: %w", err)
	}

	prices := make([]source.VariantPrice, len(rec.Variants))
	for i, v := range rec.Variants {
		prices[i] = source.VariantPrice{Price: parsePrice(v.Price), CompareAt: parseNullPrice(v.CompareAtPrice)}
	}
	price, compareAt, idx := source.HeadlinePrice(prices)

	p := source.Product{
		ExternalID:     strconv.FormatInt(rec.ID, 10),
		Title:          rec.Title,
		BodyHTML:       rec.BodyHTML,
		Handle:         rec.Handle,
		Status:         rec.Status,
		ProductType:    rec.ProductType,
		Vendor:         rec.Vendor,
		Price:          price,
		CompareAtPrice: compareAt,
		Images:         rec.Images,
		Variants:       rec.RawVariants,
		Options:        rec.Options,
		Tags:           splitTags(rec.Tags),
		Raw:            raw,
	}
	if idx >= 0 {
		v := rec.Variants[idx]
		p.SKU = v.SKU
		p.Barcode = v.Barcode
		p.Weight = v.Weight
		p.WeightUnit = v.WeightUnit
		p.Inventory = v.InventoryQuantity
	}
	return p, nil
}

func decodeCollection(raw json.RawMessage, kind domain.CollectionType) (source.Collection, error) {
	var rec collectionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return source.Collection{}, fmt.Errorf("failed to decode %s collection: %w", kind, err)
	}
	meta := map[string]interface{}{
		"type":         string(kind),
		"published_at": rec.PublishedAt,
	}
	if kind == domain.CollectionTypeSmart {
		meta["rules"] = rec.Rules
		meta["disjunctive"] = rec.Disjunctive
	}
	c := source.Collection{
		ExternalID: strconv.FormatInt(rec.ID, 10),
		Title:      rec.Title,
		BodyHTML:   rec.BodyHTML,
		Handle:     rec.Handle,
		SortOrder:  rec.SortOrder,
		Type:       kind,
		Metadata:   meta,
		Raw:        raw,
	}
	if rec.Image != nil {
		c.ImageURL = rec.Image.Src
	}
	return c, nil
}

func parsePrice(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseNullPrice(s *string) decimal.NullDecimal {
	if s == nil || strings.TrimSpace(*s) == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(strings.TrimSpace(*s))
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func splitTags(tags string) []string {
	out := []string{}
	for _, t := range strings.Split(tags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

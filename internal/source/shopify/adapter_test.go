package shopify_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/storesync/internal/domain"
	"github.com/timmy/storesync/internal/source"
	"github.com/timmy/storesync/internal/source/shopify"
	"github.com/timmy/storesync/internal/source/shopify/shopifytest"
)

func newAdapter(t *testing.T, srv *shopifytest.Server, creds domain.Credentials) *shopify.Adapter {
	t.Helper()
	a := shopify.New(shopify.Options{BaseURL: srv.BaseURL(), RateLimit: 1000, RateBurst: 100})
	require.NoError(t, a.Initialize(context.Background(), source.Config{
		StoreURL:    "https://acme.example",
		Credentials: creds,
	}))
	t.Cleanup(func() { _ = a.Disconnect() })
	return a
}

func tokenCreds() domain.Credentials {
	return domain.Credentials{AccessToken: shopifytest.Token}
}

func TestInitializeRequiresCredentials(t *testing.T) {
	a := shopify.New(shopify.Options{})
	err := a.Initialize(context.Background(), source.Config{StoreURL: "https://acme.example"})

	var cfgErr *domain.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, domain.PlatformShopify, cfgErr.Platform)
}

func TestInitializeRejectedToken(t *testing.T) {
	srv := shopifytest.NewServer()
	defer srv.Close()

	a := shopify.New(shopify.Options{BaseURL: srv.BaseURL()})
	err := a.Initialize(context.Background(), source.Config{
		StoreURL:    "https://acme.example",
		Credentials: domain.Credentials{AccessToken: "wrong"},
	})

	var connErr *domain.AdapterConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, http.StatusUnauthorized, connErr.StatusCode)
	assert.Equal(t, 1, srv.CountRequests("shop.json"))
}

func TestInitializeWithKeyPair(t *testing.T) {
	srv := shopifytest.NewServer()
	defer srv.Close()

	a := newAdapter(t, srv, domain.Credentials{APIKey: "key", APISecret: "secret", ShopDomain: "acme"})
	assert.Equal(t, "acme.myshopify.com", a.Host())
}

func TestExtractStoreInfo(t *testing.T) {
	srv := shopifytest.NewServer()
	defer srv.Close()

	info, err := newAdapter(t, srv, tokenCreds()).ExtractStoreInfo(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Acme Outfitters", info.Name)
	assert.Equal(t, "USD", info.Currency)
	assert.Equal(t, "America/New_York", info.Timezone)
	assert.Equal(t, "Ada Acme", info.Metadata["shop_owner"])
	assert.NotEmpty(t, info.Raw)
}

func TestExtractProductsPaginatesUntilShortPage(t *testing.T) {
	srv := shopifytest.NewServer()
	defer srv.Close()
	const limit = 5
	srv.Generate(42, 2*limit-1)

	a := newAdapter(t, srv, tokenCreds())
	var pageSizes []int
	total, err := a.ExtractProducts(context.Background(), limit, func(_ context.Context, items []source.Product) error {
		pageSizes = append(pageSizes, len(items))
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 2*limit-1, total)
	assert.Equal(t, []int{limit, limit - 1}, pageSizes)
	assert.Equal(t, 2, srv.CountRequests("products.json"))
	assert.Contains(t, srv.Requests(), "products.json?limit=5&since_id=1004")

	count, err := a.CountProducts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2*limit-1, count)
}

func TestExtractProductsHeadlinePrice(t *testing.T) {
	srv := shopifytest.NewServer()
	defer srv.Close()
	srv.Products = []shopifytest.Record{{
		"id":        1,
		"title":     "Tee",
		"body_html": "<p>Soft</p>",
		"handle":    "tee",
		"status":    "active",
		"tags":      "cotton, summer,",
		"variants": []shopifytest.Record{
			{"id": 11, "price": "40.00", "compare_at_price": "45.00", "sku": "TEE-L"},
			{"id": 12, "price": "25.00", "compare_at_price": "30.00", "sku": "TEE-S", "inventory_quantity": 7},
			{"id": 13, "price": "60.00", "compare_at_price": "65.00", "sku": "TEE-XL"},
		},
	}}

	products, err := source.CollectProducts(context.Background(), newAdapter(t, srv, tokenCreds()), 250)
	require.NoError(t, err)
	require.Len(t, products, 1)

	p := products[0]
	assert.Equal(t, "1", p.ExternalID)
	assert.True(t, decimal.NewFromInt(25).Equal(p.Price))
	require.True(t, p.CompareAtPrice.Valid)
	assert.True(t, decimal.NewFromInt(30).Equal(p.CompareAtPrice.Decimal))
	assert.Equal(t, "TEE-S", p.SKU)
	require.NotNil(t, p.Inventory)
	assert.Equal(t, int64(7), *p.Inventory)
	assert.Equal(t, []string{"cotton", "summer"}, p.Tags)
	assert.JSONEq(t, `[{"id":11,"price":"40.00","compare_at_price":"45.00","sku":"TEE-L"},
		{"id":12,"price":"25.00","compare_at_price":"30.00","sku":"TEE-S","inventory_quantity":7},
		{"id":13,"price":"60.00","compare_at_price":"65.00","sku":"TEE-XL"}]`, string(p.Variants))
}

func TestExtractCollectionsCombinesKinds(t *testing.T) {
	srv := shopifytest.NewServer()
	defer srv.Close()
	srv.Generate(1, 0)

	collections, err := newAdapter(t, srv, tokenCreds()).ExtractCollections(context.Background())
	require.NoError(t, err)
	require.Len(t, collections, 4)

	assert.Equal(t, domain.CollectionTypeCustom, collections[0].Type)
	assert.Equal(t, "https://cdn.shopify.com/c/summer.jpg", collections[0].ImageURL)
	assert.Equal(t, domain.CollectionTypeSmart, collections[2].Type)
	assert.Equal(t, "on-sale", collections[2].Handle)
	assert.Contains(t, collections[2].Metadata, "rules")
}

func TestExtractPagesAndPolicies(t *testing.T) {
	srv := shopifytest.NewServer()
	defer srv.Close()
	srv.Generate(1, 0)
	a := newAdapter(t, srv, domain.Credentials{AccessToken: shopifytest.Token, ShopDomain: "acme.myshopify.com"})

	pages, err := a.ExtractPages(context.Background())
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Equal(t, "https://acme.myshopify.com/pages/about-us", pages[0].URL)

	policies, err := a.ExtractPolicies(context.Background())
	require.NoError(t, err)
	require.Len(t, policies, 2, "empty policy bodies are skipped")
	assert.Equal(t, "refund_policy", policies[0].Kind)
	assert.Equal(t, "privacy_policy", policies[1].Kind)
}

func TestOptionalResourcesSwallowFailures(t *testing.T) {
	srv := shopifytest.NewServer()
	defer srv.Close()
	a := newAdapter(t, srv, tokenCreds())
	srv.SetFail("policies.json", http.StatusForbidden)
	srv.SetFail("shipping_zones.json", http.StatusInternalServerError)

	policies, err := a.ExtractPolicies(context.Background())
	require.NoError(t, err)
	assert.Empty(t, policies)

	zones, err := a.ExtractShippingZones(context.Background())
	require.NoError(t, err)
	assert.Empty(t, zones)
}

func TestRequiredResourceFailureSurfaces(t *testing.T) {
	srv := shopifytest.NewServer()
	defer srv.Close()
	a := newAdapter(t, srv, tokenCreds())
	srv.SetFail("pages.json", http.StatusBadGateway)

	_, err := a.ExtractPages(context.Background())
	var apiErr *shopify.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

func TestDisconnectIsSafeAndFinal(t *testing.T) {
	a := shopify.New(shopify.Options{})
	require.NoError(t, a.Disconnect())

	_, err := a.ExtractStoreInfo(context.Background())
	assert.Error(t, err)
}

func TestObserverSeesEveryRequest(t *testing.T) {
	srv := shopifytest.NewServer()
	defer srv.Close()

	var mu sync.Mutex
	seen := map[string]int{}
	a := shopify.New(shopify.Options{
		BaseURL: srv.BaseURL(),
		Observer: func(endpoint string, status int, _ time.Duration) {
			mu.Lock()
			seen[endpoint] = status
			mu.Unlock()
		},
	})
	require.NoError(t, a.Initialize(context.Background(), source.Config{StoreURL: "acme.example", Credentials: tokenCreds()}))
	_, err := a.CountProducts(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.StatusOK, seen["shop.json"])
	assert.Equal(t, http.StatusOK, seen["products/count.json"])
}

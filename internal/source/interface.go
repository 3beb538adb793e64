package source

import (
	"context"
	"encoding/json"

	"github.com/timmy/storesync/internal/domain"
)

// Config is what an adapter needs to reach one store.
type Config struct {
	StoreURL    string
	Credentials domain.Credentials
}

// PageFunc receives one page of records. Returning an error stops pagination.
type PageFunc[T any] func(ctx context.Context, items []T) error

// Adapter defines the capabilities every platform integration provides.
// Adapters are single-use: one instance serves one extraction job.
type Adapter interface {
	// Platform returns the platform this adapter talks to.
	Platform() domain.Platform

	// Initialize validates credentials and performs one authenticated
	// round-trip.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - cfg: store URL and credentials.
	// Returns:
	//   - error: *domain.ConfigError when credentials are missing,
	//     *domain.AdapterConnectionError when the round-trip fails.
	Initialize(ctx context.Context, cfg Config) error

	// ExtractStoreInfo fetches the store profile.
	ExtractStoreInfo(ctx context.Context) (*StoreInfo, error)

	// ExtractProducts walks the full product catalog, handing each page of
	// at most pageSize products to fn before fetching the next.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - pageSize: records per upstream request.
	//   - fn: page consumer.
	// Returns:
	//   - int: number of products delivered.
	//   - error: non-nil if a fetch or fn fails.
	ExtractProducts(ctx context.Context, pageSize int, fn PageFunc[Product]) (int, error)

	// ExtractCollections returns every collection, all kinds combined.
	ExtractCollections(ctx context.Context) ([]Collection, error)

	// ExtractPages returns every content page.
	ExtractPages(ctx context.Context) ([]Page, error)

	// ExtractPolicies returns legal policies. Failures are swallowed and
	// reported as an empty result.
	ExtractPolicies(ctx context.Context) ([]Policy, error)

	// Disconnect releases the client. It is safe to call without Initialize.
	Disconnect() error
}

// ProductCounter is implemented by adapters that can count products up
// front, which gives exact progress reporting.
type ProductCounter interface {
	CountProducts(ctx context.Context) (int, error)
}

// ShippingZoneExtractor is implemented by adapters exposing shipping zones.
// Failures are swallowed and reported as an empty result.
type ShippingZoneExtractor interface {
	ExtractShippingZones(ctx context.Context) ([]json.RawMessage, error)
}

// StoreInfo is the normalized store profile.
type StoreInfo struct {
	Name     string                 `json:"name"`
	Domain   string                 `json:"domain"`
	Email    string                 `json:"email,omitempty"`
	Currency string                 `json:"currency"`
	Timezone string                 `json:"timezone,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Raw      json.RawMessage        `json:"raw,omitempty"`
}

// Collection is a normalized product grouping.
type Collection struct {
	ExternalID   string
	Title        string
	BodyHTML     string
	Handle       string
	ImageURL     string
	ProductCount int
	SortOrder    string
	Type         domain.CollectionType
	Metadata     map[string]interface{}
	Raw          json.RawMessage
}

// Page is a normalized content page.
type Page struct {
	ExternalID string
	Title      string
	BodyHTML   string
	Handle     string
	URL        string
	Metadata   map[string]interface{}
	Raw        json.RawMessage
}

// Policy is a legal policy document such as a refund policy.
type Policy struct {
	// Kind is the snake_case policy identifier, e.g. "refund_policy".
	Kind     string
	Title    string
	BodyHTML string
	URL      string
	Raw      json.RawMessage
}

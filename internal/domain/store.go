package domain

import (
	"database/sql/driver"
	"encoding/json"
	"strings"
	"time"
)

// SyncStatus represents the synchronization state of a store or job.
// Values include SyncStatusPending, SyncStatusProcessing, SyncStatusCompleted, and SyncStatusFailed.
type SyncStatus string

const (
	SyncStatusPending    SyncStatus = "pending"
	SyncStatusProcessing SyncStatus = "processing"
	SyncStatusCompleted  SyncStatus = "completed"
	SyncStatusFailed     SyncStatus = "failed"
)

// IsTerminal returns true for completed and failed.
func (s SyncStatus) IsTerminal() bool {
	return s == SyncStatusCompleted || s == SyncStatusFailed
}

// Credentials holds the secrets used to reach a store's platform API.
// Either AccessToken or the APIKey/APISecret pair must be set.
type Credentials struct {
	AccessToken string `json:"access_token,omitempty"`
	APIKey      string `json:"api_key,omitempty"`
	APISecret   string `json:"api_secret,omitempty"`
	// ShopDomain optionally pins the platform-side shop host (for example
	// "acme.myshopify.com") when the storefront runs on a custom domain.
	ShopDomain string `json:"shop_domain,omitempty"`
}

// HasToken reports whether an access token is present.
func (c Credentials) HasToken() bool {
	return strings.TrimSpace(c.AccessToken) != ""
}

// HasKeyPair reports whether both halves of the key/secret pair are present.
func (c Credentials) HasKeyPair() bool {
	return strings.TrimSpace(c.APIKey) != "" && strings.TrimSpace(c.APISecret) != ""
}

// IsComplete reports whether the credentials can authenticate on their own.
func (c Credentials) IsComplete() bool {
	return c.HasToken() || c.HasKeyPair()
}

// Value implements the driver.Valuer interface for database serialization.
func (c Credentials) Value() (driver.Value, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (c *Credentials) Scan(value interface{}) error {
	if value == nil {
		*c = Credentials{}
		return nil
	}
	bytes, err := scanBytes(value, "Credentials")
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, c)
}

// Store is a tenant's connected external commerce site.
type Store struct {
	ID          string      `gorm:"type:text;primaryKey" json:"id"`
	UserID      string      `gorm:"type:text;not null;index:idx_stores_user" json:"user_id"`
	Platform    Platform    `gorm:"type:text;not null" json:"platform"`
	StoreURL    string      `gorm:"type:text;not null" json:"store_url"`
	Domain      string      `gorm:"type:text;not null;index:idx_stores_domain" json:"domain"`
	StoreName   string      `gorm:"type:text" json:"store_name,omitempty"`
	Currency    string      `gorm:"type:text" json:"currency,omitempty"`
	Credentials Credentials `gorm:"type:text" json:"-"`
	SyncStatus  SyncStatus  `gorm:"type:text;not null;default:pending;index:idx_stores_sync_status" json:"sync_status"`
	Metadata    JSONMap     `gorm:"type:text" json:"metadata"`
	LastSyncAt  *time.Time  `json:"last_sync_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`

	Jobs        []ExtractionJob       `gorm:"foreignKey:StoreID;constraint:OnDelete:CASCADE" json:"-"`
	Products    []ExtractedProduct    `gorm:"foreignKey:StoreID;constraint:OnDelete:CASCADE" json:"-"`
	Collections []ExtractedCollection `gorm:"foreignKey:StoreID;constraint:OnDelete:CASCADE" json:"-"`
	Pages       []ExtractedPage       `gorm:"foreignKey:StoreID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the database table name for Store.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (Store) TableName() string {
	return "stores"
}

// StoreSummary is a store with derived catalog counts.
type StoreSummary struct {
	Store
	ProductCount    int64 `json:"product_count"`
	CollectionCount int64 `json:"collection_count"`
	PageCount       int64 `json:"page_count"`
}

// StoreDetails extends StoreSummary with the most recent job.
type StoreDetails struct {
	StoreSummary
	LatestJob *ExtractionJob `json:"latest_job"`
}

// Actor is the already-authenticated caller of an operation.
type Actor struct {
	UserID string
	Admin  bool
}

// CanAccess reports whether the actor may see a store owned by ownerID.
func (a Actor) CanAccess(ownerID string) bool {
	return a.Admin || (a.UserID != "" && a.UserID == ownerID)
}

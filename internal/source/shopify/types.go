package shopify

import "encoding/json"

type shopEnvelope struct {
	Shop json.RawMessage `json:"shop"`
}

type shopRecord struct {
	ID                           int64    `json:"id"`
	Name                         string   `json:"name"`
	Email                        string   `json:"email"`
	Domain                       string   `json:"domain"`
	MyshopifyDomain              string   `json:"myshopify_domain"`
	Currency                     string   `json:"currency"`
	IANATimezone                 string   `json:"iana_timezone"`
	ShopOwner                    string   `json:"shop_owner"`
	Phone                        string   `json:"phone"`
	Address1                     string   `json:"address1"`
	Address2                     string   `json:"address2"`
	City                         string   `json:"city"`
	Province                     string   `json:"province"`
	ProvinceCode                 string   `json:"province_code"`
	Country                      string   `json:"country"`
	CountryCode                  string   `json:"country_code"`
	Zip                          string   `json:"zip"`
	PlanName                     string   `json:"plan_name"`
	PrimaryLocale                string   `json:"primary_locale"`
	EnabledPresentmentCurrencies []string `json:"enabled_presentment_currencies"`
}

type variantRecord struct {
	ID                int64    `json:"id"`
	Price             string   `json:"price"`
	CompareAtPrice    *string  `json:"compare_at_price"`
	SKU               string   `json:"sku"`
	Barcode           string   `json:"barcode"`
	Weight            *float64 `json:"weight"`
	WeightUnit        string   `json:"weight_unit"`
	InventoryQuantity *int64   `json:"inventory_quantity"`
}

type productRecord struct {
	ID          int64           `json:"id"`
	Title       string          `json:"title"`
	BodyHTML    string          `json:"body_html"`
	Vendor      string          `json:"vendor"`
	ProductType string          `json:"product_type"`
	Handle      string          `json:"handle"`
	Status      string          `json:"status"`
	Tags        string          `json:"tags"`
	Variants    []variantRecord `json:"-"`
	RawVariants json.RawMessage `json:"variants"`
	Options     json.RawMessage `json:"options"`
	Images      json.RawMessage `json:"images"`
}

func (p *productRecord) UnmarshalJSON(data []byte) error {
	type plain productRecord
	if err := json.Unmarshal(data, (*plain)(p)); err != nil {
		return err
	}
	if len(p.RawVariants) == 0 || string(p.RawVariants) == "null" {
		p.Variants = nil
		return nil
	}
	return json.Unmarshal(p.RawVariants, &p.Variants)
}

type collectionRecord struct {
	ID          int64           `json:"id"`
	Title       string          `json:"title"`
	BodyHTML    string          `json:"body_html"`
	Handle      string          `json:"handle"`
	SortOrder   string          `json:"sort_order"`
	PublishedAt *string         `json:"published_at"`
	Rules       json.RawMessage `json:"rules,omitempty"`
	Disjunctive bool            `json:"disjunctive"`
	Image       *struct {
		Src string `json:"src"`
	} `json:"image"`
}

type pageRecord struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	BodyHTML    string  `json:"body_html"`
	Handle      string  `json:"handle"`
	Author      string  `json:"author"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
	PublishedAt *string `json:"published_at"`
}

type policyRecord struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	URL    string `json:"url"`
	Handle string `json:"handle"`
}

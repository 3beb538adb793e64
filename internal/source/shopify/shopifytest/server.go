// Package shopifytest provides an in-process fake of the Shopify Admin REST
// API for tests.
package shopifytest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/brianvoe/gofakeit/v7"
)

const (
	APIVersion = "2024-01"
	Token      = "shpat_test_token"
)

// Record is one upstream JSON object.
type Record = map[string]interface{}

// Server serves shop.json, products.json, products/count.json,
// custom_collections.json, smart_collections.json, pages.json,
// policies.json and shipping_zones.json.
type Server struct {
	*httptest.Server

	mu                sync.Mutex
	Shop              Record
	Products          []Record
	CustomCollections []Record
	SmartCollections  []Record
	Pages             []Record
	Policies          []Record
	ShippingZones     []Record
	// Fail maps an endpoint ("products.json") to a forced status code.
	Fail map[string]int
	// OnRequest runs before each request is served.
	OnRequest func(endpoint string)
	requests  []string
}

// NewServer starts a fake shop with a profile and no catalog.
func NewServer() *Server {
	s := &Server{
		Shop: Record{
			"id":               1,
			"name":             "Acme Outfitters",
			"email":            "owner@acme.example",
			"domain":           "acme.example",
			"myshopify_domain": "acme.myshopify.com",
			"currency":         "USD",
			"iana_timezone":    "America/New_York",
			"shop_owner":       "Ada Acme",
			"plan_name":        "basic",
		},
		Fail: map[string]int{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// BaseURL is the value for shopify.Options.BaseURL.
func (s *Server) BaseURL() string {
	return s.URL
}

// Generate fills the catalog with n products, two collections of each
// kind, three pages and two policies, deterministically from seed.
func (s *Server) Generate(seed uint64, n int) {
	f := gofakeit.New(seed)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Products = nil
	for i := 0; i < n; i++ {
		id := 1000 + i
		title := f.ProductName()
		variants := []Record{}
		for v := 0; v < 1+i%3; v++ {
			variants = append(variants, Record{
				"id":                 id*10 + v,
				"price":              fmt.Sprintf("%.2f", f.Price(5, 200)),
				"compare_at_price":   nil,
				"sku":                fmt.Sprintf("SKU-%d-%d", id, v),
				"inventory_quantity": f.Number(0, 50),
				"weight":             f.Float64Range(0.1, 3),
				"weight_unit":        "kg",
			})
		}
		s.Products = append(s.Products, Record{
			"id":           id,
			"title":        title,
			"body_html":    "<p>" + f.Company() + " <strong>" + title + "</strong></p>",
			"vendor":       f.Company(),
			"product_type": "Apparel",
			"handle":       fmt.Sprintf("product-%d", id),
			"status":       "active",
			"tags":         "new, sale",
			"variants":     variants,
			"options":      []Record{{"name": "Size", "values": []string{"S", "M"}}},
			"images":       []Record{{"src": "https://cdn.shopify.com/p/" + strconv.Itoa(id) + ".jpg"}},
		})
	}
	s.CustomCollections = []Record{
		{"id": 501, "title": "Summer", "handle": "summer", "sort_order": "manual", "image": Record{"src": "https://cdn.shopify.com/c/summer.jpg"}},
		{"id": 502, "title": "Winter", "handle": "winter", "sort_order": "best-selling"},
	}
	s.SmartCollections = []Record{
		{"id": 601, "title": "On sale", "handle": "on-sale", "disjunctive": false, "rules": []Record{{"column": "tag", "relation": "equals", "condition": "sale"}}},
		{"id": 602, "title": "New", "handle": "new", "disjunctive": true},
	}
	s.Pages = []Record{
		{"id": 701, "title": "About Us", "handle": "about-us", "body_html": "<h1>About</h1><p>Since 1999.</p>", "author": "Ada"},
		{"id": 702, "title": "FAQ", "handle": "faq", "body_html": "<p>Ask away</p>"},
		{"id": 703, "title": "Lookbook", "handle": "lookbook", "body_html": "<p>Fall</p>"},
	}
	s.Policies = []Record{
		{"title": "Refund policy", "handle": "refund-policy", "body": "<p>30 days</p>", "url": "https://acme.example/policies/refund-policy"},
		{"title": "Privacy policy", "handle": "privacy-policy", "body": "<p>We respect you</p>", "url": "https://acme.example/policies/privacy-policy"},
		{"title": "Terms of service", "handle": "terms-of-service", "body": "", "url": ""},
	}
	s.ShippingZones = []Record{{"id": 1, "name": "Domestic", "countries": []Record{{"code": "US"}}}}
}

// SetFail forces status for endpoint; 0 clears it.
func (s *Server) SetFail(endpoint string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.Fail, endpoint)
		return
	}
	s.Fail[endpoint] = status
}

// Requests returns the served endpoints with their query strings.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// CountRequests counts served requests for endpoint.
func (s *Server) CountRequests(endpoint string) int {
	n := 0
	for _, r := range s.Requests() {
		if r == endpoint || strings.HasPrefix(r, endpoint+"?") {
			n++
		}
	}
	return n
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	prefix := "/admin/api/" + APIVersion + "/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	endpoint := strings.TrimPrefix(r.URL.Path, prefix)

	s.mu.Lock()
	entry := endpoint
	if r.URL.RawQuery != "" {
		entry += "?" + r.URL.RawQuery
	}
	s.requests = append(s.requests, entry)
	hook := s.OnRequest
	status := s.Fail[endpoint]
	s.mu.Unlock()

	if hook != nil {
		hook(endpoint)
	}
	if !authorized(r) {
		writeJSON(w, http.StatusUnauthorized, Record{"errors": "[API] Invalid API key or access token"})
		return
	}
	if status != 0 {
		writeJSON(w, status, Record{"errors": "forced failure"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch endpoint {
	case "shop.json":
		writeJSON(w, http.StatusOK, Record{"shop": s.Shop})
	case "products/count.json":
		writeJSON(w, http.StatusOK, Record{"count": len(s.Products)})
	case "products.json":
		writeJSON(w, http.StatusOK, Record{"products": page(s.Products, r)})
	case "custom_collections.json":
		writeJSON(w, http.StatusOK, Record{"custom_collections": page(s.CustomCollections, r)})
	case "smart_collections.json":
		writeJSON(w, http.StatusOK, Record{"smart_collections": page(s.SmartCollections, r)})
	case "pages.json":
		writeJSON(w, http.StatusOK, Record{"pages": page(s.Pages, r)})
	case "policies.json":
		writeJSON(w, http.StatusOK, Record{"policies": nonNil(s.Policies)})
	case "shipping_zones.json":
		writeJSON(w, http.StatusOK, Record{"shipping_zones": nonNil(s.ShippingZones)})
	default:
		writeJSON(w, http.StatusNotFound, Record{"errors": "Not Found"})
	}
}

func authorized(r *http.Request) bool {
	if r.Header.Get("X-Shopify-Access-Token") == Token {
		return true
	}
	user, pass, ok := r.BasicAuth()
	return ok && user == "key" && pass == "secret"
}

// page applies since_id and limit over records ordered by id.
func page(records []Record, r *http.Request) []Record {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	sinceID, _ := strconv.Atoi(r.URL.Query().Get("since_id"))

	sorted := append([]Record(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return idOf(sorted[i]) < idOf(sorted[j]) })

	out := []Record{}
	for _, rec := range sorted {
		if idOf(rec) <= sinceID {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, rec)
	}
	return out
}

func idOf(rec Record) int {
	switch v := rec["id"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func nonNil(records []Record) []Record {
	if records == nil {
		return []Record{}
	}
	return records
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

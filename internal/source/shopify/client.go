package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	DefaultAPIVersion = "2024-01"
	defaultTimeout    = 30 * time.Second
	// Shopify's REST leaky bucket refills at 2 requests per second.
	defaultRateLimit = 2.0
	defaultRateBurst = 4
	// MaxPageSize is the largest limit the Admin REST API accepts.
	MaxPageSize = 250
)

var errNotInitialized = errors.New("shopify: client not initialized")

// APIError is a non-2xx response from the Admin API.
type APIError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shopify %s: HTTP %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// RequestObserver is told about every finished Admin API call. status is 0
// for transport errors.
type RequestObserver func(endpoint string, status int, elapsed time.Duration)

// Options configures the adapter transport.
type Options struct {
	APIVersion string
	// BaseURL replaces https://{shop host}; used against test servers.
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64
	RateBurst int
	Observer  RequestObserver
}

func (o Options) withDefaults() Options {
	if o.APIVersion == "" {
		o.APIVersion = DefaultAPIVersion
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.RateLimit <= 0 {
		o.RateLimit = defaultRateLimit
	}
	if o.RateBurst <= 0 {
		o.RateBurst = defaultRateBurst
	}
	return o
}

type requestStartKey struct{}

func newClient(opts Options, host string, auth func(*resty.Client)) *resty.Client {
	base := strings.TrimSuffix(opts.BaseURL, "/")
	if base == "" {
		base = "https://" + host
	}
	limiter := rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst)

	client := resty.New()
	client.SetBaseURL(base + "/admin/api/" + opts.APIVersion)
	client.SetTimeout(opts.Timeout)
	client.SetHeader("Accept", "application/json")
	auth(client)

	client.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		if err := limiter.Wait(r.Context()); err != nil {
			return err
		}
		r.SetContext(context.WithValue(r.Context(), requestStartKey{}, time.Now()))
		return nil
	})
	if opts.Observer != nil {
		observe := opts.Observer
		client.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
			observe(endpointName(resp.Request.URL), resp.StatusCode(), resp.Time())
			return nil
		})
		client.OnError(func(r *resty.Request, _ error) {
			var elapsed time.Duration
			if start, ok := r.Context().Value(requestStartKey{}).(time.Time); ok {
				elapsed = time.Since(start)
			}
			observe(endpointName(r.URL), 0, elapsed)
		})
	}
	return client
}

// endpointName reduces a request URL to its resource, e.g. "products.json".
func endpointName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	const marker = "/admin/api/"
	if idx := strings.Index(u.Path, marker); idx >= 0 {
		// Drop the version segment.
		if parts := strings.SplitN(u.Path[idx+len(marker):], "/", 2); len(parts) == 2 {
			return parts[1]
		}
	}
	return path.Base(u.Path)
}

// getJSON fetches endpoint and decodes the body into out.
func getJSON(ctx context.Context, client *resty.Client, endpoint string, params map[string]string, out interface{}) error {
	if client == nil {
		return errNotInitialized
	}
	resp, err := client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get("/" + endpoint)
	if err != nil {
		return fmt.Errorf("shopify %s: %w", endpoint, err)
	}
	if resp.IsError() {
		body := string(resp.Body())
		if len(body) > 256 {
			body = body[:256]
		}
		return &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode(), Body: body}
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("shopify %s: failed to decode response: %w", endpoint, err)
	}
	return nil
}

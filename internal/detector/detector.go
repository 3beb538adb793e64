// Package detector identifies the commerce platform behind a storefront URL
// from response headers, page markers and the generator meta tag.
package detector

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/net/html"

	"github.com/timmy/storesync/internal/domain"
	"github.com/timmy/storesync/internal/logger"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	defaultMaxBodyBytes = 2 << 20
)

// Config holds detector settings. Zero values fall back to defaults.
type Config struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
}

// Detector fetches a storefront once and scores it against platform signatures.
type Detector struct {
	client     *resty.Client
	signatures []Signature
	maxBody    int64
}

// Option customizes a Detector.
type Option func(*Detector)

// WithSignatures replaces the built-in signatures. Order is the tie-break order.
func WithSignatures(signatures []Signature) Option {
	return func(d *Detector) {
		d.signatures = signatures
	}
}

// New creates a Detector.
func New(cfg Config, opts ...Option) *Detector {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	client := resty.New()
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("User-Agent", cfg.UserAgent)
	client.SetHeader("Accept", "text/html,application/xhtml+xml")

	d := &Detector{
		client:     client,
		signatures: DefaultSignatures(),
		maxBody:    cfg.MaxBodyBytes,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect probes rawURL and returns the best-scoring platform. Any HTTP
// status is accepted; only transport failures are errors.
func (d *Detector) Detect(ctx context.Context, rawURL string) (*domain.DetectionResult, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, domain.NewValidationError("store_url", err.Error())
	}
	target := NormalizeURL(rawURL)
	start := time.Now()

	p, err := d.fetch(ctx, target)
	if err != nil {
		return nil, &domain.DetectionError{URL: target, Err: err}
	}

	result := evaluate(d.signatures, p)
	logger.With(logger.Fields{
		logger.FieldPlatform: result.Platform,
		"confidence":         result.Confidence,
	}).WithDuration(start).Debug(ctx, "Detected platform for %s", target)
	return result, nil
}

func (d *Detector) fetch(ctx context.Context, target string) (*page, error) {
	resp, err := d.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(target)
	if err != nil {
		return nil, err
	}
	raw := resp.RawBody()
	defer raw.Close()

	body, err := io.ReadAll(io.LimitReader(raw, d.maxBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	text := string(body)
	return &page{
		header:    resp.Header(),
		body:      text,
		generator: generatorContent(text),
	}, nil
}

// generatorContent returns the lowercased content of every
// <meta name="generator"> tag, space separated.
func generatorContent(body string) string {
	var found []string
	z := html.NewTokenizer(strings.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(found, " ")
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "meta" || !hasAttr {
				continue
			}
			var isGenerator bool
			var content string
			for more := true; more; {
				var key, val []byte
				key, val, more = z.TagAttr()
				switch string(key) {
				case "name":
					isGenerator = strings.EqualFold(string(val), "generator")
				case "content":
					content = string(val)
				}
			}
			if isGenerator && content != "" {
				found = append(found, strings.ToLower(content))
			}
		}
	}
}

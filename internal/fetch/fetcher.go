package fetch

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/petbotlabs/room-render/internal/cache"
	"github.com/petbotlabs/room-render/internal/obs"
)

// ErrInvalidDataURL is returned when a data: URL does not carry a
// base64-encoded payload.
var ErrInvalidDataURL = errors.New("invalid data url")

// UpstreamError reports an HTTP error status from the asset CDN.
type UpstreamError struct {
	Status int
	URL    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d for %s", e.Status, e.URL)
}

// Config tunes the fetcher.
type Config struct {
	Timeout         time.Duration // per-request bound
	MaxConnsPerHost int           // socket cap towards one upstream
	CacheTTL        time.Duration
	CacheMaxItems   int
}

// Fetcher downloads asset bytes over http(s) and decodes data: URLs.
// Network results are kept in a TTL byte cache keyed by URL.
type Fetcher struct {
	client  *http.Client
	cache   *cache.Cache[[]byte]
	timeout time.Duration
}

// New creates a Fetcher with keep-alive connections and a bounded
// per-host connection pool.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = 50
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxConnsPerHost * 2,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Fetcher{
		client:  &http.Client{Transport: transport},
		cache:   cache.New[[]byte](cfg.CacheTTL, cfg.CacheMaxItems),
		timeout: cfg.Timeout,
	}
}

// Fetch returns the bytes behind rawURL. Accepts http://, https:// and
// data:<media>;base64,<payload> URLs. HTTP statuses >= 400 surface as
// *UpstreamError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if strings.HasPrefix(rawURL, "data:") {
		return decodeDataURL(rawURL)
	}

	if b, ok := f.cache.Get(rawURL); ok {
		obs.RecordCacheEvent("bytes", true)
		return b, nil
	}
	obs.RecordCacheEvent("bytes", false)

	b, err := f.get(ctx, rawURL)
	obs.RecordFetch(err)
	if err != nil {
		return nil, err
	}

	f.cache.Set(rawURL, b)
	return b, nil
}

// FetchWithFallback fetches rawURL and, on any failure, retries once
// with the .png/.gif extension swapped. When the retry also fails the
// original error is propagated.
func (f *Fetcher) FetchWithFallback(ctx context.Context, rawURL string) ([]byte, error) {
	b, err := f.Fetch(ctx, rawURL)
	if err == nil {
		return b, nil
	}

	alt, ok := swapExtension(rawURL)
	if !ok {
		return nil, err
	}

	if b, fallbackErr := f.Fetch(ctx, alt); fallbackErr == nil {
		return b, nil
	}
	return nil, err
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &UpstreamError{Status: resp.StatusCode, URL: rawURL}
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	return b, nil
}

// decodeDataURL decodes data:<media>;base64,<payload>.
func decodeDataURL(raw string) ([]byte, error) {
	comma := strings.Index(raw, ",")
	if comma < 0 {
		return nil, fmt.Errorf("%w: missing payload separator", ErrInvalidDataURL)
	}

	header := raw[:comma]
	if !strings.HasSuffix(header, ";base64") {
		return nil, fmt.Errorf("%w: not base64 encoded", ErrInvalidDataURL)
	}

	b, err := base64.StdEncoding.DecodeString(raw[comma+1:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	return b, nil
}

// swapExtension flips .png and .gif, preserving any query string.
func swapExtension(rawURL string) (string, bool) {
	path, query, hasQuery := strings.Cut(rawURL, "?")

	var alt string
	switch {
	case strings.HasSuffix(path, ".png"):
		alt = strings.TrimSuffix(path, ".png") + ".gif"
	case strings.HasSuffix(path, ".gif"):
		alt = strings.TrimSuffix(path, ".gif") + ".png"
	default:
		return "", false
	}

	if hasQuery {
		alt += "?" + query
	}
	return alt, true
}

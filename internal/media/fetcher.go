// Package media downloads product images for notifications.
package media

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"stockwatch/internal/catalog"
	logx "stockwatch/pkg/logx"
)

type Config struct {
	Timeout   time.Duration
	CacheSize int
	CacheTTL  time.Duration
	MaxBytes  int64
	UserAgent string
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 256
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 30 * time.Minute
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 << 20 // Telegram's photo upload limit
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		c.UserAgent = catalog.DefaultUserAgent
	}
	return c
}

// Fetcher downloads images and caches their bytes per URL.
// Concurrent requests for one URL share a single download.
type Fetcher struct {
	http  *resty.Client
	cache *expirable.LRU[string, []byte]
	group singleflight.Group
	max   int64
	log   logx.Logger
}

func New(cfg Config, log logx.Logger) *Fetcher {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	client := resty.New()
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("user-agent", cfg.UserAgent)
	return &Fetcher{
		http:  client,
		cache: expirable.NewLRU[string, []byte](cfg.CacheSize, nil, cfg.CacheTTL),
		max:   cfg.MaxBytes,
		log:   log,
	}
}

// Fetch returns the image bytes. Failures are *catalog.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, &catalog.FetchError{URL: url, Err: fmt.Errorf("empty image url")}
	}
	if b, ok := f.cache.Get(url); ok {
		return b, nil
	}

	v, err, _ := f.group.Do(url, func() (any, error) {
		b, err := f.download(ctx, url)
		if err != nil {
			return nil, err
		}
		f.cache.Add(url, b)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// download streams the body and stops reading once it exceeds the limit.
func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	start := time.Now()
	res, err := f.http.R().SetContext(ctx).SetDoNotParseResponse(true).Get(url)
	if err != nil {
		return nil, &catalog.FetchError{URL: url, Err: err}
	}
	raw := res.RawBody()
	if raw == nil {
		return nil, &catalog.FetchError{URL: url, Err: fmt.Errorf("no response body")}
	}
	defer raw.Close()

	if !res.IsSuccess() {
		return nil, &catalog.FetchError{URL: url, Status: res.StatusCode()}
	}
	if n := res.RawResponse.ContentLength; n > f.max {
		return nil, &catalog.FetchError{URL: url, Err: fmt.Errorf("image is %d bytes, limit %d", n, f.max)}
	}
	body, err := io.ReadAll(io.LimitReader(raw, f.max+1))
	if err != nil {
		return nil, &catalog.FetchError{URL: url, Err: err}
	}
	if len(body) == 0 {
		return nil, &catalog.FetchError{URL: url, Err: fmt.Errorf("empty body")}
	}
	if int64(len(body)) > f.max {
		return nil, &catalog.FetchError{URL: url, Err: fmt.Errorf("image exceeds %d bytes", f.max)}
	}
	f.log.Debug("image downloaded", logx.String("url", url), logx.Int("bytes", len(body)), logx.Duration("took", time.Since(start)))
	return body, nil
}

// Len reports the number of cached images.
func (f *Fetcher) Len() int { return f.cache.Len() }

// Purge drops all cached images.
func (f *Fetcher) Purge() { f.cache.Purge() }

package catalog

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	logx "stockwatch/pkg/logx"
)

const (
	DefaultBaseURL   = "https://chiikawamarket.jp/collections/all"
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
)

// Config configures HTTPSource.
type Config struct {
	BaseURL          string
	PageParam        string
	Timeout          time.Duration
	UserAgent        string
	Retries          int
	CloudflareBypass bool
	Selectors        Selectors
}

// HTTPSource fetches listing pages over HTTP.
type HTTPSource struct {
	http      *resty.Client
	baseURL   string
	pageParam string
	sel       Selectors
	log       logx.Logger
}

func NewHTTPSource(cfg Config, log logx.Logger) (*HTTPSource, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.New("catalog base url must be absolute")
	}
	param := strings.TrimSpace(cfg.PageParam)
	if param == "" {
		param = "page"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = DefaultUserAgent
	}

	client := resty.New()
	if cfg.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}
	client.SetHeader("user-agent", ua)
	client.SetTimeout(timeout)
	if cfg.Retries > 0 {
		client.SetRetryCount(cfg.Retries)
		client.SetRetryWaitTime(500 * time.Millisecond)
	}

	return &HTTPSource{
		http:      client,
		baseURL:   base,
		pageParam: param,
		sel:       cfg.Selectors.withDefaults(),
		log:       log,
	}, nil
}

func (s *HTTPSource) pageURL(page int) string {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return s.baseURL
	}
	q := u.Query()
	q.Set(s.pageParam, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// FetchPage implements Source.
func (s *HTTPSource) FetchPage(ctx context.Context, page int) PageResult {
	target := s.pageURL(page)
	start := time.Now()

	res, err := s.http.R().SetContext(ctx).Get(target)
	if err != nil {
		return FetchFailed(&FetchError{URL: target, Page: page, Err: err})
	}
	if !res.IsSuccess() {
		return FetchFailed(&FetchError{URL: target, Page: page, Status: res.StatusCode()})
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		return FetchFailed(&FetchError{URL: target, Page: page, Err: err})
	}
	products, matched := ParseProducts(doc, s.sel)
	s.log.Debug("catalog page fetched",
		logx.Int("page", page),
		logx.Int("items", matched),
		logx.Int("products", len(products)),
		logx.Duration("took", time.Since(start)),
	)
	switch {
	case matched == 0:
		return EndOfCatalog()
	case len(products) == 0:
		return FetchFailed(&FetchError{URL: target, Page: page, Err: ErrUnparsable})
	}
	result := Page(products)
	result.Skipped = matched - len(products)
	return result
}

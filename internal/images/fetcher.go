// Package images downloads part diagrams over HTTP.
package images

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/JakeFAU/parts-catalogue-crawler/internal/crawler"
)

// Config controls the image fetcher.
type Config struct {
	Timeout    time.Duration
	RetryCount int
	RetryWait  time.Duration
	// Referer is sent with every request; the catalogue refuses hotlinked images without it.
	Referer   string
	UserAgent string
	// CacheSize bounds the number of cached images. Zero disables caching.
	CacheSize int
	CacheTTL  time.Duration
	// MaxBytes rejects larger responses. Zero means no limit.
	MaxBytes int64
}

// DefaultConfig returns the stock fetcher settings.
func DefaultConfig() Config {
	return Config{
		Timeout:    30 * time.Second,
		RetryCount: 2,
		RetryWait:  time.Second,
		CacheSize:  256,
		CacheTTL:   30 * time.Minute,
		MaxBytes:   20 << 20,
	}
}

// Fetcher implements crawler.ImageFetcher on a resty client. Diagrams shared
// between variants of a vehicle are served from an LRU cache.
type Fetcher struct {
	client *resty.Client
	cache  *expirable.LRU[string, crawler.Image]
	cfg    Config
	logger *zap.Logger
}

// New builds a Fetcher. transport may be nil to use the default.
func New(cfg Config, transport http.RoundTripper, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		AddRetryCondition(func(res *resty.Response, err error) bool {
			return err != nil || res.StatusCode() == http.StatusTooManyRequests || res.StatusCode() >= 500
		})
	if transport != nil {
		client.SetTransport(transport)
	}
	if cfg.Referer != "" {
		client.SetHeader("Referer", cfg.Referer)
	}
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	f := &Fetcher{client: client, cfg: cfg, logger: logger.Named("images")}
	if cfg.CacheSize > 0 {
		f.cache = expirable.NewLRU[string, crawler.Image](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return f
}

// Fetch downloads url. Non-2xx responses and empty bodies are errors.
func (f *Fetcher) Fetch(ctx context.Context, url string) (crawler.Image, error) {
	if url == "" {
		return crawler.Image{}, fmt.Errorf("image url is empty")
	}
	if f.cache != nil {
		if img, ok := f.cache.Get(url); ok {
			f.logger.Debug("image cache hit", zap.String("url", url))
			return img, nil
		}
	}

	res, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return crawler.Image{}, &crawler.TransientIOError{Op: "download image", Err: err}
	}
	if !res.IsSuccess() {
		return crawler.Image{}, fmt.Errorf("download image %s: status %d", url, res.StatusCode())
	}
	body := res.Body()
	if len(body) == 0 {
		return crawler.Image{}, fmt.Errorf("download image %s: empty body", url)
	}
	if f.cfg.MaxBytes > 0 && int64(len(body)) > f.cfg.MaxBytes {
		return crawler.Image{}, fmt.Errorf("download image %s: %d bytes exceeds limit %d", url, len(body), f.cfg.MaxBytes)
	}

	contentType := res.Header().Get("Content-Type")
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = http.DetectContentType(body)
	}
	img := crawler.Image{URL: url, ContentType: contentType, Data: body}
	if f.cache != nil {
		f.cache.Add(url, img)
	}
	return img, nil
}

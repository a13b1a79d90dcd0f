// Package scrape fetches web articles and extracts their readable text.
package scrape

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/3leaps/quickcast/pkg/podcast"
)

const (
	// DefaultUserAgent mimics a desktop browser; many sites refuse bare clients.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

	// DefaultTimeout bounds a page fetch.
	DefaultTimeout = 10 * time.Second

	// DefaultValidateTimeout bounds the reachability probe.
	DefaultValidateTimeout = 5 * time.Second

	maxPageBytes = 10 << 20
)

// Config configures a Scraper.
type Config struct {
	UserAgent       string
	Timeout         time.Duration
	ValidateTimeout time.Duration
}

// Scraper fetches pages over HTTP.
type Scraper struct {
	client          *http.Client
	userAgent       string
	validateTimeout time.Duration
	logger          *zap.Logger
}

// New returns a Scraper. Zero Config fields take the package defaults.
func New(cfg Config, logger *zap.Logger) *Scraper {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ValidateTimeout <= 0 {
		cfg.ValidateTimeout = DefaultValidateTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{
		client:          &http.Client{Timeout: cfg.Timeout},
		userAgent:       cfg.UserAgent,
		validateTimeout: cfg.ValidateTimeout,
		logger:          logger,
	}
}

// Scrape downloads rawURL and extracts the article it contains.
func (s *Scraper) Scrape(ctx context.Context, rawURL string) (*podcast.Article, error) {
	if err := CheckURL(rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch URL")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Newf("failed to fetch URL: %s", resp.Status)
	}

	art, err := Extract(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse content")
	}
	art.URL = rawURL

	s.logger.Debug("Scraped article",
		zap.String("url", rawURL),
		zap.String("title", art.Title),
		zap.Int("content_chars", len(art.Content)))
	return art, nil
}

// Validate reports whether rawURL answers a HEAD request with 200 OK after
// following redirects.
func (s *Scraper) Validate(ctx context.Context, rawURL string) bool {
	if CheckURL(rawURL) != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, s.validateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Debug("URL probe failed", zap.String("url", rawURL), zap.Error(err))
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// CheckURL rejects anything that is not an absolute http(s) URL.
func CheckURL(rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return errors.Wrap(err, "invalid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Newf("invalid URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("URL has no host")
	}
	return nil
}

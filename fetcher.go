package gositemapindexnow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/temoto/robotstxt"
)

const (
	defaultUserAgent    = "go-sitemap-indexnow/1.0 (+https://www.indexnow.org)"
	defaultFetchTimeout = 10 * time.Second
	// Sitemap protocol caps an uncompressed file at 50 MiB.
	defaultMaxBytes = 50 << 20
)

// ===================== Configuration =====================

// FetcherOptions configures sitemap retrieval.
type FetcherOptions struct {
	HTTPClient        *http.Client
	UserAgent         string
	PerRequestTimeout time.Duration
	MaxBytes          int64
	RespectRobots     bool
	Logger            *slog.Logger
}

// Fetcher downloads sitemap documents and implements SitemapSource.
type Fetcher struct {
	opts   FetcherOptions
	client *http.Client
	logger *slog.Logger
}

var _ SitemapSource = (*Fetcher)(nil)

// NewFetcher builds a Fetcher with safe defaults applied.
func NewFetcher(opts FetcherOptions) *Fetcher {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.PerRequestTimeout <= 0 {
		opts.PerRequestTimeout = defaultFetchTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Fetcher{
		opts:   opts,
		client: opts.HTTPClient,
		logger: opts.Logger,
	}
}

// ===================== Public API =====================

// Fetch performs a single GET against rawURL and returns the body as fetched.
// There are no retries: any transport failure or non-2xx status is returned.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	loc, err := normalizeInputURL(rawURL)
	if err != nil {
		return nil, err
	}

	if f.opts.RespectRobots {
		allowed, err := f.allowedByRobots(ctx, loc)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, &ErrRobotsDisallowed{URL: loc}
		}
	}

	body, err := f.get(ctx, loc)
	if err != nil {
		return nil, err
	}
	f.logger.Debug("sitemap fetched", "url", loc.String(), "bytes", len(body))
	return body, nil
}

// ResolveSitemapURL returns rawURL unchanged unless it is a bare site root
// (no path and no query). For a site root it uses the first Sitemap directive
// from robots.txt, falling back to /sitemap.xml.
func (f *Fetcher) ResolveSitemapURL(ctx context.Context, rawURL string) (string, error) {
	loc, err := normalizeInputURL(rawURL)
	if err != nil {
		return "", err
	}
	if !isSiteRoot(loc) {
		return loc.String(), nil
	}

	base := &url.URL{Scheme: loc.Scheme, Host: loc.Host}
	rules := f.getRobots(ctx, base)
	if len(rules.sitemaps) > 0 {
		if len(rules.sitemaps) > 1 {
			f.logger.Info("robots.txt declares several sitemaps, using the first",
				"count", len(rules.sitemaps), "sitemap", rules.sitemaps[0].String())
		}
		return rules.sitemaps[0].String(), nil
	}
	resolved := base.ResolveReference(&url.URL{Path: "/sitemap.xml"})
	f.logger.Debug("no sitemap in robots.txt, using default location", "sitemap", resolved.String())
	return resolved.String(), nil
}

// VerifyKey checks that the IndexNow key file is served at its key location
// and contains the key.
func (f *Fetcher) VerifyKey(ctx context.Context, host, key string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	loc, err := normalizeInputURL(KeyLocation(host, key))
	if err != nil {
		return err
	}
	body, err := f.get(ctx, loc)
	if err != nil {
		return err
	}
	if got := strings.TrimSpace(string(body)); got != key {
		return fmt.Errorf("key file %s does not contain the configured key", loc)
	}
	return nil
}

// ===================== Internal Types =====================

type robotsRules struct {
	group    *robotstxt.Group
	sitemaps []*url.URL
}

// ===================== URL Helpers =====================

func normalizeInputURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, &ErrInvalidURL{Err: errors.New("empty URL")}
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, &ErrInvalidURL{URL: raw, Err: err}
	}
	if parsed.Scheme == "" {
		// url.Parse puts a bare host into Path without a scheme.
		parsed, err = url.Parse("https://" + trimmed)
		if err != nil {
			return nil, &ErrInvalidURL{URL: raw, Err: err}
		}
	}
	if parsed.Host == "" {
		return nil, &ErrInvalidURL{URL: raw, Err: errors.New("missing host")}
	}
	parsed.Fragment = ""
	return parsed, nil
}

func isSiteRoot(u *url.URL) bool {
	return (u.Path == "" || u.Path == "/") && u.RawQuery == ""
}

// ===================== HTTP Helpers =====================

func (f *Fetcher) newRequest(ctx context.Context, method string, u *url.URL) (*http.Request, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.PerRequestTimeout)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	return req, cancel, nil
}

func (f *Fetcher) get(ctx context.Context, loc *url.URL) ([]byte, error) {
	req, cancel, err := f.newRequest(ctx, http.MethodGet, loc)
	if err != nil {
		return nil, &ErrFetch{URL: loc, Err: err}
	}
	defer cancel()

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &ErrFetch{URL: loc, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &ErrHTTPStatus{URL: loc, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(resp.Body, f.opts.MaxBytes+1))
	if err != nil {
		return nil, &ErrFetch{URL: loc, Err: fmt.Errorf("read body: %w", err)}
	}
	if n > f.opts.MaxBytes {
		return nil, &ErrFetch{URL: loc, Err: fmt.Errorf("body exceeds %d bytes", f.opts.MaxBytes)}
	}
	return buf.Bytes(), nil
}

// getRobots never fails: an unreachable or broken robots.txt means no rules.
func (f *Fetcher) getRobots(ctx context.Context, base *url.URL) *robotsRules {
	robotsURL := base.ResolveReference(&url.URL{Path: "/robots.txt"})
	req, cancel, err := f.newRequest(ctx, http.MethodGet, robotsURL)
	if err != nil {
		return &robotsRules{}
	}
	defer cancel()

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Debug("robots.txt unavailable", "url", robotsURL.String(), "error", err)
		return &robotsRules{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &robotsRules{}
	}

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		f.logger.Debug("robots.txt unparsable", "url", robotsURL.String(), "error", err)
		return &robotsRules{}
	}

	rules := &robotsRules{group: data.FindGroup(f.opts.UserAgent)}
	for _, loc := range data.Sitemaps {
		parsed, err := url.Parse(strings.TrimSpace(loc))
		if err != nil {
			f.logger.Debug(fmt.Sprintf("invalid sitemap URL %q in robots.txt %s: %v", loc, robotsURL, err))
			continue
		}
		if !parsed.IsAbs() {
			parsed = base.ResolveReference(parsed)
		}
		rules.sitemaps = append(rules.sitemaps, parsed)
	}
	return rules
}

func (f *Fetcher) allowedByRobots(ctx context.Context, loc *url.URL) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	rules := f.getRobots(ctx, &url.URL{Scheme: loc.Scheme, Host: loc.Host})
	if rules.group == nil {
		return true, nil
	}
	path := loc.EscapedPath()
	if loc.RawQuery != "" {
		path += "?" + loc.RawQuery
	}
	return rules.group.Test(path), nil
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

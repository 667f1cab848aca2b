package gositemapindexnow

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const testURLSet = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url>
    <loc>https://example.com/a</loc>
    <lastmod>2024-01-01</lastmod>
  </url>
  <url>
    <loc>https://example.com/b</loc>
  </url>
</urlset>`

func newTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test that requires network listener: %v", err)
	}
	server := httptest.NewUnstartedServer(handler)
	server.Listener = listener
	server.Start()
	return server
}

func TestFetcher_Fetch_ReturnsBodyVerbatim(t *testing.T) {
	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sitemap.xml" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if ua := r.Header.Get("User-Agent"); ua != "test-agent" {
			t.Errorf("expected user agent test-agent, got %q", ua)
		}
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(testURLSet))
	}))
	defer server.Close()

	fetcher := NewFetcher(FetcherOptions{UserAgent: "test-agent"})
	body, err := fetcher.Fetch(context.Background(), server.URL+"/sitemap.xml")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if string(body) != testURLSet {
		t.Fatalf("expected body to be returned unchanged, got %q", body)
	}
}

func TestFetcher_Fetch_Non2xx(t *testing.T) {
	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	fetcher := NewFetcher(FetcherOptions{})
	_, err := fetcher.Fetch(context.Background(), server.URL+"/sitemap.xml")
	var statusErr *ErrHTTPStatus
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected ErrHTTPStatus, got %v", err)
	}
	if statusErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", statusErr.StatusCode)
	}
	if KindOf(err) != KindFetch {
		t.Fatalf("expected fetch kind, got %s", KindOf(err))
	}
}

func TestFetcher_Fetch_TransportFailure(t *testing.T) {
	server := newTestServer(t, http.NotFoundHandler())
	addr := server.URL
	server.Close()

	fetcher := NewFetcher(FetcherOptions{PerRequestTimeout: time.Second})
	_, err := fetcher.Fetch(context.Background(), addr+"/sitemap.xml")
	var fetchErr *ErrFetch
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected ErrFetch, got %v", err)
	}
}

func TestFetcher_Fetch_PerRequestTimeout(t *testing.T) {
	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write([]byte(testURLSet))
	}))
	defer server.Close()

	fetcher := NewFetcher(FetcherOptions{PerRequestTimeout: 10 * time.Millisecond})
	if _, err := fetcher.Fetch(context.Background(), server.URL+"/sitemap.xml"); err == nil {
		t.Fatalf("expected timeout error, got nil")
	}
}

func TestFetcher_Fetch_MaxBytes(t *testing.T) {
	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(testURLSet))
	}))
	defer server.Close()

	fetcher := NewFetcher(FetcherOptions{MaxBytes: 16})
	if _, err := fetcher.Fetch(context.Background(), server.URL+"/sitemap.xml"); err == nil {
		t.Fatalf("expected size limit error, got nil")
	}
}

func TestFetcher_Fetch_InvalidURL(t *testing.T) {
	fetcher := NewFetcher(FetcherOptions{})
	_, err := fetcher.Fetch(context.Background(), "   ")
	var urlErr *ErrInvalidURL
	if !errors.As(err, &urlErr) {
		t.Fatalf("expected ErrInvalidURL, got %v", err)
	}
}

func TestFetcher_Fetch_RespectRobots(t *testing.T) {
	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
		default:
			_, _ = w.Write([]byte(testURLSet))
		}
	}))
	defer server.Close()

	fetcher := NewFetcher(FetcherOptions{RespectRobots: true})
	_, err := fetcher.Fetch(context.Background(), server.URL+"/private/sitemap.xml")
	var robotsErr *ErrRobotsDisallowed
	if !errors.As(err, &robotsErr) {
		t.Fatalf("expected ErrRobotsDisallowed, got %v", err)
	}

	if _, err := fetcher.Fetch(context.Background(), server.URL+"/sitemap.xml"); err != nil {
		t.Fatalf("expected allowed sitemap to be fetched, got %v", err)
	}

	ignoring := NewFetcher(FetcherOptions{})
	if _, err := ignoring.Fetch(context.Background(), server.URL+"/private/sitemap.xml"); err != nil {
		t.Fatalf("expected robots to be ignored by default, got %v", err)
	}
}

func TestFetcher_ResolveSitemapURL(t *testing.T) {
	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nAllow: /\nSitemap: /maps/main.xml\nSitemap: /maps/extra.xml\n"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	fetcher := NewFetcher(FetcherOptions{})
	got, err := fetcher.ResolveSitemapURL(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if want := server.URL + "/maps/main.xml"; got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}

	for _, path := range []string{"/custom.xml", "/sitemap", "/sitemap.php?type=all", "/feeds/sitemap"} {
		direct := server.URL + path
		got, err = fetcher.ResolveSitemapURL(context.Background(), direct)
		if err != nil {
			t.Fatalf("resolve %s failed: %v", path, err)
		}
		if got != direct {
			t.Fatalf("expected configured URL %s to be kept, got %s", direct, got)
		}
	}
}

func TestFetcher_ResolveSitemapURL_DefaultLocation(t *testing.T) {
	server := newTestServer(t, http.NotFoundHandler())
	defer server.Close()

	fetcher := NewFetcher(FetcherOptions{})
	got, err := fetcher.ResolveSitemapURL(context.Background(), server.URL+"/")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if want := server.URL + "/sitemap.xml"; got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestFetcher_VerifyKey(t *testing.T) {
	const key = "abc123"
	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/"+key+".txt" {
			_, _ = w.Write([]byte(key + "\n"))
			return
		}
		if r.URL.Path == "/wrong.txt" {
			_, _ = w.Write([]byte("something else"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	// KeyLocation always uses https, so route the request to the test server.
	host := strings.TrimPrefix(server.URL, "http://")
	client := &http.Client{Transport: rewriteScheme{base: http.DefaultTransport}}
	fetcher := NewFetcher(FetcherOptions{HTTPClient: client})

	if err := fetcher.VerifyKey(context.Background(), host, key); err != nil {
		t.Fatalf("expected key to verify, got %v", err)
	}
	if err := fetcher.VerifyKey(context.Background(), host, "wrong"); err == nil {
		t.Fatalf("expected mismatched key file to fail")
	}
	if err := fetcher.VerifyKey(context.Background(), host, "missing"); err == nil {
		t.Fatalf("expected missing key file to fail")
	}
}

type rewriteScheme struct {
	base http.RoundTripper
}

func (r rewriteScheme) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.URL.Scheme = "http"
	return r.base.RoundTrip(clone)
}

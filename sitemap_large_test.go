//go:build long

package gositemapindexnow

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func TestSitemap_LargeRandomDiff(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping long test in short mode")
	}
	if os.Getenv("GO_SITEMAP_INDEXNOW_LONG") == "" {
		t.Skip("set GO_SITEMAP_INDEXNOW_LONG=1 to run")
	}

	const (
		totalURLs = 500_000
		changeMod = 97
	)

	var generation atomic.Int32
	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sitemap.xml" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write(largeSitemap(totalURLs, int(generation.Load()), changeMod))
	}))
	defer server.Close()

	fetcher := NewFetcher(FetcherOptions{PerRequestTimeout: time.Minute})
	fetchAndParse := func() *URLMap {
		start := time.Now()
		data, err := fetcher.Fetch(context.Background(), server.URL+"/sitemap.xml")
		if err != nil {
			t.Fatalf("fetch failed: %v", err)
		}
		parsed, err := ParseSitemap(data)
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		reportMem(t, parsed.URLs.Len(), time.Since(start))
		return parsed.URLs
	}

	previous := fetchAndParse()
	generation.Store(1)
	current := fetchAndParse()

	start := time.Now()
	changes := Diff(current, previous)
	fmt.Fprintf(os.Stdout, "diff of %d URLs took %s\n", current.Len(), time.Since(start).Truncate(time.Millisecond))

	wantChanged := (totalURLs - 1) / changeMod
	if len(changes.Changed) != wantChanged {
		t.Fatalf("expected %d changed URLs, got %d", wantChanged, len(changes.Changed))
	}
	if len(changes.New) != 1 || len(changes.Deleted) != 1 {
		t.Fatalf("expected one new and one deleted URL, got %d/%d", len(changes.New), len(changes.Deleted))
	}
}

// largeSitemap renders totalURLs entries. Generation 1 shifts the window by one
// URL and bumps the lastmod of every changeMod-th entry.
func largeSitemap(totalURLs, generation, changeMod int) []byte {
	var buf bytes.Buffer
	writer := bufio.NewWriterSize(&buf, 1<<20)
	_, _ = writer.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	_, _ = writer.WriteString("<urlset xmlns=\"http://www.sitemaps.org/schemas/sitemap/0.9\">\n")

	var numBuf [32]byte
	for i := generation; i < totalURLs+generation; i++ {
		bucket := uint64(i) * 2654435761 % 1000
		writer.WriteString("  <url><loc>https://example.com/")
		writer.Write(strconv.AppendUint(numBuf[:0], bucket, 36))
		writer.WriteString("/page-")
		writer.Write(strconv.AppendInt(numBuf[:0], int64(i), 10))
		writer.WriteString("</loc><lastmod>2024-01-0")
		day := 1
		if generation > 0 && i%changeMod == 0 {
			day = 2
		}
		writer.Write(strconv.AppendInt(numBuf[:0], int64(day), 10))
		writer.WriteString("</lastmod></url>\n")
	}

	_, _ = writer.WriteString("</urlset>")
	_ = writer.Flush()
	return buf.Bytes()
}

func reportMem(t *testing.T, count int, elapsed time.Duration) {
	t.Helper()
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	fmt.Printf("urls=%d elapsed=%s alloc_mb=%d heap_inuse_mb=%d sys_mb=%d\n",
		count,
		elapsed.Truncate(time.Millisecond),
		ms.Alloc/1024/1024,
		ms.HeapInuse/1024/1024,
		ms.Sys/1024/1024,
	)
}

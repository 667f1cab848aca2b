package gositemapindexnow

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

const defaultBufSize = 64 * 1024

// sitemapNamespaces lists the namespaces whose url and sitemap elements are
// read. Elements without a namespace are read too.
var sitemapNamespaces = map[string]bool{
	"http://www.sitemaps.org/schemas/sitemap/0.9": true,
	"http://www.google.com/schemas/sitemap/0.84":  true,
	"http://www.google.com/schemas/sitemap/0.9":   true,
}

// LastMod is the raw <lastmod> text of a sitemap entry. The zero value means
// the element was absent (or empty). LastMod values compare with ==.
type LastMod struct {
	Value   string
	Present bool
}

// NewLastMod returns a present LastMod holding value.
func NewLastMod(value string) LastMod {
	return LastMod{Value: value, Present: true}
}

func (l LastMod) String() string {
	if !l.Present {
		return "<none>"
	}
	return l.Value
}

// URLMap maps a URL to its last-modified value and remembers the order in
// which URLs were first inserted.
type URLMap struct {
	order   []string
	lastmod map[string]LastMod
}

// NewURLMap returns an empty URLMap.
func NewURLMap() *URLMap {
	return &URLMap{lastmod: make(map[string]LastMod)}
}

// Set inserts or updates loc. An existing URL keeps its original position.
func (m *URLMap) Set(loc string, lastmod LastMod) {
	if m.lastmod == nil {
		m.lastmod = make(map[string]LastMod)
	}
	if _, ok := m.lastmod[loc]; !ok {
		m.order = append(m.order, loc)
	}
	m.lastmod[loc] = lastmod
}

// Get returns the last-modified value of loc and whether loc is present.
func (m *URLMap) Get(loc string) (LastMod, bool) {
	if m == nil {
		return LastMod{}, false
	}
	v, ok := m.lastmod[loc]
	return v, ok
}

// Has reports whether loc is present.
func (m *URLMap) Has(loc string) bool {
	_, ok := m.Get(loc)
	return ok
}

// Len returns the number of URLs.
func (m *URLMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.order)
}

// Keys returns the URLs in insertion order.
func (m *URLMap) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// ParseResult is the parsed content of one sitemap document.
type ParseResult struct {
	URLs *URLMap
	// Sitemaps lists <sitemap><loc> references of a sitemap index. They are
	// reported only; their URLs are not part of URLs.
	Sitemaps []string
}

type xmlURLEntry struct {
	Loc     string  `xml:"loc"`
	LastMod *string `xml:"lastmod"`
}

type xmlSitemapEntry struct {
	Loc string `xml:"loc"`
}

// ParseSitemap parses a sitemap or sitemap index document. Gzip-compressed
// input is detected by its magic bytes. On malformed input it returns an
// *ErrSitemapParse and a nil result.
func ParseSitemap(data []byte) (*ParseResult, error) {
	reader, err := openSitemapReader(data)
	if err != nil {
		return nil, &ErrSitemapParse{Err: err}
	}

	result := &ParseResult{URLs: NewURLMap()}
	err = parseSitemap(reader, func(entry xmlURLEntry) {
		loc := strings.TrimSpace(entry.Loc)
		if loc == "" {
			return
		}
		var lastmod LastMod
		if entry.LastMod != nil {
			if v := strings.TrimSpace(*entry.LastMod); v != "" {
				lastmod = NewLastMod(v)
			}
		}
		result.URLs.Set(loc, lastmod)
	}, func(entry xmlSitemapEntry) {
		if loc := strings.TrimSpace(entry.Loc); loc != "" {
			result.Sitemaps = append(result.Sitemaps, loc)
		}
	})
	if err != nil {
		return nil, &ErrSitemapParse{Err: err}
	}
	return result, nil
}

func openSitemapReader(data []byte) (io.Reader, error) {
	reader := bufio.NewReaderSize(bytes.NewReader(data), defaultBufSize)
	peek, err := reader.Peek(2)
	if err == nil && len(peek) == 2 && peek[0] == 0x1f && peek[1] == 0x8b {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, err
		}
		return gz, nil
	}
	return reader, nil
}

func parseSitemap(reader io.Reader, onURL func(xmlURLEntry), onSitemap func(xmlSitemapEntry)) error {
	decoder := xml.NewDecoder(reader)
	decoder.CharsetReader = charset.NewReaderLabel
	var sawRoot bool

	for {
		tok, err := decoder.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !sawRoot {
					return errors.New("document has no root element")
				}
				return nil
			}
			return err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		sawRoot = true
		if start.Name.Space != "" && !sitemapNamespaces[start.Name.Space] {
			continue
		}
		switch start.Name.Local {
		case "url":
			var entry xmlURLEntry
			if err := decoder.DecodeElement(&entry, &start); err != nil {
				return err
			}
			onURL(entry)
		case "sitemap":
			var entry xmlSitemapEntry
			if err := decoder.DecodeElement(&entry, &start); err != nil {
				return err
			}
			onSitemap(entry)
		}
	}
}

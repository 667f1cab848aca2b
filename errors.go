package gositemapindexnow

import (
	"errors"
	"fmt"
	"net/url"
)

// Kind classifies a failure so callers can branch on category.
type Kind int

const (
	KindUnknown Kind = iota
	// KindFetch is a network or transport failure retrieving the sitemap. Fatal for a run.
	KindFetch
	// KindParse is a malformed sitemap document. Degrades to an empty mapping.
	KindParse
	// KindStorageWrite is a failure persisting a snapshot, history or audit record.
	KindStorageWrite
	// KindStorageRead is a failure listing or reading stored state.
	KindStorageRead
	// KindSubmissionBatch is a rejected or undeliverable notification batch.
	KindSubmissionBatch
)

func (k Kind) String() string {
	switch k {
	case KindFetch:
		return "fetch"
	case KindParse:
		return "parse"
	case KindStorageWrite:
		return "storage_write"
	case KindStorageRead:
		return "storage_read"
	case KindSubmissionBatch:
		return "submission_batch"
	default:
		return "unknown"
	}
}

// KindOf reports the category of err, looking through wrapped errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var (
		fetchErr  *ErrFetch
		statusErr *ErrHTTPStatus
		robotsErr *ErrRobotsDisallowed
		urlErr    *ErrInvalidURL
		parseErr  *ErrSitemapParse
		storeErr  *ErrStorage
		batchErr  *ErrBatch
	)
	switch {
	case errors.As(err, &batchErr):
		return KindSubmissionBatch
	case errors.As(err, &storeErr):
		if storeErr.Write {
			return KindStorageWrite
		}
		return KindStorageRead
	case errors.As(err, &parseErr):
		return KindParse
	case errors.As(err, &fetchErr), errors.As(err, &statusErr),
		errors.As(err, &robotsErr), errors.As(err, &urlErr):
		return KindFetch
	}
	return KindUnknown
}

// ErrLocked indicates another run holds the storage directory lock.
var ErrLocked = errors.New("storage directory is locked by another run")

// ErrInvalidURL indicates the configured sitemap URL is invalid.
type ErrInvalidURL struct {
	URL string
	Err error
}

func (e *ErrInvalidURL) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("invalid URL: %v", e.Err)
	}
	return fmt.Sprintf("invalid URL %q: %v", e.URL, e.Err)
}

func (e *ErrInvalidURL) Unwrap() error {
	return e.Err
}

// ErrFetch wraps a transport failure while fetching a document.
type ErrFetch struct {
	URL *url.URL
	Err error
}

func (e *ErrFetch) Error() string {
	if e.URL == nil {
		return fmt.Sprintf("fetch failed: %v", e.Err)
	}
	return fmt.Sprintf("fetch failed for %s: %v", e.URL, e.Err)
}

func (e *ErrFetch) Unwrap() error {
	return e.Err
}

// ErrHTTPStatus indicates an unexpected HTTP status while fetching a sitemap.
type ErrHTTPStatus struct {
	URL        *url.URL
	StatusCode int
	Status     string
}

func (e *ErrHTTPStatus) Error() string {
	if e.URL == nil {
		return fmt.Sprintf("unexpected HTTP status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected HTTP status %d for %s", e.StatusCode, e.URL)
}

// ErrRobotsDisallowed indicates robots.txt disallows fetching the sitemap.
type ErrRobotsDisallowed struct {
	URL *url.URL
}

func (e *ErrRobotsDisallowed) Error() string {
	return fmt.Sprintf("robots.txt disallows %s", e.URL)
}

// ErrSitemapParse indicates a failure while parsing sitemap XML.
type ErrSitemapParse struct {
	Source string
	Err    error
}

func (e *ErrSitemapParse) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("sitemap parse failed: %v", e.Err)
	}
	return fmt.Sprintf("sitemap parse failed for %s: %v", e.Source, e.Err)
}

func (e *ErrSitemapParse) Unwrap() error {
	return e.Err
}

// ErrStorage wraps a filesystem or database failure on local state.
type ErrStorage struct {
	Op    string
	Path  string
	Write bool
	Err   error
}

func (e *ErrStorage) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ErrStorage) Unwrap() error {
	return e.Err
}

// ErrBatch describes one failed notification batch. Either StatusCode is set
// (the endpoint answered with a non-2xx status) or Err is (transport failure).
type ErrBatch struct {
	Batch      int
	Total      int
	Size       int
	StatusCode int
	Body       string
	Err        error
}

func (e *ErrBatch) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("batch %d/%d (%d URLs) failed: %v", e.Batch, e.Total, e.Size, e.Err)
	}
	return fmt.Sprintf("batch %d/%d (%d URLs) failed: HTTP %d - %s", e.Batch, e.Total, e.Size, e.StatusCode, e.Body)
}

func (e *ErrBatch) Unwrap() error {
	return e.Err
}

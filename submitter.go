package gositemapindexnow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultEndpoint is the shared IndexNow API endpoint.
	DefaultEndpoint = "https://api.indexnow.org/indexnow"
	// DefaultBatchSize is the number of URLs per notification request.
	DefaultBatchSize      = 100
	defaultBatchDelay     = time.Second
	defaultSubmitTimeout  = 30 * time.Second
	maxLoggedResponseBody = 512
)

// SubmitterOptions configures notification delivery.
type SubmitterOptions struct {
	Endpoint       string
	Host           string
	Key            string
	BatchSize      int
	Delay          time.Duration // 0 => 1s, negative => no pacing
	RequestTimeout time.Duration
	HTTPClient     *http.Client
	UserAgent      string
	Logger         *slog.Logger
	// Sleep overrides the pacing wait between batches.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Submitter posts URL batches to an IndexNow endpoint and implements Notifier.
type Submitter struct {
	opts   SubmitterOptions
	client *http.Client
	logger *slog.Logger
}

var _ Notifier = (*Submitter)(nil)

// SubmitReport summarizes one Submit call.
type SubmitReport struct {
	URLs      int
	Batches   int
	Succeeded int
	Failures  []*ErrBatch
}

// OK reports whether every batch was accepted.
func (r SubmitReport) OK() bool {
	return r.Succeeded == r.Batches
}

// SuccessRate returns the percentage of accepted batches. With no batches it
// is 100.
func (r SubmitReport) SuccessRate() float64 {
	if r.Batches == 0 {
		return 100
	}
	return float64(r.Succeeded) / float64(r.Batches) * 100
}

type indexNowRequest struct {
	Host        string   `json:"host"`
	Key         string   `json:"key"`
	KeyLocation string   `json:"keyLocation"`
	URLList     []string `json:"urlList"`
}

// KeyLocation returns where the key verification file is expected.
func KeyLocation(host, key string) string {
	return fmt.Sprintf("https://%s/%s.txt", host, key)
}

// NewSubmitter builds a Submitter with defaults applied.
func NewSubmitter(opts SubmitterOptions) *Submitter {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	switch {
	case opts.Delay == 0:
		opts.Delay = defaultBatchDelay
	case opts.Delay < 0:
		opts.Delay = 0
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultSubmitTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepWithContext
	}
	return &Submitter{opts: opts, client: opts.HTTPClient, logger: opts.Logger}
}

// Submit sends urls in consecutive batches. A failed batch is logged and
// recorded, and the remaining batches are still sent. The pacing delay follows
// every batch, the last one included.
func (s *Submitter) Submit(ctx context.Context, urls []string) SubmitReport {
	if ctx == nil {
		ctx = context.Background()
	}
	report := SubmitReport{URLs: len(urls)}
	if len(urls) == 0 {
		s.logger.Info("no URLs to submit")
		return report
	}

	report.Batches = (len(urls) + s.opts.BatchSize - 1) / s.opts.BatchSize
	s.logger.Info("submitting URLs", "urls", len(urls), "batches", report.Batches, "endpoint", s.opts.Endpoint)

	for i := 0; i < len(urls); i += s.opts.BatchSize {
		end := min(i+s.opts.BatchSize, len(urls))
		batch := urls[i:end]
		number := i/s.opts.BatchSize + 1

		if err := s.post(ctx, batch); err != nil {
			err.Batch, err.Total, err.Size = number, report.Batches, len(batch)
			report.Failures = append(report.Failures, err)
			s.logger.Error("batch rejected", "batch", number, "total", report.Batches, "error", err)
		} else {
			report.Succeeded++
			s.logger.Info("batch accepted", "batch", number, "total", report.Batches, "urls", len(batch))
		}

		if err := s.opts.Sleep(ctx, s.opts.Delay); err != nil {
			s.logger.Warn("pacing interrupted", "error", err)
		}
	}

	s.logger.Info("submission finished",
		"succeeded", report.Succeeded,
		"batches", report.Batches,
		"success_rate", fmt.Sprintf("%.1f%%", report.SuccessRate()))
	return report
}

func (s *Submitter) post(ctx context.Context, batch []string) *ErrBatch {
	payload, err := json.Marshal(indexNowRequest{
		Host:        s.opts.Host,
		Key:         s.opts.Key,
		KeyLocation: KeyLocation(s.opts.Host, s.opts.Key),
		URLList:     batch,
	})
	if err != nil {
		return &ErrBatch{Err: fmt.Errorf("encode request: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return &ErrBatch{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("User-Agent", s.opts.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return &ErrBatch{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedResponseBody))
		return &ErrBatch{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

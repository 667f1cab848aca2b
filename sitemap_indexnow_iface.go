package gositemapindexnow

import "context"

// SitemapSource retrieves the raw bytes of a sitemap document.
type SitemapSource interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// SnapshotStorage persists sitemap snapshots between runs.
type SnapshotStorage interface {
	FindLatest() (path string, ok bool, err error)
	Load(path string) ([]byte, error)
	Save(data []byte) (string, error)
	Prune(keepCount int) (int, error)
}

// Notifier delivers changed URLs to an indexing endpoint.
type Notifier interface {
	Submit(ctx context.Context, urls []string) SubmitReport
}

// HistoryRecorder appends a run summary to a durable log.
type HistoryRecorder interface {
	Append(entry HistoryEntry) error
}

// AuditRecorder stores a machine-readable record of a finished run.
type AuditRecorder interface {
	RecordRun(ctx context.Context, result *RunResult) error
}

package gositemapindexnow

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// HistoryFile is the history log name inside the storage directory.
	HistoryFile = "history.txt"
	// DefaultMaxHistory is the number of entries kept in the history log.
	DefaultMaxHistory = 20
	historyTimeLayout = "2006-01-02 15:04:05"
)

// historySeparator delimits entries in the history log.
var historySeparator = strings.Repeat("-", 50)

// HistoryEntry is one run's contribution to the history log.
type HistoryEntry struct {
	Time           time.Time
	RunID          string
	New            []string
	Changed        []string
	Deleted        []string
	TotalSubmitted int
}

// HistoryLogOptions configures a HistoryLog.
type HistoryLogOptions struct {
	MaxHistory int
	Logger     *slog.Logger
	Now        func() time.Time
}

// HistoryLog is a bounded plain-text log of runs. The whole file is rewritten
// on every append; entries beyond MaxHistory are dropped oldest first.
type HistoryLog struct {
	path   string
	max    int
	logger *slog.Logger
	now    func() time.Time
}

var _ HistoryRecorder = (*HistoryLog)(nil)

// NewHistoryLog returns a history log stored at path.
func NewHistoryLog(path string, opts HistoryLogOptions) *HistoryLog {
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = DefaultMaxHistory
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &HistoryLog{path: path, max: opts.MaxHistory, logger: opts.Logger, now: opts.Now}
}

// Path returns the log file location.
func (h *HistoryLog) Path() string {
	return h.path
}

// Entries returns the stored entries, oldest first. A missing file yields no
// entries.
func (h *HistoryLog) Entries() ([]string, error) {
	data, err := os.ReadFile(h.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &ErrStorage{Op: "read history", Path: h.path, Err: err}
	}
	return splitHistory(string(data)), nil
}

// Append adds entry and truncates the log to the most recent entries. An
// unreadable existing log is logged and replaced.
func (h *HistoryLog) Append(entry HistoryEntry) error {
	entries, err := h.Entries()
	if err != nil {
		h.logger.Warn("cannot read history, starting a new log", "path", h.path, "error", err)
		entries = nil
	}

	if entry.Time.IsZero() {
		entry.Time = h.now()
	}
	entries = append(entries, FormatHistoryEntry(entry))
	if len(entries) > h.max {
		entries = entries[len(entries)-h.max:]
	}

	if dir := filepath.Dir(h.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &ErrStorage{Op: "create history dir", Path: dir, Write: true, Err: err}
		}
	}
	content := strings.Join(entries, "\n"+historySeparator+"\n")
	if err := writeFileAtomic(h.path, []byte(content)); err != nil {
		return &ErrStorage{Op: "write history", Path: h.path, Write: true, Err: err}
	}
	h.logger.Info("history saved", "path", h.path, "entries", len(entries))
	return nil
}

// FormatHistoryEntry renders entry the way it is stored in the log.
func FormatHistoryEntry(entry HistoryEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Submitted at: %s\n", entry.Time.Format(historyTimeLayout))
	if entry.RunID != "" {
		fmt.Fprintf(&b, "Run: %s\n", entry.RunID)
	}
	fmt.Fprintf(&b, "New: %d\n", len(entry.New))
	for _, u := range entry.New {
		fmt.Fprintf(&b, "  + %s\n", u)
	}
	fmt.Fprintf(&b, "Changed: %d\n", len(entry.Changed))
	for _, u := range entry.Changed {
		fmt.Fprintf(&b, "  * %s\n", u)
	}
	fmt.Fprintf(&b, "Deleted: %d\n", len(entry.Deleted))
	for _, u := range entry.Deleted {
		fmt.Fprintf(&b, "  - %s\n", u)
	}
	fmt.Fprintf(&b, "Total submitted: %d", entry.TotalSubmitted)
	return b.String()
}

func splitHistory(content string) []string {
	var entries []string
	for _, part := range strings.Split(content, historySeparator+"\n") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			entries = append(entries, trimmed)
		}
	}
	return entries
}

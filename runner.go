package gositemapindexnow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const maxDeletedReminders = 5

// Outcome describes how a run ended.
type Outcome string

const (
	// OutcomeUnchanged means the fetched sitemap matched the stored snapshot byte for byte.
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeFirstRun means no snapshot existed and every URL was submitted as new.
	OutcomeFirstRun Outcome = "first_run"
	// OutcomeNoSubmission means the content changed but no URL needed submitting.
	OutcomeNoSubmission Outcome = "no_submission"
	// OutcomeSubmitted means new or changed URLs were submitted.
	OutcomeSubmitted Outcome = "submitted"
)

// RunResult reports what a run did.
type RunResult struct {
	RunID     string
	StartedAt time.Time
	Outcome   Outcome
	Hash      string
	Changes   ChangeSet
	Report    SubmitReport
	// Sitemaps lists nested sitemap references found and not followed.
	Sitemaps     []string
	SnapshotPath string
	// OK is false when a batch failed or the snapshot could not be saved.
	OK bool
	// Errors collects the non-fatal failures of the run.
	Errors []error
}

// RunnerOptions wires the components of a run.
type RunnerOptions struct {
	SitemapURL string
	Source     SitemapSource
	Snapshots  SnapshotStorage
	Notifier   Notifier
	History    HistoryRecorder
	Audit      AuditRecorder
	KeepCount  int
	// DryRun detects changes and logs them without submitting or persisting.
	DryRun bool
	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() string
}

// Runner drives one detection and notification cycle.
type Runner struct {
	opts   RunnerOptions
	logger *slog.Logger
}

// NewRunner builds a Runner. Source, Snapshots and Notifier are required;
// History and Audit are optional.
func NewRunner(opts RunnerOptions) *Runner {
	if opts.KeepCount <= 0 {
		opts.KeepCount = DefaultKeepCount
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	return &Runner{opts: opts, logger: opts.Logger}
}

// Run fetches the sitemap, detects changes against the latest snapshot,
// submits new and changed URLs and updates local state. The returned error is
// non-nil only when the sitemap could not be fetched; every other failure is
// logged, collected in RunResult.Errors and reflected in RunResult.OK.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	result := &RunResult{RunID: r.opts.NewID(), StartedAt: r.opts.Now()}
	log := r.logger.With("run", result.RunID)

	log.Info("fetching sitemap", "url", r.opts.SitemapURL)
	current, err := r.opts.Source.Fetch(ctx, r.opts.SitemapURL)
	if err != nil {
		log.Error("cannot fetch sitemap, aborting", "kind", KindOf(err).String(), "error", err)
		return nil, err
	}
	result.Hash = Hash(current)

	latest, found, err := r.opts.Snapshots.FindLatest()
	if err != nil {
		log.Warn("cannot list snapshots", "kind", KindOf(err).String(), "error", err)
		result.Errors = append(result.Errors, err)
	}

	var previous []byte
	if found {
		previous, err = r.opts.Snapshots.Load(latest)
		if err != nil {
			log.Warn("cannot read previous snapshot, treating as first run", "path", latest, "error", err)
			result.Errors = append(result.Errors, err)
			found = false
		}
	}

	if found {
		if Hash(previous) == result.Hash {
			log.Info("sitemap unchanged", "hash", result.Hash, "snapshot", latest)
			result.Outcome = OutcomeUnchanged
			result.OK = true
			return result, nil
		}
		log.Info("sitemap changed, analysing", "hash", result.Hash, "snapshot", latest)

		currentURLs := r.parse(log, result, current, "current")
		previousURLs := r.parse(log, nil, previous, latest)
		result.Changes = Diff(currentURLs, previousURLs)
		log.Info("changes detected",
			"new", len(result.Changes.New),
			"changed", len(result.Changes.Changed),
			"deleted", len(result.Changes.Deleted))
		r.remindDeleted(log, result.Changes.Deleted)

		if len(result.Changes.Submittable()) == 0 {
			log.Info("nothing to submit, only deletions or unrelated changes")
			result.Outcome = OutcomeNoSubmission
			result.OK = r.persist(ctx, log, result, current, false)
			return result, nil
		}
		result.Outcome = OutcomeSubmitted
	} else {
		log.Info("no stored snapshot, submitting every URL")
		result.Changes = FirstRun(r.parse(log, result, current, "current"))
		result.Outcome = OutcomeFirstRun
	}

	urls := result.Changes.Submittable()
	if r.opts.DryRun {
		for _, u := range urls {
			log.Info("would submit", "url", u)
		}
		result.Report = SubmitReport{URLs: len(urls)}
		result.OK = true
		return result, nil
	}

	result.Report = r.opts.Notifier.Submit(ctx, urls)
	for _, failure := range result.Report.Failures {
		result.Errors = append(result.Errors, failure)
	}

	saved := r.persist(ctx, log, result, current, true)
	result.OK = result.Report.OK() && saved
	if result.OK {
		log.Info("run complete", "outcome", string(result.Outcome))
	} else {
		log.Warn("run finished with problems", "outcome", string(result.Outcome),
			"failed_batches", len(result.Report.Failures), "snapshot_saved", saved)
	}
	return result, nil
}

// parse degrades a malformed document to an empty mapping. Nested sitemaps of
// the current document are recorded on result when it is non-nil.
func (r *Runner) parse(log *slog.Logger, result *RunResult, data []byte, source string) *URLMap {
	parsed, err := ParseSitemap(data)
	if err != nil {
		var parseErr *ErrSitemapParse
		if errors.As(err, &parseErr) {
			parseErr.Source = source
		}
		log.Warn("cannot parse sitemap, using an empty URL set", "source", source, "error", err)
		if result != nil {
			result.Errors = append(result.Errors, err)
		}
		return NewURLMap()
	}
	for _, nested := range parsed.Sitemaps {
		log.Info("nested sitemap detected (not followed)", "source", source, "sitemap", nested)
	}
	if result != nil {
		result.Sitemaps = append(result.Sitemaps, parsed.Sitemaps...)
	}
	return parsed.URLs
}

func (r *Runner) remindDeleted(log *slog.Logger, deleted []string) {
	for i, u := range deleted {
		if i == maxDeletedReminders {
			log.Info("more deleted URLs not shown", "count", len(deleted)-maxDeletedReminders)
			return
		}
		log.Info("deleted URL", "url", u)
	}
}

// persist saves the snapshot, appends the history entry when record is set,
// stores the audit record and prunes old snapshots. It reports whether the
// snapshot was saved.
func (r *Runner) persist(ctx context.Context, log *slog.Logger, result *RunResult, current []byte, record bool) bool {
	if r.opts.DryRun {
		return true
	}

	saved := true
	path, err := r.opts.Snapshots.Save(current)
	if err != nil {
		log.Error("cannot save snapshot", "kind", KindOf(err).String(), "error", err)
		result.Errors = append(result.Errors, err)
		saved = false
	}
	result.SnapshotPath = path

	if record {
		submitted := len(result.Changes.Submittable())
		if r.opts.History != nil && (submitted > 0 || len(result.Changes.Deleted) > 0) {
			err := r.opts.History.Append(HistoryEntry{
				Time:           r.opts.Now(),
				RunID:          result.RunID,
				New:            result.Changes.New,
				Changed:        result.Changes.Changed,
				Deleted:        result.Changes.Deleted,
				TotalSubmitted: submitted,
			})
			if err != nil {
				log.Error("cannot save history", "kind", KindOf(err).String(), "error", err)
				result.Errors = append(result.Errors, err)
			}
		}
	}
	if r.opts.Audit != nil {
		result.OK = result.Report.OK() && saved
		if err := r.opts.Audit.RecordRun(ctx, result); err != nil {
			log.Error("cannot record audit entry", "kind", KindOf(err).String(), "error", err)
			result.Errors = append(result.Errors, err)
		}
	}

	removed, err := r.opts.Snapshots.Prune(r.opts.KeepCount)
	if err != nil {
		log.Warn("cannot prune snapshots", "kind", KindOf(err).String(), "error", err)
		result.Errors = append(result.Errors, err)
	} else if removed > 0 {
		log.Debug("old snapshots pruned", "removed", removed)
	}
	return saved
}

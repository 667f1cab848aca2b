package gositemapindexnow

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const (
	snapshotPrefix     = "sitemap_"
	snapshotSuffix     = ".xml"
	snapshotTimeLayout = "20060102_150405"
	// DefaultKeepCount is the number of snapshots retained after a run.
	DefaultKeepCount = 1
)

// SnapshotStoreOptions configures a SnapshotStore.
type SnapshotStoreOptions struct {
	Logger *slog.Logger
	// Now overrides the clock used to name snapshots.
	Now func() time.Time
}

// SnapshotStore keeps sitemap snapshots as files in a directory. File names
// embed a fixed-width timestamp so that name order is chronological.
type SnapshotStore struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

var _ SnapshotStorage = (*SnapshotStore)(nil)

// NewSnapshotStore returns a store rooted at dir. The directory is created on
// the first Save.
func NewSnapshotStore(dir string, opts SnapshotStoreOptions) *SnapshotStore {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &SnapshotStore{dir: dir, logger: opts.Logger, now: opts.Now}
}

// Hash returns the hex SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SnapshotName returns the file name of a snapshot captured at t.
func SnapshotName(t time.Time) string {
	return snapshotPrefix + t.Format(snapshotTimeLayout) + snapshotSuffix
}

// FindLatest returns the snapshot whose name sorts last.
func (s *SnapshotStore) FindLatest() (string, bool, error) {
	files, err := s.list()
	if err != nil {
		return "", false, err
	}
	if len(files) == 0 {
		return "", false, nil
	}
	sort.Strings(files)
	return files[len(files)-1], true, nil
}

// Load reads a stored snapshot.
func (s *SnapshotStore) Load(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ErrStorage{Op: "read snapshot", Path: path, Err: err}
	}
	return data, nil
}

// Save writes data as a new snapshot named after the current second. A
// snapshot saved within the same second replaces the earlier one.
func (s *SnapshotStore) Save(data []byte) (string, error) {
	path := filepath.Join(s.dir, SnapshotName(s.now()))
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", &ErrStorage{Op: "create snapshot dir", Path: s.dir, Write: true, Err: err}
	}
	if err := writeFileAtomic(path, data); err != nil {
		return "", &ErrStorage{Op: "write snapshot", Path: path, Write: true, Err: err}
	}
	s.logger.Info("snapshot saved", "path", path, "bytes", len(data))
	return path, nil
}

// Prune keeps the keepCount most recently modified snapshots and deletes the
// rest. Deletion failures are logged and skipped. Modification time, not the
// file name, decides which snapshots survive.
func (s *SnapshotStore) Prune(keepCount int) (int, error) {
	if keepCount < 0 {
		keepCount = 0
	}
	files, err := s.list()
	if err != nil {
		return 0, err
	}
	if len(files) <= keepCount {
		return 0, nil
	}

	type snapshotFile struct {
		path    string
		modTime time.Time
	}
	entries := make([]snapshotFile, 0, len(files))
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			s.logger.Warn("cannot stat snapshot, skipping", "path", path, "error", err)
			continue
		}
		entries = append(entries, snapshotFile{path: path, modTime: info.ModTime()})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].modTime.After(entries[j].modTime)
	})
	if len(entries) <= keepCount {
		return 0, nil
	}

	removed := 0
	for _, old := range entries[keepCount:] {
		if err := os.Remove(old.path); err != nil {
			s.logger.Warn("failed to delete old snapshot", "path", old.path, "error", err)
			continue
		}
		removed++
		s.logger.Info("old snapshot deleted", "file", filepath.Base(old.path))
	}
	return removed, nil
}

// list returns the snapshot paths in dir. A missing directory holds no
// snapshots; any other read error is reported.
func (s *SnapshotStore) list() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &ErrStorage{Op: "list snapshots", Path: s.dir, Err: err}
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matched, err := filepath.Match(snapshotPrefix+"*"+snapshotSuffix, entry.Name())
		if err != nil {
			return nil, &ErrStorage{Op: "list snapshots", Path: s.dir, Err: err}
		}
		if matched {
			files = append(files, filepath.Join(s.dir, entry.Name()))
		}
	}
	return files, nil
}

// writeFileAtomic writes data to a temporary file next to path and renames it
// into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

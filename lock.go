package gositemapindexnow

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const lockFile = ".lock"

// RunLock is an exclusive advisory lock on a storage directory. Two runs
// against the same directory would race on snapshots and the history log.
type RunLock struct {
	lock *flock.Flock
}

// AcquireRunLock takes the lock without waiting. It returns ErrLocked when
// another process holds it.
func AcquireRunLock(dir string) (*RunLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &ErrStorage{Op: "create storage dir", Path: dir, Write: true, Err: err}
	}
	path := filepath.Join(dir, lockFile)
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, &ErrStorage{Op: "lock storage dir", Path: path, Write: true, Err: err}
	}
	if !locked {
		return nil, ErrLocked
	}
	return &RunLock{lock: lock}, nil
}

// Release unlocks the directory.
func (l *RunLock) Release() error {
	return l.lock.Unlock()
}

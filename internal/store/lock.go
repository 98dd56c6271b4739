package store

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"

	serrors "github.com/h12/seekly/internal/errors"
)

// IndexLock is an exclusive cross-process lock on an index directory, held
// in <path>.lock for as long as the index is open.
type IndexLock struct {
	fl *flock.Flock
}

// LockIndex takes the lock for the index directory at indexPath without
// blocking. A lock held elsewhere is ERR_204 wrapping ErrLocked, which the
// startup retry policy treats as transient.
func LockIndex(indexPath string) (*IndexLock, error) {
	fl := flock.New(filepath.Clean(indexPath) + ".lock")

	acquired, err := fl.TryLock()
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeIndexIO, "failed to lock index", err).
			WithDetail("lock", fl.Path())
	}
	if !acquired {
		return nil, serrors.New(serrors.ErrCodeIndexLocked, "index is in use", ErrLocked).
			WithDetail("path", indexPath).
			WithSuggestion("stop the other seekly process using this index, or set index.path elsewhere")
	}
	return &IndexLock{fl: fl}, nil
}

// Path returns the lock file path.
func (l *IndexLock) Path() string {
	return l.fl.Path()
}

// Release drops the lock. Releasing twice, or a nil lock, is a no-op.
func (l *IndexLock) Release() error {
	if l == nil || !l.fl.Locked() {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("failed to release index lock: %w", err)
	}
	return nil
}

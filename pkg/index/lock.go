package index

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrLockTimeout reports that the index write lock could not be acquired
// within the bounded wait.
var ErrLockTimeout = errors.New("index lock timeout")

const (
	lockRetryDelay = 5 * time.Millisecond

	// DefaultLockTimeout bounds how long a writer waits for the
	// advisory lock before giving up.
	DefaultLockTimeout = 5 * time.Second
)

// Lock is an advisory single-writer lock, held as an O_EXCL lock file
// next to the index. Readers never take it; they validate checksums on
// their mapped view instead.
type Lock struct {
	path string
	f    *os.File
}

// AcquireLock blocks up to timeout waiting for the lock file to become
// available, then fails with ErrLockTimeout.
func AcquireLock(path string, timeout time.Duration) (*Lock, error) {
	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return &Lock{path: path, f: f}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("acquire index lock: %w", err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("acquire index lock %q: %w", path, ErrLockTimeout)
		}
		time.Sleep(lockRetryDelay)
	}
}

// Release removes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	if l.f == nil {
		return nil
	}
	closeErr := l.f.Close()
	l.f = nil
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release index lock: %w", err)
	}
	return closeErr
}

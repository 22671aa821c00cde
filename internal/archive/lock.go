package archive

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/starcut/starcut/internal/errors"
)

// Default lock acquisition parameters.
const (
	DefaultLockTimeout = 30 * time.Second
	DefaultLockPoll    = 50 * time.Millisecond
)

// fileLock guards a partition file with an exclusive sibling lock file.
// The lock file is created with O_EXCL so creation is atomic across
// processes sharing the filesystem.
type fileLock struct {
	path string
}

// lockPath returns the lock file sibling for a partition file.
func lockPath(partitionPath string) string {
	return partitionPath + ".lock"
}

// acquireLock obtains the exclusive lock for partitionPath, polling
// until timeout. A timeout yields a retryable LOCK_TIMEOUT error so
// callers can back off and retry the whole append.
func acquireLock(ctx context.Context, partitionPath string, timeout, poll time.Duration) (*fileLock, error) {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	if poll <= 0 {
		poll = DefaultLockPoll
	}

	lp := lockPath(partitionPath)
	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(lp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d %s\n", os.Getpid(), time.Now().Format(time.RFC3339))
			f.Close()
			return &fileLock{path: lp}, nil
		}
		if !os.IsExist(err) {
			return nil, errors.NewArchiveError(errors.CodeLockTimeout,
				fmt.Sprintf("cannot create lock file %s", lp), err)
		}
		if time.Now().After(deadline) {
			return nil, errors.NewArchiveError(errors.CodeLockTimeout,
				fmt.Sprintf("lock on %s still held after %s", partitionPath, timeout), nil)
		}
		select {
		case <-ctx.Done():
			return nil, errors.NewArchiveError(errors.CodeLockTimeout,
				fmt.Sprintf("canceled waiting for lock on %s", partitionPath), ctx.Err())
		case <-time.After(poll):
		}
	}
}

// release removes the lock file. Safe to call once.
func (l *fileLock) release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return errors.NewArchiveError(errors.CodeLockTimeout,
			fmt.Sprintf("cannot remove lock file %s", l.path), err)
	}
	return nil
}

package lock

import (
	"fmt"
	"os"
	"syscall"
)

// FileLock is an advisory flock(2) on a lock file, held across processes sharing the path.
// Each acquisition opens its own descriptor, so two FileLocks on one path exclude each
// other inside a single process too.
type FileLock struct {
	path string
}

func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Lock blocks until an exclusive lock is held and returns its release func.
func (fl *FileLock) Lock() (func() error, error) {
	return fl.acquire(syscall.LOCK_EX)
}

// RLock blocks until a shared lock is held and returns its release func.
func (fl *FileLock) RLock() (func() error, error) {
	return fl.acquire(syscall.LOCK_SH)
}

func (fl *FileLock) acquire(how int) (func() error, error) {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	for {
		err = syscall.Flock(int(f.Fd()), how)
		if err != syscall.EINTR {
			break
		}
	}
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	// The lock file is never removed: a waiter may already hold a descriptor to it.
	return func() error {
		if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
			_ = f.Close()
			return fmt.Errorf("release lock: %w", err)
		}
		return f.Close()
	}, nil
}

package lock

import (
	"path/filepath"
	"testing"
	"time"
)

func TestFileLockExcludesSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.lock")
	first, second := NewFileLock(path), NewFileLock(path)

	unlock, err := first.Lock()
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	acquired := make(chan func() error)
	go func() {
		u, err := second.Lock()
		if err != nil {
			t.Errorf("second lock: %v", err)
			close(acquired)
			return
		}
		acquired <- u
	}()

	select {
	case <-acquired:
		t.Fatalf("second holder acquired while first held the lock")
	case <-time.After(50 * time.Millisecond):
	}

	if err := unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	select {
	case u, ok := <-acquired:
		if !ok {
			t.Fatalf("second lock failed")
		}
		if err := u(); err != nil {
			t.Fatalf("second unlock: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("second holder never acquired the lock")
	}
}

func TestFileLockSharedReaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.lock")
	a, err := NewFileLock(path).RLock()
	if err != nil {
		t.Fatalf("rlock: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		b, err := NewFileLock(path).RLock()
		if err == nil {
			err = b()
		}
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("second reader: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("shared lock blocked a second reader")
	}
	if err := a(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
}

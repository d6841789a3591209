package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"dumpsite-dispatch/internal/lock"
)

// File persists the snapshot as a single YAML document with jobs and workers
// as its two top-level keys. Writes go through a temp file and rename.
// Every read and read-modify-write holds a flock on <path>.lock, so several
// processes (or several File values) may share one path.
type File struct {
	mu    sync.Mutex
	path  string
	flock *lock.FileLock
}

// OpenFile prepares a file-backed store, creating the parent directory.
func OpenFile(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &File{path: path, flock: lock.NewFileLock(path + ".lock")}, nil
}

func (f *File) Load(_ context.Context) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	unlock, err := f.flock.RLock()
	if err != nil {
		return Snapshot{}, err
	}
	defer func() { _ = unlock() }()
	return f.read()
}

func (f *File) Update(ctx context.Context, fn func(*Snapshot) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock, err := f.flock.Lock()
	if err != nil {
		return err
	}
	defer func() { _ = unlock() }()
	snap, err := f.read()
	if err != nil {
		return err
	}
	if err := fn(&snap); err != nil {
		return err
	}
	snap.ensure()
	return f.write(snap)
}

func (f *File) Close() error { return nil }

func (f *File) read() (Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return NewSnapshot(), nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read store file: %w", err)
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode store file: %w", err)
	}
	snap.ensure()
	return snap, nil
}

func (f *File) write(snap Snapshot) error {
	content, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".dispatch-tmp-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

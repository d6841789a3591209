// Package store persists the jobs and workers collections as whole-collection snapshots.
//
// Every backend offers the same two operations: Load reads both collections, and Update
// runs a read-modify-write of both collections as one critical section. A mutation that
// returns an error from the callback commits nothing.
package store

import (
	"context"
	"errors"

	"dumpsite-dispatch/internal/models"
)

const (
	CollectionJobs    = "jobs"
	CollectionWorkers = "workers"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
	// ErrConflict is returned when an optimistic write kept losing to concurrent writers.
	ErrConflict = errors.New("concurrent update conflict")
)

// Snapshot is the full persisted state: both collections keyed by id.
type Snapshot struct {
	Jobs    map[string]models.Job    `json:"jobs" yaml:"jobs"`
	Workers map[string]models.Worker `json:"workers" yaml:"workers"`
}

// Store is the persistent key-value mapping of job and worker records.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Update(ctx context.Context, fn func(*Snapshot) error) error
	Close() error
}

// NewSnapshot returns an empty snapshot with both collections allocated.
func NewSnapshot() Snapshot {
	return Snapshot{
		Jobs:    make(map[string]models.Job),
		Workers: make(map[string]models.Worker),
	}
}

// Clone deep-copies the snapshot so callers can mutate it freely.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Jobs:    make(map[string]models.Job, len(s.Jobs)),
		Workers: make(map[string]models.Worker, len(s.Workers)),
	}
	for id, j := range s.Jobs {
		out.Jobs[id] = j.Clone()
	}
	for id, w := range s.Workers {
		out.Workers[id] = w.Clone()
	}
	return out
}

func (s *Snapshot) ensure() {
	if s.Jobs == nil {
		s.Jobs = make(map[string]models.Job)
	}
	if s.Workers == nil {
		s.Workers = make(map[string]models.Worker)
	}
}

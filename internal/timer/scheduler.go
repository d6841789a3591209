package timer

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Release is a deferred request to free WorkerID once JobID's window has elapsed.
type Release struct {
	JobID    string    `json:"job_id"`
	WorkerID string    `json:"worker_id"`
	DueAt    time.Time `json:"due_at"`
	Attempts int       `json:"attempts"`
}

// Scheduler holds armed releases until they fall due. Arming the same job again replaces
// the earlier release. Due hands each release out once, removing it from the schedule.
type Scheduler interface {
	Arm(ctx context.Context, r Release) error
	Disarm(ctx context.Context, jobID string) error
	Due(ctx context.Context, now time.Time, limit int) ([]Release, error)
	Pending(ctx context.Context) (int64, error)
}

// Local is an in-process Scheduler. Armed releases are lost when the process exits.
type Local struct {
	mu       sync.Mutex
	releases map[string]Release
}

func NewLocal() *Local {
	return &Local{releases: make(map[string]Release)}
}

func (l *Local) Arm(_ context.Context, r Release) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releases[r.JobID] = r
	return nil
}

func (l *Local) Disarm(_ context.Context, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.releases, jobID)
	return nil
}

func (l *Local) Due(_ context.Context, now time.Time, limit int) ([]Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var due []Release
	for _, r := range l.releases {
		if !r.DueAt.After(now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].DueAt.Equal(due[j].DueAt) {
			return due[i].DueAt.Before(due[j].DueAt)
		}
		return due[i].JobID < due[j].JobID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for _, r := range due {
		delete(l.releases, r.JobID)
	}
	return due, nil
}

func (l *Local) Pending(_ context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.releases)), nil
}

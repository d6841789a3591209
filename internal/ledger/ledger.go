// Package ledger owns job records: creation, lookup, wholesale replacement and filtered listing.
// Every mutation is written through to the store before the call returns.
package ledger

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"time"

	"github.com/google/uuid"

	"dumpsite-dispatch/internal/models"
	"dumpsite-dispatch/internal/store"
)

// NewJob collects the immutable facts of a report plus its resolved classification.
type NewJob struct {
	ReporterName    string
	ReporterContact string
	Location        models.Location
	Description     string
	ImageRef        string
	ThumbnailRef    string
	Zone            string
	Severity        models.Severity
	Vehicle         models.Vehicle
	Confidence      float64
}

// Ledger is the job repository.
type Ledger struct {
	store store.Store
	now   func() time.Time
	newID func() string
}

type Option func(*Ledger)

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDs overrides id generation.
func WithIDs(fn func() string) Option {
	return func(l *Ledger) { l.newID = fn }
}

func New(st store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store: st,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Create stores a new pending job with a fresh id.
func (l *Ledger) Create(ctx context.Context, in NewJob) (models.Job, error) {
	if !in.Severity.Valid() {
		return models.Job{}, fmt.Errorf("create job: invalid severity %q", in.Severity)
	}
	if in.Vehicle == "" {
		in.Vehicle = models.VehicleFor(in.Severity)
	}
	job := models.Job{
		ID:              l.newID(),
		ReporterName:    in.ReporterName,
		ReporterContact: in.ReporterContact,
		Location:        in.Location,
		Description:     in.Description,
		ImageRef:        in.ImageRef,
		ThumbnailRef:    in.ThumbnailRef,
		Zone:            in.Zone,
		Severity:        in.Severity,
		Vehicle:         in.Vehicle,
		Confidence:      in.Confidence,
		Status:          models.StatusPending,
		CreatedAt:       l.now().UTC(),
	}
	err := l.store.Update(ctx, func(s *store.Snapshot) error {
		if _, exists := s.Jobs[job.ID]; exists {
			return fmt.Errorf("job %s: %w", job.ID, store.ErrExists)
		}
		s.Jobs[job.ID] = job
		return nil
	})
	if err != nil {
		return models.Job{}, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// Find returns the job with id, or false when it does not exist.
func (l *Ledger) Find(ctx context.Context, id string) (models.Job, bool, error) {
	snap, err := l.store.Load(ctx)
	if err != nil {
		return models.Job{}, false, fmt.Errorf("find job: %w", err)
	}
	job, ok := snap.Jobs[id]
	return job, ok, nil
}

// Replace overwrites an existing job wholesale. The record is not validated.
func (l *Ledger) Replace(ctx context.Context, job models.Job) error {
	err := l.store.Update(ctx, func(s *store.Snapshot) error {
		if _, ok := s.Jobs[job.ID]; !ok {
			return fmt.Errorf("job %s: %w", job.ID, store.ErrNotFound)
		}
		s.Jobs[job.ID] = job.Clone()
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace job: %w", err)
	}
	return nil
}

// ListBy returns the jobs matching pred, oldest first. The sequence reads from one
// snapshot, filters as it is consumed, and can be ranged over any number of times.
func (l *Ledger) ListBy(ctx context.Context, pred Predicate) (iter.Seq[models.Job], error) {
	snap, err := l.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return Filter(snap.Jobs, pred), nil
}

// Filter orders jobs by creation time and yields those matching pred.
func Filter(jobs map[string]models.Job, pred Predicate) iter.Seq[models.Job] {
	ordered := make([]models.Job, 0, len(jobs))
	for _, j := range jobs {
		ordered = append(ordered, j)
	}
	sort.Slice(ordered, func(a, b int) bool {
		if !ordered[a].CreatedAt.Equal(ordered[b].CreatedAt) {
			return ordered[a].CreatedAt.Before(ordered[b].CreatedAt)
		}
		return ordered[a].ID < ordered[b].ID
	})
	return func(yield func(models.Job) bool) {
		for _, j := range ordered {
			if pred != nil && !pred(j) {
				continue
			}
			if !yield(j.Clone()) {
				return
			}
		}
	}
}

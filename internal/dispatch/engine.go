// Package dispatch is the assignment engine: it moves jobs through
// pending -> accepted -> completed and keeps worker availability, counters and
// earnings in step with those transitions.
//
// The engine holds no state of its own beyond per-id locks. Each mutating operation
// takes the locks for the job and worker it touches and applies both record changes
// in a single store.Update, so either both commit or neither does.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"dumpsite-dispatch/internal/ledger"
	"dumpsite-dispatch/internal/lock"
	"dumpsite-dispatch/internal/models"
	"dumpsite-dispatch/internal/registry"
	"dumpsite-dispatch/internal/store"
	"dumpsite-dispatch/internal/telemetry"
	"dumpsite-dispatch/internal/timer"
)

// rejection marks a failed precondition. It aborts the store update and is
// reported to callers as a false result, never as an error.
type rejection struct{ reason string }

func (r rejection) Error() string { return r.reason }

func reject(format string, args ...any) error {
	return rejection{reason: fmt.Sprintf(format, args...)}
}

// errUnchanged aborts an update that found nothing to write.
var errUnchanged = errors.New("unchanged")

// Engine applies the job transitions against a store. It is safe for concurrent use.
type Engine struct {
	store   store.Store
	jobs    *ledger.Ledger
	workers *registry.Registry
	timers  timer.Scheduler
	locks   *lock.Keyed
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the transition timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an engine over st. jobs and workers must wrap the same store; timers
// receives a release for every accepted job.
func New(st store.Store, jobs *ledger.Ledger, workers *registry.Registry, timers timer.Scheduler, opts ...Option) *Engine {
	e := &Engine{
		store:   st,
		jobs:    jobs,
		workers: workers,
		timers:  timers,
		locks:   lock.NewKeyed(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func jobKey(id string) string    { return "job:" + id }
func workerKey(id string) string { return "worker:" + id }

// Accept assigns a pending job to a free worker and arms the deferred release.
// It returns false without side effects when the job is missing or not pending,
// or when the worker is missing or busy. An error means the store failed and nothing changed.
func (e *Engine) Accept(ctx context.Context, jobID, workerID string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "dispatch.accept",
		attribute.String("job.id", jobID), attribute.String("worker.id", workerID))
	defer span.End()

	unlock := e.locks.LockAll(jobKey(jobID), workerKey(workerID))
	defer unlock()

	now := e.now()
	var accepted models.Job
	err := e.store.Update(ctx, func(s *store.Snapshot) error {
		job, ok := s.Jobs[jobID]
		if !ok {
			return reject("job %s not found", jobID)
		}
		worker, ok := s.Workers[workerID]
		if !ok {
			return reject("worker %s not found", workerID)
		}
		job, err := job.Accept(worker.ID, worker.Name, now)
		if err != nil {
			return rejection{reason: err.Error()}
		}
		worker, err = worker.MarkBusy()
		if err != nil {
			return rejection{reason: err.Error()}
		}
		s.Jobs[jobID] = job
		s.Workers[workerID] = worker
		accepted = job
		return nil
	})
	var rej rejection
	if errors.As(err, &rej) {
		span.SetAttributes(attribute.String("dispatch.rejected", rej.reason))
		telemetry.AcceptRejected.Inc()
		return false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store update failed")
		return false, fmt.Errorf("accept job %s: %w", jobID, err)
	}

	telemetry.JobsAccepted.WithLabelValues(string(accepted.Severity)).Inc()
	e.arm(ctx, accepted)
	return true, nil
}

// Complete closes a job held by workerID, frees the worker, bumps both completion
// counters and posts the tier bonus. It returns false without side effects when the
// job is missing, not accepted, or assigned to someone else.
func (e *Engine) Complete(ctx context.Context, jobID, workerID string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "dispatch.complete",
		attribute.String("job.id", jobID), attribute.String("worker.id", workerID))
	defer span.End()

	unlock := e.locks.LockAll(jobKey(jobID), workerKey(workerID))
	defer unlock()

	now := e.now().UTC()
	var completed models.Job
	var bonus int64
	err := e.store.Update(ctx, func(s *store.Snapshot) error {
		job, ok := s.Jobs[jobID]
		if !ok {
			return reject("job %s not found", jobID)
		}
		job, err := job.Complete(workerID, now)
		if err != nil {
			return rejection{reason: err.Error()}
		}
		worker, ok := s.Workers[workerID]
		if !ok {
			return reject("worker %s not found", workerID)
		}
		bonus = job.Severity.Bonus()
		worker.Availability = models.Free
		worker = worker.RecordCompletion(models.EarningRecord{
			Date:   now,
			JobID:  jobID,
			Amount: bonus,
			Kind:   models.EarningBonus,
		})
		s.Jobs[jobID] = job
		s.Workers[workerID] = worker
		completed = job
		return nil
	})
	var rej rejection
	if errors.As(err, &rej) {
		span.SetAttributes(attribute.String("dispatch.rejected", rej.reason))
		telemetry.CompleteRejected.Inc()
		return false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store update failed")
		return false, fmt.Errorf("complete job %s: %w", jobID, err)
	}

	telemetry.JobsCompleted.WithLabelValues(string(completed.Severity)).Inc()
	telemetry.BonusPaid.Add(float64(bonus))
	if err := e.timers.Disarm(ctx, jobID); err != nil {
		log.Printf("disarm release for job %s: %v", jobID, err)
	}
	return true, nil
}

// Release is the deferred auto-release action. It frees the worker only while the
// worker is busy, the job is still accepted by that worker, and no other job the worker
// accepted is still inside its window. It never changes the job, and never touches
// counters, so racing with Complete always ends with the worker free.
func (e *Engine) Release(ctx context.Context, r timer.Release) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "dispatch.release",
		attribute.String("job.id", r.JobID), attribute.String("worker.id", r.WorkerID))
	defer span.End()

	unlock := e.locks.LockAll(jobKey(r.JobID), workerKey(r.WorkerID))
	defer unlock()

	now := e.now()
	err := e.store.Update(ctx, func(s *store.Snapshot) error {
		worker, ok := s.Workers[r.WorkerID]
		if !ok || worker.Availability != models.Busy {
			return errUnchanged
		}
		job, ok := s.Jobs[r.JobID]
		if !ok || job.Status != models.StatusAccepted || job.AssigneeID != r.WorkerID {
			return errUnchanged
		}
		if holdsActiveJob(s, r.WorkerID, r.JobID, now) {
			return errUnchanged
		}
		worker.Availability = models.Free
		s.Workers[r.WorkerID] = worker
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return false, nil
	}
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("release worker %s: %w", r.WorkerID, err)
	}
	telemetry.AutoReleases.Inc()
	return true, nil
}

// SweepOvertime releases every busy worker whose accepted job is past its window.
// It recovers releases that were armed in a scheduler that lost them, e.g. across a restart.
func (e *Engine) SweepOvertime(ctx context.Context) (int, error) {
	seq, err := e.jobs.ListBy(ctx, ledger.WithStatus(models.StatusAccepted))
	if err != nil {
		return 0, err
	}
	now := e.now()
	released := 0
	for job := range seq {
		p, ok := timer.ProjectJob(job, now)
		if !ok || !p.Overtime {
			continue
		}
		ok, err := e.Release(ctx, timer.Release{JobID: job.ID, WorkerID: job.AssigneeID})
		if err != nil {
			return released, err
		}
		if ok {
			released++
		}
	}
	return released, nil
}

func (e *Engine) arm(ctx context.Context, job models.Job) {
	due, ok := timer.Deadline(job)
	if !ok {
		return
	}
	if err := e.timers.Arm(ctx, timer.Release{JobID: job.ID, WorkerID: job.AssigneeID, DueAt: due}); err != nil {
		// Best effort: SweepOvertime recovers a release that was never armed.
		log.Printf("arm release for job %s: %v", job.ID, err)
	}
}

// holdsActiveJob reports whether workerID has an accepted job other than except
// whose window is still open at now.
func holdsActiveJob(s *store.Snapshot, workerID, except string, now time.Time) bool {
	for id, job := range s.Jobs {
		if id == except || job.AssigneeID != workerID {
			continue
		}
		if p, ok := timer.ProjectJob(job, now); ok && !p.Overtime {
			return true
		}
	}
	return false
}

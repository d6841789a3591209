package dispatch

import (
	"context"
	"iter"
	"time"

	"dumpsite-dispatch/internal/ledger"
	"dumpsite-dispatch/internal/models"
	"dumpsite-dispatch/internal/timer"
)

// JobView is a job plus its timer projection at query time. Timer is nil unless the job is accepted.
type JobView struct {
	models.Job
	Timer *timer.Projection `json:"timer,omitempty"`
}

// Filter narrows Search. Empty fields match everything.
type Filter struct {
	Status   models.JobStatus
	Zone     string
	Assignee string
}

func (f Filter) predicate() ledger.Predicate {
	var preds []ledger.Predicate
	if f.Status != "" {
		preds = append(preds, ledger.WithStatus(f.Status))
	}
	if f.Zone != "" {
		preds = append(preds, ledger.InZone(f.Zone))
	}
	if f.Assignee != "" {
		preds = append(preds, ledger.AssignedTo(f.Assignee))
	}
	return ledger.All(preds...)
}

// PendingInZone lists the jobs a worker in zone may claim.
func (e *Engine) PendingInZone(ctx context.Context, zone string) ([]JobView, error) {
	return e.Search(ctx, Filter{Status: models.StatusPending, Zone: zone})
}

// ActiveJobsOf lists the accepted jobs held by workerID.
func (e *Engine) ActiveJobsOf(ctx context.Context, workerID string) ([]JobView, error) {
	return e.Search(ctx, Filter{Status: models.StatusAccepted, Assignee: workerID})
}

func (e *Engine) AllByStatus(ctx context.Context, status models.JobStatus) ([]JobView, error) {
	return e.Search(ctx, Filter{Status: status})
}

// Search lists matching jobs, oldest first. It reads only; overtime is computed, not stored.
func (e *Engine) Search(ctx context.Context, f Filter) ([]JobView, error) {
	seq, err := e.jobs.ListBy(ctx, f.predicate())
	if err != nil {
		return nil, err
	}
	return e.views(seq, e.now()), nil
}

// Job returns a single job view.
func (e *Engine) Job(ctx context.Context, id string) (JobView, bool, error) {
	job, ok, err := e.jobs.Find(ctx, id)
	if err != nil || !ok {
		return JobView{}, ok, err
	}
	return viewOf(job, e.now()), true, nil
}

// Worker returns a worker record.
func (e *Engine) Worker(ctx context.Context, id string) (models.Worker, bool, error) {
	return e.workers.Find(ctx, id)
}

// Workers lists workers in zone holding one of roles.
func (e *Engine) Workers(ctx context.Context, zone string, roles ...models.Role) ([]models.Worker, error) {
	seq, err := e.workers.ListByZoneAndRole(ctx, zone, roles...)
	if err != nil {
		return nil, err
	}
	out := []models.Worker{}
	for w := range seq {
		out = append(out, w)
	}
	return out, nil
}

func (e *Engine) views(seq iter.Seq[models.Job], now time.Time) []JobView {
	out := []JobView{}
	for job := range seq {
		out = append(out, viewOf(job, now))
	}
	return out
}

func viewOf(job models.Job, now time.Time) JobView {
	v := JobView{Job: job}
	if p, ok := timer.ProjectJob(job, now); ok {
		v.Timer = &p
	}
	return v
}

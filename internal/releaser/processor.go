// Package releaser drives deferred auto-releases: it polls the scheduler for releases
// that fell due and fires them against the engine, retrying failures with backoff.
package releaser

import (
	"context"
	"log"
	"math"
	"math/rand"
	"time"

	"dumpsite-dispatch/internal/config"
	"dumpsite-dispatch/internal/telemetry"
	"dumpsite-dispatch/internal/timer"
)

// Engine is the part of the assignment engine the runner drives.
type Engine interface {
	Release(ctx context.Context, r timer.Release) (bool, error)
	SweepOvertime(ctx context.Context) (int, error)
}

// Roster resets per-day worker counters.
type Roster interface {
	ResetDaily(ctx context.Context) (int, error)
}

// TickResult counts what one poll did.
type TickResult struct {
	Due      int
	Released int
	Retried  int
	Dropped  int
	Reset    bool
}

// Processor drives the release loop.
type Processor struct {
	cfg     config.Config
	timers  timer.Scheduler
	engine  Engine
	roster  Roster
	now     func() time.Time
	lastDay string
}

type Option func(*Processor)

// WithClock overrides the time source used for due checks and day rollover.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

func NewProcessor(cfg config.Config, timers timer.Scheduler, engine Engine, roster Roster, opts ...Option) *Processor {
	p := &Processor{
		cfg:    cfg,
		timers: timers,
		engine: engine,
		roster: roster,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cfg.ReleasePollInterval <= 0 {
		p.cfg.ReleasePollInterval = 5 * time.Second
	}
	if p.cfg.ReleaseBatchSize <= 0 {
		p.cfg.ReleaseBatchSize = 100
	}
	if p.cfg.BackoffInitial <= 0 {
		p.cfg.BackoffInitial = 2 * time.Second
	}
	if p.cfg.BackoffMax < p.cfg.BackoffInitial {
		p.cfg.BackoffMax = p.cfg.BackoffInitial
	}
	if p.cfg.MaxReleaseAttempts <= 0 {
		p.cfg.MaxReleaseAttempts = 5
	}
	p.lastDay = dayOf(p.now())
	return p
}

// Run sweeps overtime jobs once, then polls until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	if n, err := p.engine.SweepOvertime(ctx); err != nil {
		log.Printf("startup overtime sweep: %v", err)
	} else if n > 0 {
		log.Printf("startup overtime sweep released %d workers", n)
	}

	ticker := time.NewTicker(p.cfg.ReleasePollInterval)
	defer ticker.Stop()
	for {
		if _, err := p.Tick(ctx); err != nil && ctx.Err() == nil {
			log.Printf("release tick: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs one poll: the daily reset on day rollover, then every due release.
func (p *Processor) Tick(ctx context.Context) (TickResult, error) {
	var res TickResult
	now := p.now()

	if day := dayOf(now); day != p.lastDay {
		n, err := p.roster.ResetDaily(ctx)
		if err != nil {
			return res, err
		}
		p.lastDay = day
		res.Reset = true
		log.Printf("daily reset for %s cleared %d workers", day, n)
	}

	due, err := p.timers.Due(ctx, now, p.cfg.ReleaseBatchSize)
	if err != nil {
		return res, err
	}
	res.Due = len(due)
	for _, r := range due {
		released, err := p.engine.Release(ctx, r)
		if err == nil {
			if released {
				res.Released++
			}
			continue
		}

		telemetry.ReleaseFailures.Inc()
		r.Attempts++
		if r.Attempts >= p.cfg.MaxReleaseAttempts {
			// The overtime sweep still frees this worker on the next restart.
			log.Printf("dropping release job=%s worker=%s after %d attempts: %v", r.JobID, r.WorkerID, r.Attempts, err)
			res.Dropped++
			continue
		}
		r.DueAt = now.Add(backoffWithJitter(p.cfg.BackoffInitial, p.cfg.BackoffMax, r.Attempts))
		if err := p.timers.Arm(ctx, r); err != nil {
			log.Printf("reschedule release job=%s: %v", r.JobID, err)
			res.Dropped++
			continue
		}
		log.Printf("release job=%s worker=%s failed, retry at %s (attempt %d): %v",
			r.JobID, r.WorkerID, r.DueAt.UTC().Format(time.RFC3339), r.Attempts, err)
		res.Retried++
	}

	if pending, err := p.timers.Pending(ctx); err == nil {
		telemetry.PendingReleases.Set(float64(pending))
	}
	return res, nil
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max || exp > float64(math.MaxInt64) {
		wait = max
	}
	if wait < 2 {
		return wait
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}

func dayOf(t time.Time) string {
	return t.Format(time.DateOnly)
}

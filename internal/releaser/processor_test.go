package releaser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"dumpsite-dispatch/internal/config"
	"dumpsite-dispatch/internal/dispatch"
	"dumpsite-dispatch/internal/ledger"
	"dumpsite-dispatch/internal/models"
	"dumpsite-dispatch/internal/registry"
	"dumpsite-dispatch/internal/store"
	"dumpsite-dispatch/internal/timer"
)

func TestBackoffWithJitter(t *testing.T) {
	base := time.Second
	max := 8 * time.Second

	for i := 0; i < 50; i++ {
		b1 := backoffWithJitter(base, max, 1)
		if b1 < base/2 || b1 > base {
			t.Fatalf("backoff out of range: %s", b1)
		}
		b3 := backoffWithJitter(base, max, 3)
		if b3 < 2*time.Second || b3 > 4*time.Second {
			t.Fatalf("backoff out of range for attempt 3: %s", b3)
		}
		b10 := backoffWithJitter(base, max, 10)
		if b10 < max/2 || b10 > max {
			t.Fatalf("backoff not capped for attempt 10: %s", b10)
		}
	}
	if b := backoffWithJitter(base, max, 200); b > max {
		t.Fatalf("huge attempt overflowed the cap: %s", b)
	}
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	clock   *manualClock
	store   store.Store
	timers  timer.Scheduler
	engine  *dispatch.Engine
	workers *registry.Registry
	jobs    *ledger.Ledger
}

func newHarness(t *testing.T, timers timer.Scheduler) *harness {
	t.Helper()
	c := &manualClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	st := store.NewMemory()
	n := 0
	jobs := ledger.New(st, ledger.WithClock(c.Now), ledger.WithIDs(func() string {
		n++
		return fmt.Sprintf("job-%d", n)
	}))
	workers := registry.New(st, c.Now)
	return &harness{
		clock:   c,
		store:   st,
		timers:  timers,
		jobs:    jobs,
		workers: workers,
		engine:  dispatch.New(st, jobs, workers, timers, dispatch.WithClock(c.Now)),
	}
}

func (h *harness) acceptedJob(t *testing.T, workerID string, sev models.Severity) models.Job {
	t.Helper()
	ctx := context.Background()
	if _, err := h.workers.Provision(ctx, registry.NewWorker{ID: workerID, Name: workerID, Zone: "North"}); err != nil {
		t.Fatalf("provision: %v", err)
	}
	job, err := h.jobs.Create(ctx, ledger.NewJob{ReporterName: "r", Zone: "North", Severity: sev})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	ok, err := h.engine.Accept(ctx, job.ID, workerID)
	if err != nil || !ok {
		t.Fatalf("accept: ok=%v err=%v", ok, err)
	}
	return job
}

func (h *harness) availability(t *testing.T, id string) models.Availability {
	t.Helper()
	w, ok, err := h.workers.Find(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("find worker %s: ok=%v err=%v", id, ok, err)
	}
	return w.Availability
}

func testConfig() config.Config {
	return config.Config{
		ReleasePollInterval: 10 * time.Millisecond,
		ReleaseBatchSize:    10,
		BackoffInitial:      time.Second,
		BackoffMax:          time.Minute,
		MaxReleaseAttempts:  3,
	}
}

func TestTickFiresDueReleases(t *testing.T) {
	schedulers := map[string]func(t *testing.T) timer.Scheduler{
		"local": func(*testing.T) timer.Scheduler { return timer.NewLocal() },
		"redis": func(t *testing.T) timer.Scheduler {
			mr, err := miniredis.Run()
			if err != nil {
				t.Fatalf("miniredis: %v", err)
			}
			t.Cleanup(mr.Close)
			return timer.NewRedisScheduler(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test")
		},
	}
	for name, build := range schedulers {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, build(t))
			low := h.acceptedJob(t, "a", models.SeverityLow)
			h.acceptedJob(t, "b", models.SeverityMedium)
			p := NewProcessor(testConfig(), h.timers, h.engine, h.workers, WithClock(h.clock.Now))

			h.clock.Advance(30 * time.Minute)
			res, err := p.Tick(ctx)
			if err != nil {
				t.Fatalf("tick: %v", err)
			}
			if res.Due != 0 {
				t.Fatalf("nothing should be due yet: %+v", res)
			}

			h.clock.Advance(30 * time.Minute)
			res, err = p.Tick(ctx)
			if err != nil {
				t.Fatalf("tick: %v", err)
			}
			if res.Due != 1 || res.Released != 1 {
				t.Fatalf("expected the low job release to fire: %+v", res)
			}
			if h.availability(t, "a") != models.Free || h.availability(t, "b") != models.Busy {
				t.Fatalf("wrong worker released")
			}
			job, _, _ := h.jobs.Find(ctx, low.ID)
			if job.Status != models.StatusAccepted {
				t.Fatalf("auto-release must not change the job, got %s", job.Status)
			}
		})
	}
}

type flakyEngine struct {
	*dispatch.Engine
	failures int
	calls    int
}

func (f *flakyEngine) Release(ctx context.Context, r timer.Release) (bool, error) {
	f.calls++
	if f.calls <= f.failures {
		return false, errors.New("store unavailable")
	}
	return f.Engine.Release(ctx, r)
}

func TestTickReschedulesFailedRelease(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, timer.NewLocal())
	h.acceptedJob(t, "a", models.SeverityLow)
	eng := &flakyEngine{Engine: h.engine, failures: 1}
	p := NewProcessor(testConfig(), h.timers, eng, h.workers, WithClock(h.clock.Now))

	h.clock.Advance(time.Hour)
	res, err := p.Tick(ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if res.Retried != 1 || res.Released != 0 {
		t.Fatalf("expected a retry: %+v", res)
	}
	if n, _ := h.timers.Pending(ctx); n != 1 {
		t.Fatalf("expected the release to be re-armed, pending=%d", n)
	}

	h.clock.Advance(time.Minute)
	res, err = p.Tick(ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if res.Released != 1 {
		t.Fatalf("expected retry to release: %+v", res)
	}
	if h.availability(t, "a") != models.Free {
		t.Fatalf("worker should be free after retry")
	}
}

func TestTickDropsAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, timer.NewLocal())
	h.acceptedJob(t, "a", models.SeverityLow)
	eng := &flakyEngine{Engine: h.engine, failures: 100}
	p := NewProcessor(testConfig(), h.timers, eng, h.workers, WithClock(h.clock.Now))

	h.clock.Advance(time.Hour)
	dropped := 0
	for i := 0; i < 5; i++ {
		res, err := p.Tick(ctx)
		if err != nil {
			t.Fatalf("tick: %v", err)
		}
		dropped += res.Dropped
		h.clock.Advance(time.Minute)
	}
	if dropped != 1 || eng.calls != 3 {
		t.Fatalf("expected 3 attempts then a drop, calls=%d dropped=%d", eng.calls, dropped)
	}
	if n, _ := h.timers.Pending(ctx); n != 0 {
		t.Fatalf("dropped release must not stay armed, pending=%d", n)
	}
}

func TestTickResetsDailyCountersOnRollover(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, timer.NewLocal())
	job := h.acceptedJob(t, "a", models.SeverityHigh)
	if ok, err := h.engine.Complete(ctx, job.ID, "a"); err != nil || !ok {
		t.Fatalf("complete: ok=%v err=%v", ok, err)
	}
	p := NewProcessor(testConfig(), h.timers, h.engine, h.workers, WithClock(h.clock.Now))

	h.clock.Advance(time.Hour)
	if res, _ := p.Tick(ctx); res.Reset {
		t.Fatalf("no reset expected within the same day")
	}
	h.clock.Advance(15 * time.Hour)
	res, err := p.Tick(ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !res.Reset {
		t.Fatalf("expected reset after midnight")
	}
	w, _, _ := h.workers.Find(ctx, "a")
	if w.CompletedToday != 0 || w.CompletedLifetime != 1 {
		t.Fatalf("reset must clear only the daily count: %+v", w)
	}
}

func TestRunSweepsOnStartup(t *testing.T) {
	// The scheduler lost the armed release, as after a restart with the local scheduler.
	h := newHarness(t, timer.NewLocal())
	h.acceptedJob(t, "a", models.SeverityLow)
	fresh := timer.NewLocal()
	h.clock.Advance(2 * time.Hour)
	p := NewProcessor(testConfig(), fresh, h.engine, h.workers, WithClock(h.clock.Now))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for h.availability(t, "a") != models.Free {
		if time.Now().After(deadline) {
			t.Fatalf("startup sweep did not free the overdue worker")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

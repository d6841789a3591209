package dispatch

import (
	"context"
	"fmt"
	"time"

	"dumpsite-dispatch/internal/ledger"
	"dumpsite-dispatch/internal/models"
	"dumpsite-dispatch/internal/registry"
)

// ZoneStats summarises one zone for supervisors.
type ZoneStats struct {
	Zone           string `json:"zone"`
	PendingJobs    int    `json:"pending_jobs"`
	ActiveJobs     int    `json:"active_jobs"`
	OvertimeJobs   int    `json:"overtime_jobs"`
	CompletedToday int    `json:"completed_today"`
	BonusesPaid    int64  `json:"bonuses_paid_today"`
	Workers        int    `json:"workers"`
	SeniorWorkers  int    `json:"senior_workers"`
	FreeWorkers    int    `json:"free_workers"`
}

// EarningsSummary is a worker's pay and quota position.
type EarningsSummary struct {
	WorkerID          string      `json:"worker_id"`
	Role              models.Role `json:"role"`
	Salary            int64       `json:"salary"`
	BonusRate         int64       `json:"bonus_rate"`
	DailyQuota        int         `json:"daily_quota"`
	CompletedToday    int         `json:"completed_today"`
	QuotaPercent      int         `json:"quota_percent"`
	CompletedLifetime int         `json:"completed_lifetime"`
	BonusTotal        int64       `json:"bonus_total"`
	EarnedToday       int64       `json:"earned_today"`
	Projected         int64       `json:"projected_total"`
}

// ZoneStats reads one snapshot and summarises jobs and workers in zone.
// "Today" is the calendar day of the engine clock in its location.
func (e *Engine) ZoneStats(ctx context.Context, zone string) (ZoneStats, error) {
	snap, err := e.store.Load(ctx)
	if err != nil {
		return ZoneStats{}, fmt.Errorf("zone stats: %w", err)
	}
	now := e.now()
	stats := ZoneStats{Zone: zone}
	for job := range ledger.Filter(snap.Jobs, ledger.InZone(zone)) {
		switch job.Status {
		case models.StatusPending:
			stats.PendingJobs++
		case models.StatusAccepted:
			stats.ActiveJobs++
			if v := viewOf(job, now); v.Timer != nil && v.Timer.Overtime {
				stats.OvertimeJobs++
			}
		case models.StatusCompleted:
			if job.CompletedAt != nil && sameDay(*job.CompletedAt, now) {
				stats.CompletedToday++
				if job.BonusPaid {
					stats.BonusesPaid += job.Severity.Bonus()
				}
			}
		}
	}
	for w := range registry.Filter(snap.Workers, zone) {
		switch w.Role {
		case models.RoleSenior:
			stats.SeniorWorkers++
		default:
			stats.Workers++
		}
		if w.Availability == models.Free {
			stats.FreeWorkers++
		}
	}
	return stats, nil
}

// Earnings summarises a worker's salary, bonuses and quota progress.
func (e *Engine) Earnings(ctx context.Context, workerID string) (EarningsSummary, bool, error) {
	w, ok, err := e.workers.Find(ctx, workerID)
	if err != nil || !ok {
		return EarningsSummary{}, ok, err
	}
	profile := w.Role.Profile()
	sum := EarningsSummary{
		WorkerID:          w.ID,
		Role:              w.Role,
		Salary:            profile.Salary,
		BonusRate:         profile.BonusRate,
		DailyQuota:        profile.DailyQuota,
		CompletedToday:    w.CompletedToday,
		CompletedLifetime: w.CompletedLifetime,
		BonusTotal:        w.BonusTotal(),
		EarnedToday:       w.EarnedOn(e.now()),
	}
	if profile.DailyQuota > 0 {
		sum.QuotaPercent = w.CompletedToday * 100 / profile.DailyQuota
	}
	sum.Projected = sum.Salary + sum.BonusTotal
	return sum, true, nil
}

func sameDay(a, b time.Time) bool {
	a = a.In(b.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

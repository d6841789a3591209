package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Availability is a worker's dispatch state.
type Availability string

const (
	Free Availability = "free"
	Busy Availability = "busy"
)

// Role is the worker tier. It only affects salary, quota and bonus-rate constants.
type Role string

const (
	RoleWorker Role = "worker"
	RoleSenior Role = "senior-worker"
)

// EarningKind distinguishes volunteer bonuses from salary postings.
type EarningKind string

const (
	EarningBonus  EarningKind = "bonus"
	EarningSalary EarningKind = "salary"
)

var ErrWorkerBusy = errors.New("worker is busy")

// RoleProfile carries the fixed constants of a role.
type RoleProfile struct {
	Salary     int64 `json:"salary"`
	DailyQuota int   `json:"daily_quota"`
	BonusRate  int64 `json:"bonus_rate"`
}

var roleProfiles = map[Role]RoleProfile{
	RoleWorker: {Salary: 15000, DailyQuota: 5, BonusRate: 200},
	RoleSenior: {Salary: 20000, DailyQuota: 4, BonusRate: 300},
}

// ParseRole accepts "worker" or "senior-worker" (also "senior").
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "worker", "":
		return RoleWorker, nil
	case "senior-worker", "senior":
		return RoleSenior, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Profile returns the constants for r.
func (r Role) Profile() RoleProfile {
	if p, ok := roleProfiles[r]; ok {
		return p
	}
	return roleProfiles[RoleWorker]
}

// EarningRecord is an append-only ledger entry.
type EarningRecord struct {
	Date   time.Time   `json:"date" yaml:"date"`
	JobID  string      `json:"job_id" yaml:"job_id"`
	Amount int64       `json:"amount" yaml:"amount"`
	Kind   EarningKind `json:"kind" yaml:"kind"`
}

// Worker is a dispatchable field agent.
type Worker struct {
	ID                string          `json:"id" yaml:"id"`
	Name              string          `json:"name" yaml:"name"`
	Zone              string          `json:"zone" yaml:"zone"`
	Role              Role            `json:"role" yaml:"role"`
	Availability      Availability    `json:"availability" yaml:"availability"`
	CompletedToday    int             `json:"completed_today" yaml:"completed_today"`
	CompletedLifetime int             `json:"completed_lifetime" yaml:"completed_lifetime"`
	Earnings          []EarningRecord `json:"earnings" yaml:"earnings"`
	CreatedAt         time.Time       `json:"created_at" yaml:"created_at"`
}

// MarkBusy claims the worker for a job.
func (w Worker) MarkBusy() (Worker, error) {
	if w.Availability == Busy {
		return w, ErrWorkerBusy
	}
	w.Availability = Busy
	return w, nil
}

// RecordCompletion bumps both counters and appends the earning.
func (w Worker) RecordCompletion(e EarningRecord) Worker {
	w.CompletedToday++
	w.CompletedLifetime++
	w.Earnings = append(w.Clone().Earnings, e)
	return w
}

// Clone returns a copy whose earnings slice is not shared with w.
func (w Worker) Clone() Worker {
	if w.Earnings != nil {
		earnings := make([]EarningRecord, len(w.Earnings))
		copy(earnings, w.Earnings)
		w.Earnings = earnings
	}
	return w
}

// BonusTotal sums all bonus earnings.
func (w Worker) BonusTotal() int64 {
	var total int64
	for _, e := range w.Earnings {
		if e.Kind == EarningBonus {
			total += e.Amount
		}
	}
	return total
}

// EarnedOn sums earnings posted on the calendar day of day, in day's location.
func (w Worker) EarnedOn(day time.Time) int64 {
	y, m, d := day.Date()
	var total int64
	for _, e := range w.Earnings {
		ey, em, ed := e.Date.In(day.Location()).Date()
		if ey == y && em == m && ed == d {
			total += e.Amount
		}
	}
	return total
}

// Package timer derives the handling window of accepted jobs and schedules the
// deferred release of workers whose window expires.
package timer

import (
	"time"

	"dumpsite-dispatch/internal/models"
)

// Projection is the countdown state of an accepted job at one instant.
// When Overtime is set, RemainingSeconds counts up from the deadline instead of down to it.
type Projection struct {
	DurationMinutes  int   `json:"duration_minutes"`
	ElapsedSeconds   int64 `json:"elapsed_seconds"`
	RemainingSeconds int64 `json:"remaining_seconds"`
	Overtime         bool  `json:"overtime"`
}

// Project computes elapsed and remaining whole seconds for a window of minutes started at start.
func Project(start time.Time, minutes int, now time.Time) Projection {
	elapsed := int64(now.Sub(start) / time.Second)
	remaining := int64(minutes)*60 - elapsed
	p := Projection{DurationMinutes: minutes, ElapsedSeconds: elapsed}
	if remaining <= 0 {
		p.Overtime = true
		p.RemainingSeconds = -remaining
		return p
	}
	p.RemainingSeconds = remaining
	return p
}

// ProjectJob projects an accepted job. It reports false for jobs that have no running timer.
func ProjectJob(job models.Job, now time.Time) (Projection, bool) {
	if job.Status != models.StatusAccepted || job.TimerStartedAt == nil || job.TimerMinutes <= 0 {
		return Projection{}, false
	}
	return Project(*job.TimerStartedAt, job.TimerMinutes, now), true
}

// Deadline is the instant an accepted job's window closes.
func Deadline(job models.Job) (time.Time, bool) {
	if job.TimerStartedAt == nil || job.TimerMinutes <= 0 {
		return time.Time{}, false
	}
	return job.TimerStartedAt.Add(time.Duration(job.TimerMinutes) * time.Minute), true
}

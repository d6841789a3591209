package models

import (
	"errors"
	"testing"
	"time"
)

func TestJobAcceptStartsTierWindow(t *testing.T) {
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	for sev, want := range map[Severity]int{SeverityLow: 60, SeverityMedium: 120, SeverityHigh: 240} {
		job, err := Job{ID: "j", Status: StatusPending, Severity: sev}.Accept("w", "Wan", now)
		if err != nil {
			t.Fatalf("%s: accept: %v", sev, err)
		}
		if job.TimerMinutes != want {
			t.Fatalf("%s: expected %d minute window, got %d", sev, want, job.TimerMinutes)
		}
		if !job.Consistent() {
			t.Fatalf("%s: accepted job inconsistent: %+v", sev, job)
		}
	}
}

func TestJobRejectsUnknownSeverity(t *testing.T) {
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	pending := Job{ID: "j", Status: StatusPending, Severity: "catastrophic"}
	got, err := pending.Accept("w", "Wan", now)
	if !errors.Is(err, ErrUnknownSeverity) {
		t.Fatalf("expected ErrUnknownSeverity on accept, got %v", err)
	}
	if got.Status != StatusPending || got.TimerMinutes != 0 {
		t.Fatalf("rejected accept changed the job: %+v", got)
	}

	accepted := Job{ID: "j", Status: StatusAccepted, Severity: "catastrophic", AssigneeID: "w", AcceptedAt: &now, TimerStartedAt: &now, TimerMinutes: 60}
	if _, err := accepted.Complete("w", now); !errors.Is(err, ErrUnknownSeverity) {
		t.Fatalf("expected ErrUnknownSeverity on complete, got %v", err)
	}
	if b := Severity("catastrophic").Bonus(); b != 0 {
		t.Fatalf("unknown tier must not earn a bonus, got %d", b)
	}
}

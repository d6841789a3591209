package models

import (
	"fmt"
	"strings"
	"time"
)

// Severity is the classifier-assigned bucket driving vehicle, timer and bonus.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Vehicle is the truck class dispatched for a job.
type Vehicle string

const (
	VehicleSmall Vehicle = "small"
	VehicleLarge Vehicle = "large"
)

type tierPolicy struct {
	timerMinutes int
	bonus        int64
}

// tiers is the single table behind both the handling window and the completion bonus.
var tiers = map[Severity]tierPolicy{
	SeverityLow:    {timerMinutes: 60, bonus: 200},
	SeverityMedium: {timerMinutes: 120, bonus: 300},
	SeverityHigh:   {timerMinutes: 240, bonus: 500},
}

// ParseSeverity accepts low, medium or high in any case.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := tiers[sev]; !ok {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// Valid reports whether s is a known tier.
func (s Severity) Valid() bool {
	_, ok := tiers[s]
	return ok
}

// TimerMinutes returns the handling window for the tier, or 0 for an unknown tier.
func (s Severity) TimerMinutes() int {
	return tiers[s].timerMinutes
}

// TimerDuration is TimerMinutes as a time.Duration.
func (s Severity) TimerDuration() time.Duration {
	return time.Duration(s.TimerMinutes()) * time.Minute
}

// Bonus returns the completion bonus in currency units, or 0 for an unknown tier.
func (s Severity) Bonus() int64 {
	return tiers[s].bonus
}

// VehicleFor maps a tier to the truck class: only high-severity sites need a large vehicle.
func VehicleFor(s Severity) Vehicle {
	if s == SeverityHigh {
		return VehicleLarge
	}
	return VehicleSmall
}

package models

import (
	"errors"
	"time"
)

// JobStatus enumerates lifecycle states. Transitions only move forward.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusAccepted  JobStatus = "accepted"
	StatusCompleted JobStatus = "completed"
)

var (
	ErrNotPending  = errors.New("job is not pending")
	ErrNotAssignee = errors.New("job is not assigned to this worker")
	ErrNotAccepted = errors.New("job is not accepted")

	// ErrUnknownSeverity refuses a transition whose window or bonus would be undefined.
	ErrUnknownSeverity = errors.New("job has unknown severity")
)

// Location is the geolocation of a reported dump site.
type Location struct {
	Lat     float64 `json:"lat" yaml:"lat"`
	Lng     float64 `json:"lng" yaml:"lng"`
	Address string  `json:"address" yaml:"address"`
}

// Job represents one reported dump site and its handling.
type Job struct {
	ID              string    `json:"id" yaml:"id"`
	ReporterName    string    `json:"reporter_name" yaml:"reporter_name"`
	ReporterContact string    `json:"reporter_contact,omitempty" yaml:"reporter_contact,omitempty"`
	Location        Location  `json:"location" yaml:"location"`
	Description     string    `json:"description" yaml:"description"`
	ImageRef        string    `json:"image_ref" yaml:"image_ref"`
	ThumbnailRef    string    `json:"thumbnail_ref,omitempty" yaml:"thumbnail_ref,omitempty"`
	Zone            string    `json:"zone" yaml:"zone"`
	Severity        Severity  `json:"severity" yaml:"severity"`
	Vehicle         Vehicle   `json:"vehicle" yaml:"vehicle"`
	Confidence      float64   `json:"confidence" yaml:"confidence"`
	Status          JobStatus `json:"status" yaml:"status"`
	CreatedAt       time.Time `json:"created_at" yaml:"created_at"`

	AssigneeID     string     `json:"assignee_id,omitempty" yaml:"assignee_id,omitempty"`
	AssigneeName   string     `json:"assignee_name,omitempty" yaml:"assignee_name,omitempty"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty" yaml:"accepted_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	TimerMinutes   int        `json:"timer_minutes,omitempty" yaml:"timer_minutes,omitempty"`
	TimerStartedAt *time.Time `json:"timer_started_at,omitempty" yaml:"timer_started_at,omitempty"`
	BonusPaid      bool       `json:"bonus_paid" yaml:"bonus_paid"`
}

// Accept moves a pending job to accepted for the given worker, arming the timer fields.
func (j Job) Accept(workerID, workerName string, now time.Time) (Job, error) {
	if j.Status != StatusPending {
		return j, ErrNotPending
	}
	if !j.Severity.Valid() {
		return j, ErrUnknownSeverity
	}
	at := now.UTC()
	j.Status = StatusAccepted
	j.AssigneeID = workerID
	j.AssigneeName = workerName
	j.AcceptedAt = &at
	j.TimerMinutes = j.Severity.TimerMinutes()
	j.TimerStartedAt = &at
	return j, nil
}

// Complete closes an accepted job held by workerID.
func (j Job) Complete(workerID string, now time.Time) (Job, error) {
	if j.AssigneeID == "" || j.AssigneeID != workerID {
		return j, ErrNotAssignee
	}
	if j.Status != StatusAccepted {
		return j, ErrNotAccepted
	}
	if !j.Severity.Valid() {
		return j, ErrUnknownSeverity
	}
	at := now.UTC()
	j.Status = StatusCompleted
	j.CompletedAt = &at
	j.BonusPaid = true
	return j, nil
}

// Consistent reports whether the lifecycle fields agree with the status.
func (j Job) Consistent() bool {
	assigned := j.AssigneeID != "" && j.AcceptedAt != nil && j.TimerMinutes > 0 && j.TimerStartedAt != nil
	switch j.Status {
	case StatusPending:
		return j.AssigneeID == "" && j.AcceptedAt == nil && j.TimerStartedAt == nil && j.CompletedAt == nil
	case StatusAccepted:
		return assigned && j.CompletedAt == nil
	case StatusCompleted:
		return assigned && j.CompletedAt != nil
	default:
		return false
	}
}

// Clone returns a copy that shares no pointers with j.
func (j Job) Clone() Job {
	j.AcceptedAt = cloneTime(j.AcceptedAt)
	j.CompletedAt = cloneTime(j.CompletedAt)
	j.TimerStartedAt = cloneTime(j.TimerStartedAt)
	return j
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

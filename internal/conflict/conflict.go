// Package conflict decides whether a candidate time collides with booked or
// blocked time, and ranks the collisions of a proposed booking for preview.
package conflict

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling-engine/internal/schedule"
	"github.com/hackgods/clinic-scheduling-engine/internal/timeslot"
)

// HasConflict reports whether candidate overlaps any blocking interval.
func HasConflict(candidate timeslot.Interval, blocking []timeslot.Interval) bool {
	for _, b := range blocking {
		if timeslot.Overlaps(candidate, b) {
			return true
		}
	}
	return false
}

type Kind string

const (
	KindPastTime     Kind = "past_appointment"
	KindAppointment  Kind = "appointment_conflict"
	KindException    Kind = "exception_conflict"
	KindOutsideHours Kind = "outside_default_availability"
	KindResource     Kind = "resource_conflict"
)

// priority: lower ranks first.
var priority = map[Kind]int{
	KindPastTime:     0,
	KindAppointment:  1,
	KindException:    2,
	KindOutsideHours: 3,
	KindResource:     4,
}

type Finding struct {
	Kind          Kind       `json:"type"`
	Detail        string     `json:"detail"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	ExceptionID   *uuid.UUID `json:"exception_id,omitempty"`
	Reason        string     `json:"reason,omitempty"`
}

type Report struct {
	HasConflict bool      `json:"has_conflict"`
	Primary     Kind      `json:"conflict_type,omitempty"`
	Findings    []Finding `json:"conflicts"`
}

// Input is a proposed booking and the day it lands on.
type Input struct {
	Candidate timeslot.Interval
	Date      time.Time
	Now       time.Time
	Working   []timeslot.Interval
	Events    schedule.DailyEvents
	// Resource findings are produced by the resource allocator and merged in.
	Resource []Finding
}

// Evaluate collects every collision of in and ranks them.
func Evaluate(in Input) Report {
	var findings []Finding

	if in.Candidate.Start.On(in.Date).Before(in.Now) {
		findings = append(findings, Finding{
			Kind:   KindPastTime,
			Detail: fmt.Sprintf("%s on %s is in the past", in.Candidate.Start, in.Date.Format(time.DateOnly)),
		})
	}

	for _, b := range in.Events.Booked {
		if timeslot.Overlaps(in.Candidate, b.Interval()) {
			id := b.AppointmentID
			findings = append(findings, Finding{
				Kind:          KindAppointment,
				Detail:        fmt.Sprintf("overlaps appointment %s", b.Interval()),
				AppointmentID: &id,
			})
		}
	}

	for _, e := range in.Events.Exceptions {
		if timeslot.Overlaps(in.Candidate, e.Interval()) {
			id := e.ID
			findings = append(findings, Finding{
				Kind:        KindException,
				Detail:      fmt.Sprintf("overlaps exception %s", e.Interval()),
				ExceptionID: &id,
				Reason:      e.Reason,
			})
		}
	}

	if !timeslot.ContainedInAny(in.Working, in.Candidate) {
		findings = append(findings, Finding{
			Kind:   KindOutsideHours,
			Detail: fmt.Sprintf("%s is outside default availability", in.Candidate),
		})
	}

	findings = append(findings, in.Resource...)
	return Rank(findings)
}

// Rank orders findings by the fixed priority
// past-time > appointment > exception > outside-hours > resource.
func Rank(findings []Finding) Report {
	sorted := make([]Finding, len(findings))
	copy(sorted, findings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return priority[sorted[i].Kind] < priority[sorted[j].Kind]
	})

	r := Report{Findings: sorted}
	if len(sorted) > 0 {
		r.HasConflict = true
		r.Primary = sorted[0].Kind
	}
	return r
}

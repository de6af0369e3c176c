// Package schedule holds the dated scheduling values the engine works on:
// recurring weekly availability, one-off exceptions, booked slots and
// candidate slots, plus the per-date Snapshot fetched once per request.
package schedule

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling-engine/internal/timeslot"
)

// AvailabilityInterval is a recurring weekly working range for a practitioner
// at a clinic. Several may exist per day; overlap is not enforced.
type AvailabilityInterval struct {
	ID             uuid.UUID
	PractitionerID uuid.UUID
	ClinicID       uuid.UUID
	DayOfWeek      time.Weekday
	Start          timeslot.Clock
	End            timeslot.Clock
}

func (a AvailabilityInterval) Interval() timeslot.Interval {
	return timeslot.Interval{Start: a.Start, End: a.End}
}

// ScheduleException blocks part of one date for a practitioner.
type ScheduleException struct {
	ID             uuid.UUID
	PractitionerID uuid.UUID
	ClinicID       uuid.UUID
	Date           time.Time
	Start          timeslot.Clock
	End            timeslot.Clock
	Reason         string
}

func (e ScheduleException) Interval() timeslot.Interval {
	return timeslot.Interval{Start: e.Start, End: e.End}
}

// BookedSlot is the time footprint of a confirmed appointment.
type BookedSlot struct {
	AppointmentID  uuid.UUID
	PractitionerID uuid.UUID
	Date           time.Time
	Start          timeslot.Clock
	End            timeslot.Clock
}

func (b BookedSlot) Interval() timeslot.Interval {
	return timeslot.Interval{Start: b.Start, End: b.End}
}

// DailyEvents are the blocking events of one practitioner on one date.
type DailyEvents struct {
	Exceptions []ScheduleException
	Booked     []BookedSlot
}

// Blocking returns exceptions and booked slots as plain intervals.
func (d DailyEvents) Blocking() []timeslot.Interval {
	out := make([]timeslot.Interval, 0, len(d.Exceptions)+len(d.Booked))
	for _, e := range d.Exceptions {
		out = append(out, e.Interval())
	}
	for _, b := range d.Booked {
		out = append(out, b.Interval())
	}
	return out
}

func (d DailyEvents) ExceptionIntervals() []timeslot.Interval {
	out := make([]timeslot.Interval, 0, len(d.Exceptions))
	for _, e := range d.Exceptions {
		out = append(out, e.Interval())
	}
	return out
}

func (d DailyEvents) BookedIntervals() []timeslot.Interval {
	out := make([]timeslot.Interval, 0, len(d.Booked))
	for _, b := range d.Booked {
		out = append(out, b.Interval())
	}
	return out
}

// Slot is a candidate [Start, End) window on Date for a practitioner.
type Slot struct {
	PractitionerID uuid.UUID      `json:"practitioner_id"`
	Date           time.Time      `json:"-"`
	Start          timeslot.Clock `json:"start"`
	End            timeslot.Clock `json:"end"`
	Recommended    bool           `json:"recommended,omitempty"`
}

func (s Slot) Interval() timeslot.Interval {
	return timeslot.Interval{Start: s.Start, End: s.End}
}

func (s Slot) StartAt() time.Time { return s.Start.On(s.Date) }
func (s Slot) EndAt() time.Time   { return s.End.On(s.Date) }

// DateOf truncates t to midnight of its calendar day in its own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SameDate reports whether a and b fall on the same calendar day, each read
// in its own location.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

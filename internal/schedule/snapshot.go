package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling-engine/internal/timeslot"
)

// Store is the read side the engine needs from persistence.
type Store interface {
	ListAvailabilityIntervals(ctx context.Context, clinicID uuid.UUID, practitionerIDs []uuid.UUID, day time.Weekday) ([]AvailabilityInterval, error)
	// ListDailyEvents returns exceptions and confirmed appointments on date,
	// keyed by practitioner. excludeAppointmentID, when set, is left out.
	ListDailyEvents(ctx context.Context, clinicID uuid.UUID, practitionerIDs []uuid.UUID, date time.Time, excludeAppointmentID *uuid.UUID) (map[uuid.UUID]DailyEvents, error)
	CountConfirmedAppointments(ctx context.Context, clinicID uuid.UUID, practitionerIDs []uuid.UUID, date time.Time) (map[uuid.UUID]int, error)
}

// Snapshot is everything the engine reads for a set of practitioners on one
// date. It is fetched once per request and passed down explicitly.
type Snapshot struct {
	ClinicID  uuid.UUID
	Date      time.Time
	Intervals map[uuid.UUID][]AvailabilityInterval
	Events    map[uuid.UUID]DailyEvents
}

// LoadSnapshot batch-fetches availability and events for practitionerIDs on date.
func LoadSnapshot(ctx context.Context, store Store, clinicID uuid.UUID, practitionerIDs []uuid.UUID, date time.Time, excludeAppointmentID *uuid.UUID) (*Snapshot, error) {
	date = DateOf(date)
	snap := &Snapshot{
		ClinicID:  clinicID,
		Date:      date,
		Intervals: make(map[uuid.UUID][]AvailabilityInterval),
		Events:    make(map[uuid.UUID]DailyEvents),
	}
	if len(practitionerIDs) == 0 {
		return snap, nil
	}

	intervals, err := store.ListAvailabilityIntervals(ctx, clinicID, practitionerIDs, date.Weekday())
	if err != nil {
		return nil, fmt.Errorf("list availability intervals: %w", err)
	}
	for _, iv := range intervals {
		snap.Intervals[iv.PractitionerID] = append(snap.Intervals[iv.PractitionerID], iv)
	}

	events, err := store.ListDailyEvents(ctx, clinicID, practitionerIDs, date, excludeAppointmentID)
	if err != nil {
		return nil, fmt.Errorf("list daily events: %w", err)
	}
	for id, ev := range events {
		snap.Events[id] = ev
	}

	return snap, nil
}

// WorkingIntervals returns the default availability of a practitioner on the
// snapshot date.
func (s *Snapshot) WorkingIntervals(practitionerID uuid.UUID) []timeslot.Interval {
	rows := s.Intervals[practitionerID]
	out := make([]timeslot.Interval, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Interval())
	}
	return out
}

func (s *Snapshot) EventsFor(practitionerID uuid.UUID) DailyEvents {
	return s.Events[practitionerID]
}

// WithinHours reports whether iv fits inside one of the practitioner's
// availability intervals.
func (s *Snapshot) WithinHours(practitionerID uuid.UUID, iv timeslot.Interval) bool {
	return timeslot.ContainedInAny(s.WorkingIntervals(practitionerID), iv)
}

// Package availability generates bookable slots from a schedule snapshot.
// Everything here is pure and safe for concurrent use; the caller fetches
// the snapshot and resource plan up front.
package availability

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling-engine/internal/conflict"
	"github.com/hackgods/clinic-scheduling-engine/internal/policy"
	"github.com/hackgods/clinic-scheduling-engine/internal/resource"
	"github.com/hackgods/clinic-scheduling-engine/internal/schedule"
	"github.com/hackgods/clinic-scheduling-engine/internal/timeslot"
)

// Editing describes the appointment being rescheduled, when there is one.
// The snapshot and resource plan must already exclude it.
type Editing struct {
	AppointmentID   uuid.UUID
	PractitionerID  uuid.UUID
	Start           timeslot.Clock
	DurationMinutes int
}

type Request struct {
	PractitionerIDs []uuid.UUID
	DurationMinutes int
	// StepMinutes is the slot granularity; Steps overrides it per practitioner.
	StepMinutes int
	Steps       map[uuid.UUID]int
	// Override skips the conflict filter and the past-time filter.
	Override bool
	// Resources, when set, drops candidates whose resource needs cannot be met.
	Resources *resource.Plan
	Editing   *Editing
	Now       time.Time
}

func (r Request) step(practitionerID uuid.UUID) int {
	if s := r.Steps[practitionerID]; s > 0 {
		return s
	}
	if r.StepMinutes > 0 {
		return r.StepMinutes
	}
	return policy.DefaultStepSizeMinutes
}

// ComputeSlots returns the candidate slots of every practitioner in
// req.PractitionerIDs on the snapshot date, grouped by practitioner in input
// order and sorted by start within each group.
func ComputeSlots(snap *schedule.Snapshot, req Request) []schedule.Slot {
	if req.DurationMinutes <= 0 {
		return nil
	}
	var out []schedule.Slot
	for _, id := range req.PractitionerIDs {
		out = append(out, practitionerSlots(snap, req, id)...)
	}
	return out
}

// ComputeSlotsForClinic is ComputeSlots deduplicated by start time and sorted.
// The practitioner of each slot is a representative only.
func ComputeSlotsForClinic(snap *schedule.Snapshot, req Request) []schedule.Slot {
	return DedupByStart(ComputeSlots(snap, req))
}

// DedupByStart keeps the first slot seen for each start time and sorts the
// survivors by start.
func DedupByStart(slots []schedule.Slot) []schedule.Slot {
	seen := make(map[timeslot.Clock]bool, len(slots))
	out := make([]schedule.Slot, 0, len(slots))
	for _, s := range slots {
		if seen[s.Start] {
			continue
		}
		seen[s.Start] = true
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func practitionerSlots(snap *schedule.Snapshot, req Request, id uuid.UUID) []schedule.Slot {
	working := snap.WorkingIntervals(id)
	ownsEditing := req.Editing != nil && req.Editing.PractitionerID == id
	if len(working) == 0 && !ownsEditing {
		return nil
	}
	blocking := snap.EventsFor(id).Blocking()
	step := req.step(id)

	seen := make(map[timeslot.Clock]bool)
	var out []schedule.Slot
	keep := func(iv timeslot.Interval) bool {
		if !req.Override && conflict.HasConflict(iv, blocking) {
			return false
		}
		if !req.Override && !req.Now.IsZero() && iv.Start.On(snap.Date).Before(req.Now) {
			return false
		}
		if req.Resources != nil {
			rng := resource.TimeRange{Start: iv.Start.On(snap.Date), End: iv.End.On(snap.Date)}
			if !req.Resources.Evaluate(rng, nil).IsAvailable {
				return false
			}
		}
		return true
	}

	for _, w := range working {
		cursor := timeslot.RoundUpToStep(w.Start, step)
		for {
			end := cursor.Add(req.DurationMinutes)
			if end > w.End || end <= cursor {
				break
			}
			iv := timeslot.Interval{Start: cursor, End: end}
			if !seen[cursor] && keep(iv) {
				seen[cursor] = true
				out = append(out, schedule.Slot{PractitionerID: id, Date: snap.Date, Start: iv.Start, End: iv.End})
			}
			next := cursor.Add(step)
			if next <= cursor {
				break
			}
			cursor = next
		}
	}

	if e := req.Editing; e != nil && e.DurationMinutes == req.DurationMinutes && !seen[e.Start] {
		iv := timeslot.NewInterval(e.Start, e.DurationMinutes)
		if ownsEditing || (timeslot.ContainedInAny(working, iv) && keep(iv)) {
			out = append(out, schedule.Slot{PractitionerID: id, Date: snap.Date, Start: iv.Start, End: iv.End})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// ApplyBookingRestrictions drops slots a patient may not book at now: past
// slots, slots beyond the booking window and slots failing the lead-time
// rule. Staff callers skip this step.
func ApplyBookingRestrictions(slots []schedule.Slot, p policy.BookingPolicy, now time.Time) []schedule.Slot {
	out := make([]schedule.Slot, 0, len(slots))
	for _, s := range slots {
		start := s.StartAt()
		if start.Before(now) {
			continue
		}
		if policy.ValidateNewBooking(p, start, now) != nil {
			continue
		}
		out = append(out, s)
	}
	return out
}

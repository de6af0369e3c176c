package availability

import (
	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling-engine/internal/schedule"
	"github.com/hackgods/clinic-scheduling-engine/internal/timeslot"
)

// RecommendCompact marks, for each booked interval, the nearest free slot
// before and after it within the same working block. Working blocks are the
// default availability minus exceptions. When nothing or everything would be
// marked the result carries no recommendations.
func RecommendCompact(working, exceptions, booked []timeslot.Interval, free []schedule.Slot) []schedule.Slot {
	out := make([]schedule.Slot, len(free))
	copy(out, free)
	for i := range out {
		out[i].Recommended = false
	}

	blocks := timeslot.Subtract(working, exceptions)
	marked := make(map[int]bool)
	for _, b := range booked {
		block, ok := blockOf(blocks, b)
		if !ok {
			continue
		}
		before, after := -1, -1
		for i, s := range out {
			iv := s.Interval()
			if !timeslot.Contains(block, iv) {
				continue
			}
			if iv.End <= b.Start && (before < 0 || iv.End > out[before].End) {
				before = i
			}
			if iv.Start >= b.End && (after < 0 || iv.Start < out[after].Start) {
				after = i
			}
		}
		if before >= 0 {
			marked[before] = true
		}
		if after >= 0 {
			marked[after] = true
		}
	}

	if len(marked) == 0 || len(marked) == len(out) {
		return out
	}
	for i := range marked {
		out[i].Recommended = true
	}
	return out
}

func blockOf(blocks []timeslot.Interval, iv timeslot.Interval) (timeslot.Interval, bool) {
	for _, b := range blocks {
		if timeslot.Contains(b, iv) {
			return b, true
		}
	}
	return timeslot.Interval{}, false
}

// Recommend applies RecommendCompact to the slots of every practitioner for
// whom enabled returns true. Slot order is preserved.
func Recommend(snap *schedule.Snapshot, slots []schedule.Slot, enabled func(uuid.UUID) bool) []schedule.Slot {
	groups := make(map[uuid.UUID][]int)
	var order []uuid.UUID
	for i, s := range slots {
		if _, ok := groups[s.PractitionerID]; !ok {
			order = append(order, s.PractitionerID)
		}
		groups[s.PractitionerID] = append(groups[s.PractitionerID], i)
	}

	out := make([]schedule.Slot, len(slots))
	copy(out, slots)
	for _, id := range order {
		if !enabled(id) {
			continue
		}
		idx := groups[id]
		free := make([]schedule.Slot, len(idx))
		for k, i := range idx {
			free[k] = out[i]
		}
		events := snap.EventsFor(id)
		marked := RecommendCompact(snap.WorkingIntervals(id), events.ExceptionIntervals(), events.BookedIntervals(), free)
		for k, i := range idx {
			out[i] = marked[k]
		}
	}
	return out
}

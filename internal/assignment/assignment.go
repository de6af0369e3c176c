// Package assignment picks the practitioner who serves a booking.
package assignment

import (
	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling-engine/internal/apperror"
)

var (
	ErrPractitionerNotFound    = apperror.New(apperror.KindNotFound, "practitioner_not_found", "practitioner not found or not qualified for this appointment type")
	ErrSlotUnavailable         = apperror.New(apperror.KindConflict, "slot_unavailable", "requested time is not available for this practitioner")
	ErrNoAvailablePractitioner = apperror.New(apperror.KindConflict, "no_available_practitioner", "no practitioner is available at the requested time")
)

// AvailabilityCheck reports whether a practitioner can take the slot being
// booked. Callers in override mode pass a check that always succeeds.
type AvailabilityCheck func(practitionerID uuid.UUID) bool

type Request struct {
	// Requested is the practitioner asked for; nil means auto-assign.
	Requested *uuid.UUID
	// Candidates are the practitioners qualified for the appointment type,
	// in their stable listing order.
	Candidates []uuid.UUID
	Available  AvailabilityCheck
	// Loads is the same-day confirmed appointment count per practitioner.
	// Missing entries count as zero.
	Loads map[uuid.UUID]int
	// Previous is the practitioner currently holding a rescheduled
	// appointment, when that appointment was originally auto-assigned.
	Previous *uuid.UUID
}

type Decision struct {
	PractitionerID uuid.UUID
	AutoAssigned   bool
	KeptPrevious   bool
}

// Resolve applies the assignment policy:
//   - an explicit request must be qualified and available;
//   - auto-assignment first keeps Previous when it is still available, then
//     picks the available candidate with the lowest load, earliest in
//     Candidates on ties.
func Resolve(req Request) (Decision, error) {
	if req.Requested != nil {
		id := *req.Requested
		if !contains(req.Candidates, id) {
			return Decision{}, ErrPractitionerNotFound
		}
		if !req.Available(id) {
			return Decision{}, ErrSlotUnavailable
		}
		return Decision{PractitionerID: id}, nil
	}

	if req.Previous != nil && contains(req.Candidates, *req.Previous) && req.Available(*req.Previous) {
		return Decision{PractitionerID: *req.Previous, AutoAssigned: true, KeptPrevious: true}, nil
	}

	var (
		best     uuid.UUID
		bestLoad int
		found    bool
	)
	for _, id := range req.Candidates {
		if !req.Available(id) {
			continue
		}
		load := req.Loads[id]
		if !found || load < bestLoad {
			best, bestLoad, found = id, load, true
		}
	}
	if !found {
		return Decision{}, ErrNoAvailablePractitioner
	}
	return Decision{PractitionerID: best, AutoAssigned: true}, nil
}

func contains(ids []uuid.UUID, id uuid.UUID) bool {
	for _, c := range ids {
		if c == id {
			return true
		}
	}
	return false
}

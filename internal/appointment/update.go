package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling-engine/internal/policy"
	"github.com/hackgods/clinic-scheduling-engine/internal/resource"
	"github.com/hackgods/clinic-scheduling-engine/internal/schedule"
	"github.com/hackgods/clinic-scheduling-engine/internal/timeslot"
)

// UpdateRequest changes an appointment. Nil fields are left unchanged.
type UpdateRequest struct {
	ClinicID          uuid.UUID
	AppointmentID     uuid.UUID
	PractitionerID    *uuid.UUID
	AutoAssign        bool
	StartTime         *time.Time
	AppointmentTypeID *uuid.UUID
	// ConfirmTimeSlot picks one of the pending alternatives.
	ConfirmTimeSlot *time.Time
	// ResourceIDs replaces the allocation when non-nil. When nil and the time
	// or type changes, the current allocation is kept where still free and
	// topped up for required types it no longer covers.
	ResourceIDs []uuid.UUID
	Notes       *string
	Override    bool
}

// UpdateAppointment re-validates only what changed. Confirming a pending
// alternative clears the pending state; when staff confirm, an auto-assigned
// appointment also becomes visible to its practitioner.
func (s *Service) UpdateAppointment(ctx context.Context, actor Actor, req UpdateRequest) (*Result, error) {
	clinic, loc, err := s.loadClinic(ctx, req.ClinicID)
	if err != nil {
		return nil, err
	}
	now := s.now()

	current, err := s.repo.GetAppointment(ctx, clinic.ID, req.AppointmentID)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, current); err != nil {
		return nil, err
	}
	if current.Status.Canceled() {
		return nil, ErrAppointmentCanceled
	}
	if req.PractitionerID != nil && req.AutoAssign {
		return nil, ErrMissingField.WithDetail("practitioner_id and auto_assign are mutually exclusive")
	}

	typeID := current.AppointmentTypeID
	if req.AppointmentTypeID != nil {
		typeID = *req.AppointmentTypeID
	}
	apptType, err := s.repo.GetAppointmentType(ctx, clinic.ID, typeID)
	if err != nil {
		return nil, err
	}

	start := current.StartTime.In(loc)
	confirming := false
	switch {
	case req.ConfirmTimeSlot != nil:
		if !current.PendingTimeConfirmation {
			return nil, ErrNotPendingConfirmation
		}
		slot, ok := matchAlternative(current.AlternativeTimeSlots, *req.ConfirmTimeSlot)
		if !ok {
			return nil, ErrUnknownTimeSlot.WithDetail("%s is not one of the offered times", req.ConfirmTimeSlot.Format(time.RFC3339))
		}
		start = slot.In(loc)
		confirming = true
	case req.StartTime != nil:
		start = req.StartTime.In(loc)
	}

	date := schedule.DateOf(start)
	window := timeslot.NewInterval(timeslot.ClockOf(start), apptType.DurationMinutes)
	end := window.End.On(date)
	if window.Empty() {
		return nil, ErrEmptyTimeWindow.WithDetail("%s leaves no time before midnight", start.Format("15:04"))
	}

	timeChanged := !start.Equal(current.StartTime) || !end.Equal(current.EndTime)
	typeChanged := typeID != current.AppointmentTypeID
	practitionerRequested := req.AutoAssign || (req.PractitionerID != nil && *req.PractitionerID != current.PractitionerID)
	checkResources := timeChanged || typeChanged || req.ResourceIDs != nil
	revalidate := timeChanged || practitionerRequested || checkResources

	if !actor.IsStaff() && !confirming && (timeChanged || typeChanged || practitionerRequested) {
		if err := policy.ValidateCancellation(clinic.Policy, current.StartTime, now); err != nil {
			return nil, err
		}
		if timeChanged {
			if err := policy.ValidateNewBooking(clinic.Policy, start, now); err != nil {
				return nil, err
			}
		}
		if typeChanged && !apptType.AllowPatientBooking {
			return nil, ErrPatientBookingDisabled.WithDetail("%s cannot be booked online", apptType.Name)
		}
	}

	var requested *uuid.UUID
	switch {
	case req.PractitionerID != nil:
		requested = req.PractitionerID
	case req.AutoAssign:
		// nil asks for auto-assignment
	default:
		id := current.PractitionerID
		requested = &id
	}
	var previous *uuid.UUID
	if req.AutoAssign && current.OriginallyAutoAssigned {
		id := current.PractitionerID
		previous = &id
	}

	var p placement
	var keys []string
	if revalidate {
		members, err := s.candidates(ctx, actor, clinic.ID, typeID, requested)
		if err != nil {
			return nil, err
		}
		p = placement{
			clinicID:          clinic.ID,
			appointmentTypeID: typeID,
			candidates:        membershipIDs(members),
			requested:         requested,
			previous:          previous,
			date:              date,
			window:            window,
			exclude:           &current.ID,
			resourceIDs:       req.ResourceIDs,
			checkResources:    checkResources,
			override:          req.Override && actor.IsStaff(),
			now:               now,
		}
		if req.ResourceIDs == nil {
			p.carryFrom = &current.ID
		}
		if schedule.SameDate(current.StartTime.In(loc), date) {
			holder := current.PractitionerID
			p.holder = &holder
		}
		keys = p.lockKeys()
	}

	var res *Result
	err = s.locker.WithLock(ctx, keys, func(lockCtx context.Context) error {
		return s.repo.InTx(lockCtx, func(ctx context.Context, tx Repository) error {
			appt, err := tx.LockAppointment(ctx, clinic.ID, current.ID)
			if err != nil {
				return err
			}
			if appt.Status.Canceled() {
				return ErrAppointmentCanceled
			}
			if !appt.UpdatedAt.Equal(current.UpdatedAt) {
				return ErrAppointmentLocked.WithDetail("appointment changed concurrently, please retry")
			}
			hasReceipt, err := tx.HasReceipt(ctx, appt.ID)
			if err != nil {
				return fmt.Errorf("check receipt: %w", err)
			}
			if hasReceipt {
				return ErrReceiptExists
			}

			wasHidden := appt.IsAutoAssigned
			res = &Result{Event: EventAppointmentUpdated, TimeChanged: timeChanged}

			if revalidate {
				placed, err := s.place(ctx, tx, p)
				if err != nil {
					return err
				}
				res.Warnings = placed.warnings

				if placed.decision.PractitionerID != appt.PractitionerID {
					res.PractitionerChanged = true
					appt.PractitionerID = placed.decision.PractitionerID
					appt.IsAutoAssigned = placed.decision.AutoAssigned
					res.NewlyAutoAssigned = placed.decision.AutoAssigned
					if actor.IsStaff() {
						by, at := actor.UserID, now
						appt.ReassignedByUserID = &by
						appt.ReassignedAt = &at
					}
				}

				if checkResources {
					res.AllocatedResourceIDs, err = resource.NewAllocator(tx).Allocate(ctx, clinic.ID, appt.ID, placed.resourceIDs)
					if err != nil {
						return err
					}
				}
			}

			// Staff naming the current practitioner confirms the assignment.
			if actor.IsStaff() && req.PractitionerID != nil && *req.PractitionerID == appt.PractitionerID {
				appt.IsAutoAssigned = false
			}
			if confirming {
				appt.PendingTimeConfirmation = false
				appt.AlternativeTimeSlots = nil
				if actor.IsStaff() {
					appt.IsAutoAssigned = false
				}
			}

			appt.StartTime = start
			appt.EndTime = end
			appt.AppointmentTypeID = typeID
			if req.Notes != nil {
				appt.Notes = *req.Notes
			}
			appt.UpdatedAt = now
			if err := tx.UpdateAppointment(ctx, appt); err != nil {
				return fmt.Errorf("update appointment: %w", err)
			}

			res.Appointment = appt
			res.PractitionerID = appt.PractitionerID
			res.Effects = Effects{
				SendPatientConfirmation:    confirming,
				SendPractitionerAssignment: wasHidden && !appt.IsAutoAssigned && !res.PractitionerChanged,
				SendReassignmentNotice:     res.PractitionerChanged && !appt.IsAutoAssigned,
				SendTimeChangeNotice:       timeChanged && !confirming,
			}
			return nil
		})
	})
	if err != nil {
		return nil, lockError(err)
	}

	s.logger.Info("appointment updated",
		zap.String("appointment_id", res.Appointment.ID.String()),
		zap.Bool("time_changed", res.TimeChanged),
		zap.Bool("practitioner_changed", res.PractitionerChanged),
		zap.Bool("confirmed_time_slot", confirming),
	)
	return res, nil
}

func matchAlternative(alternatives []time.Time, t time.Time) (time.Time, bool) {
	for _, a := range alternatives {
		if a.Equal(t) {
			return a, true
		}
	}
	return time.Time{}, false
}

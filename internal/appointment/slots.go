package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling-engine/internal/assignment"
	"github.com/hackgods/clinic-scheduling-engine/internal/availability"
	"github.com/hackgods/clinic-scheduling-engine/internal/conflict"
	"github.com/hackgods/clinic-scheduling-engine/internal/policy"
	"github.com/hackgods/clinic-scheduling-engine/internal/resource"
	"github.com/hackgods/clinic-scheduling-engine/internal/schedule"
	"github.com/hackgods/clinic-scheduling-engine/internal/timeslot"
)

type SlotQuery struct {
	ClinicID          uuid.UUID
	AppointmentTypeID uuid.UUID
	PractitionerID    *uuid.UUID
	// Date is a calendar date; only its year, month and day are used and
	// they are read in the clinic's timezone.
	Date time.Time
	// EditingAppointmentID keeps that appointment's current slot selectable
	// and ignores its own footprint.
	EditingAppointmentID *uuid.UUID
	Override             bool
}

// PractitionerSlots lists one practitioner's bookable slots on a date.
func (s *Service) PractitionerSlots(ctx context.Context, actor Actor, q SlotQuery) ([]schedule.Slot, error) {
	if q.PractitionerID == nil {
		return nil, ErrMissingField.WithDetail("practitioner_id is required")
	}
	return s.slots(ctx, actor, q)
}

// ClinicSlots lists every distinct bookable start time across the qualified
// practitioners. The practitioner on each slot is only a representative.
func (s *Service) ClinicSlots(ctx context.Context, actor Actor, q SlotQuery) ([]schedule.Slot, error) {
	q.PractitionerID = nil
	slots, err := s.slots(ctx, actor, q)
	if err != nil {
		return nil, err
	}
	return availability.DedupByStart(slots), nil
}

func (s *Service) slots(ctx context.Context, actor Actor, q SlotQuery) ([]schedule.Slot, error) {
	if q.AppointmentTypeID == uuid.Nil || q.Date.IsZero() {
		return nil, ErrMissingField.WithDetail("appointment_type_id and date are required")
	}
	clinic, loc, err := s.loadClinic(ctx, q.ClinicID)
	if err != nil {
		return nil, err
	}
	apptType, err := s.repo.GetAppointmentType(ctx, clinic.ID, q.AppointmentTypeID)
	if err != nil {
		return nil, err
	}
	if !actor.IsStaff() && !apptType.AllowPatientBooking {
		return nil, ErrPatientBookingDisabled.WithDetail("%s cannot be booked online", apptType.Name)
	}

	members, err := s.candidates(ctx, actor, clinic.ID, apptType.ID, q.PractitionerID)
	if err != nil {
		return nil, err
	}
	if q.PractitionerID != nil {
		members = filterMembers(members, *q.PractitionerID)
		if len(members) == 0 {
			return nil, assignment.ErrPractitionerNotFound
		}
	}
	ids := membershipIDs(members)

	y, m, d := q.Date.Date()
	date := time.Date(y, m, d, 0, 0, 0, 0, loc)
	now := s.now()

	var editing *availability.Editing
	if q.EditingAppointmentID != nil {
		appt, err := s.GetAppointment(ctx, actor, clinic.ID, *q.EditingAppointmentID)
		if err != nil {
			return nil, err
		}
		local := appt.StartTime.In(loc)
		if schedule.SameDate(local, date) {
			editing = &availability.Editing{
				AppointmentID:   appt.ID,
				PractitionerID:  appt.PractitionerID,
				Start:           timeslot.ClockOf(local),
				DurationMinutes: int(appt.EndTime.Sub(appt.StartTime) / time.Minute),
			}
		}
	}

	snap, err := schedule.LoadSnapshot(ctx, s.repo, clinic.ID, ids, date, q.EditingAppointmentID)
	if err != nil {
		return nil, err
	}
	plan, err := resource.NewAllocator(s.repo).LoadPlan(ctx, resource.CheckRequest{
		AppointmentTypeID:    apptType.ID,
		ClinicID:             clinic.ID,
		Range:                resource.TimeRange{Start: date, End: date.AddDate(0, 0, 1)},
		ExcludeAppointmentID: q.EditingAppointmentID,
	})
	if err != nil {
		return nil, err
	}
	if !plan.Required() {
		plan = nil
	}

	steps := make(map[uuid.UUID]int, len(members))
	compact := make(map[uuid.UUID]bool, len(members))
	for _, mem := range members {
		steps[mem.UserID] = clinic.Policy.StepMinutes(mem.Settings)
		compact[mem.UserID] = clinic.Policy.CompactSchedule || mem.Settings.CompactSchedule
	}

	slots := availability.ComputeSlots(snap, availability.Request{
		PractitionerIDs: ids,
		DurationMinutes: apptType.DurationMinutes,
		StepMinutes:     clinic.Policy.StepSizeMinutes,
		Steps:           steps,
		Override:        q.Override && actor.IsStaff(),
		Resources:       plan,
		Editing:         editing,
		Now:             now,
	})
	if !actor.IsStaff() {
		slots = availability.ApplyBookingRestrictions(slots, clinic.Policy, now)
	}
	return availability.Recommend(snap, slots, func(id uuid.UUID) bool { return compact[id] }), nil
}

type ConflictCheck struct {
	ClinicID          uuid.UUID
	PractitionerID    uuid.UUID
	AppointmentTypeID uuid.UUID
	StartTime         time.Time
	// DurationMinutes overrides the appointment type's duration when > 0.
	DurationMinutes      int
	ExcludeAppointmentID *uuid.UUID
	ResourceIDs          []uuid.UUID
}

// CheckSchedulingConflicts previews every collision of a proposed booking
// without writing anything, ranked past-time first and resource last.
func (s *Service) CheckSchedulingConflicts(ctx context.Context, req ConflictCheck) (*conflict.Report, error) {
	if req.PractitionerID == uuid.Nil || req.AppointmentTypeID == uuid.Nil || req.StartTime.IsZero() {
		return nil, ErrMissingField.WithDetail("practitioner_id, appointment_type_id and start_time are required")
	}
	clinic, loc, err := s.loadClinic(ctx, req.ClinicID)
	if err != nil {
		return nil, err
	}
	apptType, err := s.repo.GetAppointmentType(ctx, clinic.ID, req.AppointmentTypeID)
	if err != nil {
		return nil, err
	}
	duration := apptType.DurationMinutes
	if req.DurationMinutes > 0 {
		duration = req.DurationMinutes
	}

	start := req.StartTime.In(loc)
	date := schedule.DateOf(start)
	window := timeslot.NewInterval(timeslot.ClockOf(start), duration)

	snap, err := schedule.LoadSnapshot(ctx, s.repo, clinic.ID, []uuid.UUID{req.PractitionerID}, date, req.ExcludeAppointmentID)
	if err != nil {
		return nil, err
	}

	avail, err := resource.NewAllocator(s.repo).CheckAvailability(ctx, resource.CheckRequest{
		AppointmentTypeID:    apptType.ID,
		ClinicID:             clinic.ID,
		Range:                resource.TimeRange{Start: window.Start.On(date), End: window.End.On(date)},
		SelectedResourceIDs:  req.ResourceIDs,
		ExcludeAppointmentID: req.ExcludeAppointmentID,
	})
	if err != nil {
		return nil, err
	}

	report := conflict.Evaluate(conflict.Input{
		Candidate: window,
		Date:      date,
		Now:       s.now(),
		Working:   snap.WorkingIntervals(req.PractitionerID),
		Events:    snap.EventsFor(req.PractitionerID),
		Resource:  avail.Findings(),
	})
	return &report, nil
}

func filterMembers(members []policy.ClinicMembership, id uuid.UUID) []policy.ClinicMembership {
	for _, m := range members {
		if m.UserID == id {
			return []policy.ClinicMembership{m}
		}
	}
	return nil
}

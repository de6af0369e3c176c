package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling-engine/internal/apperror"
	"github.com/hackgods/clinic-scheduling-engine/internal/assignment"
	"github.com/hackgods/clinic-scheduling-engine/internal/config"
	"github.com/hackgods/clinic-scheduling-engine/internal/conflict"
	"github.com/hackgods/clinic-scheduling-engine/internal/policy"
	redisclient "github.com/hackgods/clinic-scheduling-engine/internal/redis"
	"github.com/hackgods/clinic-scheduling-engine/internal/resource"
	"github.com/hackgods/clinic-scheduling-engine/internal/schedule"
	"github.com/hackgods/clinic-scheduling-engine/internal/timeslot"
)

var (
	ErrMissingField           = apperror.Validation("missing_field", "required field is missing")
	ErrSlotBeingBooked        = apperror.New(apperror.KindConflict, "slot_being_booked", "slot is currently being booked, please retry")
	ErrReceiptExists          = apperror.New(apperror.KindConflict, "receipt_exists", "appointment has a receipt and can no longer be changed")
	ErrAppointmentCanceled    = apperror.New(apperror.KindConflict, "appointment_canceled", "appointment is canceled")
	ErrNotPendingConfirmation = apperror.New(apperror.KindConflict, "not_pending_time_confirmation", "appointment has no pending time choices")
	ErrEmptyTimeWindow        = apperror.Validation("empty_time_window", "appointment must end after it starts")
	ErrUnknownTimeSlot        = apperror.Validation("unknown_time_slot", "time slot is not one of the appointment's alternatives")
	ErrPatientBookingDisabled = apperror.New(apperror.KindForbidden, "patient_booking_disabled", "online booking is not available")
	ErrNotOwner               = apperror.New(apperror.KindForbidden, "not_appointment_owner", "appointment belongs to another patient")
)

type Service struct {
	repo   Repository
	locker redisclient.Locker
	cfg    config.Config
	logger *zap.Logger
	now    func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Result is what a mutating operation returns. The caller hands it to
// PublishEffects after the operation has committed.
type Result struct {
	Appointment          *Appointment
	PractitionerID       uuid.UUID
	PractitionerChanged  bool
	TimeChanged          bool
	NewlyAutoAssigned    bool
	AlreadyCanceled      bool
	AllocatedResourceIDs []uuid.UUID
	// Warnings lists the conflicts a staff override booked through.
	Warnings []conflict.Finding
	Event    string
	Effects  Effects
}

type CreateRequest struct {
	ClinicID          uuid.UUID
	PatientID         uuid.UUID
	AppointmentTypeID uuid.UUID
	// PractitionerID nil means auto-assign.
	PractitionerID *uuid.UUID
	StartTime      time.Time
	// TentativeSlots with two or more entries books the earliest and keeps
	// all of them as alternatives pending confirmation.
	TentativeSlots []time.Time
	ResourceIDs    []uuid.UUID
	Notes          string
	Override       bool
}

// CreateAppointment books a confirmed appointment. The conflict re-check and
// the write run under per-practitioner-day locks and one transaction, so two
// racing requests for the same slot cannot both succeed.
func (s *Service) CreateAppointment(ctx context.Context, actor Actor, req CreateRequest) (*Result, error) {
	if req.PatientID == uuid.Nil || req.AppointmentTypeID == uuid.Nil {
		return nil, ErrMissingField.WithDetail("patient_id and appointment_type_id are required")
	}

	clinic, loc, err := s.loadClinic(ctx, req.ClinicID)
	if err != nil {
		return nil, err
	}
	now := s.now()

	starts := uniqueTimes(req.TentativeSlots, loc)
	if len(starts) == 0 {
		if req.StartTime.IsZero() {
			return nil, ErrMissingField.WithDetail("start_time or tentative_time_slots is required")
		}
		starts = []time.Time{req.StartTime.In(loc)}
	}
	start := starts[0]
	pending := len(starts) >= 2

	apptType, err := s.repo.GetAppointmentType(ctx, clinic.ID, req.AppointmentTypeID)
	if err != nil {
		return nil, err
	}

	override := req.Override && actor.IsStaff()
	if !actor.IsStaff() {
		if actor.UserID != req.PatientID {
			return nil, ErrNotOwner
		}
		if !apptType.AllowPatientBooking {
			return nil, ErrPatientBookingDisabled.WithDetail("%s cannot be booked online", apptType.Name)
		}
		for _, st := range starts {
			if err := policy.ValidateNewBooking(clinic.Policy, st, now); err != nil {
				return nil, err
			}
		}
		count, err := s.repo.CountFutureAppointments(ctx, clinic.ID, req.PatientID, now)
		if err != nil {
			return nil, fmt.Errorf("count future appointments: %w", err)
		}
		if err := policy.ValidateFutureAppointmentCap(clinic.Policy, count); err != nil {
			return nil, err
		}
	}

	if _, err := s.repo.GetPatient(ctx, clinic.ID, req.PatientID); err != nil {
		return nil, err
	}

	members, err := s.candidates(ctx, actor, clinic.ID, apptType.ID, req.PractitionerID)
	if err != nil {
		return nil, err
	}
	reqs, err := s.repo.ListRequirements(ctx, apptType.ID)
	if err != nil {
		return nil, fmt.Errorf("list resource requirements: %w", err)
	}

	p := placement{
		clinicID:          clinic.ID,
		appointmentTypeID: apptType.ID,
		candidates:        membershipIDs(members),
		requested:         req.PractitionerID,
		date:              schedule.DateOf(start),
		window:            timeslot.NewInterval(timeslot.ClockOf(start), apptType.DurationMinutes),
		resourceIDs:       req.ResourceIDs,
		checkResources:    len(req.ResourceIDs) > 0 || anyRequired(reqs),
		override:          override,
		now:               now,
	}
	if p.window.Empty() {
		return nil, ErrEmptyTimeWindow.WithDetail("%s leaves no time before midnight", start.Format("15:04"))
	}

	var res *Result
	err = s.locker.WithLock(ctx, p.lockKeys(), func(lockCtx context.Context) error {
		return s.repo.InTx(lockCtx, func(ctx context.Context, tx Repository) error {
			placed, err := s.place(ctx, tx, p)
			if err != nil {
				return err
			}

			appt := &Appointment{
				ID:                      uuid.New(),
				ClinicID:                clinic.ID,
				PatientID:               req.PatientID,
				PractitionerID:          placed.decision.PractitionerID,
				AppointmentTypeID:       apptType.ID,
				StartTime:               start,
				EndTime:                 p.window.End.On(p.date),
				Status:                  StatusConfirmed,
				Notes:                   req.Notes,
				IsAutoAssigned:          placed.decision.AutoAssigned,
				OriginallyAutoAssigned:  placed.decision.AutoAssigned,
				PendingTimeConfirmation: pending,
				CreatedAt:               now,
				UpdatedAt:               now,
			}
			if pending {
				appt.AlternativeTimeSlots = starts
			}
			if err := tx.InsertAppointment(ctx, appt); err != nil {
				return fmt.Errorf("insert appointment: %w", err)
			}

			var allocated []uuid.UUID
			if p.checkResources {
				allocated, err = resource.NewAllocator(tx).Allocate(ctx, clinic.ID, appt.ID, placed.resourceIDs)
				if err != nil {
					return err
				}
			}

			res = &Result{
				Appointment:          appt,
				PractitionerID:       appt.PractitionerID,
				PractitionerChanged:  true,
				TimeChanged:          true,
				NewlyAutoAssigned:    appt.IsAutoAssigned,
				AllocatedResourceIDs: allocated,
				Warnings:             placed.warnings,
				Event:                EventAppointmentCreated,
				Effects: Effects{
					SendPatientConfirmation:    true,
					SendPractitionerAssignment: !appt.IsAutoAssigned,
				},
			}
			return nil
		})
	})
	if err != nil {
		return nil, lockError(err)
	}

	s.logger.Info("appointment created",
		zap.String("appointment_id", res.Appointment.ID.String()),
		zap.String("practitioner_id", res.PractitionerID.String()),
		zap.Bool("auto_assigned", res.NewlyAutoAssigned),
		zap.Bool("pending_time_confirmation", pending),
		zap.Int("override_warnings", len(res.Warnings)),
	)
	return res, nil
}

// GetAppointment reads one appointment; patients only see their own.
func (s *Service) GetAppointment(ctx context.Context, actor Actor, clinicID, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, clinicID, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, appt); err != nil {
		return nil, err
	}
	return appt, nil
}

// placement is one attempt to fit an appointment window on a date.
type placement struct {
	clinicID          uuid.UUID
	appointmentTypeID uuid.UUID
	candidates        []uuid.UUID
	requested         *uuid.UUID
	previous          *uuid.UUID
	date              time.Time
	window            timeslot.Interval
	exclude           *uuid.UUID
	// resourceIDs is an explicit selection; empty means pick free ones,
	// or re-check carryFrom's current allocation when it is set.
	resourceIDs []uuid.UUID
	carryFrom   *uuid.UUID
	// holder is the practitioner whose load already counts the edited
	// appointment on date.
	holder         *uuid.UUID
	checkResources bool
	override       bool
	now            time.Time
}

func (p placement) timeRange() resource.TimeRange {
	return resource.TimeRange{Start: p.window.Start.On(p.date), End: p.window.End.On(p.date)}
}

func (p placement) lockKeys() []string {
	var keys []string
	if p.requested != nil {
		keys = append(keys, redisclient.PractitionerDayKey(*p.requested, p.date))
	} else {
		for _, id := range p.candidates {
			keys = append(keys, redisclient.PractitionerDayKey(id, p.date))
		}
	}
	if p.checkResources {
		keys = append(keys, redisclient.ResourceDayKey(p.clinicID, p.date))
	}
	return keys
}

type placed struct {
	decision    assignment.Decision
	resourceIDs []uuid.UUID
	warnings    []conflict.Finding
}

// place re-reads the day inside the transaction, resolves the practitioner
// and checks resources. In override mode collisions become warnings.
func (s *Service) place(ctx context.Context, tx Repository, p placement) (*placed, error) {
	snap, err := schedule.LoadSnapshot(ctx, tx, p.clinicID, p.candidates, p.date, p.exclude)
	if err != nil {
		return nil, err
	}
	loads, err := tx.CountConfirmedAppointments(ctx, p.clinicID, p.candidates, p.date)
	if err != nil {
		return nil, fmt.Errorf("count confirmed appointments: %w", err)
	}
	if p.holder != nil && loads[*p.holder] > 0 {
		loads[*p.holder]--
	}

	available := func(id uuid.UUID) bool {
		if p.override {
			return true
		}
		return snap.WithinHours(id, p.window) && !conflict.HasConflict(p.window, snap.EventsFor(id).Blocking())
	}
	decision, err := assignment.Resolve(assignment.Request{
		Requested:  p.requested,
		Candidates: p.candidates,
		Available:  available,
		Loads:      loads,
		Previous:   p.previous,
	})
	if err != nil {
		return nil, err
	}

	out := &placed{decision: decision}
	if p.override {
		report := conflict.Evaluate(conflict.Input{
			Candidate: p.window,
			Date:      p.date,
			Now:       p.now,
			Working:   snap.WorkingIntervals(decision.PractitionerID),
			Events:    snap.EventsFor(decision.PractitionerID),
		})
		out.warnings = report.Findings
	}
	if !p.checkResources {
		return out, nil
	}

	alloc := resource.NewAllocator(tx)
	check := resource.CheckRequest{
		AppointmentTypeID:    p.appointmentTypeID,
		ClinicID:             p.clinicID,
		Range:                p.timeRange(),
		SelectedResourceIDs:  p.resourceIDs,
		ExcludeAppointmentID: p.exclude,
	}

	if len(p.resourceIDs) > 0 {
		avail, err := alloc.CheckAvailability(ctx, check)
		if err != nil {
			return nil, err
		}
		if !avail.IsAvailable {
			if !p.override {
				return nil, resource.ErrInsufficientResources.WithDetail("selected resources are not available: %d shortages, %d conflicts",
					len(avail.InsufficientRequirements), len(avail.Conflicts))
			}
			out.warnings = conflict.Rank(append(out.warnings, avail.Findings()...)).Findings
		}
		out.resourceIDs = p.resourceIDs
		return out, nil
	}

	if p.carryFrom != nil {
		ids, avail, err := alloc.Carry(ctx, check, *p.carryFrom)
		if err != nil {
			return nil, err
		}
		if !avail.IsAvailable {
			if !p.override {
				return nil, resource.ErrInsufficientResources.WithDetail("current resources are not available: %d shortages, %d conflicts",
					len(avail.InsufficientRequirements), len(avail.Conflicts))
			}
			out.warnings = conflict.Rank(append(out.warnings, avail.Findings()...)).Findings
		}
		out.resourceIDs = ids
		return out, nil
	}

	ids, err := alloc.SelectFree(ctx, check)
	if err != nil {
		if p.override && errors.Is(err, resource.ErrInsufficientResources) {
			out.warnings = append(out.warnings, conflict.Finding{
				Kind:   conflict.KindResource,
				Detail: "required resources are not available",
			})
			return out, nil
		}
		return nil, err
	}
	out.resourceIDs = ids
	return out, nil
}

// candidates lists the practitioners who may serve the appointment type for
// actor. Patients only see practitioners accepting online bookings, and
// explicitly asking for one who does not is Forbidden.
func (s *Service) candidates(ctx context.Context, actor Actor, clinicID, appointmentTypeID uuid.UUID, requested *uuid.UUID) ([]policy.ClinicMembership, error) {
	members, err := s.repo.ListQualifiedPractitioners(ctx, clinicID, appointmentTypeID)
	if err != nil {
		return nil, fmt.Errorf("list qualified practitioners: %w", err)
	}
	out := make([]policy.ClinicMembership, 0, len(members))
	for _, m := range members {
		if !m.IsPractitioner() {
			continue
		}
		if !actor.IsStaff() && !m.Settings.PatientBookingAllowed {
			if requested != nil && *requested == m.UserID {
				return nil, ErrPatientBookingDisabled.WithDetail("practitioner does not accept online bookings")
			}
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Service) loadClinic(ctx context.Context, id uuid.UUID) (*Clinic, *time.Location, error) {
	clinic, err := s.repo.GetClinic(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return clinic, clinic.Location(s.cfg.Location()), nil
}

func authorize(actor Actor, appt *Appointment) error {
	if !actor.IsStaff() && appt.PatientID != actor.UserID {
		return ErrNotOwner
	}
	return nil
}

// lockError turns lock contention into a retryable Conflict.
func lockError(err error) error {
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrSlotBeingBooked
	}
	return err
}

func membershipIDs(members []policy.ClinicMembership) []uuid.UUID {
	out := make([]uuid.UUID, len(members))
	for i, m := range members {
		out[i] = m.UserID
	}
	return out
}

func anyRequired(reqs []resource.Requirement) bool {
	for _, r := range reqs {
		if r.Quantity > 0 {
			return true
		}
	}
	return false
}

// uniqueTimes converts ts to loc, drops zero values and duplicates, and sorts.
func uniqueTimes(ts []time.Time, loc *time.Location) []time.Time {
	out := make([]time.Time, 0, len(ts))
	for _, t := range ts {
		if t.IsZero() {
			continue
		}
		t = t.In(loc)
		dup := false
		for _, o := range out {
			if o.Equal(t) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

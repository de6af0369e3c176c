package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling-engine/internal/apperror"
	"github.com/hackgods/clinic-scheduling-engine/internal/assignment"
	"github.com/hackgods/clinic-scheduling-engine/internal/config"
	"github.com/hackgods/clinic-scheduling-engine/internal/conflict"
	"github.com/hackgods/clinic-scheduling-engine/internal/policy"
	"github.com/hackgods/clinic-scheduling-engine/internal/resource"
	"github.com/hackgods/clinic-scheduling-engine/internal/schedule"
	"github.com/hackgods/clinic-scheduling-engine/internal/timeslot"
)

// Friday 2024-06-28 09:00 UTC; 2024-07-01 is the following Monday.
var testNow = time.Date(2024, 6, 28, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := newMemRepo()
	f := &fixture{
		repo:    repo,
		drA:     uuid.New(),
		drB:     uuid.New(),
		patient: uuid.New(),
	}
	f.clinic = Clinic{ID: uuid.New(), Name: "Riverside Physio", Timezone: "UTC", Policy: policy.Default()}
	repo.clinics[f.clinic.ID] = f.clinic

	f.apptTyp = AppointmentType{
		ID: uuid.New(), ClinicID: f.clinic.ID, Name: "Consultation", DurationMinutes: 30, AllowPatientBooking: true,
	}
	repo.types[f.apptTyp.ID] = f.apptTyp
	repo.patients[f.patient] = Patient{ID: f.patient, ClinicID: f.clinic.ID, Name: "Mei Lin"}

	for _, id := range []uuid.UUID{f.drA, f.drB} {
		repo.members = append(repo.members, policy.ClinicMembership{
			UserID:   id,
			ClinicID: f.clinic.ID,
			Roles:    []policy.Role{policy.RolePractitioner},
			Settings: policy.PractitionerSettings{PatientBookingAllowed: true},
			Active:   true,
		})
		for day := time.Sunday; day <= time.Saturday; day++ {
			repo.intervals = append(repo.intervals, schedule.AvailabilityInterval{
				ID: uuid.New(), PractitionerID: id, ClinicID: f.clinic.ID, DayOfWeek: day,
				Start: timeslot.NewClock(9, 0), End: timeslot.NewClock(17, 0),
			})
		}
	}

	f.staff = Actor{Role: ActorStaff, UserID: uuid.New()}
	f.svc = NewService(repo, newTryLocker(), config.Config{ClinicTimezone: "UTC"}, zap.NewNop())
	f.svc.now = func() time.Time { return testNow }
	return f
}

func (f *fixture) book(t *testing.T, actor Actor, practitioner *uuid.UUID, start time.Time) *Result {
	t.Helper()
	res, err := f.svc.CreateAppointment(context.Background(), actor, CreateRequest{
		ClinicID:          f.clinic.ID,
		PatientID:         f.patient,
		AppointmentTypeID: f.apptTyp.ID,
		PractitionerID:    practitioner,
		StartTime:         start,
	})
	if err != nil {
		t.Fatalf("create appointment at %s: %v", start, err)
	}
	return res
}

func assertKind(t *testing.T, err error, want apperror.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := apperror.KindOf(err); got != want {
		t.Fatalf("expected kind %s, got %s (%v)", want, got, err)
	}
}

func TestCreateWithTentativeSlotsThenStaffConfirms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreateAppointment(ctx, f.patientActor(), CreateRequest{
		ClinicID:          f.clinic.ID,
		PatientID:         f.patient,
		AppointmentTypeID: f.apptTyp.ID,
		TentativeSlots:    []time.Time{at(2, 9, 0), at(1, 14, 0), at(1, 9, 0)},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	appt := res.Appointment
	if !appt.PendingTimeConfirmation {
		t.Fatal("expected pending time confirmation")
	}
	if !appt.StartTime.Equal(at(1, 9, 0)) {
		t.Fatalf("expected provisional start at earliest slot, got %s", appt.StartTime)
	}
	if len(appt.AlternativeTimeSlots) != 3 {
		t.Fatalf("expected 3 alternatives, got %d", len(appt.AlternativeTimeSlots))
	}
	if !appt.IsAutoAssigned || appt.PractitionerID != f.drA {
		t.Fatalf("expected auto-assignment to first practitioner, got auto=%t id=%s", appt.IsAutoAssigned, appt.PractitionerID)
	}
	if !res.Effects.SendPatientConfirmation || res.Effects.SendPractitionerAssignment {
		t.Fatalf("unexpected effects on create: %+v", res.Effects)
	}

	slot := at(2, 9, 0)
	upd, err := f.svc.UpdateAppointment(ctx, f.staff, UpdateRequest{
		ClinicID:        f.clinic.ID,
		AppointmentID:   appt.ID,
		ConfirmTimeSlot: &slot,
	})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	got := f.repo.stored(appt.ID)
	if got.PendingTimeConfirmation || got.AlternativeTimeSlots != nil {
		t.Fatalf("pending state not cleared: %+v", got)
	}
	if got.IsAutoAssigned {
		t.Fatal("staff confirmation should make the appointment visible")
	}
	if !got.StartTime.Equal(at(2, 9, 0)) || !got.EndTime.Equal(at(2, 9, 30)) {
		t.Fatalf("unexpected confirmed time %s-%s", got.StartTime, got.EndTime)
	}
	want := Effects{SendPatientConfirmation: true, SendPractitionerAssignment: true}
	if upd.Effects != want {
		t.Fatalf("expected effects %+v, got %+v", want, upd.Effects)
	}

	_, err = f.svc.UpdateAppointment(ctx, f.staff, UpdateRequest{
		ClinicID:        f.clinic.ID,
		AppointmentID:   appt.ID,
		ConfirmTimeSlot: &slot,
	})
	if !errors.Is(err, ErrNotPendingConfirmation) {
		t.Fatalf("expected ErrNotPendingConfirmation, got %v", err)
	}
}

func TestConfirmUnknownTimeSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreateAppointment(ctx, f.patientActor(), CreateRequest{
		ClinicID:          f.clinic.ID,
		PatientID:         f.patient,
		AppointmentTypeID: f.apptTyp.ID,
		TentativeSlots:    []time.Time{at(1, 9, 0), at(1, 14, 0)},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	other := at(1, 10, 0)
	_, err = f.svc.UpdateAppointment(ctx, f.staff, UpdateRequest{
		ClinicID:        f.clinic.ID,
		AppointmentID:   res.Appointment.ID,
		ConfirmTimeSlot: &other,
	})
	if !errors.Is(err, ErrUnknownTimeSlot) {
		t.Fatalf("expected ErrUnknownTimeSlot, got %v", err)
	}
}

func TestReceiptBlocksCancelAndUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.book(t, f.staff, &f.drA, at(1, 10, 0))
	f.repo.receipts[res.Appointment.ID] = true

	_, err := f.svc.CancelAppointment(ctx, f.staff, f.clinic.ID, res.Appointment.ID)
	assertKind(t, err, apperror.KindConflict)
	if !errors.Is(err, ErrReceiptExists) {
		t.Fatalf("expected ErrReceiptExists, got %v", err)
	}
	if f.repo.stored(res.Appointment.ID).Status != StatusConfirmed {
		t.Fatal("appointment should stay confirmed")
	}

	later := at(1, 11, 0)
	_, err = f.svc.UpdateAppointment(ctx, f.staff, UpdateRequest{
		ClinicID:      f.clinic.ID,
		AppointmentID: res.Appointment.ID,
		StartTime:     &later,
	})
	if !errors.Is(err, ErrReceiptExists) {
		t.Fatalf("expected ErrReceiptExists on update, got %v", err)
	}
}

func TestConcurrentBookingsOfSameSlot(t *testing.T) {
	f := newFixture(t)
	const workers = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		errs      []error
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.CreateAppointment(context.Background(), f.staff, CreateRequest{
				ClinicID:          f.clinic.ID,
				PatientID:         f.patient,
				AppointmentTypeID: f.apptTyp.ID,
				PractitionerID:    &f.drA,
				StartTime:         at(1, 10, 0),
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			errs = append(errs, err)
		}()
	}
	close(start)
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("expected exactly one booking to succeed, got %d", succeeded)
	}
	for _, err := range errs {
		assertKind(t, err, apperror.KindConflict)
	}
}

func TestCancelTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.book(t, f.patientActor(), nil, at(3, 10, 0))
	id := res.Appointment.ID

	first, err := f.svc.CancelAppointment(ctx, f.patientActor(), f.clinic.ID, id)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if first.Appointment.Status != StatusCanceledByPatient || first.Appointment.CanceledAt == nil {
		t.Fatalf("unexpected canceled state: %+v", first.Appointment)
	}
	if !first.Effects.SendCancellationNotice {
		t.Fatal("expected cancellation notice")
	}
	f.svc.PublishEffects(ctx, first)
	events := len(f.repo.eventTypes(id))

	second, err := f.svc.CancelAppointment(ctx, f.patientActor(), f.clinic.ID, id)
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if !second.AlreadyCanceled {
		t.Fatal("expected AlreadyCanceled on second cancel")
	}
	f.svc.PublishEffects(ctx, second)
	if got := len(f.repo.eventTypes(id)); got != events {
		t.Fatalf("second cancel published events: %d -> %d", events, got)
	}
}

func TestCancellationWindowBindsPatientsOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.book(t, f.staff, &f.drA, time.Date(2024, 6, 28, 16, 0, 0, 0, time.UTC))

	_, err := f.svc.CancelAppointment(ctx, f.patientActor(), f.clinic.ID, res.Appointment.ID)
	if !errors.Is(err, policy.ErrCancellationWindowPassed) {
		t.Fatalf("expected ErrCancellationWindowPassed, got %v", err)
	}

	out, err := f.svc.CancelAppointment(ctx, f.staff, f.clinic.ID, res.Appointment.ID)
	if err != nil {
		t.Fatalf("staff cancel: %v", err)
	}
	if out.Appointment.Status != StatusCanceledByClinic {
		t.Fatalf("expected %s, got %s", StatusCanceledByClinic, out.Appointment.Status)
	}
}

func TestPatientBookingPolicy(t *testing.T) {
	tests := []struct {
		name  string
		start time.Time
		setup func(f *fixture) Actor
		want  error
	}{
		{
			name:  "too soon",
			start: time.Date(2024, 6, 28, 15, 0, 0, 0, time.UTC),
			want:  policy.ErrTooSoon,
		},
		{
			name:  "beyond booking window",
			start: time.Date(2024, 10, 1, 10, 0, 0, 0, time.UTC),
			want:  policy.ErrTooFarAhead,
		},
		{
			name:  "booking for another patient",
			start: at(1, 10, 0),
			setup: func(f *fixture) Actor { return Actor{Role: ActorPatient, UserID: uuid.New()} },
			want:  ErrNotOwner,
		},
		{
			name:  "future appointment cap",
			start: at(5, 10, 0),
			setup: func(f *fixture) Actor {
				for day := 1; day <= 3; day++ {
					id := uuid.New()
					f.repo.appts[id] = &Appointment{
						ID: id, ClinicID: f.clinic.ID, PatientID: f.patient, PractitionerID: f.drB,
						StartTime: at(day, 15, 0), EndTime: at(day, 15, 30), Status: StatusConfirmed,
					}
				}
				return f.patientActor()
			},
			want: policy.ErrTooManyFutureAppointments,
		},
		{
			name:  "type closed to online booking",
			start: at(1, 10, 0),
			setup: func(f *fixture) Actor {
				typ := f.repo.types[f.apptTyp.ID]
				typ.AllowPatientBooking = false
				f.repo.types[f.apptTyp.ID] = typ
				return f.patientActor()
			},
			want: ErrPatientBookingDisabled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			actor := f.patientActor()
			if tt.setup != nil {
				actor = tt.setup(f)
			}
			_, err := f.svc.CreateAppointment(context.Background(), actor, CreateRequest{
				ClinicID:          f.clinic.ID,
				PatientID:         f.patient,
				AppointmentTypeID: f.apptTyp.ID,
				StartTime:         tt.start,
			})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestStaffBypassesBookingPolicy(t *testing.T) {
	f := newFixture(t)
	res := f.book(t, f.staff, &f.drA, time.Date(2024, 6, 28, 15, 0, 0, 0, time.UTC))
	if res.Appointment.IsAutoAssigned {
		t.Fatal("explicit practitioner must not be auto-assigned")
	}
	if !res.Effects.SendPractitionerAssignment {
		t.Fatal("expected practitioner notification for explicit booking")
	}
}

func TestOverrideBooksThroughConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	evening := at(1, 18, 0)

	req := CreateRequest{
		ClinicID:          f.clinic.ID,
		PatientID:         f.patient,
		AppointmentTypeID: f.apptTyp.ID,
		PractitionerID:    &f.drA,
		StartTime:         evening,
	}
	_, err := f.svc.CreateAppointment(ctx, f.staff, req)
	if !errors.Is(err, assignment.ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}

	req.Override = true
	res, err := f.svc.CreateAppointment(ctx, f.staff, req)
	if err != nil {
		t.Fatalf("override create: %v", err)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Kind != conflict.KindOutsideHours {
		t.Fatalf("expected one outside-hours warning, got %+v", res.Warnings)
	}

	res, err = f.svc.CreateAppointment(ctx, f.staff, req)
	if err != nil {
		t.Fatalf("override double booking: %v", err)
	}
	if len(res.Warnings) != 2 || res.Warnings[0].Kind != conflict.KindAppointment {
		t.Fatalf("expected appointment conflict ranked first, got %+v", res.Warnings)
	}

	// Patients cannot override.
	req.StartTime = at(2, 18, 0)
	_, err = f.svc.CreateAppointment(ctx, f.patientActor(), req)
	assertKind(t, err, apperror.KindConflict)
}

func TestAutoAssignPicksLeastLoaded(t *testing.T) {
	f := newFixture(t)

	f.book(t, f.staff, &f.drA, at(1, 9, 0))
	res := f.book(t, f.patientActor(), nil, at(1, 11, 0))

	if res.PractitionerID != f.drB {
		t.Fatalf("expected least-loaded practitioner %s, got %s", f.drB, res.PractitionerID)
	}
	if !res.Appointment.IsAutoAssigned || !res.Appointment.OriginallyAutoAssigned {
		t.Fatal("expected auto-assigned flags")
	}
}

func TestResourceShortageRejectsBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := f.addRoom("Room 1")

	res := f.book(t, f.staff, &f.drA, at(1, 10, 0))
	if len(res.AllocatedResourceIDs) != 1 || res.AllocatedResourceIDs[0] != room {
		t.Fatalf("expected room allocation, got %v", res.AllocatedResourceIDs)
	}

	_, err := f.svc.CreateAppointment(ctx, f.staff, CreateRequest{
		ClinicID:          f.clinic.ID,
		PatientID:         f.patient,
		AppointmentTypeID: f.apptTyp.ID,
		PractitionerID:    &f.drB,
		StartTime:         at(1, 10, 0),
	})
	if !errors.Is(err, resource.ErrInsufficientResources) {
		t.Fatalf("expected ErrInsufficientResources, got %v", err)
	}
	assertKind(t, err, apperror.KindConflict)

	// Touching ranges share the room.
	f.book(t, f.staff, &f.drB, at(1, 10, 30))
}

func TestRescheduleByPatient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.book(t, f.patientActor(), nil, at(3, 10, 0))
	f.book(t, f.staff, &f.drA, at(3, 14, 0))

	later := at(3, 11, 0)
	upd, err := f.svc.UpdateAppointment(ctx, f.patientActor(), UpdateRequest{
		ClinicID:      f.clinic.ID,
		AppointmentID: res.Appointment.ID,
		StartTime:     &later,
	})
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if !upd.TimeChanged || !upd.Effects.SendTimeChangeNotice {
		t.Fatalf("expected time change notice, got %+v", upd.Effects)
	}
	if upd.PractitionerChanged {
		t.Fatal("practitioner should be kept")
	}

	taken := at(3, 14, 0)
	_, err = f.svc.UpdateAppointment(ctx, f.patientActor(), UpdateRequest{
		ClinicID:      f.clinic.ID,
		AppointmentID: res.Appointment.ID,
		StartTime:     &taken,
	})
	if !errors.Is(err, assignment.ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
}

func TestRescheduleKeepsChosenResources(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room1 := f.addRoom("Room 1")
	room2 := f.addRoom("Room 2")

	res, err := f.svc.CreateAppointment(ctx, f.staff, CreateRequest{
		ClinicID:          f.clinic.ID,
		PatientID:         f.patient,
		AppointmentTypeID: f.apptTyp.ID,
		PractitionerID:    &f.drA,
		StartTime:         at(1, 10, 0),
		ResourceIDs:       []uuid.UUID{room2},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := res.Appointment.ID

	later := at(1, 11, 0)
	upd, err := f.svc.UpdateAppointment(ctx, f.staff, UpdateRequest{
		ClinicID:      f.clinic.ID,
		AppointmentID: id,
		StartTime:     &later,
	})
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if len(upd.AllocatedResourceIDs) != 1 || upd.AllocatedResourceIDs[0] != room2 {
		t.Fatalf("expected Room 2 kept, got %v", upd.AllocatedResourceIDs)
	}
	if got := f.repo.allocations[id]; len(got) != 1 || got[0] != room2 {
		t.Fatalf("expected stored allocation Room 2, got %v", got)
	}

	// Room 2 is taken at 13:00, so only the room requirement is topped up.
	_, err = f.svc.CreateAppointment(ctx, f.staff, CreateRequest{
		ClinicID:          f.clinic.ID,
		PatientID:         f.patient,
		AppointmentTypeID: f.apptTyp.ID,
		PractitionerID:    &f.drB,
		StartTime:         at(1, 13, 0),
		ResourceIDs:       []uuid.UUID{room2},
	})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	afternoon := at(1, 13, 0)
	upd, err = f.svc.UpdateAppointment(ctx, f.staff, UpdateRequest{
		ClinicID:      f.clinic.ID,
		AppointmentID: id,
		StartTime:     &afternoon,
	})
	if err != nil {
		t.Fatalf("reschedule into taken room: %v", err)
	}
	if len(upd.AllocatedResourceIDs) != 1 || upd.AllocatedResourceIDs[0] != room1 {
		t.Fatalf("expected Room 1 as replacement, got %v", upd.AllocatedResourceIDs)
	}
}

func TestAutoAssignUpdateIgnoresOwnLoad(t *testing.T) {
	f := newFixture(t)
	res := f.book(t, f.staff, &f.drA, at(1, 10, 0))

	upd, err := f.svc.UpdateAppointment(context.Background(), f.staff, UpdateRequest{
		ClinicID:      f.clinic.ID,
		AppointmentID: res.Appointment.ID,
		AutoAssign:    true,
	})
	if err != nil {
		t.Fatalf("auto-assign update: %v", err)
	}
	if upd.PractitionerID != f.drA || upd.PractitionerChanged {
		t.Fatalf("expected drA kept, got %s (changed=%v)", upd.PractitionerID, upd.PractitionerChanged)
	}
}

func TestZeroLengthWindowIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateAppointment(ctx, f.staff, CreateRequest{
		ClinicID:          f.clinic.ID,
		PatientID:         f.patient,
		AppointmentTypeID: f.apptTyp.ID,
		PractitionerID:    &f.drA,
		StartTime:         at(1, 23, 59),
		Override:          true,
	})
	if !errors.Is(err, ErrEmptyTimeWindow) {
		t.Fatalf("expected ErrEmptyTimeWindow on create, got %v", err)
	}
	assertKind(t, err, apperror.KindValidation)

	res := f.book(t, f.staff, &f.drA, at(1, 10, 0))
	midnight := at(1, 23, 59)
	_, err = f.svc.UpdateAppointment(ctx, f.staff, UpdateRequest{
		ClinicID:      f.clinic.ID,
		AppointmentID: res.Appointment.ID,
		StartTime:     &midnight,
		Override:      true,
	})
	if !errors.Is(err, ErrEmptyTimeWindow) {
		t.Fatalf("expected ErrEmptyTimeWindow on update, got %v", err)
	}
}

func TestRevealDueAutoAssigned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.book(t, f.patientActor(), nil, at(1, 9, 0))
	f.book(t, f.patientActor(), nil, at(5, 9, 0))

	f.svc.now = func() time.Time { return time.Date(2024, 6, 30, 10, 0, 0, 0, time.UTC) }
	n, err := f.svc.RevealDueAutoAssigned(ctx)
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 revealed appointment, got %d", n)
	}
	if f.repo.stored(res.Appointment.ID).IsAutoAssigned {
		t.Fatal("appointment inside the look-ahead window should be visible")
	}
	types := f.repo.eventTypes(res.Appointment.ID)
	if len(types) != 2 || types[0] != EventAppointmentRevealed || types[1] != EventNotifyPractitionerAssignment {
		t.Fatalf("unexpected events %v", types)
	}

	n, err = f.svc.RevealDueAutoAssigned(ctx)
	if err != nil || n != 0 {
		t.Fatalf("second run revealed %d (%v)", n, err)
	}
}

func TestPublishEffectsWritesOutbox(t *testing.T) {
	f := newFixture(t)
	res := f.book(t, f.staff, &f.drA, at(1, 10, 0))

	f.svc.PublishEffects(context.Background(), res)
	want := []string{EventAppointmentCreated, EventNotifyPatientConfirmation, EventNotifyPractitionerAssignment}
	got := f.repo.eventTypes(res.Appointment.ID)
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
}

func TestPractitionerAndClinicSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.book(t, f.staff, &f.drA, at(1, 9, 0))

	slots, err := f.svc.PractitionerSlots(ctx, f.staff, SlotQuery{
		ClinicID:          f.clinic.ID,
		AppointmentTypeID: f.apptTyp.ID,
		PractitionerID:    &f.drA,
		Date:              at(1, 0, 0),
	})
	if err != nil {
		t.Fatalf("practitioner slots: %v", err)
	}
	if len(slots) != 15 || slots[0].Start.String() != "09:30" {
		t.Fatalf("expected 15 slots from 09:30, got %d starting %v", len(slots), slots)
	}

	clinicSlots, err := f.svc.ClinicSlots(ctx, f.staff, SlotQuery{
		ClinicID:          f.clinic.ID,
		AppointmentTypeID: f.apptTyp.ID,
		Date:              at(1, 0, 0),
	})
	if err != nil {
		t.Fatalf("clinic slots: %v", err)
	}
	if len(clinicSlots) != 16 || clinicSlots[0].PractitionerID != f.drB {
		t.Fatalf("expected 16 distinct starts with drB at 09:00, got %d", len(clinicSlots))
	}

	_, err = f.svc.PractitionerSlots(ctx, f.staff, SlotQuery{
		ClinicID:          f.clinic.ID,
		AppointmentTypeID: f.apptTyp.ID,
		Date:              at(1, 0, 0),
	})
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
}

func TestCheckSchedulingConflicts(t *testing.T) {
	f := newFixture(t)
	booked := f.book(t, f.staff, &f.drA, at(1, 9, 0))

	report, err := f.svc.CheckSchedulingConflicts(context.Background(), ConflictCheck{
		ClinicID:          f.clinic.ID,
		PractitionerID:    f.drA,
		AppointmentTypeID: f.apptTyp.ID,
		StartTime:         at(1, 9, 15),
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !report.HasConflict || report.Primary != conflict.KindAppointment {
		t.Fatalf("expected appointment conflict, got %+v", report)
	}
	if id := report.Findings[0].AppointmentID; id == nil || *id != booked.Appointment.ID {
		t.Fatalf("expected conflicting appointment %s", booked.Appointment.ID)
	}

	report, err = f.svc.CheckSchedulingConflicts(context.Background(), ConflictCheck{
		ClinicID:             f.clinic.ID,
		PractitionerID:       f.drA,
		AppointmentTypeID:    f.apptTyp.ID,
		StartTime:            at(1, 9, 15),
		ExcludeAppointmentID: &booked.Appointment.ID,
	})
	if err != nil {
		t.Fatalf("check excluding: %v", err)
	}
	if report.HasConflict {
		t.Fatalf("own appointment should be ignored, got %+v", report.Findings)
	}
}

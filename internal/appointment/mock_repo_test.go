package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling-engine/internal/policy"
	redisclient "github.com/hackgods/clinic-scheduling-engine/internal/redis"
	"github.com/hackgods/clinic-scheduling-engine/internal/resource"
	"github.com/hackgods/clinic-scheduling-engine/internal/schedule"
)

// memRepo is an in-memory Repository. InTx serialises transactions.
type memRepo struct {
	txMu sync.Mutex
	mu   sync.Mutex

	clinics      map[uuid.UUID]Clinic
	types        map[uuid.UUID]AppointmentType
	patients     map[uuid.UUID]Patient
	members      []policy.ClinicMembership
	intervals    []schedule.AvailabilityInterval
	exceptions   []schedule.ScheduleException
	appts        map[uuid.UUID]*Appointment
	receipts     map[uuid.UUID]bool
	requirements []resource.Requirement
	resources    []resource.Resource
	allocations  map[uuid.UUID][]uuid.UUID
	events       []EventLog
}

func newMemRepo() *memRepo {
	return &memRepo{
		clinics:     map[uuid.UUID]Clinic{},
		types:       map[uuid.UUID]AppointmentType{},
		patients:    map[uuid.UUID]Patient{},
		appts:       map[uuid.UUID]*Appointment{},
		receipts:    map[uuid.UUID]bool{},
		allocations: map[uuid.UUID][]uuid.UUID{},
	}
}

func (m *memRepo) InTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(ctx, m)
}

func (m *memRepo) GetClinic(_ context.Context, id uuid.UUID) (*Clinic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clinics[id]
	if !ok {
		return nil, ErrClinicNotFound
	}
	return &c, nil
}

func (m *memRepo) ListClinics(_ context.Context) ([]Clinic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Clinic
	for _, c := range m.clinics {
		out = append(out, c)
	}
	return out, nil
}

func (m *memRepo) GetAppointmentType(_ context.Context, clinicID, id uuid.UUID) (*AppointmentType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.types[id]
	if !ok || t.ClinicID != clinicID {
		return nil, ErrAppointmentTypeNotFound
	}
	return &t, nil
}

func (m *memRepo) GetPatient(_ context.Context, clinicID, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok || p.ClinicID != clinicID {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (m *memRepo) ListQualifiedPractitioners(_ context.Context, clinicID, _ uuid.UUID) ([]policy.ClinicMembership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []policy.ClinicMembership
	for _, mem := range m.members {
		if mem.ClinicID == clinicID && mem.IsPractitioner() {
			out = append(out, mem)
		}
	}
	return out, nil
}

func (m *memRepo) CountFutureAppointments(_ context.Context, clinicID, patientID uuid.UUID, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.appts {
		if a.ClinicID == clinicID && a.PatientID == patientID && a.Status == StatusConfirmed && a.StartTime.After(now) {
			n++
		}
	}
	return n, nil
}

func (m *memRepo) GetAppointment(_ context.Context, clinicID, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.ClinicID != clinicID {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memRepo) LockAppointment(ctx context.Context, clinicID, id uuid.UUID) (*Appointment, error) {
	return m.GetAppointment(ctx, clinicID, id)
}

func (m *memRepo) InsertAppointment(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m *memRepo) UpdateAppointment(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appts[a.ID]; !ok {
		return ErrAppointmentNotFound
	}
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m *memRepo) HasReceipt(_ context.Context, appointmentID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.receipts[appointmentID], nil
}

func (m *memRepo) ListHiddenAutoAssigned(_ context.Context, clinicID uuid.UUID, now time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appts {
		if a.ClinicID == clinicID && a.Status == StatusConfirmed && a.IsAutoAssigned && a.StartTime.After(now) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *memRepo) RevealAppointment(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || !a.IsAutoAssigned || a.Status != StatusConfirmed {
		return false, nil
	}
	a.IsAutoAssigned = false
	return true, nil
}

func (m *memRepo) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, ev)
	return nil
}

func (m *memRepo) eventTypes(appointmentID uuid.UUID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, ev := range m.events {
		if ev.AppointmentID != nil && *ev.AppointmentID == appointmentID {
			out = append(out, ev.EventType)
		}
	}
	return out
}

func (m *memRepo) stored(id uuid.UUID) Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.appts[id]
}

func (m *memRepo) ListAvailabilityIntervals(_ context.Context, clinicID uuid.UUID, ids []uuid.UUID, day time.Weekday) ([]schedule.AvailabilityInterval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []schedule.AvailabilityInterval
	for _, iv := range m.intervals {
		if iv.ClinicID == clinicID && iv.DayOfWeek == day && containsID(ids, iv.PractitionerID) {
			out = append(out, iv)
		}
	}
	return out, nil
}

func (m *memRepo) ListDailyEvents(_ context.Context, clinicID uuid.UUID, ids []uuid.UUID, date time.Time, exclude *uuid.UUID) (map[uuid.UUID]schedule.DailyEvents, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	date = schedule.DateOf(date)
	dayEnd := date.AddDate(0, 0, 1)
	out := map[uuid.UUID]schedule.DailyEvents{}
	for _, ex := range m.exceptions {
		if ex.ClinicID == clinicID && containsID(ids, ex.PractitionerID) && schedule.SameDate(ex.Date, date) {
			ev := out[ex.PractitionerID]
			ev.Exceptions = append(ev.Exceptions, ex)
			out[ex.PractitionerID] = ev
		}
	}
	for _, a := range m.appts {
		if a.ClinicID != clinicID || a.Status != StatusConfirmed || !containsID(ids, a.PractitionerID) {
			continue
		}
		if exclude != nil && a.ID == *exclude {
			continue
		}
		if !a.StartTime.Before(dayEnd) || !a.EndTime.After(date) {
			continue
		}
		start, end := dayClocks(date, a.StartTime, a.EndTime)
		ev := out[a.PractitionerID]
		ev.Booked = append(ev.Booked, schedule.BookedSlot{
			AppointmentID: a.ID, PractitionerID: a.PractitionerID, Date: date, Start: start, End: end,
		})
		out[a.PractitionerID] = ev
	}
	return out, nil
}

func (m *memRepo) CountConfirmedAppointments(_ context.Context, clinicID uuid.UUID, ids []uuid.UUID, date time.Time) (map[uuid.UUID]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	date = schedule.DateOf(date)
	dayEnd := date.AddDate(0, 0, 1)
	out := map[uuid.UUID]int{}
	for _, a := range m.appts {
		if a.ClinicID == clinicID && a.Status == StatusConfirmed && containsID(ids, a.PractitionerID) &&
			!a.StartTime.Before(date) && a.StartTime.Before(dayEnd) {
			out[a.PractitionerID]++
		}
	}
	return out, nil
}

func (m *memRepo) ListRequirements(_ context.Context, appointmentTypeID uuid.UUID) ([]resource.Requirement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []resource.Requirement
	for _, r := range m.requirements {
		if r.AppointmentTypeID == appointmentTypeID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRepo) ListResources(_ context.Context, clinicID uuid.UUID, typeIDs []uuid.UUID) ([]resource.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []resource.Resource
	for _, r := range m.resources {
		if r.ClinicID == clinicID && r.DeletedAt == nil && containsID(typeIDs, r.ResourceTypeID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRepo) GetResources(_ context.Context, clinicID uuid.UUID, ids []uuid.UUID) ([]resource.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []resource.Resource
	for _, r := range m.resources {
		if r.ClinicID == clinicID && r.DeletedAt == nil && containsID(ids, r.ID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRepo) ListAllocations(_ context.Context, clinicID uuid.UUID, typeIDs []uuid.UUID, rng resource.TimeRange, exclude *uuid.UUID) ([]resource.Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := map[uuid.UUID]resource.Resource{}
	for _, r := range m.resources {
		byID[r.ID] = r
	}
	var out []resource.Allocation
	for apptID, resIDs := range m.allocations {
		a := m.appts[apptID]
		if a == nil || a.Status != StatusConfirmed || (exclude != nil && a.ID == *exclude) {
			continue
		}
		if !rng.Overlaps(resource.TimeRange{Start: a.StartTime, End: a.EndTime}) {
			continue
		}
		for _, id := range resIDs {
			r := byID[id]
			if r.ClinicID != clinicID || !containsID(typeIDs, r.ResourceTypeID) {
				continue
			}
			out = append(out, resource.Allocation{
				AppointmentID: a.ID, ResourceID: id, ResourceTypeID: r.ResourceTypeID, Start: a.StartTime, End: a.EndTime,
			})
		}
	}
	return out, nil
}

func (m *memRepo) ListAppointmentResources(_ context.Context, appointmentID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.allocations[appointmentID]...), nil
}

func (m *memRepo) ReplaceAllocations(_ context.Context, appointmentID uuid.UUID, ids []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allocations[appointmentID] = append([]uuid.UUID(nil), ids...)
	return nil
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// tryLocker mimics the Redis locker: held keys fail immediately.
type tryLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newTryLocker() *tryLocker {
	return &tryLocker{held: map[string]bool{}}
}

func (l *tryLocker) WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	for _, k := range keys {
		if l.held[k] {
			l.mu.Unlock()
			return redisclient.ErrLockNotAcquired
		}
	}
	for _, k := range keys {
		l.held[k] = true
	}
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		for _, k := range keys {
			delete(l.held, k)
		}
		l.mu.Unlock()
	}()
	return fn(ctx)
}

// fixture is a UTC clinic with two practitioners working 09:00-17:00 every
// day and one patient.
type fixture struct {
	repo    *memRepo
	svc     *Service
	clinic  Clinic
	apptTyp AppointmentType
	drA     uuid.UUID
	drB     uuid.UUID
	patient uuid.UUID
	staff   Actor
}

func (f *fixture) patientActor() Actor {
	return Actor{Role: ActorPatient, UserID: f.patient}
}

func (f *fixture) addRoom(name string) uuid.UUID {
	typeID := uuid.NewSHA1(uuid.NameSpaceOID, []byte("room"))
	has := false
	for _, r := range f.repo.requirements {
		if r.ResourceTypeID == typeID {
			has = true
		}
	}
	if !has {
		f.repo.requirements = append(f.repo.requirements, resource.Requirement{
			AppointmentTypeID: f.apptTyp.ID, ResourceTypeID: typeID, ResourceTypeName: "room", Quantity: 1,
		})
	}
	id := uuid.New()
	f.repo.resources = append(f.repo.resources, resource.Resource{
		ID: id, ClinicID: f.clinic.ID, ResourceTypeID: typeID, Name: name,
	})
	return id
}

func at(day, hour, minute int) time.Time {
	return time.Date(2024, 7, day, hour, minute, 0, 0, time.UTC)
}

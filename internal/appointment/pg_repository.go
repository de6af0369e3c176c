package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-scheduling-engine/internal/policy"
	"github.com/hackgods/clinic-scheduling-engine/internal/resource"
	"github.com/hackgods/clinic-scheduling-engine/internal/schedule"
	"github.com/hackgods/clinic-scheduling-engine/internal/timeslot"
)

// pgLockNotAvailable is raised by FOR UPDATE NOWAIT on a held row.
const pgLockNotAvailable = "55P03"

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool
	q    querier
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, q: pool}
}

// InTx runs fn in a transaction. A repository already bound to a
// transaction runs fn inside it.
func (r *PgRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	if r.pool == nil {
		return fn(ctx, r)
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &PgRepository{q: tx})
	})
}

// Helpers

const appointmentColumns = `id, clinic_id, patient_id, practitioner_id, appointment_type_id,
	start_time, end_time, status, notes, is_auto_assigned, originally_auto_assigned,
	pending_time_confirmation, alternative_time_slots, reassigned_by_user_id,
	reassigned_at, canceled_at, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string

	err := row.Scan(
		&a.ID,
		&a.ClinicID,
		&a.PatientID,
		&a.PractitionerID,
		&a.AppointmentTypeID,
		&a.StartTime,
		&a.EndTime,
		&status,
		&a.Notes,
		&a.IsAutoAssigned,
		&a.OriginallyAutoAssigned,
		&a.PendingTimeConfirmation,
		&a.AlternativeTimeSlots,
		&a.ReassignedByUserID,
		&a.ReassignedAt,
		&a.CanceledAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
			return nil, ErrAppointmentLocked.Wrap(err)
		}
		return nil, err
	}

	a.Status = AppointmentStatus(status)
	return &a, nil
}

func scanClinic(row pgx.Row) (*Clinic, error) {
	var c Clinic
	var settings []byte

	err := row.Scan(&c.ID, &c.Name, &c.Timezone, &settings, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClinicNotFound
		}
		return nil, err
	}

	c.Policy, err = policy.ParseBookingPolicy(settings)
	if err != nil {
		return nil, fmt.Errorf("clinic %s: %w", c.ID, err)
	}
	return &c, nil
}

// clockOf converts a TIME column to minutes after midnight.
func clockOf(t pgtype.Time) timeslot.Clock {
	return timeslot.Clock(t.Microseconds / int64(time.Minute/time.Microsecond))
}

func dateParam(date time.Time) string {
	return date.Format("2006-01-02")
}

// Interface methods

func (r *PgRepository) GetClinic(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, name, timezone, settings, created_at, updated_at
		FROM clinics
		WHERE id = $1
	`, id)
	return scanClinic(row)
}

func (r *PgRepository) ListClinics(ctx context.Context) ([]Clinic, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, name, timezone, settings, created_at, updated_at
		FROM clinics
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Clinic
	for rows.Next() {
		c, err := scanClinic(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

func (r *PgRepository) GetAppointmentType(ctx context.Context, clinicID, id uuid.UUID) (*AppointmentType, error) {
	var t AppointmentType
	err := r.q.QueryRow(ctx, `
		SELECT id, clinic_id, name, duration_minutes, allow_patient_booking
		FROM appointment_types
		WHERE id = $1 AND clinic_id = $2 AND deleted_at IS NULL
	`, id, clinicID).Scan(&t.ID, &t.ClinicID, &t.Name, &t.DurationMinutes, &t.AllowPatientBooking)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentTypeNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *PgRepository) GetPatient(ctx context.Context, clinicID, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := r.q.QueryRow(ctx, `
		SELECT id, clinic_id, name, phone, created_at, updated_at
		FROM patients
		WHERE id = $1 AND clinic_id = $2
	`, id, clinicID).Scan(&p.ID, &p.ClinicID, &p.Name, &p.Phone, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) ListQualifiedPractitioners(ctx context.Context, clinicID, appointmentTypeID uuid.UUID) ([]policy.ClinicMembership, error) {
	rows, err := r.q.Query(ctx, `
		SELECT m.user_id, m.clinic_id, m.roles, m.settings, m.is_active
		FROM clinic_memberships m
		JOIN practitioner_appointment_types pat
		  ON pat.user_id = m.user_id AND pat.clinic_id = m.clinic_id
		WHERE m.clinic_id = $1
		  AND pat.appointment_type_id = $2
		  AND m.is_active
		  AND 'practitioner' = ANY(m.roles)
		ORDER BY m.created_at, m.user_id
	`, clinicID, appointmentTypeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []policy.ClinicMembership
	for rows.Next() {
		var m policy.ClinicMembership
		var roles []string
		var settings []byte
		if err := rows.Scan(&m.UserID, &m.ClinicID, &roles, &settings, &m.Active); err != nil {
			return nil, err
		}
		for _, role := range roles {
			m.Roles = append(m.Roles, policy.Role(role))
		}
		m.Settings, err = policy.ParsePractitionerSettings(settings)
		if err != nil {
			return nil, fmt.Errorf("practitioner %s settings: %w", m.UserID, err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (r *PgRepository) CountFutureAppointments(ctx context.Context, clinicID, patientID uuid.UUID, now time.Time) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE clinic_id = $1
		  AND patient_id = $2
		  AND status = 'confirmed'
		  AND start_time > $3
	`, clinicID, patientID, now).Scan(&n)
	return n, err
}

func (r *PgRepository) GetAppointment(ctx context.Context, clinicID, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND clinic_id = $2
	`, id, clinicID)
	return scanAppointment(row)
}

func (r *PgRepository) LockAppointment(ctx context.Context, clinicID, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND clinic_id = $2
		FOR UPDATE NOWAIT
	`, id, clinicID)
	return scanAppointment(row)
}

func (r *PgRepository) InsertAppointment(ctx context.Context, a *Appointment) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`,
		a.ID, a.ClinicID, a.PatientID, a.PractitionerID, a.AppointmentTypeID,
		a.StartTime, a.EndTime, string(a.Status), a.Notes, a.IsAutoAssigned, a.OriginallyAutoAssigned,
		a.PendingTimeConfirmation, a.AlternativeTimeSlots, a.ReassignedByUserID,
		a.ReassignedAt, a.CanceledAt, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE appointments
		SET practitioner_id = $2,
		    appointment_type_id = $3,
		    start_time = $4,
		    end_time = $5,
		    status = $6,
		    notes = $7,
		    is_auto_assigned = $8,
		    pending_time_confirmation = $9,
		    alternative_time_slots = $10,
		    reassigned_by_user_id = $11,
		    reassigned_at = $12,
		    canceled_at = $13,
		    updated_at = $14
		WHERE id = $1
	`,
		a.ID, a.PractitionerID, a.AppointmentTypeID, a.StartTime, a.EndTime,
		string(a.Status), a.Notes, a.IsAutoAssigned, a.PendingTimeConfirmation,
		a.AlternativeTimeSlots, a.ReassignedByUserID, a.ReassignedAt, a.CanceledAt, a.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

// HasReceipt counts voided receipts too.
func (r *PgRepository) HasReceipt(ctx context.Context, appointmentID uuid.UUID) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM receipts WHERE appointment_id = $1)
	`, appointmentID).Scan(&exists)
	return exists, err
}

func (r *PgRepository) ListHiddenAutoAssigned(ctx context.Context, clinicID uuid.UUID, now time.Time) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE clinic_id = $1
		  AND status = 'confirmed'
		  AND is_auto_assigned
		  AND start_time > $2
		ORDER BY start_time
	`, clinicID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (r *PgRepository) RevealAppointment(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE appointments
		SET is_auto_assigned = FALSE,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'confirmed'
		  AND is_auto_assigned
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// schedule.Store

func (r *PgRepository) ListAvailabilityIntervals(ctx context.Context, clinicID uuid.UUID, practitionerIDs []uuid.UUID, day time.Weekday) ([]schedule.AvailabilityInterval, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, user_id, clinic_id, day_of_week, start_time, end_time
		FROM availability_intervals
		WHERE clinic_id = $1
		  AND user_id = ANY($2)
		  AND day_of_week = $3
		ORDER BY user_id, start_time
	`, clinicID, practitionerIDs, int(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []schedule.AvailabilityInterval
	for rows.Next() {
		var iv schedule.AvailabilityInterval
		var dow int16
		var start, end pgtype.Time
		if err := rows.Scan(&iv.ID, &iv.PractitionerID, &iv.ClinicID, &dow, &start, &end); err != nil {
			return nil, err
		}
		iv.DayOfWeek = time.Weekday(dow)
		iv.Start = clockOf(start)
		iv.End = clockOf(end)
		result = append(result, iv)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListDailyEvents(ctx context.Context, clinicID uuid.UUID, practitionerIDs []uuid.UUID, date time.Time, excludeAppointmentID *uuid.UUID) (map[uuid.UUID]schedule.DailyEvents, error) {
	date = schedule.DateOf(date)
	out := make(map[uuid.UUID]schedule.DailyEvents)

	rows, err := r.q.Query(ctx, `
		SELECT id, user_id, clinic_id, start_time, end_time, COALESCE(reason, '')
		FROM schedule_exceptions
		WHERE clinic_id = $1
		  AND user_id = ANY($2)
		  AND date = $3::date
		ORDER BY start_time
	`, clinicID, practitionerIDs, dateParam(date))
	if err != nil {
		return nil, fmt.Errorf("query exceptions: %w", err)
	}
	for rows.Next() {
		var ex schedule.ScheduleException
		var start, end pgtype.Time
		if err := rows.Scan(&ex.ID, &ex.PractitionerID, &ex.ClinicID, &start, &end, &ex.Reason); err != nil {
			rows.Close()
			return nil, err
		}
		ex.Date = date
		ex.Start = clockOf(start)
		ex.End = clockOf(end)
		ev := out[ex.PractitionerID]
		ev.Exceptions = append(ev.Exceptions, ex)
		out[ex.PractitionerID] = ev
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	dayEnd := date.AddDate(0, 0, 1)
	rows, err = r.q.Query(ctx, `
		SELECT id, practitioner_id, start_time, end_time
		FROM appointments
		WHERE clinic_id = $1
		  AND practitioner_id = ANY($2)
		  AND status = 'confirmed'
		  AND start_time < $4
		  AND end_time > $3
		  AND ($5::uuid IS NULL OR id <> $5)
		ORDER BY start_time
	`, clinicID, practitionerIDs, date, dayEnd, excludeAppointmentID)
	if err != nil {
		return nil, fmt.Errorf("query booked appointments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var b schedule.BookedSlot
		var start, end time.Time
		if err := rows.Scan(&b.AppointmentID, &b.PractitionerID, &start, &end); err != nil {
			return nil, err
		}
		b.Date = date
		b.Start, b.End = dayClocks(date, start, end)
		ev := out[b.PractitionerID]
		ev.Booked = append(ev.Booked, b)
		out[b.PractitionerID] = ev
	}
	return out, rows.Err()
}

// dayClocks projects [start, end) onto date, cutting whatever lies on
// neighbouring days.
func dayClocks(date, start, end time.Time) (timeslot.Clock, timeslot.Clock) {
	loc := date.Location()
	s, e := start.In(loc), end.In(loc)
	from, to := timeslot.Clock(0), timeslot.LastMinute
	if schedule.SameDate(s, date) {
		from = timeslot.ClockOf(s)
	}
	if schedule.SameDate(e, date) {
		to = timeslot.ClockOf(e)
	}
	return from, to
}

func (r *PgRepository) CountConfirmedAppointments(ctx context.Context, clinicID uuid.UUID, practitionerIDs []uuid.UUID, date time.Time) (map[uuid.UUID]int, error) {
	date = schedule.DateOf(date)
	rows, err := r.q.Query(ctx, `
		SELECT practitioner_id, count(*)
		FROM appointments
		WHERE clinic_id = $1
		  AND practitioner_id = ANY($2)
		  AND status = 'confirmed'
		  AND start_time >= $3
		  AND start_time < $4
		GROUP BY practitioner_id
	`, clinicID, practitionerIDs, date, date.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]int, len(practitionerIDs))
	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

// resource.Store

func (r *PgRepository) ListRequirements(ctx context.Context, appointmentTypeID uuid.UUID) ([]resource.Requirement, error) {
	rows, err := r.q.Query(ctx, `
		SELECT req.appointment_type_id, req.resource_type_id, rt.name, req.quantity
		FROM appointment_resource_requirements req
		JOIN resource_types rt ON rt.id = req.resource_type_id
		WHERE req.appointment_type_id = $1
		ORDER BY rt.name, rt.id
	`, appointmentTypeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []resource.Requirement
	for rows.Next() {
		var req resource.Requirement
		if err := rows.Scan(&req.AppointmentTypeID, &req.ResourceTypeID, &req.ResourceTypeName, &req.Quantity); err != nil {
			return nil, err
		}
		result = append(result, req)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListResources(ctx context.Context, clinicID uuid.UUID, resourceTypeIDs []uuid.UUID) ([]resource.Resource, error) {
	return r.queryResources(ctx, `
		SELECT id, clinic_id, resource_type_id, name, deleted_at
		FROM resources
		WHERE clinic_id = $1
		  AND resource_type_id = ANY($2)
		  AND deleted_at IS NULL
		ORDER BY name, id
	`, clinicID, resourceTypeIDs)
}

func (r *PgRepository) GetResources(ctx context.Context, clinicID uuid.UUID, ids []uuid.UUID) ([]resource.Resource, error) {
	return r.queryResources(ctx, `
		SELECT id, clinic_id, resource_type_id, name, deleted_at
		FROM resources
		WHERE clinic_id = $1
		  AND id = ANY($2)
		  AND deleted_at IS NULL
		ORDER BY name, id
	`, clinicID, ids)
}

func (r *PgRepository) queryResources(ctx context.Context, sql string, args ...any) ([]resource.Resource, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []resource.Resource
	for rows.Next() {
		var res resource.Resource
		if err := rows.Scan(&res.ID, &res.ClinicID, &res.ResourceTypeID, &res.Name, &res.DeletedAt); err != nil {
			return nil, err
		}
		result = append(result, res)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListAllocations(ctx context.Context, clinicID uuid.UUID, resourceTypeIDs []uuid.UUID, rng resource.TimeRange, excludeAppointmentID *uuid.UUID) ([]resource.Allocation, error) {
	rows, err := r.q.Query(ctx, `
		SELECT al.appointment_id, al.resource_id, res.resource_type_id, ap.start_time, ap.end_time
		FROM appointment_resource_allocations al
		JOIN resources res ON res.id = al.resource_id
		JOIN appointments ap ON ap.id = al.appointment_id
		WHERE res.clinic_id = $1
		  AND res.resource_type_id = ANY($2)
		  AND ap.status = 'confirmed'
		  AND ap.start_time < $4
		  AND ap.end_time > $3
		  AND ($5::uuid IS NULL OR ap.id <> $5)
		ORDER BY ap.start_time
	`, clinicID, resourceTypeIDs, rng.Start, rng.End, excludeAppointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []resource.Allocation
	for rows.Next() {
		var al resource.Allocation
		if err := rows.Scan(&al.AppointmentID, &al.ResourceID, &al.ResourceTypeID, &al.Start, &al.End); err != nil {
			return nil, err
		}
		result = append(result, al)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListAppointmentResources(ctx context.Context, appointmentID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.q.Query(ctx, `
		SELECT resource_id
		FROM appointment_resource_allocations
		WHERE appointment_id = $1
		ORDER BY created_at, resource_id
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	return result, rows.Err()
}

func (r *PgRepository) ReplaceAllocations(ctx context.Context, appointmentID uuid.UUID, resourceIDs []uuid.UUID) error {
	if _, err := r.q.Exec(ctx, `
		DELETE FROM appointment_resource_allocations
		WHERE appointment_id = $1
	`, appointmentID); err != nil {
		return fmt.Errorf("delete allocations: %w", err)
	}
	if len(resourceIDs) == 0 {
		return nil
	}
	if _, err := r.q.Exec(ctx, `
		INSERT INTO appointment_resource_allocations (appointment_id, resource_id)
		SELECT $1, unnest($2::uuid[])
	`, appointmentID, resourceIDs); err != nil {
		return fmt.Errorf("insert allocations: %w", err)
	}
	return nil
}

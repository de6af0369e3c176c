package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling-engine/internal/apperror"
	"github.com/hackgods/clinic-scheduling-engine/internal/policy"
	"github.com/hackgods/clinic-scheduling-engine/internal/resource"
	"github.com/hackgods/clinic-scheduling-engine/internal/schedule"
)

var (
	ErrClinicNotFound          = apperror.New(apperror.KindNotFound, "clinic_not_found", "clinic not found")
	ErrPatientNotFound         = apperror.New(apperror.KindNotFound, "patient_not_found", "patient not found")
	ErrAppointmentTypeNotFound = apperror.New(apperror.KindNotFound, "appointment_type_not_found", "appointment type not found")
	ErrAppointmentNotFound     = apperror.New(apperror.KindNotFound, "appointment_not_found", "appointment not found")

	// ErrAppointmentLocked is returned when another operation holds the row.
	ErrAppointmentLocked = apperror.New(apperror.KindConflict, "appointment_locked", "appointment is being modified, please retry")
)

// Repository contains all DB interactions needed by the service. Every
// lookup is scoped by clinic.
type Repository interface {
	schedule.Store
	resource.Store

	GetClinic(ctx context.Context, id uuid.UUID) (*Clinic, error)
	ListClinics(ctx context.Context) ([]Clinic, error)
	GetAppointmentType(ctx context.Context, clinicID, id uuid.UUID) (*AppointmentType, error)
	GetPatient(ctx context.Context, clinicID, id uuid.UUID) (*Patient, error)

	// ListQualifiedPractitioners returns the active practitioner memberships
	// able to serve appointmentTypeID, in a stable order.
	ListQualifiedPractitioners(ctx context.Context, clinicID, appointmentTypeID uuid.UUID) ([]policy.ClinicMembership, error)

	// CountFutureAppointments counts confirmed appointments of the patient
	// starting after now.
	CountFutureAppointments(ctx context.Context, clinicID, patientID uuid.UUID, now time.Time) (int, error)

	GetAppointment(ctx context.Context, clinicID, id uuid.UUID) (*Appointment, error)
	// LockAppointment reads the row under a no-wait row lock; contention
	// fails with ErrAppointmentLocked. Only meaningful inside InTx.
	LockAppointment(ctx context.Context, clinicID, id uuid.UUID) (*Appointment, error)
	InsertAppointment(ctx context.Context, a *Appointment) error
	UpdateAppointment(ctx context.Context, a *Appointment) error
	HasReceipt(ctx context.Context, appointmentID uuid.UUID) (bool, error)

	// ListHiddenAutoAssigned returns confirmed, still auto-assigned
	// appointments of the clinic starting after now.
	ListHiddenAutoAssigned(ctx context.Context, clinicID uuid.UUID, now time.Time) ([]Appointment, error)
	// RevealAppointment clears is_auto_assigned; false when it was already clear.
	RevealAppointment(ctx context.Context, id uuid.UUID) (bool, error)

	InsertEvent(ctx context.Context, ev EventLog) error

	// InTx runs fn against a transaction-bound repository. fn's error rolls
	// everything back.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error
}

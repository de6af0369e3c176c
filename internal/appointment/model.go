package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling-engine/internal/policy"
)

type AppointmentStatus string

const (
	StatusConfirmed         AppointmentStatus = "confirmed"
	StatusCanceledByPatient AppointmentStatus = "canceled_by_patient"
	StatusCanceledByClinic  AppointmentStatus = "canceled_by_clinic"
)

func (s AppointmentStatus) Canceled() bool {
	return s == StatusCanceledByPatient || s == StatusCanceledByClinic
}

// DefaultTimezone is used for clinics with no or an unknown timezone.
const DefaultTimezone = "Asia/Taipei"

type Clinic struct {
	ID        uuid.UUID
	Name      string
	Timezone  string
	Policy    policy.BookingPolicy
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Location resolves the clinic timezone, falling back to fallback.
func (c *Clinic) Location(fallback *time.Location) *time.Location {
	if c.Timezone != "" {
		if loc, err := time.LoadLocation(c.Timezone); err == nil {
			return loc
		}
	}
	if fallback != nil {
		return fallback
	}
	return time.UTC
}

type Patient struct {
	ID        uuid.UUID
	ClinicID  uuid.UUID
	Name      string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type AppointmentType struct {
	ID                  uuid.UUID
	ClinicID            uuid.UUID
	Name                string
	DurationMinutes     int
	AllowPatientBooking bool
}

type Appointment struct {
	ID                uuid.UUID         `json:"id"`
	ClinicID          uuid.UUID         `json:"clinic_id"`
	PatientID         uuid.UUID         `json:"patient_id"`
	PractitionerID    uuid.UUID         `json:"practitioner_id"`
	AppointmentTypeID uuid.UUID         `json:"appointment_type_id"`
	StartTime         time.Time         `json:"start_time"`
	EndTime           time.Time         `json:"end_time"`
	Status            AppointmentStatus `json:"status"`
	Notes             string            `json:"notes,omitempty"`
	// IsAutoAssigned hides the appointment from the practitioner until staff
	// confirm it or the booking look-ahead window closes on it.
	IsAutoAssigned          bool        `json:"is_auto_assigned"`
	OriginallyAutoAssigned  bool        `json:"originally_auto_assigned"`
	PendingTimeConfirmation bool        `json:"pending_time_confirmation"`
	AlternativeTimeSlots    []time.Time `json:"alternative_time_slots,omitempty"`
	ReassignedByUserID      *uuid.UUID  `json:"reassigned_by_user_id,omitempty"`
	ReassignedAt            *time.Time  `json:"reassigned_at,omitempty"`
	CanceledAt              *time.Time  `json:"canceled_at,omitempty"`
	CreatedAt               time.Time   `json:"created_at"`
	UpdatedAt               time.Time   `json:"updated_at"`
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

type ActorRole string

const (
	ActorPatient ActorRole = "patient"
	ActorStaff   ActorRole = "staff"
)

// Actor is who initiates an operation. Patients are bound by booking policy
// and may only touch their own appointments; staff bypass the policy and may
// book in override mode.
type Actor struct {
	Role   ActorRole
	UserID uuid.UUID
}

func (a Actor) IsStaff() bool { return a.Role == ActorStaff }

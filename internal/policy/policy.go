// Package policy holds clinic booking policy and practitioner settings, and
// evaluates the temporal booking restrictions patients are subject to.
package policy

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling-engine/internal/apperror"
	"github.com/hackgods/clinic-scheduling-engine/internal/timeslot"
)

type RestrictionMode string

const (
	MinimumHoursRequired  RestrictionMode = "minimum_hours_required"
	DeadlineTimeDayBefore RestrictionMode = "deadline_time_day_before"
)

// Defaults applied when a clinic's settings document omits a field.
const (
	DefaultMinimumBookingHoursAhead       = 24
	DefaultMaxBookingWindowDays           = 90
	DefaultMaxFutureAppointments          = 3
	DefaultMinimumCancellationHoursBefore = 24
	DefaultStepSizeMinutes                = 30
)

var (
	DefaultDeadlineTime = timeslot.NewClock(8, 0)
	DefaultReminderTime = timeslot.NewClock(21, 0)
)

var ErrInvalidSettings = apperror.Validation("invalid_settings", "invalid scheduling settings")

// BookingPolicy is a clinic's resolved booking configuration.
type BookingPolicy struct {
	Mode                           RestrictionMode `json:"booking_restriction_type"`
	MinimumBookingHoursAhead       int             `json:"minimum_booking_hours_ahead"`
	DeadlineTime                   timeslot.Clock  `json:"deadline_time_day_before"`
	DeadlineOnSameDay              bool            `json:"deadline_on_same_day"`
	MaxBookingWindowDays           int             `json:"max_booking_window_days"`
	MaxFutureAppointments          int             `json:"max_future_appointments"`
	MinimumCancellationHoursBefore int             `json:"minimum_cancellation_hours_before"`
	StepSizeMinutes                int             `json:"step_size_minutes"`
	ReminderTime                   timeslot.Clock  `json:"reminder_time"`
	CompactSchedule                bool            `json:"compact_schedule_enabled"`
}

func Default() BookingPolicy {
	return BookingPolicy{
		Mode:                           MinimumHoursRequired,
		MinimumBookingHoursAhead:       DefaultMinimumBookingHoursAhead,
		DeadlineTime:                   DefaultDeadlineTime,
		MaxBookingWindowDays:           DefaultMaxBookingWindowDays,
		MaxFutureAppointments:          DefaultMaxFutureAppointments,
		MinimumCancellationHoursBefore: DefaultMinimumCancellationHoursBefore,
		StepSizeMinutes:                DefaultStepSizeMinutes,
		ReminderTime:                   DefaultReminderTime,
	}
}

// policyDocument mirrors the stored settings blob; every field is optional.
type policyDocument struct {
	Mode                           *string `json:"booking_restriction_type"`
	MinimumBookingHoursAhead       *int    `json:"minimum_booking_hours_ahead"`
	DeadlineTime                   *string `json:"deadline_time_day_before"`
	DeadlineOnSameDay              *bool   `json:"deadline_on_same_day"`
	MaxBookingWindowDays           *int    `json:"max_booking_window_days"`
	MaxFutureAppointments          *int    `json:"max_future_appointments"`
	MinimumCancellationHoursBefore *int    `json:"minimum_cancellation_hours_before"`
	StepSizeMinutes                *int    `json:"step_size_minutes"`
	ReminderTime                   *string `json:"reminder_time"`
	CompactSchedule                *bool   `json:"compact_schedule_enabled"`
}

// ParseBookingPolicy decodes a clinic settings document, validates it and
// fills every missing field with its default. An empty document yields
// Default().
func ParseBookingPolicy(raw []byte) (BookingPolicy, error) {
	p := Default()
	if len(raw) == 0 || string(raw) == "null" {
		return p, nil
	}

	var doc policyDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return BookingPolicy{}, ErrInvalidSettings.Wrap(err)
	}

	if doc.Mode != nil {
		switch RestrictionMode(*doc.Mode) {
		case MinimumHoursRequired, DeadlineTimeDayBefore:
			p.Mode = RestrictionMode(*doc.Mode)
		default:
			return BookingPolicy{}, ErrInvalidSettings.WithDetail("unknown booking_restriction_type %q", *doc.Mode)
		}
	}
	if doc.DeadlineTime != nil {
		c, err := timeslot.ParseClock(*doc.DeadlineTime)
		if err != nil {
			return BookingPolicy{}, ErrInvalidSettings.Wrap(err)
		}
		p.DeadlineTime = c
	}
	if doc.ReminderTime != nil {
		c, err := timeslot.ParseClock(*doc.ReminderTime)
		if err != nil {
			return BookingPolicy{}, ErrInvalidSettings.Wrap(err)
		}
		p.ReminderTime = c
	}
	if doc.DeadlineOnSameDay != nil {
		p.DeadlineOnSameDay = *doc.DeadlineOnSameDay
	}
	if doc.CompactSchedule != nil {
		p.CompactSchedule = *doc.CompactSchedule
	}

	ints := []struct {
		name string
		src  *int
		dst  *int
		min  int
	}{
		{"minimum_booking_hours_ahead", doc.MinimumBookingHoursAhead, &p.MinimumBookingHoursAhead, 0},
		{"max_booking_window_days", doc.MaxBookingWindowDays, &p.MaxBookingWindowDays, 1},
		{"max_future_appointments", doc.MaxFutureAppointments, &p.MaxFutureAppointments, 1},
		{"minimum_cancellation_hours_before", doc.MinimumCancellationHoursBefore, &p.MinimumCancellationHoursBefore, 0},
		{"step_size_minutes", doc.StepSizeMinutes, &p.StepSizeMinutes, 1},
	}
	for _, f := range ints {
		if f.src == nil {
			continue
		}
		if *f.src < f.min {
			return BookingPolicy{}, ErrInvalidSettings.WithDetail("%s must be >= %d, got %d", f.name, f.min, *f.src)
		}
		*f.dst = *f.src
	}

	return p, nil
}

type Role string

const (
	RolePractitioner Role = "practitioner"
	RoleAdmin        Role = "admin"
	RoleReceptionist Role = "receptionist"
)

// PractitionerSettings are per-clinic settings of one practitioner.
type PractitionerSettings struct {
	// StepSizeMinutes overrides the clinic step when > 0.
	StepSizeMinutes       int  `json:"step_size_minutes,omitempty"`
	PatientBookingAllowed bool `json:"patient_booking_allowed"`
	CompactSchedule       bool `json:"compact_schedule_enabled"`
}

type practitionerDocument struct {
	StepSizeMinutes       *int  `json:"step_size_minutes"`
	PatientBookingAllowed *bool `json:"patient_booking_allowed"`
	CompactSchedule       *bool `json:"compact_schedule_enabled"`
}

// ParsePractitionerSettings decodes a membership settings document. Patient
// booking is allowed unless explicitly disabled; no step override by default.
func ParsePractitionerSettings(raw []byte) (PractitionerSettings, error) {
	s := PractitionerSettings{PatientBookingAllowed: true}
	if len(raw) == 0 || string(raw) == "null" {
		return s, nil
	}

	var doc practitionerDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return PractitionerSettings{}, ErrInvalidSettings.Wrap(err)
	}
	if doc.StepSizeMinutes != nil {
		if *doc.StepSizeMinutes < 0 {
			return PractitionerSettings{}, ErrInvalidSettings.WithDetail("step_size_minutes must be >= 0, got %d", *doc.StepSizeMinutes)
		}
		s.StepSizeMinutes = *doc.StepSizeMinutes
	}
	if doc.PatientBookingAllowed != nil {
		s.PatientBookingAllowed = *doc.PatientBookingAllowed
	}
	if doc.CompactSchedule != nil {
		s.CompactSchedule = *doc.CompactSchedule
	}
	return s, nil
}

// ClinicMembership is a user's role set and settings at one clinic. The same
// user may hold different memberships at different clinics.
type ClinicMembership struct {
	UserID   uuid.UUID
	ClinicID uuid.UUID
	Roles    []Role
	Settings PractitionerSettings
	Active   bool
}

func (m ClinicMembership) HasRole(r Role) bool {
	for _, have := range m.Roles {
		if have == r {
			return true
		}
	}
	return false
}

func (m ClinicMembership) IsPractitioner() bool {
	return m.Active && m.HasRole(RolePractitioner)
}

// StepMinutes returns the slot granularity for a practitioner under p.
func (p BookingPolicy) StepMinutes(s PractitionerSettings) int {
	if s.StepSizeMinutes > 0 {
		return s.StepSizeMinutes
	}
	if p.StepSizeMinutes > 0 {
		return p.StepSizeMinutes
	}
	return DefaultStepSizeMinutes
}

func (p BookingPolicy) String() string {
	return fmt.Sprintf("mode=%s min_hours=%d deadline=%s same_day=%t window_days=%d max_future=%d cancel_hours=%d step=%d",
		p.Mode, p.MinimumBookingHoursAhead, p.DeadlineTime, p.DeadlineOnSameDay,
		p.MaxBookingWindowDays, p.MaxFutureAppointments, p.MinimumCancellationHoursBefore, p.StepSizeMinutes)
}

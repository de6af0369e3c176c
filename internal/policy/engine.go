package policy

import (
	"time"

	"github.com/hackgods/clinic-scheduling-engine/internal/apperror"
)

var (
	ErrTooSoon                   = apperror.New(apperror.KindPolicyViolation, "booking_too_soon", "appointment starts too soon to be booked")
	ErrTooFarAhead               = apperror.New(apperror.KindPolicyViolation, "booking_too_far_ahead", "appointment is beyond the booking window")
	ErrDeadlinePassed            = apperror.New(apperror.KindPolicyViolation, "booking_deadline_passed", "booking deadline for this date has passed")
	ErrCancellationWindowPassed  = apperror.New(apperror.KindPolicyViolation, "cancellation_window_passed", "appointment can no longer be cancelled or changed")
	ErrTooManyFutureAppointments = apperror.New(apperror.KindPolicyViolation, "too_many_future_appointments", "patient already holds the maximum number of future appointments")
)

// WindowEnd is the latest start time a patient may book at now.
func (p BookingPolicy) WindowEnd(now time.Time) time.Time {
	return now.AddDate(0, 0, p.MaxBookingWindowDays)
}

// Deadline is the moment after which start's date can no longer be booked in
// deadline mode: the configured time on the previous day, or on the same day
// when DeadlineOnSameDay is set. It is computed in start's location.
func (p BookingPolicy) Deadline(start time.Time) time.Time {
	date := start
	if !p.DeadlineOnSameDay {
		date = start.AddDate(0, 0, -1)
	}
	return p.DeadlineTime.On(date)
}

// ValidateNewBooking checks whether a patient may book candidateStart at now.
func ValidateNewBooking(p BookingPolicy, candidateStart, now time.Time) error {
	if candidateStart.After(p.WindowEnd(now)) {
		return ErrTooFarAhead.WithDetail("appointments can be booked at most %d days ahead", p.MaxBookingWindowDays)
	}
	return validateLeadTime(p, candidateStart, now)
}

func validateLeadTime(p BookingPolicy, candidateStart, now time.Time) error {
	switch p.Mode {
	case DeadlineTimeDayBefore:
		deadline := p.Deadline(candidateStart)
		if !now.Before(deadline) {
			return ErrDeadlinePassed.WithDetail("booking for %s closed at %s",
				candidateStart.Format(time.DateOnly), deadline.Format("2006-01-02 15:04"))
		}
	default:
		if candidateStart.Sub(now) < hours(p.MinimumBookingHoursAhead) {
			return ErrTooSoon.WithDetail("appointments must be booked at least %d hours ahead", p.MinimumBookingHoursAhead)
		}
	}
	return nil
}

// LookAheadClosed reports whether a patient could no longer book start at
// now because of the lead-time rule (the window limit is not considered).
func (p BookingPolicy) LookAheadClosed(start, now time.Time) bool {
	return validateLeadTime(p, start, now) != nil
}

// ValidateCancellation checks whether a patient may still cancel or move an
// appointment starting at currentStart.
func ValidateCancellation(p BookingPolicy, currentStart, now time.Time) error {
	if currentStart.Sub(now) < hours(p.MinimumCancellationHoursBefore) {
		return ErrCancellationWindowPassed.WithDetail("appointments must be cancelled at least %d hours ahead", p.MinimumCancellationHoursBefore)
	}
	return nil
}

// ValidateFutureAppointmentCap checks the patient's open future appointments.
func ValidateFutureAppointmentCap(p BookingPolicy, currentFutureCount int) error {
	if currentFutureCount >= p.MaxFutureAppointments {
		return ErrTooManyFutureAppointments.WithDetail("at most %d future appointments are allowed", p.MaxFutureAppointments)
	}
	return nil
}

func hours(n int) time.Duration {
	return time.Duration(n) * time.Hour
}

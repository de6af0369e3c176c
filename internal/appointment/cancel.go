package appointment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling-engine/internal/policy"
)

// CancelAppointment cancels an appointment. A receipt blocks cancellation
// for everyone; cancelling twice succeeds and reports AlreadyCanceled.
// Appointments are never deleted.
func (s *Service) CancelAppointment(ctx context.Context, actor Actor, clinicID, appointmentID uuid.UUID) (*Result, error) {
	clinic, _, err := s.loadClinic(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	now := s.now()

	var res *Result
	err = s.repo.InTx(ctx, func(ctx context.Context, tx Repository) error {
		appt, err := tx.LockAppointment(ctx, clinic.ID, appointmentID)
		if err != nil {
			return err
		}
		if err := authorize(actor, appt); err != nil {
			return err
		}

		hasReceipt, err := tx.HasReceipt(ctx, appt.ID)
		if err != nil {
			return fmt.Errorf("check receipt: %w", err)
		}
		if hasReceipt {
			return ErrReceiptExists.WithDetail("appointment has been billed and cannot be cancelled")
		}

		if appt.Status.Canceled() {
			res = &Result{Appointment: appt, PractitionerID: appt.PractitionerID, AlreadyCanceled: true}
			return nil
		}

		if !actor.IsStaff() {
			if err := policy.ValidateCancellation(clinic.Policy, appt.StartTime, now); err != nil {
				return err
			}
		}

		appt.Status = StatusCanceledByClinic
		if !actor.IsStaff() {
			appt.Status = StatusCanceledByPatient
		}
		at := now
		appt.CanceledAt = &at
		appt.UpdatedAt = now
		if err := tx.UpdateAppointment(ctx, appt); err != nil {
			return fmt.Errorf("cancel appointment: %w", err)
		}

		res = &Result{
			Appointment:    appt,
			PractitionerID: appt.PractitionerID,
			Event:          EventAppointmentCanceled,
			Effects:        Effects{SendCancellationNotice: true},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !res.AlreadyCanceled {
		s.logger.Info("appointment canceled",
			zap.String("appointment_id", res.Appointment.ID.String()),
			zap.String("status", string(res.Appointment.Status)),
		)
	}
	return res, nil
}

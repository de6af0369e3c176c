package appointment

import (
	"context"

	"go.uber.org/zap"
)

// RevealDueAutoAssigned makes auto-assigned appointments visible to their
// practitioner once a patient could no longer book that time, and queues the
// practitioner notification. It returns how many were revealed.
func (s *Service) RevealDueAutoAssigned(ctx context.Context) (int, error) {
	clinics, err := s.repo.ListClinics(ctx)
	if err != nil {
		return 0, err
	}
	now := s.now()

	revealed := 0
	for _, c := range clinics {
		loc := c.Location(s.cfg.Location())
		appts, err := s.repo.ListHiddenAutoAssigned(ctx, c.ID, now)
		if err != nil {
			s.logger.Error("list hidden auto-assigned appointments", zap.String("clinic_id", c.ID.String()), zap.Error(err))
			continue
		}

		for i := range appts {
			a := &appts[i]
			if !c.Policy.LookAheadClosed(a.StartTime.In(loc), now.In(loc)) {
				continue
			}
			ok, err := s.repo.RevealAppointment(ctx, a.ID)
			if err != nil {
				s.logger.Error("reveal appointment", zap.String("appointment_id", a.ID.String()), zap.Error(err))
				continue
			}
			if !ok {
				continue
			}
			a.IsAutoAssigned = false
			a.UpdatedAt = now
			revealed++
			s.PublishEffects(ctx, &Result{
				Appointment:    a,
				PractitionerID: a.PractitionerID,
				Event:          EventAppointmentRevealed,
				Effects:        Effects{SendPractitionerAssignment: true},
			})
		}
	}
	return revealed, nil
}

package appointment

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	EventAppointmentCreated  = "APPOINTMENT_CREATED"
	EventAppointmentUpdated  = "APPOINTMENT_UPDATED"
	EventAppointmentCanceled = "APPOINTMENT_CANCELED"
	EventAppointmentRevealed = "APPOINTMENT_REVEALED"

	EventNotifyPatientConfirmation    = "NOTIFY_PATIENT_CONFIRMATION"
	EventNotifyPractitionerAssignment = "NOTIFY_PRACTITIONER_ASSIGNMENT"
	EventNotifyReassignment           = "NOTIFY_REASSIGNMENT"
	EventNotifyTimeChange             = "NOTIFY_TIME_CHANGE"
	EventNotifyCancellation           = "NOTIFY_CANCELLATION"
)

// Effects are the notifications an operation warrants. The engine only
// decides; delivery belongs to the notification collaborator.
type Effects struct {
	SendPatientConfirmation    bool `json:"send_patient_confirmation"`
	SendPractitionerAssignment bool `json:"send_practitioner_assignment"`
	SendReassignmentNotice     bool `json:"send_reassignment_notice"`
	SendTimeChangeNotice       bool `json:"send_time_change_notice"`
	SendCancellationNotice     bool `json:"send_cancellation_notice"`
}

func (e Effects) Any() bool {
	return len(e.events()) > 0
}

func (e Effects) events() []string {
	var out []string
	if e.SendPatientConfirmation {
		out = append(out, EventNotifyPatientConfirmation)
	}
	if e.SendPractitionerAssignment {
		out = append(out, EventNotifyPractitionerAssignment)
	}
	if e.SendReassignmentNotice {
		out = append(out, EventNotifyReassignment)
	}
	if e.SendTimeChangeNotice {
		out = append(out, EventNotifyTimeChange)
	}
	if e.SendCancellationNotice {
		out = append(out, EventNotifyCancellation)
	}
	return out
}

// PublishEffects records the lifecycle event and one outbox row per effect in
// event_logs. It runs after commit and is best-effort: failures are logged
// and never undo the appointment change.
func (s *Service) PublishEffects(ctx context.Context, res *Result) {
	if res == nil || res.Appointment == nil || res.AlreadyCanceled {
		return
	}
	a := res.Appointment
	payload := map[string]any{
		"clinic_id":            a.ClinicID.String(),
		"patient_id":           a.PatientID.String(),
		"practitioner_id":      a.PractitionerID.String(),
		"start_time":           a.StartTime,
		"end_time":             a.EndTime,
		"status":               a.Status,
		"is_auto_assigned":     a.IsAutoAssigned,
		"practitioner_changed": res.PractitionerChanged,
		"time_changed":         res.TimeChanged,
	}

	if res.Event != "" {
		s.logEvent(ctx, a.ID, res.Event, payload)
	}
	for _, ev := range res.Effects.events() {
		s.logEvent(ctx, a.ID, ev, payload)
	}
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Warn("insert event log",
			zap.String("event_type", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err),
		)
	}
}

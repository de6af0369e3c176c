package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling-engine/internal/appointment"
	"github.com/hackgods/clinic-scheduling-engine/internal/conflict"
	"github.com/hackgods/clinic-scheduling-engine/internal/schedule"
	"github.com/hackgods/clinic-scheduling-engine/internal/timeslot"
)

type CreateAppointmentRequest struct {
	PatientID          uuid.UUID   `json:"patient_id"`
	AppointmentTypeID  uuid.UUID   `json:"appointment_type_id"`
	PractitionerID     *uuid.UUID  `json:"practitioner_id,omitempty"`
	StartTime          time.Time   `json:"start_time"`
	TentativeTimeSlots []time.Time `json:"tentative_time_slots,omitempty"`
	ResourceIDs        []uuid.UUID `json:"resource_ids,omitempty"`
	Notes              string      `json:"notes,omitempty"`
	Override           bool        `json:"override,omitempty"`
}

type UpdateAppointmentRequest struct {
	PractitionerID    *uuid.UUID  `json:"practitioner_id,omitempty"`
	AutoAssign        bool        `json:"auto_assign,omitempty"`
	StartTime         *time.Time  `json:"start_time,omitempty"`
	AppointmentTypeID *uuid.UUID  `json:"appointment_type_id,omitempty"`
	ConfirmTimeSlot   *time.Time  `json:"confirm_time_slot,omitempty"`
	ResourceIDs       []uuid.UUID `json:"resource_ids,omitempty"`
	Notes             *string     `json:"notes,omitempty"`
	Override          bool        `json:"override,omitempty"`
}

type ConflictCheckRequest struct {
	PractitionerID       uuid.UUID   `json:"practitioner_id"`
	AppointmentTypeID    uuid.UUID   `json:"appointment_type_id"`
	StartTime            time.Time   `json:"start_time"`
	DurationMinutes      int         `json:"duration_minutes,omitempty"`
	ExcludeAppointmentID *uuid.UUID  `json:"exclude_appointment_id,omitempty"`
	ResourceIDs          []uuid.UUID `json:"resource_ids,omitempty"`
}

type AppointmentResponse struct {
	Appointment          *appointment.Appointment `json:"appointment"`
	PractitionerChanged  bool                     `json:"practitioner_changed,omitempty"`
	TimeChanged          bool                     `json:"time_changed,omitempty"`
	AlreadyCanceled      bool                     `json:"already_canceled,omitempty"`
	AllocatedResourceIDs []uuid.UUID              `json:"allocated_resource_ids,omitempty"`
	Warnings             []conflict.Finding       `json:"warnings,omitempty"`
	Effects              appointment.Effects      `json:"effects"`
}

func newAppointmentResponse(res *appointment.Result) AppointmentResponse {
	return AppointmentResponse{
		Appointment:          res.Appointment,
		PractitionerChanged:  res.PractitionerChanged,
		TimeChanged:          res.TimeChanged,
		AlreadyCanceled:      res.AlreadyCanceled,
		AllocatedResourceIDs: res.AllocatedResourceIDs,
		Warnings:             res.Warnings,
		Effects:              res.Effects,
	}
}

type SlotResponse struct {
	PractitionerID uuid.UUID      `json:"practitioner_id"`
	Start          timeslot.Clock `json:"start"`
	End            timeslot.Clock `json:"end"`
	StartTime      time.Time      `json:"start_time"`
	EndTime        time.Time      `json:"end_time"`
	Recommended    bool           `json:"recommended,omitempty"`
}

type SlotsResponse struct {
	Date  string         `json:"date"`
	Slots []SlotResponse `json:"slots"`
}

func newSlotsResponse(date string, slots []schedule.Slot) SlotsResponse {
	out := SlotsResponse{Date: date, Slots: make([]SlotResponse, 0, len(slots))}
	for _, s := range slots {
		out.Slots = append(out.Slots, SlotResponse{
			PractitionerID: s.PractitionerID,
			Start:          s.Start,
			End:            s.End,
			StartTime:      s.StartAt(),
			EndTime:        s.EndAt(),
			Recommended:    s.Recommended,
		})
	}
	return out
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

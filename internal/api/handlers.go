package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling-engine/internal/apperror"
	"github.com/hackgods/clinic-scheduling-engine/internal/appointment"
)

var (
	errInvalidActor = apperror.Validation("invalid_actor", "X-Actor-Role must be patient or staff and X-Actor-ID a valid UUID")
	errStaffOnly    = apperror.New(apperror.KindForbidden, "staff_only", "only clinic staff may use this endpoint")
)

func createAppointmentHandler(svc AppointmentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, clinicID, ok := actorAndClinic(w, r)
		if !ok {
			return
		}

		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		res, err := svc.CreateAppointment(r.Context(), actor, appointment.CreateRequest{
			ClinicID:          clinicID,
			PatientID:         req.PatientID,
			AppointmentTypeID: req.AppointmentTypeID,
			PractitionerID:    req.PractitionerID,
			StartTime:         req.StartTime,
			TentativeSlots:    req.TentativeTimeSlots,
			ResourceIDs:       req.ResourceIDs,
			Notes:             req.Notes,
			Override:          req.Override,
		})
		if err != nil {
			writeAppError(w, r, logger, err)
			return
		}

		svc.PublishEffects(context.WithoutCancel(r.Context()), res)
		writeJSON(w, http.StatusCreated, newAppointmentResponse(res))
	}
}

func getAppointmentHandler(svc AppointmentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, clinicID, ok := actorAndClinic(w, r)
		if !ok {
			return
		}
		id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), actor, clinicID, id)
		if err != nil {
			writeAppError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, appt)
	}
}

func updateAppointmentHandler(svc AppointmentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, clinicID, ok := actorAndClinic(w, r)
		if !ok {
			return
		}
		id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		var req UpdateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		res, err := svc.UpdateAppointment(r.Context(), actor, appointment.UpdateRequest{
			ClinicID:          clinicID,
			AppointmentID:     id,
			PractitionerID:    req.PractitionerID,
			AutoAssign:        req.AutoAssign,
			StartTime:         req.StartTime,
			AppointmentTypeID: req.AppointmentTypeID,
			ConfirmTimeSlot:   req.ConfirmTimeSlot,
			ResourceIDs:       req.ResourceIDs,
			Notes:             req.Notes,
			Override:          req.Override,
		})
		if err != nil {
			writeAppError(w, r, logger, err)
			return
		}

		svc.PublishEffects(context.WithoutCancel(r.Context()), res)
		writeJSON(w, http.StatusOK, newAppointmentResponse(res))
	}
}

func cancelAppointmentHandler(svc AppointmentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, clinicID, ok := actorAndClinic(w, r)
		if !ok {
			return
		}
		id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		res, err := svc.CancelAppointment(r.Context(), actor, clinicID, id)
		if err != nil {
			writeAppError(w, r, logger, err)
			return
		}

		svc.PublishEffects(context.WithoutCancel(r.Context()), res)
		writeJSON(w, http.StatusOK, newAppointmentResponse(res))
	}
}

func practitionerSlotsHandler(svc AppointmentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, clinicID, ok := actorAndClinic(w, r)
		if !ok {
			return
		}
		practitionerID, ok := uuidParam(w, r, "practitionerID", "invalid_practitioner_id")
		if !ok {
			return
		}
		q, ok := slotQuery(w, r, clinicID)
		if !ok {
			return
		}
		q.PractitionerID = &practitionerID

		slots, err := svc.PractitionerSlots(r.Context(), actor, q)
		if err != nil {
			writeAppError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, newSlotsResponse(q.Date.Format(time.DateOnly), slots))
	}
}

func clinicSlotsHandler(svc AppointmentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, clinicID, ok := actorAndClinic(w, r)
		if !ok {
			return
		}
		q, ok := slotQuery(w, r, clinicID)
		if !ok {
			return
		}

		slots, err := svc.ClinicSlots(r.Context(), actor, q)
		if err != nil {
			writeAppError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, newSlotsResponse(q.Date.Format(time.DateOnly), slots))
	}
}

func checkConflictsHandler(svc AppointmentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, clinicID, ok := actorAndClinic(w, r)
		if !ok {
			return
		}
		if !actor.IsStaff() {
			writeAppError(w, r, logger, errStaffOnly)
			return
		}

		var req ConflictCheckRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		report, err := svc.CheckSchedulingConflicts(r.Context(), appointment.ConflictCheck{
			ClinicID:             clinicID,
			PractitionerID:       req.PractitionerID,
			AppointmentTypeID:    req.AppointmentTypeID,
			StartTime:            req.StartTime,
			DurationMinutes:      req.DurationMinutes,
			ExcludeAppointmentID: req.ExcludeAppointmentID,
			ResourceIDs:          req.ResourceIDs,
		})
		if err != nil {
			writeAppError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// actorFromRequest reads the identity an upstream gateway attached.
func actorFromRequest(r *http.Request) (appointment.Actor, error) {
	role := appointment.ActorRole(r.Header.Get("X-Actor-Role"))
	if role != appointment.ActorPatient && role != appointment.ActorStaff {
		return appointment.Actor{}, errInvalidActor
	}
	id, err := uuid.Parse(r.Header.Get("X-Actor-ID"))
	if err != nil {
		return appointment.Actor{}, errInvalidActor
	}
	return appointment.Actor{Role: role, UserID: id}, nil
}

func actorAndClinic(w http.ResponseWriter, r *http.Request) (appointment.Actor, uuid.UUID, bool) {
	actor, err := actorFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, apperror.CodeOf(err), err.Error())
		return appointment.Actor{}, uuid.Nil, false
	}
	clinicID, ok := uuidParam(w, r, "clinicID", "invalid_clinic_id")
	if !ok {
		return appointment.Actor{}, uuid.Nil, false
	}
	return actor, clinicID, true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func slotQuery(w http.ResponseWriter, r *http.Request, clinicID uuid.UUID) (appointment.SlotQuery, bool) {
	query := r.URL.Query()

	typeID, err := uuid.Parse(query.Get("appointment_type_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_type_id", "appointment_type_id must be a valid UUID")
		return appointment.SlotQuery{}, false
	}
	date, err := time.Parse(time.DateOnly, query.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return appointment.SlotQuery{}, false
	}

	q := appointment.SlotQuery{ClinicID: clinicID, AppointmentTypeID: typeID, Date: date}
	if raw := query.Get("editing_appointment_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_editing_appointment_id", "editing_appointment_id must be a valid UUID")
			return appointment.SlotQuery{}, false
		}
		q.EditingAppointmentID = &id
	}
	if raw := query.Get("override"); raw != "" {
		override, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_override", "override must be a boolean")
			return appointment.SlotQuery{}, false
		}
		q.Override = override
	}
	return q, true
}

func writeAppError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	kind := apperror.KindOf(err)
	if kind == apperror.KindInternal {
		logger.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	writeError(w, apperror.HTTPStatus(kind), apperror.CodeOf(err), err.Error())
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

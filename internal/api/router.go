package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling-engine/internal/appointment"
	"github.com/hackgods/clinic-scheduling-engine/internal/conflict"
	"github.com/hackgods/clinic-scheduling-engine/internal/schedule"
)

type AppointmentService interface {
	CreateAppointment(ctx context.Context, actor appointment.Actor, req appointment.CreateRequest) (*appointment.Result, error)
	UpdateAppointment(ctx context.Context, actor appointment.Actor, req appointment.UpdateRequest) (*appointment.Result, error)
	CancelAppointment(ctx context.Context, actor appointment.Actor, clinicID, appointmentID uuid.UUID) (*appointment.Result, error)
	GetAppointment(ctx context.Context, actor appointment.Actor, clinicID, id uuid.UUID) (*appointment.Appointment, error)
	PractitionerSlots(ctx context.Context, actor appointment.Actor, q appointment.SlotQuery) ([]schedule.Slot, error)
	ClinicSlots(ctx context.Context, actor appointment.Actor, q appointment.SlotQuery) ([]schedule.Slot, error)
	CheckSchedulingConflicts(ctx context.Context, req appointment.ConflictCheck) (*conflict.Report, error)
	PublishEffects(ctx context.Context, res *appointment.Result)
}

// Check probes one dependency for readiness.
type Check func(ctx context.Context) error

type RouterConfig struct {
	Service  AppointmentService
	Logger   *zap.Logger
	Postgres Check
	Redis    Check
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	svc, logger := cfg.Service, cfg.Logger
	r.Route("/clinics/{clinicID}", func(r chi.Router) {
		r.Get("/slots", clinicSlotsHandler(svc, logger))
		r.Get("/practitioners/{practitionerID}/slots", practitionerSlotsHandler(svc, logger))

		r.Post("/appointments", createAppointmentHandler(svc, logger))
		r.Get("/appointments/{id}", getAppointmentHandler(svc, logger))
		r.Patch("/appointments/{id}", updateAppointmentHandler(svc, logger))
		r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(svc, logger))

		r.Post("/conflicts/check", checkConflictsHandler(svc, logger))
	})

	return r
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling-engine/internal/config"
	"github.com/hackgods/clinic-scheduling-engine/internal/db"
	"github.com/hackgods/clinic-scheduling-engine/internal/logger"
	"github.com/hackgods/clinic-scheduling-engine/internal/policy"
)

type seedCounts struct {
	Practitioners int
	Patients      int
	Rooms         int
}

type appointmentTypeSeed struct {
	Name     string
	Duration int
	NeedRoom bool
}

var appointmentTypes = []appointmentTypeSeed{
	{Name: "General Consultation", Duration: 30},
	{Name: "Follow-up", Duration: 15},
	{Name: "Physiotherapy", Duration: 60, NeedRoom: true},
	{Name: "Minor Procedure", Duration: 45, NeedRoom: true},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	counts := seedCounts{
		Practitioners: getInt("SEED_PRACTITIONERS", 8),
		Patients:      getInt("SEED_PATIENTS", 2000),
		Rooms:         getInt("SEED_ROOMS", 3),
	}
	log.Info("seed starting",
		zap.Int("practitioners", counts.Practitioners),
		zap.Int("patients", counts.Patients),
		zap.Int("rooms", counts.Rooms),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if cfg.RunMigrations {
		if err := db.RunMigrations(pool, log); err != nil {
			log.Fatal("run migrations", zap.Error(err))
		}
	}

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	clinicID := uuid.New()
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if err := seedClinic(ctx, tx, faker, clinicID, cfg.ClinicTimezone); err != nil {
			return fmt.Errorf("seed clinic: %w", err)
		}
		typeIDs, err := seedAppointmentTypes(ctx, tx, clinicID, counts.Rooms)
		if err != nil {
			return fmt.Errorf("seed appointment types: %w", err)
		}
		if err := seedPractitioners(ctx, tx, faker, clinicID, typeIDs, counts.Practitioners); err != nil {
			return fmt.Errorf("seed practitioners: %w", err)
		}
		return nil
	})
	if err != nil {
		log.Fatal("seed failed", zap.Error(err))
	}

	if err := seedPatients(ctx, pool, faker, clinicID, counts.Patients); err != nil {
		log.Fatal("seed patients", zap.Error(err))
	}

	log.Info("seed complete", zap.String("clinic_id", clinicID.String()))
}

func seedClinic(ctx context.Context, tx pgx.Tx, faker *gofakeit.Faker, clinicID uuid.UUID, timezone string) error {
	def := policy.Default()
	settings, err := json.Marshal(map[string]any{
		"booking_restriction_type":          string(def.Mode),
		"minimum_booking_hours_ahead":       def.MinimumBookingHoursAhead,
		"max_booking_window_days":           def.MaxBookingWindowDays,
		"max_future_appointments":           def.MaxFutureAppointments,
		"minimum_cancellation_hours_before": def.MinimumCancellationHoursBefore,
		"step_size_minutes":                 def.StepSizeMinutes,
	})
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO clinics (id, name, timezone, settings)
		VALUES ($1, $2, $3, $4)
	`, clinicID, faker.Company()+" Clinic", timezone, settings)
	if err != nil {
		return err
	}

	// one admin so staff requests have a real user to act as
	adminID := uuid.New()
	if err := insertUser(ctx, tx, faker, adminID); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO clinic_memberships (user_id, clinic_id, roles)
		VALUES ($1, $2, $3)
	`, adminID, clinicID, []string{string(policy.RoleAdmin)})
	return err
}

func seedAppointmentTypes(ctx context.Context, tx pgx.Tx, clinicID uuid.UUID, rooms int) ([]uuid.UUID, error) {
	roomTypeID := uuid.New()
	if _, err := tx.Exec(ctx, `
		INSERT INTO resource_types (id, clinic_id, name) VALUES ($1, $2, 'Treatment Room')
	`, roomTypeID, clinicID); err != nil {
		return nil, err
	}
	for i := 1; i <= rooms; i++ {
		if _, err := tx.Exec(ctx, `
			INSERT INTO resources (id, clinic_id, resource_type_id, name) VALUES ($1, $2, $3, $4)
		`, uuid.New(), clinicID, roomTypeID, "Room "+strconv.Itoa(i)); err != nil {
			return nil, err
		}
	}

	ids := make([]uuid.UUID, 0, len(appointmentTypes))
	for _, at := range appointmentTypes {
		id := uuid.New()
		if _, err := tx.Exec(ctx, `
			INSERT INTO appointment_types (id, clinic_id, name, duration_minutes)
			VALUES ($1, $2, $3, $4)
		`, id, clinicID, at.Name, at.Duration); err != nil {
			return nil, err
		}
		if at.NeedRoom {
			if _, err := tx.Exec(ctx, `
				INSERT INTO appointment_resource_requirements (appointment_type_id, resource_type_id, quantity)
				VALUES ($1, $2, 1)
			`, id, roomTypeID); err != nil {
				return nil, err
			}
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func seedPractitioners(ctx context.Context, tx pgx.Tx, faker *gofakeit.Faker, clinicID uuid.UUID, typeIDs []uuid.UUID, count int) error {
	for i := 0; i < count; i++ {
		userID := uuid.New()
		if err := insertUser(ctx, tx, faker, userID); err != nil {
			return err
		}

		settings, err := json.Marshal(map[string]any{
			"patient_booking_allowed":  faker.Number(0, 9) > 0,
			"compact_schedule_enabled": faker.Bool(),
		})
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO clinic_memberships (user_id, clinic_id, roles, settings)
			VALUES ($1, $2, $3, $4)
		`, userID, clinicID, []string{string(policy.RolePractitioner)}, settings); err != nil {
			return err
		}

		// every practitioner offers the first type, the rest at random
		for j, typeID := range typeIDs {
			if j > 0 && !faker.Bool() {
				continue
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO practitioner_appointment_types (user_id, clinic_id, appointment_type_id)
				VALUES ($1, $2, $3)
			`, userID, clinicID, typeID); err != nil {
				return err
			}
		}

		if err := seedWeeklyHours(ctx, tx, faker, clinicID, userID); err != nil {
			return err
		}
	}
	return nil
}

// seedWeeklyHours gives a practitioner a morning and an afternoon block on
// weekdays, split by a lunch hour at noon or 13:00.
func seedWeeklyHours(ctx context.Context, tx pgx.Tx, faker *gofakeit.Faker, clinicID, userID uuid.UUID) error {
	for day := time.Monday; day <= time.Friday; day++ {
		lunch := 12 + faker.Number(0, 1)
		blocks := [][2]int{
			{8 + faker.Number(0, 1), lunch},
			{lunch + 1, 17 + faker.Number(0, 1)},
		}
		for _, b := range blocks {
			if _, err := tx.Exec(ctx, `
				INSERT INTO availability_intervals (id, clinic_id, user_id, day_of_week, start_time, end_time)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, uuid.New(), clinicID, userID, int16(day), hourOfDay(b[0]), hourOfDay(b[1])); err != nil {
				return err
			}
		}
	}
	return nil
}

func hourOfDay(h int) pgtype.Time {
	return pgtype.Time{Microseconds: int64(h) * int64(time.Hour/time.Microsecond), Valid: true}
}

func insertUser(ctx context.Context, tx pgx.Tx, faker *gofakeit.Faker, id uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO users (id, name, email) VALUES ($1, $2, $3)
	`, id, faker.Name(), faker.Email())
	return err
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, clinicID uuid.UUID, count int) error {
	rows := make([][]any, 0, count)
	for i := 0; i < count; i++ {
		rows = append(rows, []any{uuid.New(), clinicID, faker.Name(), faker.Phone()})
	}

	n, err := pool.CopyFrom(ctx,
		pgx.Identifier{"patients"},
		[]string{"id", "clinic_id", "name", "phone"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return err
	}
	if int(n) != count {
		return fmt.Errorf("copied %d of %d patients", n, count)
	}
	return nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

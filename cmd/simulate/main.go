package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling-engine/internal/config"
	"github.com/hackgods/clinic-scheduling-engine/internal/db"
	"github.com/hackgods/clinic-scheduling-engine/internal/logger"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	CancelRatio  float64
	ReadRatio    float64
	DaysAhead    int
	PatientLimit int
	PostgresDSN  string
}

// DataPool is the seeded clinic the simulator drives traffic against.
type DataPool struct {
	ClinicID     uuid.UUID
	StaffID      uuid.UUID
	TypeIDs      []uuid.UUID
	Patients     []uuid.UUID
	mu           sync.RWMutex
	appointments []uuid.UUID // created by this run
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(faker *gofakeit.Faker) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[faker.Number(0, len(dp.appointments)-1)], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, max, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking OperationMetrics
	Cancel  OperationMetrics
	Slots   OperationMetrics
	Read    OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	log     *zap.Logger
	metrics Metrics
}

type slotsResponse struct {
	Slots []struct {
		PractitionerID uuid.UUID `json:"practitioner_id"`
		StartTime      time.Time `json:"start_time"`
	} `json:"slots"`
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New("info", "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("booking", cfg.BookingRatio),
		zap.Float64("cancel", cfg.CancelRatio),
		zap.Float64("read", cfg.ReadRatio),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatal("load data pool", zap.Error(err))
	}
	log.Info("loaded clinic",
		zap.String("clinic_id", dataPool.ClinicID.String()),
		zap.Int("appointment_types", len(dataPool.TypeIDs)),
		zap.Int("patients", len(dataPool.Patients)),
	)

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() (SimConfig, error) {
	baseCfg, err := config.Load()
	if err != nil {
		return SimConfig{}, fmt.Errorf("load base config: %w", err)
	}

	cfg := SimConfig{PostgresDSN: baseCfg.PostgresDSN}
	flag.StringVar(&cfg.APIBaseURL, "api", "http://localhost:8080", "api-server base URL")
	flag.DurationVar(&cfg.Duration, "duration", 30*time.Second, "how long to generate load")
	flag.IntVar(&cfg.Workers, "workers", 10, "concurrent workers")
	flag.Float64Var(&cfg.BookingRatio, "book", 0.5, "relative weight of bookings")
	flag.Float64Var(&cfg.CancelRatio, "cancel", 0.1, "relative weight of cancellations")
	flag.Float64Var(&cfg.ReadRatio, "read", 0.4, "relative weight of slot searches and reads")
	flag.IntVar(&cfg.DaysAhead, "days", 5, "book up to this many days ahead")
	flag.IntVar(&cfg.PatientLimit, "patients", 4000, "patients loaded from the seeded clinic")
	flag.Parse()

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ReadRatio
	if total <= 0 {
		return SimConfig{}, fmt.Errorf("operation weights must sum to > 0")
	}
	cfg.BookingRatio /= total
	cfg.CancelRatio /= total
	cfg.ReadRatio /= total

	if cfg.Workers <= 0 {
		return SimConfig{}, fmt.Errorf("-workers must be > 0")
	}
	if cfg.Duration <= 0 {
		return SimConfig{}, fmt.Errorf("-duration must be > 0")
	}
	if cfg.DaysAhead <= 0 {
		return SimConfig{}, fmt.Errorf("-days must be > 0")
	}
	return cfg, nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dp := &DataPool{}

	// Most recently seeded clinic with a staff member.
	err := pool.QueryRow(ctx, `
		SELECT c.id, m.user_id
		FROM clinics c
		JOIN clinic_memberships m ON m.clinic_id = c.id
		WHERE 'admin' = ANY(m.roles) AND m.is_active
		ORDER BY c.created_at DESC
		LIMIT 1
	`).Scan(&dp.ClinicID, &dp.StaffID)
	if err != nil {
		return nil, fmt.Errorf("load clinic: %w", err)
	}

	rows, err := pool.Query(ctx, `
		SELECT id FROM appointment_types
		WHERE clinic_id = $1 AND deleted_at IS NULL
	`, dp.ClinicID)
	if err != nil {
		return nil, fmt.Errorf("load appointment types: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dp.TypeIDs = append(dp.TypeIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = pool.Query(ctx, `
		SELECT id FROM patients WHERE clinic_id = $1 LIMIT $2
	`, dp.ClinicID, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dp.Patients = append(dp.Patients, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(dp.TypeIDs) == 0 {
		return nil, fmt.Errorf("no appointment types loaded")
	}
	if len(dp.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	return dp, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	faker := gofakeit.New(uint64(time.Now().UnixNano()) + uint64(workerID))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := faker.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, faker)
			case r < s.config.BookingRatio+s.config.CancelRatio:
				s.doCancel(ctx, faker)
			default:
				s.doRead(ctx, faker)
			}
		}
	}
}

// doBooking fetches open slots and books one of the first few, so workers
// regularly race each other for the same practitioner and time.
func (s *Simulator) doBooking(ctx context.Context, faker *gofakeit.Faker) {
	typeID := s.pool.TypeIDs[faker.Number(0, len(s.pool.TypeIDs)-1)]
	date := time.Now().AddDate(0, 0, faker.Number(1, s.config.DaysAhead))

	slots, ok := s.fetchSlots(ctx, typeID, date)
	if !ok || len(slots.Slots) == 0 {
		return
	}
	top := len(slots.Slots)
	if top > 3 {
		top = 3
	}
	slot := slots.Slots[faker.Number(0, top-1)]
	patientID := s.pool.Patients[faker.Number(0, len(s.pool.Patients)-1)]

	body, _ := json.Marshal(map[string]any{
		"patient_id":          patientID,
		"appointment_type_id": typeID,
		"practitioner_id":     slot.PractitionerID,
		"start_time":          slot.StartTime,
		"notes":               faker.Sentence(6),
	})

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.clinicURL("/appointments"), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.asStaff(req)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
			var created struct {
				Appointment struct {
					ID uuid.UUID `json:"id"`
				} `json:"appointment"`
			}
			if json.NewDecoder(resp.Body).Decode(&created) == nil && created.Appointment.ID != uuid.Nil {
				s.pool.AddAppointment(created.Appointment.ID)
			}
		case http.StatusConflict:
			conflict = true
		}
	}
	s.metrics.Booking.Record(latency, success, conflict)
}

func (s *Simulator) doCancel(ctx context.Context, faker *gofakeit.Faker) {
	apptID, ok := s.pool.RandomAppointment(faker)
	if !ok {
		return
	}

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
		s.clinicURL("/appointments/"+apptID.String()+"/cancel"), nil)
	s.asStaff(req)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
		conflict = resp.StatusCode == http.StatusConflict
	}
	s.metrics.Cancel.Record(latency, success, conflict)
}

func (s *Simulator) doRead(ctx context.Context, faker *gofakeit.Faker) {
	if faker.Bool() {
		typeID := s.pool.TypeIDs[faker.Number(0, len(s.pool.TypeIDs)-1)]
		s.fetchSlots(ctx, typeID, time.Now().AddDate(0, 0, faker.Number(1, s.config.DaysAhead)))
		return
	}

	apptID, ok := s.pool.RandomAppointment(faker)
	if !ok {
		return
	}

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, s.clinicURL("/appointments/"+apptID.String()), nil)
	s.asStaff(req)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}
	s.metrics.Read.Record(latency, success, false)
}

func (s *Simulator) fetchSlots(ctx context.Context, typeID uuid.UUID, date time.Time) (slotsResponse, bool) {
	url := fmt.Sprintf("%s?appointment_type_id=%s&date=%s",
		s.clinicURL("/slots"), typeID, date.Format(time.DateOnly))

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	s.asStaff(req)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	var out slotsResponse
	success := false
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			success = json.NewDecoder(resp.Body).Decode(&out) == nil
		}
	}
	s.metrics.Slots.Record(latency, success, false)
	return out, success
}

func (s *Simulator) clinicURL(path string) string {
	return s.config.APIBaseURL + "/clinics/" + s.pool.ClinicID.String() + path
}

func (s *Simulator) asStaff(req *http.Request) {
	req.Header.Set("X-Actor-Role", "staff")
	req.Header.Set("X-Actor-ID", s.pool.StaffID.String())
}

func (s *Simulator) PrintReport() {
	fmt.Printf("\nsimulation: %s with %d workers\n\n", s.config.Duration, s.config.Workers)

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "operation\ttotal\tok\tconflict\terror\tavg\tp50\tp95\tmax\t")
	ops := []struct {
		name string
		om   *OperationMetrics
	}{
		{"booking", &s.metrics.Booking},
		{"cancel", &s.metrics.Cancel},
		{"slot search", &s.metrics.Slots},
		{"read", &s.metrics.Read},
	}
	for _, op := range ops {
		total := atomic.LoadInt64(&op.om.Total)
		if total == 0 {
			continue
		}
		avg, max, p50, p95 := op.om.Stats()
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			op.name, total,
			share(atomic.LoadInt64(&op.om.Success), total),
			share(atomic.LoadInt64(&op.om.Conflict), total),
			share(atomic.LoadInt64(&op.om.Error), total),
			avg.Round(time.Millisecond), p50.Round(time.Millisecond),
			p95.Round(time.Millisecond), max.Round(time.Millisecond),
		)
	}
	_ = tw.Flush()

	// each conflict is a race the schedule lock resolved
	if n := atomic.LoadInt64(&s.metrics.Booking.Conflict); n > 0 {
		fmt.Printf("\n%d bookings lost a race for a slot and were rejected with 409\n", n)
	}
}

func share(n, total int64) string {
	return fmt.Sprintf("%d (%.1f%%)", n, float64(n)/float64(total)*100)
}

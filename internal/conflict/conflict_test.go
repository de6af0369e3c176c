package conflict

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling-engine/internal/schedule"
	"github.com/hackgods/clinic-scheduling-engine/internal/timeslot"
)

func iv(start, end string) timeslot.Interval {
	return timeslot.Interval{Start: timeslot.MustParseClock(start), End: timeslot.MustParseClock(end)}
}

func TestHasConflict(t *testing.T) {
	blocking := []timeslot.Interval{iv("10:00", "10:30"), iv("13:00", "14:00")}

	tests := []struct {
		name      string
		candidate timeslot.Interval
		want      bool
	}{
		{"before everything", iv("09:00", "09:30"), false},
		{"touches start", iv("09:30", "10:00"), false},
		{"touches end", iv("10:30", "11:00"), false},
		{"inside", iv("13:15", "13:45"), true},
		{"straddles", iv("09:45", "10:15"), true},
		{"covers", iv("12:00", "15:00"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasConflict(tt.candidate, blocking); got != tt.want {
				t.Errorf("HasConflict(%s) = %v, want %v", tt.candidate, got, tt.want)
			}
		})
	}

	if HasConflict(iv("09:00", "10:00"), nil) {
		t.Error("no blocking intervals means no conflict")
	}
}

func TestEvaluate_RanksByPriority(t *testing.T) {
	date := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	apptID := uuid.New()
	excID := uuid.New()

	report := Evaluate(Input{
		Candidate: iv("08:30", "09:30"),
		Date:      date,
		Now:       now,
		Working:   []timeslot.Interval{iv("09:00", "12:00")},
		Events: schedule.DailyEvents{
			Booked:     []schedule.BookedSlot{{AppointmentID: apptID, Start: timeslot.MustParseClock("09:00"), End: timeslot.MustParseClock("09:30")}},
			Exceptions: []schedule.ScheduleException{{ID: excID, Start: timeslot.MustParseClock("08:00"), End: timeslot.MustParseClock("09:00"), Reason: "meeting"}},
		},
		Resource: []Finding{{Kind: KindResource, Detail: "room shortage"}},
	})

	if !report.HasConflict {
		t.Fatal("expected conflicts")
	}
	want := []Kind{KindPastTime, KindAppointment, KindException, KindOutsideHours, KindResource}
	if len(report.Findings) != len(want) {
		t.Fatalf("expected %d findings, got %d: %+v", len(want), len(report.Findings), report.Findings)
	}
	for i, k := range want {
		if report.Findings[i].Kind != k {
			t.Errorf("finding %d: got %s, want %s", i, report.Findings[i].Kind, k)
		}
	}
	if report.Primary != KindPastTime {
		t.Errorf("expected primary past_appointment, got %s", report.Primary)
	}
	if report.Findings[1].AppointmentID == nil || *report.Findings[1].AppointmentID != apptID {
		t.Error("expected appointment id on appointment finding")
	}
	if report.Findings[2].Reason != "meeting" {
		t.Errorf("expected exception reason, got %q", report.Findings[2].Reason)
	}
}

func TestEvaluate_Clean(t *testing.T) {
	date := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	report := Evaluate(Input{
		Candidate: iv("10:00", "10:30"),
		Date:      date,
		Now:       date.Add(-24 * time.Hour),
		Working:   []timeslot.Interval{iv("09:00", "12:00")},
	})
	if report.HasConflict || report.Primary != "" || len(report.Findings) != 0 {
		t.Errorf("expected clean report, got %+v", report)
	}
}

func TestRank_ResourceOnly(t *testing.T) {
	r := Rank([]Finding{{Kind: KindResource}, {Kind: KindOutsideHours}})
	if r.Primary != KindOutsideHours {
		t.Errorf("expected outside hours to outrank resource, got %s", r.Primary)
	}
}

package redisclient

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSortedUniqueOrdersKeys(t *testing.T) {
	got := sortedUnique([]string{"lock:b", "lock:a", "lock:b", "lock:c"})
	want := []string{"lock:a", "lock:b", "lock:c"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestDayKeysUseCalendarDate(t *testing.T) {
	id := uuid.MustParse("8d4b5b5e-0a3c-4b6e-9a51-0f4c3c2b1a00")
	taipei := time.FixedZone("UTC+8", 8*3600)
	date := time.Date(2024, 7, 1, 0, 0, 0, 0, taipei)

	if got := PractitionerDayKey(id, date); got != "lock:practitioner:8d4b5b5e-0a3c-4b6e-9a51-0f4c3c2b1a00:2024-07-01" {
		t.Fatalf("unexpected practitioner key %q", got)
	}
	if got := ResourceDayKey(id, date); got != "lock:resources:8d4b5b5e-0a3c-4b6e-9a51-0f4c3c2b1a00:2024-07-01" {
		t.Fatalf("unexpected resource key %q", got)
	}
}

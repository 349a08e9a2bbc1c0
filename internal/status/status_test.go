package status

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/departure-collector/internal/models"
)

// TestInMemoryStore_SetGet verifies that a stored status is returned by Get.
func TestInMemoryStore_SetGet(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	want := models.StationStatus{Station: "Bielefeld Hbf", DeparturesWritten: 12, WeatherWritten: true}
	if err := s.Set(ctx, want, time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok, err := s.Get(ctx, "Bielefeld Hbf")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if got.DeparturesWritten != 12 || !got.WeatherWritten {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
}

// TestInMemoryStore_Expiration verifies that an entry past its TTL is a miss.
func TestInMemoryStore_Expiration(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	now := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_ = s.Set(ctx, models.StationStatus{Station: "Herford"}, time.Minute)
	now = now.Add(2 * time.Minute)

	if _, ok, _ := s.Get(ctx, "Herford"); ok {
		t.Error("Get() ok = true, want false after expiry")
	}
	if len(s.data) != 0 {
		t.Errorf("expired entry not removed, %d entries left", len(s.data))
	}
}

// TestInMemoryStore_List verifies that List follows the requested order and skips misses.
func TestInMemoryStore_List(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	_ = s.Set(ctx, models.StationStatus{Station: "Herford"}, time.Hour)
	_ = s.Set(ctx, models.StationStatus{Station: "Minden"}, time.Hour)

	got, err := s.List(ctx, []string{"Minden", "Gütersloh Hbf", "Herford"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 || got[0].Station != "Minden" || got[1].Station != "Herford" {
		t.Errorf("List() = %+v", got)
	}
}

// TestInMemoryStore_Concurrent exercises Set and Get from many goroutines.
func TestInMemoryStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.Set(ctx, models.StationStatus{Station: "Bünde"}, time.Hour)
		}()
		go func() {
			defer wg.Done()
			_, _, _ = s.Get(ctx, "Bünde")
		}()
	}
	wg.Wait()
}

func TestKey(t *testing.T) {
	tests := []struct {
		station string
		want    string
	}{
		{"Herford", "station-status:Herford"},
		{"Bielefeld Hbf", "station-status:Bielefeld_Hbf"},
		{"Bad Oeynhausen", "station-status:Bad_Oeynhausen"},
	}
	for _, tt := range tests {
		if got := key(tt.station); got != tt.want {
			t.Errorf("key(%q) = %q, want %q", tt.station, got, tt.want)
		}
	}
	if got := key(strings.Repeat("x", 400)); len(got) != 250 {
		t.Errorf("long key length = %d, want 250", len(got))
	}
}

func TestExpirationSeconds(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want int32
	}{
		{30 * time.Minute, 1800},
		{0, 3600},
		{-time.Second, 3600},
		{31 * 24 * time.Hour, 3600},
	}
	for _, tt := range tests {
		if got := expirationSeconds(tt.ttl); got != tt.want {
			t.Errorf("expirationSeconds(%v) = %d, want %d", tt.ttl, got, tt.want)
		}
	}
}

func TestParseAddrs(t *testing.T) {
	got := parseAddrs(" host1:11211 , ,host2:11211")
	if len(got) != 2 || got[0] != "host1:11211" || got[1] != "host2:11211" {
		t.Errorf("parseAddrs() = %v", got)
	}
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/departure-collector/internal/lifecycle"
	"github.com/kjstillabower/departure-collector/internal/models"
	"github.com/kjstillabower/departure-collector/internal/status"
	"github.com/kjstillabower/departure-collector/internal/traffic"
	"github.com/kjstillabower/departure-collector/internal/window"
)

var testStations = []string{"Bielefeld Hbf", "Herford", "Köln Hbf"}

type failingStatusStore struct{}

func (failingStatusStore) Get(ctx context.Context, station string) (models.StationStatus, bool, error) {
	return models.StationStatus{}, false, errors.New("memcache: connection refused")
}

func (failingStatusStore) Set(ctx context.Context, st models.StationStatus, ttl time.Duration) error {
	return errors.New("memcache: connection refused")
}

func (failingStatusStore) List(ctx context.Context, stations []string) ([]models.StationStatus, error) {
	return nil, errors.New("memcache: connection refused")
}

func testWindow(t *testing.T) window.TimeWindow {
	t.Helper()
	w, err := window.Parse("2025-06-02T18:00:00+02:00", "2025-06-10T18:00:00+02:00")
	if err != nil {
		t.Fatalf("window.Parse: %v", err)
	}
	return w
}

func resetState() {
	lifecycle.Reset()
	traffic.Reset()
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func serve(h *Handler, method, path string) *httptest.ResponseRecorder {
	router := NewRouter(h, zap.NewNop())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

// TestHandler_GetHealth verifies a healthy response with no recorded errors.
func TestHandler_GetHealth(t *testing.T) {
	resetState()
	h := NewHandler(status.NewInMemoryStore(), testStations, &HealthConfig{
		DegradedWindow:   30 * time.Minute,
		DegradedErrorPct: 50,
		Window:           testWindow(t),
		StorePing:        func(ctx context.Context) error { return nil },
	}, nil)
	h.now = func() time.Time { return time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC) }

	w := serve(h, http.MethodGet, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decode(t, w)
	if body["status"] != StatusHealthy {
		t.Errorf("status = %v, want healthy", body["status"])
	}
	if body["service"] != "departure-collector" {
		t.Errorf("service = %v", body["service"])
	}
	if body["inWindow"] != true {
		t.Errorf("inWindow = %v, want true", body["inWindow"])
	}
	checks := body["checks"].(map[string]interface{})
	if checks["store"] != "healthy" || checks["feeds"] != "healthy" {
		t.Errorf("checks = %v", checks)
	}
}

// TestHandler_GetHealth_ShuttingDown verifies 503 while the shutdown flag is set.
func TestHandler_GetHealth_ShuttingDown(t *testing.T) {
	resetState()
	defer resetState()
	lifecycle.SetShuttingDown(true)

	w := serve(NewHandler(status.NewInMemoryStore(), testStations, nil, nil), http.MethodGet, "/health")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if body := decode(t, w); body["status"] != StatusShuttingDown {
		t.Errorf("status = %v, want shutting-down", body["status"])
	}
}

// TestHandler_GetHealth_DegradedErrorRate verifies that a feed error rate at
// or above the threshold degrades health once enough samples exist.
func TestHandler_GetHealth_DegradedErrorRate(t *testing.T) {
	tests := []struct {
		name      string
		successes int
		errors    int
		want      string
	}{
		{"below min samples", 0, 3, StatusHealthy},
		{"below threshold", 8, 2, StatusHealthy},
		{"at threshold", 5, 5, StatusDegraded},
		{"above threshold", 2, 10, StatusDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetState()
			defer resetState()
			for i := 0; i < tt.successes; i++ {
				traffic.RecordSuccess()
			}
			for i := 0; i < tt.errors; i++ {
				traffic.RecordError()
			}
			h := NewHandler(status.NewInMemoryStore(), testStations, &HealthConfig{
				DegradedWindow:     time.Minute,
				DegradedErrorPct:   50,
				DegradedMinSamples: 10,
			}, nil)
			w := serve(h, http.MethodGet, "/health")
			if body := decode(t, w); body["status"] != tt.want {
				t.Errorf("status = %v, want %s", body["status"], tt.want)
			}
		})
	}
}

// TestHandler_GetHealth_StoreUnreachable verifies that a failed store ping degrades health.
func TestHandler_GetHealth_StoreUnreachable(t *testing.T) {
	resetState()
	h := NewHandler(status.NewInMemoryStore(), testStations, &HealthConfig{
		StorePing:  func(ctx context.Context) error { return errors.New("dial tcp: connection refused") },
		StatusPing: func() error { return nil },
	}, nil)

	w := serve(h, http.MethodGet, "/health")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	body := decode(t, w)
	checks := body["checks"].(map[string]interface{})
	if body["status"] != StatusDegraded || checks["store"] != "unhealthy" || checks["statusBackend"] != "healthy" {
		t.Errorf("body = %v", body)
	}
}

// TestHandler_GetHealth_LogsTransition verifies that a status change is logged once.
func TestHandler_GetHealth_LogsTransition(t *testing.T) {
	resetState()
	defer resetState()
	core, logs := observer.New(zapcore.InfoLevel)
	h := NewHandler(status.NewInMemoryStore(), testStations, nil, zap.New(core))

	serve(h, http.MethodGet, "/health")
	lifecycle.SetShuttingDown(true)
	serve(h, http.MethodGet, "/health")
	serve(h, http.MethodGet, "/health")

	entries := logs.FilterMessage("health status transition").All()
	if len(entries) != 1 {
		t.Fatalf("transition logs = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["previous_status"] != StatusHealthy || fields["current_status"] != StatusShuttingDown {
		t.Errorf("fields = %v", fields)
	}
}

// TestHandler_ListStations verifies that only collected stations are listed.
func TestHandler_ListStations(t *testing.T) {
	store := status.NewInMemoryStore()
	_ = store.Set(context.Background(), models.StationStatus{Station: "Herford", DeparturesWritten: 4}, time.Hour)

	w := serve(NewHandler(store, testStations, nil, nil), http.MethodGet, "/stations")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Configured int                    `json:"configured"`
		Reported   int                    `json:"reported"`
		Stations   []models.StationStatus `json:"stations"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Configured != 3 || body.Reported != 1 || body.Stations[0].DeparturesWritten != 4 {
		t.Errorf("body = %+v", body)
	}
}

// TestHandler_GetStation covers found, not yet collected, unknown and backend failure.
func TestHandler_GetStation(t *testing.T) {
	store := status.NewInMemoryStore()
	_ = store.Set(context.Background(), models.StationStatus{
		Station:        "Köln Hbf",
		WeatherWritten: true,
		Failures:       []string{"fetch_realtime"},
	}, time.Hour)

	tests := []struct {
		name     string
		store    status.Store
		path     string
		wantCode int
		wantErr  string
	}{
		{"found", store, "/stations/K%C3%B6ln%20Hbf", http.StatusOK, ""},
		{"not collected yet", store, "/stations/Herford", http.StatusNotFound, "STATUS_NOT_AVAILABLE"},
		{"unknown station", store, "/stations/Minden", http.StatusNotFound, "STATION_NOT_FOUND"},
		{"backend failure", failingStatusStore{}, "/stations/Herford", http.StatusServiceUnavailable, "STATUS_UNAVAILABLE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(NewHandler(tt.store, testStations, nil, nil), http.MethodGet, tt.path)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			body := decode(t, w)
			if tt.wantErr == "" {
				if body["station"] != "Köln Hbf" || body["weather_written"] != true {
					t.Errorf("body = %v", body)
				}
				return
			}
			errBody := body["error"].(map[string]interface{})
			if errBody["code"] != tt.wantErr {
				t.Errorf("error code = %v, want %s", errBody["code"], tt.wantErr)
			}
			if errBody["requestId"] == "" {
				t.Error("requestId missing")
			}
		})
	}
}

// TestHandler_ListStations_BackendFailure verifies 503 when the status backend fails.
func TestHandler_ListStations_BackendFailure(t *testing.T) {
	w := serve(NewHandler(failingStatusStore{}, testStations, nil, nil), http.MethodGet, "/stations")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

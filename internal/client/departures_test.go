package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/kjstillabower/departure-collector/internal/circuitbreaker"
)

var asOf = time.Date(2025, 6, 3, 8, 30, 0, 0, time.UTC)

func TestScheduleClient_FetchSchedule_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/timetables/v1/arrivalBoard/8000036" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("date"); got != "2025-06-03T08:30:00Z" {
			t.Errorf("date query = %q", got)
		}
		if r.Header.Get("DB-Client-Id") != "client-id" || r.Header.Get("DB-Api-Key") != "api-key" {
			t.Errorf("missing credential headers: %v", r.Header)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"t1","scheduledDateTime":"2025-06-03T10:00:00+02:00","name":"ICE 545","type":"ICE","operator":"DB","direction":"Berlin","platform":"2","delay":5},
			{"id":"t2","scheduledDateTime":"2025-06-03T10:04:00+02:00","train":"RB 69","type":"RB","delay":"3"},
			{"scheduledDateTime":"","delay":null},
			{"delay":"n/a"}
		]`))
	}))
	defer server.Close()

	c, err := NewScheduleClient(Options{
		BaseURL: server.URL + "/timetables/v1/arrivalBoard",
		Timeout: 2 * time.Second,
		Headers: map[string]string{"DB-Client-Id": "client-id", "DB-Api-Key": "api-key"},
	})
	if err != nil {
		t.Fatalf("NewScheduleClient() error = %v", err)
	}

	got, err := c.FetchSchedule(context.Background(), "8000036", asOf)
	if err != nil {
		t.Fatalf("FetchSchedule() error = %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	if got[0].TrainName != "ICE 545" || got[0].Platform != "2" || got[0].TripID != "t1" || *got[0].DelayHint != 5 {
		t.Errorf("entry 0 = %+v", got[0])
	}
	if got[1].TrainName != "RB 69" {
		t.Errorf("entry 1 TrainName = %q, want fallback to train field", got[1].TrainName)
	}
	if got[1].DelayHint == nil || *got[1].DelayHint != 3 {
		t.Errorf("entry 1 DelayHint = %v, want 3 from numeric string", got[1].DelayHint)
	}
	if got[2].DelayHint != nil || got[3].DelayHint != nil {
		t.Errorf("null and non-numeric delay should decode to nil, got %v, %v", got[2].DelayHint, got[3].DelayHint)
	}
}

func TestScheduleClient_EmptyBoardIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	c, _ := NewScheduleClient(Options{BaseURL: server.URL, Timeout: time.Second})
	got, err := c.FetchSchedule(context.Background(), "8000036", asOf)
	if err != nil {
		t.Fatalf("FetchSchedule() error = %v, want nil for an empty board", err)
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}

func TestRealtimeClient_FetchRealtime(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ris/8000207" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode([]map[string]interface{}{
			{"id": "t1", "realDateTime": "2025-06-03T10:03:00+02:00"},
			{"id": "t2", "cancelled": true},
		})
	}))
	defer server.Close()

	c, err := NewRealtimeClient(Options{BaseURL: server.URL + "/ris", Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewRealtimeClient() error = %v", err)
	}
	got, err := c.FetchRealtime(context.Background(), "8000207", asOf)
	if err != nil {
		t.Fatalf("FetchRealtime() error = %v", err)
	}
	if len(got) != 2 || got[0].ActualTime != "2025-06-03T10:03:00+02:00" || got[0].Cancelled || !got[1].Cancelled || got[1].ActualTime != "" {
		t.Errorf("FetchRealtime() = %+v", got)
	}
}

func TestFetch_ErrorHandling(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
		wantCat ErrorCategory
	}{
		{
			name:    "401 unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusUnauthorized) },
			wantErr: ErrUnauthorized,
			wantCat: ErrorCategoryUnauthorized,
		},
		{
			name:    "404 not found",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) },
			wantErr: ErrStationNotFound,
			wantCat: ErrorCategoryStationNotFound,
		},
		{
			name:    "400 bad request",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadRequest) },
			wantErr: ErrBadRequest,
			wantCat: ErrorCategoryBadRequest,
		},
		{
			name:    "429 rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) },
			wantErr: ErrRateLimited,
			wantCat: ErrorCategoryRateLimited,
		},
		{
			name:    "503 unavailable",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) },
			wantErr: ErrUpstreamFailure,
			wantCat: ErrorCategoryUpstream,
		},
		{
			name:    "object instead of array",
			handler: func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"error":"x"}`)) },
			wantErr: ErrInvalidResponse,
			wantCat: ErrorCategoryParsing,
		},
		{
			name:    "truncated body",
			handler: func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`[{"id":`)) },
			wantErr: ErrInvalidResponse,
			wantCat: ErrorCategoryParsing,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			c, _ := NewScheduleClient(Options{BaseURL: server.URL, Timeout: time.Second})
			got, err := c.FetchSchedule(context.Background(), "8000036", asOf)
			if err == nil {
				t.Fatal("FetchSchedule() error = nil, want failure")
			}
			var feedErr *FeedError
			if !errors.As(err, &feedErr) || feedErr.Feed != FeedSchedule || feedErr.Station != "8000036" {
				t.Errorf("error = %#v, want *FeedError for schedule/8000036", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if cat := CategorizeError(err); cat != tt.wantCat {
				t.Errorf("CategorizeError() = %v, want %v", cat, tt.wantCat)
			}
			if got != nil {
				t.Errorf("entries = %v, want nil on failure", got)
			}
		})
	}
}

func TestFetch_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c, _ := NewRealtimeClient(Options{BaseURL: server.URL, Timeout: 50 * time.Millisecond})
	_, err := c.FetchRealtime(context.Background(), "8000036", asOf)
	if CategorizeError(err) != ErrorCategoryTimeout {
		t.Errorf("error = %v (category %v), want timeout", err, CategorizeError(err))
	}
}

func TestFetch_CircuitBreakerShortCircuits(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	breaker := circuitbreaker.New(circuitbreaker.Config{Name: FeedSchedule, FailureThreshold: 2, Cooldown: time.Hour})
	c, _ := NewScheduleClient(Options{BaseURL: server.URL, Timeout: time.Second, Breaker: breaker})

	for i := 0; i < 3; i++ {
		_, _ = c.FetchSchedule(context.Background(), "8000036", asOf)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("upstream calls = %d, want 2 before the breaker opened", n)
	}
	_, err := c.FetchSchedule(context.Background(), "8000036", asOf)
	if !errors.Is(err, ErrCircuitOpen) || CategorizeError(err) != ErrorCategoryCircuitOpen {
		t.Errorf("error = %v, want ErrCircuitOpen", err)
	}
}

// A station the provider does not know must not short-circuit the other
// stations sharing the feed.
func TestFetch_StationErrorsDoNotOpenBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/rejected":
			w.WriteHeader(http.StatusBadRequest)
		case "/garbled":
			_, _ = w.Write([]byte(`{"error":`))
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	defer server.Close()

	breaker := circuitbreaker.New(circuitbreaker.Config{Name: FeedSchedule, FailureThreshold: 2, Cooldown: time.Hour})
	c, _ := NewScheduleClient(Options{BaseURL: server.URL, Timeout: time.Second, Breaker: breaker})

	for _, id := range []string{"missing", "rejected", "garbled", "missing", "missing", "rejected", "garbled"} {
		if _, err := c.FetchSchedule(context.Background(), id, asOf); err == nil {
			t.Fatalf("FetchSchedule(%q) error = nil, want station failure", id)
		}
	}
	if breaker.State() != circuitbreaker.StateClosed {
		t.Fatalf("breaker state = %v after station-level failures, want closed", breaker.State())
	}
	got, err := c.FetchSchedule(context.Background(), "8000036", asOf)
	if err != nil {
		t.Fatalf("FetchSchedule(healthy station) error = %v, want nil", err)
	}
	if len(got) != 0 {
		t.Errorf("entries = %v, want empty board", got)
	}
}

func TestFetch_LimiterCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the server")
	}))
	defer server.Close()

	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	limiter.Allow() // drain the only token
	c, _ := NewScheduleClient(Options{BaseURL: server.URL, Timeout: time.Second, Limiter: limiter})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.FetchSchedule(ctx, "8000036", asOf); err == nil {
		t.Fatal("FetchSchedule() error = nil, want limiter wait failure")
	}
}

func TestNewScheduleClient_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"missing base URL", Options{Timeout: time.Second}},
		{"relative base URL", Options{BaseURL: "/boards", Timeout: time.Second}},
		{"zero timeout", Options{BaseURL: "https://api.example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if c, err := NewScheduleClient(tt.opts); err == nil || c != nil {
				t.Errorf("NewScheduleClient() = (%v, %v), want error", c, err)
			}
		})
	}
}

func TestFlexFloat(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		present bool
	}{
		{`7`, 7, true},
		{`-2.5`, -2.5, true},
		{`"4"`, 4, true},
		{`" 12 "`, 12, true},
		{`null`, 0, false},
		{`"late"`, 0, false},
		{`true`, 0, false},
		{`"NaN"`, 0, false},
		{`"Infinity"`, 0, false},
		{`"-inf"`, 0, false},
		{`"+Inf"`, 0, false},
	}
	for _, tt := range tests {
		var f flexFloat
		if err := json.Unmarshal([]byte(tt.in), &f); err != nil {
			t.Errorf("Unmarshal(%s) error = %v", tt.in, err)
			continue
		}
		if (f.value != nil) != tt.present || (f.value != nil && *f.value != tt.want) {
			t.Errorf("Unmarshal(%s) = %v, want %v (present=%v)", tt.in, f.value, tt.want, tt.present)
		}
	}
}

func TestFlexString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`"3a"`, "3a"},
		{`7`, "7"},
		{`7.5`, "7.5"},
		{`true`, "true"},
		{`null`, ""},
		{`{"x":1}`, ""},
		{`[1,2]`, ""},
	}
	for _, tt := range tests {
		var s flexString
		if err := json.Unmarshal([]byte(tt.in), &s); err != nil {
			t.Errorf("Unmarshal(%s) error = %v", tt.in, err)
			continue
		}
		if string(s) != tt.want {
			t.Errorf("Unmarshal(%s) = %q, want %q", tt.in, s, tt.want)
		}
	}
}

func TestFlexBool(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{`true`, true},
		{`false`, false},
		{`"true"`, true},
		{`"1"`, true},
		{`"false"`, false},
		{`1`, true},
		{`0`, false},
		{`null`, false},
		{`"maybe"`, false},
		{`{}`, false},
	}
	for _, tt := range tests {
		var b flexBool
		if err := json.Unmarshal([]byte(tt.in), &b); err != nil {
			t.Errorf("Unmarshal(%s) error = %v", tt.in, err)
			continue
		}
		if bool(b) != tt.want {
			t.Errorf("Unmarshal(%s) = %v, want %v", tt.in, b, tt.want)
		}
	}
}

// A single entry with an unexpected field type must not cost the station its board.
func TestFetch_LenientEntryFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/schedule/8000036":
			_, _ = w.Write([]byte(`[
				{"id":1,"scheduledDateTime":"2025-06-03T10:00:00+02:00","name":505,"platform":7,"delay":"NaN"},
				{"id":"b","scheduledDateTime":"2025-06-03T10:05:00+02:00","name":"RE 6","platform":"3"}
			]`))
		case "/realtime/8000036":
			_, _ = w.Write([]byte(`[
				{"id":"a","realDateTime":null,"cancelled":"true"},
				{"id":"b","realDateTime":"2025-06-03T10:07:00+02:00","cancelled":0}
			]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	sc, _ := NewScheduleClient(Options{BaseURL: server.URL + "/schedule", Timeout: time.Second})
	schedule, err := sc.FetchSchedule(context.Background(), "8000036", asOf)
	if err != nil {
		t.Fatalf("FetchSchedule() error = %v", err)
	}
	if len(schedule) != 2 {
		t.Fatalf("FetchSchedule() returned %d entries, want 2", len(schedule))
	}
	if schedule[0].TripID != "1" || schedule[0].TrainName != "505" || schedule[0].Platform != "7" || schedule[0].DelayHint != nil {
		t.Errorf("entry 0 = %+v", schedule[0])
	}
	if schedule[1].Platform != "3" || schedule[1].TrainName != "RE 6" {
		t.Errorf("entry 1 = %+v", schedule[1])
	}

	rc, _ := NewRealtimeClient(Options{BaseURL: server.URL + "/realtime", Timeout: time.Second})
	realtime, err := rc.FetchRealtime(context.Background(), "8000036", asOf)
	if err != nil {
		t.Fatalf("FetchRealtime() error = %v", err)
	}
	if len(realtime) != 2 || !realtime[0].Cancelled || realtime[0].ActualTime != "" || realtime[1].Cancelled {
		t.Errorf("FetchRealtime() = %+v", realtime)
	}
}

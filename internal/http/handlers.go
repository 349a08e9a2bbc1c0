package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/departure-collector/internal/lifecycle"
	"github.com/kjstillabower/departure-collector/internal/observability"
	"github.com/kjstillabower/departure-collector/internal/status"
	"github.com/kjstillabower/departure-collector/internal/traffic"
	"github.com/kjstillabower/departure-collector/internal/window"
)

// Health states.
const (
	StatusHealthy      = "healthy"
	StatusDegraded     = "degraded"
	StatusShuttingDown = "shutting-down"
)

// HealthConfig holds thresholds and dependency checks for the health handler.
type HealthConfig struct {
	DegradedWindow     time.Duration
	DegradedErrorPct   int
	DegradedMinSamples int
	Window             window.TimeWindow
	// StorePing, when set, checks the time-series store.
	StorePing func(ctx context.Context) error
	// StatusPing, when set, checks the status backend. Used when backend is memcached.
	StatusPing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	statuses         status.Store
	stations         []string
	healthConfig     *HealthConfig
	logger           *zap.Logger
	now              func() time.Time
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. stations is the configured station table
// in display order.
func NewHandler(statuses status.Store, stations []string, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		statuses:     statuses,
		stations:     stations,
		healthConfig: healthConfig,
		logger:       logger,
		now:          time.Now,
	}
}

// NewRouter wires the status endpoints and middleware.
func NewRouter(h *Handler, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler())
	router.HandleFunc("/stations", h.ListStations).Methods(http.MethodGet)
	router.HandleFunc("/stations/{name}", h.GetStation).Methods(http.MethodGet)
	return router
}

type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := make(map[string]string)
	if h.healthConfig != nil && h.healthConfig.StorePing != nil {
		checks["store"] = healthyString(h.healthConfig.StorePing(ctx) == nil)
	}
	if h.healthConfig != nil && h.healthConfig.StatusPing != nil {
		checks["statusBackend"] = healthyString(h.healthConfig.StatusPing() == nil)
	}

	result := h.computeHealthStatus(checks)
	checks["feeds"] = healthyString(result.reason != "error_rate_breach")

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	resp := map[string]interface{}{
		"status":     result.status,
		"service":    observability.ServiceName,
		"checks":     checks,
		"collecting": lifecycle.IsCollecting(),
		"timestamp":  h.now().UTC().Format(time.RFC3339),
	}
	if last := lifecycle.LastCycle(); !last.IsZero() {
		resp["lastCycle"] = last.Format(time.RFC3339)
	}
	if h.healthConfig != nil {
		resp["window"] = h.healthConfig.Window.String()
		resp["inWindow"] = h.healthConfig.Window.Contains(h.now())
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates, in order: shutting-down, unreachable
// dependencies, feed error rate.
func (h *Handler) computeHealthStatus(checks map[string]string) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{StatusShuttingDown, http.StatusServiceUnavailable, "signal"}
	}
	for name, state := range checks {
		if state != "healthy" {
			return healthResult{StatusDegraded, http.StatusServiceUnavailable, name + "_unreachable"}
		}
	}
	if h.healthConfig == nil || h.healthConfig.DegradedWindow <= 0 || h.healthConfig.DegradedErrorPct <= 0 {
		return healthResult{StatusHealthy, http.StatusOK, ""}
	}
	errors, total := traffic.ErrorRate(h.healthConfig.DegradedWindow)
	if total > 0 && total >= h.healthConfig.DegradedMinSamples {
		pct := float64(errors) * 100 / float64(total)
		if pct >= float64(h.healthConfig.DegradedErrorPct) {
			return healthResult{StatusDegraded, http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{StatusHealthy, http.StatusOK, ""}
}

func healthyString(ok bool) string {
	if ok {
		return "healthy"
	}
	return "unhealthy"
}

// ListStations handles GET /stations. Stations that have not been collected
// yet are omitted from the list.
func (h *Handler) ListStations(w http.ResponseWriter, r *http.Request) {
	list, err := h.statuses.List(r.Context(), h.stations)
	if err != nil {
		loggerFrom(r, h.logger).Warn("status list failed", zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "STATUS_UNAVAILABLE", "Unable to read station status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"configured": len(h.stations),
		"reported":   len(list),
		"stations":   list,
	})
}

// GetStation handles GET /stations/{name}.
func (h *Handler) GetStation(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(mux.Vars(r)["name"])
	if !h.isConfigured(name) {
		writeError(w, r, http.StatusNotFound, "STATION_NOT_FOUND", "station is not configured: "+name)
		return
	}
	st, ok, err := h.statuses.Get(r.Context(), name)
	if err != nil {
		loggerFrom(r, h.logger).Warn("status lookup failed", zap.String("station", name), zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "STATUS_UNAVAILABLE", "Unable to read station status")
		return
	}
	if !ok {
		writeError(w, r, http.StatusNotFound, "STATUS_NOT_AVAILABLE", "station has not been collected yet: "+name)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) isConfigured(name string) bool {
	for _, s := range h.stations {
		if s == name {
			return true
		}
	}
	return false
}

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response with code, message and the request's
// correlation id.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": CorrelationID(r.Context()),
		},
	})
}

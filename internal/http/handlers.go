package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-cache-proxy/internal/client"
	"github.com/kjstillabower/weather-cache-proxy/internal/lifecycle"
	"github.com/kjstillabower/weather-cache-proxy/internal/models"
	"github.com/kjstillabower/weather-cache-proxy/internal/observability"
	"github.com/kjstillabower/weather-cache-proxy/internal/service"
	"github.com/kjstillabower/weather-cache-proxy/internal/validation"
)

const (
	maxCityLength      = 100
	healthCheckTimeout = 2 * time.Second
)

// WeatherGetter is the service behind GET /weather.
type WeatherGetter interface {
	GetWeather(ctx context.Context, city string) (models.WeatherSnapshot, error)
}

// HealthCheck is a named dependency probe reported by GET /health.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weather          WeatherGetter
	checks           []HealthCheck
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. checks are probed on every /health request.
func NewHandler(weather WeatherGetter, logger *zap.Logger, checks ...HealthCheck) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		weather: weather,
		checks:  checks,
		logger:  logger,
	}
}

// GetWeather handles GET /weather?city=<name>. On success the body is the upstream
// JSON exactly as cached.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	city, err := validation.ValidateCity(r.URL.Query().Get("city"), maxCityLength)
	if err != nil {
		observability.RequestErrorsTotal.WithLabelValues("validation").Inc()
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	observability.RecordWeatherQuery(city)

	// A started fetch runs to completion even if the client goes away, so the
	// cache object and its audit record are both written.
	snap, err := h.weather.GetWeather(context.WithoutCancel(r.Context()), city)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(snap.Payload)
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	status, statusCode := "healthy", http.StatusOK
	checks := make(map[string]string, len(h.checks))
	if lifecycle.IsShuttingDown() {
		status, statusCode = "shutting-down", http.StatusServiceUnavailable
	} else {
		for _, c := range h.checks {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := c.Ping(ctx)
			cancel()
			if err != nil {
				checks[c.Name] = "unhealthy"
				status, statusCode = "unhealthy", http.StatusServiceUnavailable
				h.logger.Debug("health check failed", zap.String("check", c.Name), zap.Error(err))
				continue
			}
			checks[c.Name] = "healthy"
		}
	}

	h.healthStatusMu.Lock()
	if prev := h.healthStatusPrev; prev != "" && prev != status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", status))
	}
	h.healthStatusPrev = status
	h.healthStatusMu.Unlock()

	writeJSON(w, statusCode, map[string]interface{}{
		"status":    status,
		"service":   "weather-cache-proxy",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// errorResponse maps a service error to its HTTP status and detail message.
func errorResponse(err error) (int, string) {
	if errors.Is(err, service.ErrConfigMissing) {
		return http.StatusInternalServerError, "API key not found"
	}
	var se *service.StorageError
	if errors.As(err, &se) {
		switch se.Op {
		case service.OpCacheWrite:
			return http.StatusInternalServerError, "Failed to upload to S3: " + se.Err.Error()
		case service.OpAuditWrite:
			return http.StatusInternalServerError, "Failed to log event to DynamoDB: " + se.Err.Error()
		default:
			return http.StatusInternalServerError, "Failed to download from S3: " + se.Err.Error()
		}
	}
	var ue *client.UpstreamError
	if errors.As(err, &ue) {
		status := ue.StatusCode
		if status < 100 || status > 599 {
			status = http.StatusBadGateway
		}
		return status, "City not found or API error"
	}
	return http.StatusInternalServerError, "Internal server error"
}

// writeJSON writes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDetail writes {"detail": msg}.
func writeDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := errorResponse(err)
	observability.RequestErrorsTotal.WithLabelValues(service.CategorizeError(err)).Inc()
	observability.LoggerFromContext(r.Context()).Debug("weather request failed",
		zap.Int("status", status), zap.Error(err))
	writeDetail(w, status, detail)
}

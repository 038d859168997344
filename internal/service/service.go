// Package service implements the weather request flow: cache lookup, upstream
// fetch on miss, then cache write and audit record.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-cache-proxy/internal/client"
	"github.com/kjstillabower/weather-cache-proxy/internal/models"
	"github.com/kjstillabower/weather-cache-proxy/internal/observability"
)

// CacheReader returns the newest fresh snapshot for a city.
type CacheReader interface {
	Latest(ctx context.Context, city string) (models.WeatherSnapshot, bool, error)
}

// CacheWriter stores a payload and returns the address of the stored object.
type CacheWriter interface {
	Write(ctx context.Context, city string, payload json.RawMessage) (string, error)
}

// Auditor records that a fetch for city produced the object at url.
type Auditor interface {
	Record(ctx context.Context, city, url string) error
}

// WeatherService serves weather snapshots from the object cache, falling back to
// the upstream API. Every upstream success is written to the cache and audited.
// Concurrent misses for one city are not coalesced.
type WeatherService struct {
	client  client.WeatherClient
	reader  CacheReader
	writer  CacheWriter
	auditor Auditor
	misses  *missTracker
	now     func() time.Time
}

func NewWeatherService(c client.WeatherClient, reader CacheReader, writer CacheWriter, auditor Auditor) *WeatherService {
	return &WeatherService{
		client:  c,
		reader:  reader,
		writer:  writer,
		auditor: auditor,
		misses:  newMissTracker(),
		now:     time.Now,
	}
}

// GetWeather returns the cached snapshot for city if fresh; otherwise it fetches,
// caches and audits a new one. Errors are ErrConfigMissing, *client.UpstreamError
// or *StorageError, possibly wrapped.
func (s *WeatherService) GetWeather(ctx context.Context, city string) (models.WeatherSnapshot, error) {
	start := time.Now()
	logger := observability.LoggerFromContext(ctx).With(zap.String("city", city))

	cached, ok, err := s.reader.Latest(ctx, city)
	if err != nil {
		logger.Error("cache read failed", zap.Error(err))
		return models.WeatherSnapshot{}, &StorageError{Op: OpCacheRead, Err: err}
	}
	if ok {
		logger.Debug("weather served", zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
		return cached, nil
	}

	if n := s.misses.begin(city); n > 1 {
		observability.CacheStampedeDetectedTotal.WithLabelValues(observability.MetricCityLabel(city)).Inc()
		logger.Debug("concurrent upstream fetch", zap.Int("in_progress", n))
	}
	defer s.misses.end(city)

	logger.Info("fetching new weather data")
	payload, err := s.client.GetCurrentWeather(ctx, city)
	if err != nil {
		if errors.Is(err, client.ErrMissingAPIKey) {
			logger.Error("weather API key missing")
			return models.WeatherSnapshot{}, fmt.Errorf("%w: %w", ErrConfigMissing, err)
		}
		logger.Warn("upstream fetch failed", zap.Error(err))
		return models.WeatherSnapshot{}, fmt.Errorf("fetch weather for %s: %w", city, err)
	}
	capturedAt := s.now().UTC()

	url, err := s.writer.Write(ctx, city, payload)
	if err != nil {
		logger.Error("cache write failed", zap.Error(err))
		return models.WeatherSnapshot{}, &StorageError{Op: OpCacheWrite, Err: err}
	}

	if err := s.auditor.Record(ctx, city, url); err != nil {
		logger.Warn("audit write failed, cache object left without audit record", zap.String("s3_url", url), zap.Error(err))
		return models.WeatherSnapshot{}, &StorageError{Op: OpAuditWrite, Err: err}
	}

	logger.Debug("weather served", zap.Bool("cached", false), zap.Duration("duration", time.Since(start)))
	return models.WeatherSnapshot{
		City:       city,
		Payload:    payload,
		CapturedAt: capturedAt,
	}, nil
}

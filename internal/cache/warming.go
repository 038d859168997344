package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-cache-proxy/internal/models"
	"github.com/kjstillabower/weather-cache-proxy/internal/observability"
)

// WeatherFetcher is implemented by the service layer. Warming goes through the
// normal request path, so a fresh object is a hit and nothing is written.
type WeatherFetcher interface {
	GetWeather(ctx context.Context, city string) (models.WeatherSnapshot, error)
}

// CacheWarmer prefetches weather for a fixed list of cities.
type CacheWarmer struct {
	fetcher WeatherFetcher
	logger  *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer. logger may be nil.
func NewCacheWarmer(fetcher WeatherFetcher, logger *zap.Logger) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheWarmer{fetcher: fetcher, logger: logger}
}

// Warm fetches every city concurrently. Returns the joined per-city errors, if any.
func (w *CacheWarmer) Warm(ctx context.Context, cities []string) error {
	if len(cities) == 0 {
		return nil
	}
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("cities", len(cities)))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, city := range cities {
		wg.Add(1)
		go func(city string) {
			defer wg.Done()
			if _, err := w.fetcher.GetWeather(ctx, city); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm %s: %w", city, err))
				mu.Unlock()
			}
		}(city)
	}
	wg.Wait()

	duration := time.Since(start)
	observability.CacheWarmingDurationSeconds.Observe(duration.Seconds())
	w.logger.Info("cache warming complete", zap.Int("cities", len(cities)), zap.Int("errors", len(errs)), zap.Duration("duration", duration))
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return errors.Join(errs...)
	}
	return nil
}

// WarmPeriodic warms once, then again every interval until ctx is done.
func (w *CacheWarmer) WarmPeriodic(ctx context.Context, cities []string, interval time.Duration) error {
	if err := w.Warm(ctx, cities); err != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, cities); err != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}

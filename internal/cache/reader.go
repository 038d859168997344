package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-cache-proxy/internal/models"
	"github.com/kjstillabower/weather-cache-proxy/internal/observability"
)

// Reader looks up the newest cached snapshot for a city.
type Reader struct {
	store  ObjectStore
	expiry time.Duration
	now    func() time.Time
}

// NewReader returns a Reader treating snapshots older than expiry as misses.
func NewReader(store ObjectStore, expiry time.Duration) *Reader {
	return &Reader{store: store, expiry: expiry, now: time.Now}
}

// Latest returns the snapshot stored under the lexicographically greatest key for
// city. It returns ok=false, nil when nothing is stored, when the newest object is
// older than the expiry window, or when that object vanished before it could be read.
// Every other failure, including unparseable content or keys, is returned as an error.
func (r *Reader) Latest(ctx context.Context, city string) (models.WeatherSnapshot, bool, error) {
	logger := observability.LoggerFromContext(ctx)

	prefix := KeyPrefix(city)
	start := time.Now()
	keys, err := r.store.List(ctx, prefix)
	observability.ObserveStorage(r.store.Name(), "list", err, time.Since(start).Seconds())
	if err != nil {
		observability.CacheLookupsTotal.WithLabelValues("error").Inc()
		return models.WeatherSnapshot{}, false, err
	}
	keys = ownKeys(keys, prefix)
	if len(keys) == 0 {
		observability.CacheLookupsTotal.WithLabelValues("miss").Inc()
		return models.WeatherSnapshot{}, false, nil
	}

	latest := newestKey(keys)

	start = time.Now()
	body, err := r.store.Get(ctx, latest)
	observability.ObserveStorage(r.store.Name(), "get", err, time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			observability.CacheLookupsTotal.WithLabelValues("miss").Inc()
			return models.WeatherSnapshot{}, false, nil
		}
		observability.CacheLookupsTotal.WithLabelValues("error").Inc()
		return models.WeatherSnapshot{}, false, err
	}
	if !json.Valid(body) {
		observability.CacheLookupsTotal.WithLabelValues("error").Inc()
		return models.WeatherSnapshot{}, false, fmt.Errorf("cache object %s: invalid JSON", latest)
	}

	capturedAt, err := ParseKeyTime(latest)
	if err != nil {
		observability.CacheLookupsTotal.WithLabelValues("error").Inc()
		return models.WeatherSnapshot{}, false, err
	}

	if age := r.now().Sub(capturedAt); age > r.expiry {
		observability.CacheLookupsTotal.WithLabelValues("expired").Inc()
		logger.Info("cached data expired", zap.String("city", city), zap.String("key", latest), zap.Duration("age", age))
		return models.WeatherSnapshot{}, false, nil
	}

	observability.CacheLookupsTotal.WithLabelValues("hit").Inc()
	logger.Info("using cached weather data", zap.String("city", city), zap.String("key", latest))
	return models.WeatherSnapshot{
		City:       city,
		Payload:    json.RawMessage(body),
		CapturedAt: capturedAt,
		Cached:     true,
	}, true, nil
}

// ownKeys drops keys belonging to longer city names sharing the prefix, such as
// "london_uk_..." when listing "london_".
func ownKeys(keys []string, prefix string) []string {
	out := keys[:0]
	for _, k := range keys {
		if !strings.ContainsRune(strings.TrimPrefix(k, prefix), '_') {
			out = append(out, k)
		}
	}
	return out
}

// newestKey returns the lexicographically greatest key. keys must be non-empty.
func newestKey(keys []string) string {
	latest := keys[0]
	for _, k := range keys[1:] {
		if k > latest {
			latest = k
		}
	}
	return latest
}

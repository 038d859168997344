package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-cache-proxy/internal/observability"
)

const jsonContentType = "application/json"

// Writer stores fresh snapshots under new timestamped keys.
type Writer struct {
	store ObjectStore
	now   func() time.Time
}

// NewWriter returns a Writer for store.
func NewWriter(store ObjectStore) *Writer {
	return &Writer{store: store, now: time.Now}
}

// Write stores payload under <city>_<now UTC>.json and returns the object's public URL.
// There is no retry; a failed put is returned as is.
func (w *Writer) Write(ctx context.Context, city string, payload json.RawMessage) (string, error) {
	key := NewKey(city, w.now())

	start := time.Now()
	err := w.store.Put(ctx, key, payload, jsonContentType)
	observability.ObserveStorage(w.store.Name(), "put", err, time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	observability.LoggerFromContext(ctx).Debug("cached weather data", zap.String("city", city), zap.String("key", key))
	return w.store.URL(key), nil
}

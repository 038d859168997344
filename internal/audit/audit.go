// Package audit records one entry per upstream fetch, linking a city to the
// cache object that fetch produced. Records are write-only.
package audit

import (
	"context"
	"time"

	"github.com/kjstillabower/weather-cache-proxy/internal/models"
	"github.com/kjstillabower/weather-cache-proxy/internal/observability"
)

// Store persists audit records.
type Store interface {
	Put(ctx context.Context, rec models.AuditRecord) error
	Name() string
}

// Writer stamps and writes audit records.
type Writer struct {
	store Store
	now   func() time.Time
}

// NewWriter returns a Writer for store.
func NewWriter(store Store) *Writer {
	return &Writer{store: store, now: time.Now}
}

// Record writes {city, now UTC, url}. There is no idempotency key; calling it twice
// writes two records.
func (w *Writer) Record(ctx context.Context, city, url string) error {
	rec := models.AuditRecord{
		City:      city,
		Timestamp: w.now().UTC().Format(time.RFC3339Nano),
		S3URL:     url,
	}

	start := time.Now()
	err := w.store.Put(ctx, rec)
	observability.ObserveStorage(w.store.Name(), "put", err, time.Since(start).Seconds())
	if err != nil {
		observability.AuditWritesTotal.WithLabelValues("error").Inc()
		return err
	}
	observability.AuditWritesTotal.WithLabelValues("success").Inc()
	return nil
}

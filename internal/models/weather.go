package models

import (
	"encoding/json"
	"time"
)

// WeatherSnapshot is one upstream weather response for a city. Payload is the
// upstream JSON object, passed through to callers and storage unmodified.
type WeatherSnapshot struct {
	City       string
	Payload    json.RawMessage
	CapturedAt time.Time
	Cached     bool // served from the object store
}

// AuditRecord links a fetch event to the cache object it produced.
type AuditRecord struct {
	City      string `json:"city"`
	Timestamp string `json:"timestamp"`
	S3URL     string `json:"s3_url"`
}

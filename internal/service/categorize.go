package service

import (
	"errors"

	"github.com/kjstillabower/weather-cache-proxy/internal/client"
)

// CategorizeError returns a stable label for error metrics: config, upstream,
// cache_read, cache_write, audit_write or unknown.
func CategorizeError(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, ErrConfigMissing) {
		return "config"
	}
	var upstream *client.UpstreamError
	if errors.As(err, &upstream) {
		return "upstream"
	}
	var storage *StorageError
	if errors.As(err, &storage) {
		return string(storage.Op)
	}
	return "unknown"
}

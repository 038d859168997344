package cache

import (
	"fmt"
	"strings"
	"time"
)

// keyTimeLayout is fixed width and zero padded, so for one city lexicographic
// key order equals chronological order. Changing it breaks Reader.Latest.
const keyTimeLayout = "20060102150405"

const keySuffix = ".json"

// KeyPrefix returns the listing prefix for every cache object of city.
func KeyPrefix(city string) string {
	return city + "_"
}

// NewKey returns the object key for a snapshot of city captured at t.
func NewKey(city string, t time.Time) string {
	return KeyPrefix(city) + t.UTC().Format(keyTimeLayout) + keySuffix
}

// ParseKeyTime extracts the UTC capture time from the segment after the last '_'.
func ParseKeyTime(key string) (time.Time, error) {
	i := strings.LastIndexByte(key, '_')
	if i < 0 {
		return time.Time{}, fmt.Errorf("cache key %q: missing timestamp segment", key)
	}
	stamp := strings.TrimSuffix(key[i+1:], keySuffix)
	t, err := time.ParseInLocation(keyTimeLayout, stamp, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("cache key %q: parse timestamp: %w", key, err)
	}
	return t, nil
}

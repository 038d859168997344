package cache

import (
	"context"
	"errors"
)

// ErrObjectNotFound is returned by ObjectStore.Get when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore is the blob storage holding one JSON object per weather fetch.
// Objects are written once and never deleted.
type ObjectStore interface {
	// List returns every key starting with prefix, in no particular order.
	List(ctx context.Context, prefix string) ([]string, error)
	// Get returns the object body, or ErrObjectNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores body under key.
	Put(ctx context.Context, key string, body []byte, contentType string) error
	// URL returns the public address of key. It is deterministic and does no I/O.
	URL(key string) string
	// Name labels the store in metrics and logs.
	Name() string
}

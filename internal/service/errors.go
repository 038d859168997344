package service

import (
	"errors"
	"fmt"
)

// ErrConfigMissing is returned when the weather API key is not configured at call time.
var ErrConfigMissing = errors.New("weather API key not configured")

// StorageOp identifies which storage step of a request failed.
type StorageOp string

const (
	OpCacheRead  StorageOp = "cache_read"
	OpCacheWrite StorageOp = "cache_write"
	OpAuditWrite StorageOp = "audit_write"
)

// StorageError wraps a failure of the object store or the audit store.
type StorageError struct {
	Op  StorageOp
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

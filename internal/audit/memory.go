package audit

import (
	"context"
	"sync"

	"github.com/kjstillabower/weather-cache-proxy/internal/models"
)

// MemoryStore keeps audit records in process. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	records []models.AuditRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Put(ctx context.Context, rec models.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *MemoryStore) Name() string { return "memory" }

// Records returns a copy of everything written so far, in write order.
func (s *MemoryStore) Records() []models.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AuditRecord(nil), s.records...)
}

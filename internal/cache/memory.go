package cache

import (
	"context"
	"strings"
	"sync"
)

// MemoryObjectStore implements ObjectStore with an in-process map. Safe for
// concurrent use. Used for local runs and tests; List order follows map iteration.
type MemoryObjectStore struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string]memoryObject
}

type memoryObject struct {
	body        []byte
	contentType string
}

// NewMemoryObjectStore creates an empty store; bucket only affects URL.
func NewMemoryObjectStore(bucket string) *MemoryObjectStore {
	return &MemoryObjectStore{
		bucket:  bucket,
		objects: make(map[string]memoryObject),
	}
}

func (s *MemoryObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *MemoryObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return append([]byte(nil), obj.body...), nil
}

func (s *MemoryObjectStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = memoryObject{
		body:        append([]byte(nil), body...),
		contentType: contentType,
	}
	return nil
}

func (s *MemoryObjectStore) URL(key string) string {
	return "memory://" + s.bucket + "/" + key
}

func (s *MemoryObjectStore) Name() string { return "memory" }

// ContentType returns the stored content type of key, or "" when absent.
func (s *MemoryObjectStore) ContentType(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.objects[key].contentType
}

// Len returns the number of stored objects.
func (s *MemoryObjectStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

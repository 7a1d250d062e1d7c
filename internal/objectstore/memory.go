package objectstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory keeps objects in a map. Used for local runs and tests.
type Memory struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory(bucket string) *Memory {
	if bucket == "" {
		bucket = "local"
	}
	return &Memory{bucket: bucket, objects: make(map[string][]byte)}
}

func (m *Memory) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	path := fmt.Sprintf("mem://%s/%s", m.bucket, key)
	cp := make([]byte, len(data))
	copy(cp, data)

	m.mu.Lock()
	m.objects[path] = cp
	m.mu.Unlock()
	return path, nil
}

func (m *Memory) Fetch(ctx context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("Memory.Fetch: object not found: %s", path)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (m *Memory) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	m.mu.RLock()
	_, ok := m.objects[path]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("Memory.SignedURL: object not found: %s", path)
	}
	return fmt.Sprintf("%s?expires=%d", path, time.Now().Add(ttl).Unix()), nil
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	delete(m.objects, path)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

var _ Store = (*Memory)(nil)

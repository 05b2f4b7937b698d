package blobstore

import (
	"context"
	"sync"
)

// MemoryStore keeps objects in process memory. Used for local development and
// tests; selected with blob.driver=memory.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (m *MemoryStore) Upload(ctx context.Context, data []byte, meta Metadata) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := ObjectKey(meta)

	copied := make([]byte, len(data))
	copy(copied, data)

	m.mu.Lock()
	m.objects[key] = copied
	m.mu.Unlock()

	return key, nil
}

func (m *MemoryStore) Exists(ctx context.Context, externalID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	_, ok := m.objects[externalID]
	m.mu.RUnlock()
	return ok, nil
}

func (m *MemoryStore) Delete(ctx context.Context, externalID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[externalID]; !ok {
		return ErrNotFound
	}
	delete(m.objects, externalID)
	return nil
}

// Drop removes an object without going through Delete, simulating external
// drift in tests.
func (m *MemoryStore) Drop(externalID string) {
	m.mu.Lock()
	delete(m.objects, externalID)
	m.mu.Unlock()
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

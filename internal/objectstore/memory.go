package objectstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/JonMunkholm/auditimport/internal/core"
)

// Memory keeps objects in a map. Stored bytes are copied in and out.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

var _ core.ObjectStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) Put(ctx context.Context, key string, data []byte, contentType string) error {
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[k] = append([]byte(nil), data...)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	k, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	data, ok := m.objects[k]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), data...), nil
}

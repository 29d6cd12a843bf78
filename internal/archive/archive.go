// Package archive keeps a copy of every accepted import file.
package archive

import (
	"context"
	"fmt"
	"sync"
)

// Archiver stores raw upload bytes under a key.
type Archiver interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// ImportKey is the object key of an import file, addressed by content hash.
func ImportKey(hash string) string {
	return fmt.Sprintf("imports/%s.csv", hash)
}

// Noop discards everything. Used when no bucket is configured.
type Noop struct{}

func (Noop) Put(context.Context, string, []byte, string) error { return nil }

// Memory keeps objects in a map; handy in tests.
type Memory struct {
	mu      sync.Mutex
	Objects map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{Objects: make(map[string][]byte)}
}

func (m *Memory) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.Objects[key]
	return b, ok
}

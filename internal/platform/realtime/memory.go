package realtime

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryBackend keeps the tree in process memory. It backs memory:// URLs
// and tests.
type MemoryBackend struct {
	mu       sync.RWMutex
	leaves   map[string]json.RawMessage
	watchers *watchers
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		leaves:   make(map[string]json.RawMessage),
		watchers: newWatchers(),
	}
}

func (m *MemoryBackend) Get(ctx context.Context, path string) (json.RawMessage, bool, error) {
	p, err := normalize(path)
	if err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return assemble(p, m.leaves)
}

func (m *MemoryBackend) Set(ctx context.Context, path string, value json.RawMessage) error {
	p, err := normalize(path)
	if err != nil {
		return err
	}
	if isNull(value) {
		return m.Delete(ctx, p)
	}
	if !json.Valid(value) {
		return ErrInvalidValue
	}

	m.mu.Lock()
	m.splitLocked(p)
	m.removeLocked(p)
	stored := make(json.RawMessage, len(value))
	copy(stored, value)
	m.leaves[p] = stored
	m.mu.Unlock()

	m.watchers.notify(p)
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, path string) error {
	p, err := normalize(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.splitLocked(p)
	m.removeLocked(p)
	m.mu.Unlock()

	m.watchers.notify(p)
	return nil
}

func (m *MemoryBackend) splitLocked(p string) {
	remove, add := splitAncestors(p, func(a string) (json.RawMessage, bool) {
		v, ok := m.leaves[a]
		return v, ok
	})
	for _, a := range remove {
		delete(m.leaves, a)
	}
	for k, v := range add {
		m.leaves[k] = v
	}
}

func (m *MemoryBackend) removeLocked(p string) {
	delete(m.leaves, p)
	for k := range m.leaves {
		if isUnder(k, p) {
			delete(m.leaves, k)
		}
	}
}

func (m *MemoryBackend) Watch(path string, fn func()) (func(), error) {
	p, err := normalize(path)
	if err != nil {
		return nil, err
	}
	return m.watchers.add(p, fn), nil
}

func (m *MemoryBackend) Ping(ctx context.Context) error { return nil }

func (m *MemoryBackend) Describe() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]any{
		"backend":  "memory",
		"leaves":   len(m.leaves),
		"watchers": m.watchers.count(),
	}
}

func (m *MemoryBackend) Close() error { return nil }

package shard

import "sync"

// Backend is the storage capability the store routes keys to. A remote
// storage client can stand in for the in-memory map by implementing it.
type Backend interface {
	LocalPut(key string, value []byte) error

	// LocalGet reports false when the key is not stored on this backend.
	LocalGet(key string) ([]byte, bool, error)
}

// Scanner is what rebalancing needs on top of Backend to move keys away.
type Scanner interface {
	LocalDelete(key string) error

	// LocalRange calls fn for every stored pair until fn returns false.
	// fn must not call back into the backend.
	LocalRange(fn func(key string, value []byte) bool) error

	LocalLen() int
}

type ShardBackend interface {
	Backend
	Scanner
}

// BackendFactory allocates the backend of a newly added node.
type BackendFactory func(nodeID string) ShardBackend

// MemoryBackend is a map guarded by a RWMutex. Values are copied on the
// way in and on the way out.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data: make(map[string][]byte),
	}
}

// NewMemoryBackendFactory is the default BackendFactory.
func NewMemoryBackendFactory() BackendFactory {
	return func(string) ShardBackend {
		return NewMemoryBackend()
	}
}

func (m *MemoryBackend) LocalPut(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = clone(value)

	return nil
}

func (m *MemoryBackend) LocalGet(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}

	return clone(value), true, nil
}

func (m *MemoryBackend) LocalDelete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)

	return nil
}

func (m *MemoryBackend) LocalRange(fn func(key string, value []byte) bool) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for k, v := range m.data {
		if !fn(k, clone(v)) {
			break
		}
	}

	return nil
}

func (m *MemoryBackend) LocalLen() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.data)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}

	c := make([]byte, len(b))
	copy(c, b)

	return c
}

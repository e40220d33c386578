package testutil

import (
	"context"
	"errors"
	"sync"
)

// ErrInjected is returned by MemBackend when a failure has been armed.
var ErrInjected = errors.New("injected I/O failure")

// MemBackend is an in-memory key-value backend with switchable write failures.
//
// It satisfies store.Backend structurally so that this package does not need
// to import the store.
type MemBackend struct {
	mu       sync.Mutex
	data     map[string][]byte
	failPuts bool
	failGets bool
	putCount int
}

// NewMemBackend creates an empty MemBackend.
func NewMemBackend() *MemBackend {
	return &MemBackend{data: make(map[string][]byte)}
}

// FailPuts makes subsequent Put calls fail (true) or succeed (false).
func (m *MemBackend) FailPuts(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPuts = fail
}

// FailGets makes subsequent Get calls fail (true) or succeed (false).
func (m *MemBackend) FailGets(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failGets = fail
}

// Set stores raw bytes under key, bypassing failure injection.
func (m *MemBackend) Set(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
}

// Raw returns the bytes stored under key.
func (m *MemBackend) Raw(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

// PutCount returns how many Put calls succeeded.
func (m *MemBackend) PutCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putCount
}

func (m *MemBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGets {
		return nil, false, ErrInjected
	}
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemBackend) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPuts {
		return ErrInjected
	}
	m.data[key] = append([]byte(nil), value...)
	m.putCount++
	return nil
}

func (m *MemBackend) Close() error { return nil }

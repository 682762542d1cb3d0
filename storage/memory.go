package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process ObjectStore used by dry runs and tests.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
	// FailPuts makes every PutNew fail with this error when set.
	FailPuts error
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

// PutNew stores body under key unless the key is taken.
func (m *Memory) PutNew(_ context.Context, key string, body []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPuts != nil {
		return m.FailPuts
	}
	if _, ok := m.objects[key]; ok {
		return fmt.Errorf("%w: %s", ErrObjectExists, key)
	}
	m.objects[key] = append([]byte(nil), body...)
	return nil
}

// Get returns a stored object.
func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	return b, ok
}

// Keys lists stored keys under prefix in lexical order.
func (m *Memory) Keys(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

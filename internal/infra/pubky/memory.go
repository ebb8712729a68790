package pubky

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"paykit/internal/stories/catalog"
)

// MemoryStore is an in-process routing network. Every key's storage lives
// in one map keyed by full address.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

// Session returns a reader/writer that writes under owner's key.
func (s *MemoryStore) Session(owner string) *Memory {
	return &Memory{store: s, owner: owner}
}

type Memory struct {
	store *MemoryStore
	owner string
}

func (m *Memory) Owner() string { return m.owner }

func (m *Memory) Get(_ context.Context, addr string, _ catalog.Scope) ([]byte, error) {
	a, err := catalog.ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	a.Fragment = ""

	m.store.mu.RLock()
	defer m.store.mu.RUnlock()
	data, ok := m.store.docs[a.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", catalog.ErrNotFound, addr)
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	m.store.mu.RLock()
	defer m.store.mu.RUnlock()

	seen := make(map[string]struct{})
	for addr := range m.store.docs {
		rest, ok := strings.CutPrefix(addr, prefix)
		if !ok {
			continue
		}
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			rest = rest[:i+1]
		}
		seen[prefix+rest] = struct{}{}
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("%w: %s", catalog.ErrNotFound, prefix)
	}

	out := make([]string, 0, len(seen))
	for addr := range seen {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Put(_ context.Context, path string, data []byte) error {
	if m.owner == "" {
		return ErrNoSession
	}
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	m.store.docs[catalog.AddressOf(m.owner, path)] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) Delete(_ context.Context, path string) error {
	if m.owner == "" {
		return ErrNoSession
	}
	addr := catalog.AddressOf(m.owner, path)

	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	if _, ok := m.store.docs[addr]; !ok {
		return fmt.Errorf("%w: %s", catalog.ErrNotFound, addr)
	}
	delete(m.store.docs, addr)
	return nil
}

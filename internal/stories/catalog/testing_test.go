package catalog

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	aliceKey = "8pinxxgqs41n4aididenw5apqp1urfmzdztr8jt4abrkdn435ewo"
	bobKey   = "o1gg96ewuojmopcjbz8895478wdtxtzzuxnfjjz8o8e77csa1ngo"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memNetwork is a map-backed routing network owned by a single writer key.
type memNetwork struct {
	mu    sync.Mutex
	owner string
	docs  map[string][]byte

	gets    atomic.Int32
	lists   atomic.Int32
	failGet error
	block   chan struct{}
}

func newMemNetwork(owner string) *memNetwork {
	return &memNetwork{owner: owner, docs: make(map[string][]byte)}
}

func (m *memNetwork) set(addr string, data string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[addr] = []byte(data)
}

func (m *memNetwork) Get(ctx context.Context, addr string, _ Scope) ([]byte, error) {
	m.gets.Add(1)
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return nil, m.failGet
	}
	data, ok := m.docs[addr]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *memNetwork) List(_ context.Context, prefix string) ([]string, error) {
	m.lists.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := map[string]struct{}{}
	for addr := range m.docs {
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
		return nil, ErrNotFound
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memNetwork) Put(_ context.Context, path string, data []byte) error {
	m.set(AddressOf(m.owner, path), string(data))
	return nil
}

func (m *memNetwork) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr := AddressOf(m.owner, path)
	if _, ok := m.docs[addr]; !ok {
		return ErrNotFound
	}
	delete(m.docs, addr)
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

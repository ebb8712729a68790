package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_KeepsNewerSnapshot(t *testing.T) {
	c := newClock()
	cache := newCache(time.Minute, 8, c.Now)
	payee, err := Unknown(bobKey)
	assert.NoError(t, err)
	key := cacheKey{identity: payee.String(), scope: ScopePublic}

	older := newCatalog(payee, ScopePublic, []Entry{{Method: "old", Endpoint: "/old"}}, c.Now())
	newer := newCatalog(payee, ScopePublic, []Entry{{Method: "new", Endpoint: "/new"}}, c.Now().Add(time.Second))

	assert.Same(t, newer, cache.put(key, newer))
	assert.Same(t, newer, cache.put(key, older), "a fetch that started earlier must not overwrite")

	got, ok := cache.get(key)
	assert.True(t, ok)
	assert.Equal(t, []MethodID{"new"}, got.Methods())

	same := newCatalog(payee, ScopePublic, nil, newer.ResolvedAt())
	assert.Same(t, same, cache.put(key, same), "equal timestamps replace")
}

func TestCache_DisabledReturnsInput(t *testing.T) {
	c := newClock()
	cache := newCache(0, 8, c.Now)
	payee, err := Unknown(bobKey)
	assert.NoError(t, err)
	snapshot := newCatalog(payee, ScopePublic, nil, c.Now())

	assert.Same(t, snapshot, cache.put(cacheKey{identity: payee.String(), scope: ScopePublic}, snapshot))
	assert.Zero(t, cache.len())
}

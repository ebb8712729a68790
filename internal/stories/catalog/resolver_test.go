package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paykit/internal/events"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(e events.Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func newTestResolver(net *memNetwork, c *clock, ttl time.Duration) *Resolver {
	return newResolver(Config{CacheTTL: ttl, CacheCapacity: 8}, net, nil, discardLogger(), c.Now)
}

func mustUnknown(t *testing.T, key string) PayeeIdentity {
	t.Helper()
	p, err := Unknown(key)
	require.NoError(t, err)
	return p
}

func TestResolver_MissingDocumentIsEmptyCatalog(t *testing.T) {
	net := newMemNetwork(aliceKey)
	r := newTestResolver(net, newClock(), time.Minute)

	got, err := r.Resolve(context.Background(), mustUnknown(t, bobKey), ScopePublic)
	require.NoError(t, err)
	assert.True(t, got.IsEmpty())
	assert.Equal(t, ScopePublic, got.Scope())
}

func TestResolver_PublicDocument(t *testing.T) {
	net := newMemNetwork(bobKey)
	net.set(AddressOf(bobKey, SupportedPaymentsPath),
		`[{"method":"lightning","endpoint":"/pub/paykit.app/v0/lightning"},{"method":"onchain","endpoint":"pubky://elsewhere/addr"}]`)
	pub := &recordingPublisher{}
	r := newResolver(Config{CacheTTL: time.Minute}, net, pub, discardLogger(), newClock().Now)

	got, err := r.Resolve(context.Background(), mustUnknown(t, bobKey), ScopePublic)
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{Method: "lightning", Endpoint: "pubky://" + bobKey + "/pub/paykit.app/v0/lightning"},
		{Method: "onchain", Endpoint: "pubky://elsewhere/addr"},
	}, got.Entries())

	require.Len(t, pub.events, 1)
	assert.Equal(t, events.TypeResolutionDone, pub.events[0].Type)
	assert.Equal(t, "2", pub.events[0].Attrs["methods"])
}

func TestResolver_FallsBackToPerMethodFiles(t *testing.T) {
	net := newMemNetwork(bobKey)
	net.set(AddressOf(bobKey, PathPrefix+"onchain"), "bc1qexample")
	net.set(AddressOf(bobKey, PathPrefix+"lightning"), "lnurl1example")
	net.set(AddressOf(bobKey, MessagesPath+"note"), "hi")
	r := newTestResolver(net, newClock(), time.Minute)

	got, err := r.Resolve(context.Background(), mustUnknown(t, bobKey), ScopePublic)
	require.NoError(t, err)
	assert.Equal(t, []MethodID{"lightning", "onchain"}, got.Methods())
	assert.Equal(t, AddressOf(bobKey, PathPrefix+"onchain"), got.Entries()[1].Endpoint)
}

func TestResolver_PrivateScopeReadsCapability(t *testing.T) {
	capURL := "pubky://" + bobKey + "/pub/paykit.app/v0/private/abc#secret"
	net := newMemNetwork(bobKey)
	net.set(capURL, `[{"method":"lightning","endpoint":"/pub/paykit.app/v0/private/ln"}]`)
	net.set(AddressOf(bobKey, SupportedPaymentsPath), `[{"method":"onchain","endpoint":"/x"}]`)
	r := newTestResolver(net, newClock(), time.Minute)

	payee, err := KnownPeer(capURL)
	require.NoError(t, err)

	got, err := r.Resolve(context.Background(), payee, ScopePrivate)
	require.NoError(t, err)
	assert.Equal(t, []MethodID{"lightning"}, got.Methods())

	_, err = r.Resolve(context.Background(), mustUnknown(t, bobKey), ScopePrivate)
	assert.ErrorIs(t, err, ErrInvalidIdentity)
}

func TestResolver_TransportFailureIsUnavailable(t *testing.T) {
	net := newMemNetwork(bobKey)
	net.failGet = errors.New("connection reset")
	r := newTestResolver(net, newClock(), time.Minute)

	_, err := r.Resolve(context.Background(), mustUnknown(t, bobKey), ScopePublic)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResolutionUnavailable)
	assert.Contains(t, err.Error(), "get_payment_list")
	assert.Equal(t, int32(1), net.gets.Load(), "resolver must not retry internally")
}

func TestResolver_MalformedIsSurfaced(t *testing.T) {
	net := newMemNetwork(bobKey)
	net.set(AddressOf(bobKey, SupportedPaymentsPath), `{"nope": true}`)
	r := newTestResolver(net, newClock(), time.Minute)

	_, err := r.Resolve(context.Background(), mustUnknown(t, bobKey), ScopePublic)
	assert.ErrorIs(t, err, ErrCatalogMalformed)
	assert.NotErrorIs(t, err, ErrResolutionUnavailable)
}

func TestResolver_CacheTTLAndForcedRefresh(t *testing.T) {
	net := newMemNetwork(bobKey)
	addr := AddressOf(bobKey, SupportedPaymentsPath)
	net.set(addr, `[{"method":"a","endpoint":"/a"}]`)
	c := newClock()
	r := newTestResolver(net, c, time.Minute)
	payee := mustUnknown(t, bobKey)
	ctx := context.Background()

	first, err := r.Resolve(ctx, payee, ScopePublic)
	require.NoError(t, err)

	net.set(addr, `[{"method":"b","endpoint":"/b"},{"method":"c","endpoint":"/c"}]`)

	cached, err := r.Resolve(ctx, payee, ScopePublic)
	require.NoError(t, err)
	assert.Same(t, first, cached)
	assert.Equal(t, int32(1), net.gets.Load())

	forced, err := r.Resolve(ctx, payee, ScopePublic, WithForceRefresh())
	require.NoError(t, err)
	assert.Equal(t, []MethodID{"b", "c"}, forced.Methods())
	assert.Equal(t, []MethodID{"a"}, first.Methods(), "old snapshot must not change")

	net.set(addr, `[{"method":"d","endpoint":"/d"}]`)
	c.Advance(time.Minute)

	expired, err := r.Resolve(ctx, payee, ScopePublic)
	require.NoError(t, err)
	assert.Equal(t, []MethodID{"d"}, expired.Methods())
}

func TestResolver_ConcurrentMissesShareOneFetch(t *testing.T) {
	net := newMemNetwork(bobKey)
	net.set(AddressOf(bobKey, SupportedPaymentsPath), `[{"method":"a","endpoint":"/a"}]`)
	net.block = make(chan struct{})
	r := newTestResolver(net, newClock(), time.Minute)
	payee := mustUnknown(t, bobKey)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*Catalog, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := r.Resolve(context.Background(), payee, ScopePublic)
			assert.NoError(t, err)
			results[i] = got
		}(i)
	}

	require.Eventually(t, func() bool { return net.gets.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(net.block)
	wg.Wait()

	assert.Equal(t, int32(1), net.gets.Load())
	for _, got := range results {
		assert.Same(t, results[0], got)
	}
}

func TestResolver_JoinedCallerIgnoresFirstCallerCancellation(t *testing.T) {
	net := newMemNetwork(bobKey)
	net.set(AddressOf(bobKey, SupportedPaymentsPath), `[{"method":"a","endpoint":"/a"}]`)
	net.block = make(chan struct{})
	r := newTestResolver(net, newClock(), time.Minute)
	payee := mustUnknown(t, bobKey)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.Resolve(firstCtx, payee, ScopePublic)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return net.gets.Load() >= 1 }, time.Second, time.Millisecond)

	type result struct {
		snapshot *Catalog
		err      error
	}
	second := make(chan result, 1)
	go func() {
		got, err := r.Resolve(context.Background(), payee, ScopePublic)
		second <- result{got, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(net.block)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, []MethodID{"a"}, got.snapshot.Methods())
	assert.Equal(t, int32(1), net.gets.Load(), "second caller joined the running fetch")
}

func TestResolver_CacheCapacityEvictsOldest(t *testing.T) {
	net := newMemNetwork(bobKey)
	c := newClock()
	r := newResolver(Config{CacheTTL: time.Hour, CacheCapacity: 2}, net, nil, discardLogger(), c.Now)
	ctx := context.Background()

	for _, key := range []string{"k1", "k2", "k3"} {
		_, err := r.Resolve(ctx, mustUnknown(t, key), ScopePublic)
		require.NoError(t, err)
		c.Advance(time.Second)
	}
	assert.Equal(t, 2, r.cache.len())

	before := net.gets.Load()
	_, err := r.Resolve(ctx, mustUnknown(t, "k1"), ScopePublic)
	require.NoError(t, err)
	assert.Equal(t, before+1, net.gets.Load(), "k1 should have been evicted")
}

func TestResolver_FetchEndpoint(t *testing.T) {
	net := newMemNetwork(bobKey)
	net.set(AddressOf(bobKey, SupportedPaymentsPath),
		`[{"method":"onchain","endpoint":"/pub/paykit.app/v0/onchain"},{"method":"empty","endpoint":"/pub/paykit.app/v0/empty"}]`)
	net.set(AddressOf(bobKey, PathPrefix+"onchain"), "bc1qexample")
	net.set(AddressOf(bobKey, PathPrefix+"empty"), "")
	r := newTestResolver(net, newClock(), time.Minute)
	payee := mustUnknown(t, bobKey)
	ctx := context.Background()

	data, err := r.FetchEndpoint(ctx, payee, "onchain")
	require.NoError(t, err)
	assert.Equal(t, EndpointData("bc1qexample"), data)

	data, err = r.FetchEndpoint(ctx, payee, "empty")
	require.NoError(t, err)
	assert.Nil(t, data)

	data, err = r.FetchEndpoint(ctx, payee, "lightning")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestContacts(t *testing.T) {
	net := newMemNetwork(aliceKey)
	ctx := context.Background()

	got, err := Contacts(ctx, net, aliceKey)
	require.NoError(t, err)
	assert.Empty(t, got)

	net.set(AddressOf(aliceKey, FollowsPath+bobKey), "")
	net.set(AddressOf(aliceKey, FollowsPath+"carol"), "")

	got, err = Contacts(ctx, net, aliceKey)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{bobKey, "carol"}, got)
}

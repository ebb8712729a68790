package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"

	"paykit/internal/events"
	"paykit/internal/metrics"
)

const defaultFetchTimeout = 30 * time.Second

type Config struct {
	CacheTTL      time.Duration
	CacheCapacity int
	// FetchTimeout bounds a shared fetch, which outlives any single caller.
	FetchTimeout time.Duration
}

// Resolver fetches and parses Supported Payments Lists. Every fetch is a
// single attempt; retry cadence belongs to the caller.
type Resolver struct {
	reader    Reader
	publisher Publisher
	logger    *slog.Logger
	cache     *cache
	group     singleflight.Group
	timeout   time.Duration
	now       func() time.Time
}

func NewResolver(cfg Config, reader Reader, publisher Publisher, logger *slog.Logger) *Resolver {
	return newResolver(cfg, reader, publisher, logger, time.Now)
}

func newResolver(cfg Config, reader Reader, publisher Publisher, logger *slog.Logger, now func() time.Time) *Resolver {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	return &Resolver{
		reader:    reader,
		publisher: publisher,
		logger:    logger,
		cache:     newCache(cfg.CacheTTL, cfg.CacheCapacity, now),
		timeout:   cfg.FetchTimeout,
		now:       now,
	}
}

type resolveOptions struct {
	forceRefresh bool
}

type ResolveOption func(*resolveOptions)

// WithForceRefresh skips the cache and replaces the cached snapshot.
func WithForceRefresh() ResolveOption {
	return func(o *resolveOptions) { o.forceRefresh = true }
}

// Resolve returns the catalog published by payee in the given scope. A missing
// document yields an empty catalog.
func (r *Resolver) Resolve(ctx context.Context, payee PayeeIdentity, scope Scope, opts ...ResolveOption) (*Catalog, error) {
	if payee.IsZero() {
		return nil, ErrInvalidIdentity
	}
	if scope == ScopePrivate && !payee.IsKnownPeer() {
		return nil, fmt.Errorf("%w: private scope requires a capability", ErrInvalidIdentity)
	}

	var o resolveOptions
	for _, opt := range opts {
		opt(&o)
	}

	key := cacheKey{identity: payee.String(), scope: scope}
	if !o.forceRefresh {
		if snapshot, ok := r.cache.get(key); ok {
			metrics.CatalogCacheTotal.WithLabelValues("hit").Inc()
			return snapshot, nil
		}
		metrics.CatalogCacheTotal.WithLabelValues("miss").Inc()
	} else {
		metrics.CatalogCacheTotal.WithLabelValues("refresh").Inc()
	}

	flight := string(scope) + "|" + key.identity
	if o.forceRefresh {
		flight = "refresh|" + flight
	}

	// The fetch is shared by every caller that joins the flight, so it runs
	// detached from the first caller's cancellation. Each caller still stops
	// waiting when its own ctx is done.
	ch := r.group.DoChan(flight, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		snapshot, err := r.fetch(fetchCtx, payee, scope)
		if err != nil {
			return nil, err
		}
		return r.cache.put(key, snapshot), nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := res.Err; err != nil {
		metrics.ResolutionsTotal.WithLabelValues(string(scope), resultLabel(err)).Inc()
		r.logger.Warn("Failed to resolve catalog",
			"payee", payee.PublicKey(),
			"scope", scope,
			"error", err)
		return nil, err
	}

	snapshot := res.Val.(*Catalog)
	metrics.ResolutionsTotal.WithLabelValues(string(scope), "ok").Inc()
	r.publish(events.Event{
		Type:     events.TypeResolutionDone,
		EntityID: payee.PublicKey(),
		Payee:    payee.PublicKey(),
		Attrs: map[string]string{
			"scope":   string(scope),
			"methods": fmt.Sprint(snapshot.Len()),
		},
	})
	return snapshot, nil
}

// Invalidate drops any cached snapshot for payee in scope.
func (r *Resolver) Invalidate(payee PayeeIdentity, scope Scope) {
	r.cache.invalidate(cacheKey{identity: payee.String(), scope: scope})
}

// fetch stamps the snapshot with the time the fetch started, so a slow fetch
// can never pass for newer than one that started after it.
func (r *Resolver) fetch(ctx context.Context, payee PayeeIdentity, scope Scope) (*Catalog, error) {
	started := r.now().UTC()
	var (
		entries []Entry
		err     error
	)
	switch scope {
	case ScopePrivate:
		entries, err = r.fetchDocument(ctx, payee.Capability(), ScopePrivate)
	default:
		entries, err = r.fetchDocument(ctx, AddressOf(payee.PublicKey(), SupportedPaymentsPath), ScopePublic)
		if errors.Is(err, ErrNotFound) {
			entries, err = r.listEndpoints(ctx, payee.PublicKey())
		}
	}
	if errors.Is(err, ErrNotFound) {
		return newCatalog(payee, scope, nil, started), nil
	}
	if err != nil {
		return nil, err
	}

	for i := range entries {
		entries[i].Endpoint = resolveLocation(payee.PublicKey(), entries[i].Endpoint)
	}
	return newCatalog(payee, scope, entries, started), nil
}

func (r *Resolver) fetchDocument(ctx context.Context, addr string, scope Scope) ([]Entry, error) {
	data, err := r.reader.Get(ctx, addr, scope)
	if err != nil {
		return nil, transportError("get_payment_list", err)
	}
	return DecodeDocument(data)
}

// listEndpoints reads the per-method file layout: every file under the
// prefix is one method, named by its (escaped) file name.
func (r *Resolver) listEndpoints(ctx context.Context, key string) ([]Entry, error) {
	prefix := AddressOf(key, PathPrefix)
	names, err := r.reader.List(ctx, prefix)
	if err != nil {
		return nil, transportError("list_payment_endpoints", err)
	}

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		addr := name
		if !strings.HasPrefix(addr, "pubky") {
			addr = prefix + strings.TrimPrefix(name, "/")
		}
		seg := lastSegment(addr)
		if seg == "" || seg == lastSegment(SupportedPaymentsPath) {
			continue
		}
		method, err := url.PathUnescape(seg)
		if err != nil {
			method = seg
		}
		entries = append(entries, Entry{Method: MethodID(method), Endpoint: addr})
	}
	return lo.UniqBy(entries, func(e Entry) MethodID { return e.Method }), nil
}

// FetchEndpointData fetches the payload behind an endpoint location. Missing
// or empty payloads are ErrEndpointMissing.
func (r *Resolver) FetchEndpointData(ctx context.Context, location string, scope Scope) (EndpointData, error) {
	data, err := r.reader.Get(ctx, location, scope)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrEndpointMissing, location)
	}
	if err != nil {
		return nil, transportError("get_payment_endpoint", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrEndpointMissing, location)
	}
	return EndpointData(data), nil
}

// FetchEndpoint resolves payee's public catalog and returns the endpoint data
// for method, or nil if the payee does not publish it.
func (r *Resolver) FetchEndpoint(ctx context.Context, payee PayeeIdentity, method MethodID) (EndpointData, error) {
	snapshot, err := r.Resolve(ctx, payee, payee.Scope())
	if err != nil {
		return nil, err
	}

	entry, ok := lo.Find(snapshot.Entries(), func(e Entry) bool { return e.Method == method })
	if !ok {
		return nil, nil
	}

	data, err := r.FetchEndpointData(ctx, entry.Endpoint, snapshot.Scope())
	if errors.Is(err, ErrEndpointMissing) {
		return nil, nil
	}
	return data, err
}

func (r *Resolver) publish(e events.Event) {
	if r.publisher != nil {
		r.publisher.Publish(e)
	}
}

// Contacts lists the public keys owner follows. A missing directory is an
// empty list.
func Contacts(ctx context.Context, reader Reader, owner string) ([]string, error) {
	names, err := reader.List(ctx, AddressOf(owner, FollowsPath))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, transportError("get_known_contacts", err)
	}

	keys := lo.FilterMap(names, func(name string, _ int) (string, bool) {
		seg := lastSegment(name)
		return seg, seg != ""
	})
	return lo.Uniq(keys), nil
}

func transportError(op string, err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrCatalogMalformed) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrResolutionUnavailable, err)
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrCatalogMalformed):
		return "malformed"
	case errors.Is(err, ErrResolutionUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

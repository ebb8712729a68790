package payment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"paykit/internal/events"
	"paykit/internal/stories/catalog"
	"paykit/internal/stories/ledger"
	"paykit/internal/stories/matching"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedBackend returns the scripted results in order, then keeps
// returning the last one.
type scriptedBackend struct {
	mu      sync.Mutex
	results []error
	calls   atomic.Int32
	params  []SendParams
	gate    chan struct{}
	started chan struct{}
}

func succeeding() *scriptedBackend            { return &scriptedBackend{} }
func failing(errs ...error) *scriptedBackend  { return &scriptedBackend{results: errs} }
func failingWith(msg string) *scriptedBackend { return failing(errors.New(msg)) }

func (b *scriptedBackend) Send(_ context.Context, p SendParams) (Receipt, error) {
	n := int(b.calls.Add(1))
	if b.started != nil {
		select {
		case b.started <- struct{}{}:
		default:
		}
	}
	if b.gate != nil {
		<-b.gate
	}

	b.mu.Lock()
	b.params = append(b.params, p)
	var err error
	switch {
	case len(b.results) == 0:
	case n <= len(b.results):
		err = b.results[n-1]
	default:
		err = b.results[len(b.results)-1]
	}
	b.mu.Unlock()

	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Reference: "ref-" + string(p.Method)}, nil
}

// stuckBackend ignores its context and never returns until released.
type stuckBackend struct {
	release chan struct{}
	calls   atomic.Int32
}

func (b *stuckBackend) Send(context.Context, SendParams) (Receipt, error) {
	b.calls.Add(1)
	<-b.release
	return Receipt{}, nil
}

type staticFetcher struct{}

func (staticFetcher) FetchEndpointData(_ context.Context, location string, _ catalog.Scope) (catalog.EndpointData, error) {
	return catalog.EndpointData("endpoint:" + location), nil
}

// fakeResolver serves one catalog for every payee.
type fakeResolver struct {
	mu      sync.Mutex
	methods []catalog.MethodID
	err     error
	calls   atomic.Int32
}

func (r *fakeResolver) Resolve(_ context.Context, payee catalog.PayeeIdentity, scope catalog.Scope, _ ...catalog.ResolveOption) (*catalog.Catalog, error) {
	r.calls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	entries := make([]catalog.Entry, 0, len(r.methods))
	for _, m := range r.methods {
		entries = append(entries, catalog.Entry{Method: m, Endpoint: "pubky://payee/" + string(m)})
	}
	return catalog.NewCatalog(payee, scope, entries), nil
}

func (r *fakeResolver) FetchEndpointData(ctx context.Context, location string, scope catalog.Scope) (catalog.EndpointData, error) {
	return staticFetcher{}.FetchEndpointData(ctx, location, scope)
}

type memLedger struct {
	mu       sync.Mutex
	records  []ledger.Record
	writes   int
	queryErr error
}

func (l *memLedger) Record(_ context.Context, r ledger.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes++
	for i, existing := range l.records {
		if existing.Kind == r.Kind && existing.CorrelationID == r.CorrelationID {
			if existing.Status != ledger.StatusSucceeded {
				l.records[i] = r
			}
			return nil
		}
	}
	l.records = append(l.records, r)
	return nil
}

func (l *memLedger) Query(_ context.Context, f ledger.Filter) ([]*ledger.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.queryErr != nil {
		return nil, l.queryErr
	}
	var out []*ledger.Record
	for i := range l.records {
		r := l.records[i]
		if f.CorrelationID != nil && r.CorrelationID != *f.CorrelationID {
			continue
		}
		if f.Kind != nil && r.Kind != *f.Kind {
			continue
		}
		if f.Status != nil && r.Status != *f.Status {
			continue
		}
		out = append(out, &r)
	}
	return out, nil
}

type recordingMessenger struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (m *recordingMessenger) Notify(_ context.Context, _ catalog.PayeeIdentity, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return m.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(e events.Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	registry  *Registry
	publisher *recordingPublisher
	orch      *Orchestrator
	sleeps    []time.Duration
}

func newHarness(cfg ExecutorConfig, backends map[catalog.MethodID]Backend) *harness {
	h := &harness{registry: NewRegistry(), publisher: &recordingPublisher{}}
	for m, b := range backends {
		if err := h.registry.Register(m, b); err != nil {
			panic(err)
		}
	}
	h.orch = NewOrchestrator(cfg, h.registry, staticFetcher{}, h.publisher, discardLogger())
	h.orch.sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return ctx.Err()
	}
	return h
}

func candidates(methods ...catalog.MethodID) []matching.Candidate {
	out := make([]matching.Candidate, 0, len(methods))
	for i, m := range methods {
		c := matching.NewCandidate(m, catalog.EndpointData("ep-"+string(m)), i)
		out = append(out, c)
	}
	return out
}

func newRequest(id string) *Request {
	payee, err := catalog.Unknown("payee")
	if err != nil {
		panic(err)
	}
	return &Request{CorrelationID: id, Payee: payee}
}

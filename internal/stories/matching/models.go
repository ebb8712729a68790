package matching

import (
	"context"
	"sync"

	"paykit/internal/stories/catalog"
)

// EndpointFetcher loads the payload behind a catalog entry's endpoint location.
type EndpointFetcher interface {
	FetchEndpointData(ctx context.Context, location string, scope catalog.Scope) (catalog.EndpointData, error)
}

// Candidate is a matched method eligible for execution. Rank is assigned by a
// Policy; Position is the entry's index in the payee's catalog.
type Candidate struct {
	Method   catalog.MethodID
	Location string
	Scope    catalog.Scope
	Rank     int
	Position int

	endpoint *lazyEndpoint
}

// NewCandidate builds a candidate whose endpoint data is already known.
func NewCandidate(method catalog.MethodID, data catalog.EndpointData, position int) Candidate {
	return Candidate{
		Method:   method,
		Position: position,
		Rank:     position,
		endpoint: &lazyEndpoint{data: data, loaded: true},
	}
}

// Endpoint returns the candidate's endpoint data, fetching it on first use.
// Copies of a candidate share the fetched result. Failed fetches are not
// memoised.
func (c Candidate) Endpoint(ctx context.Context, fetcher EndpointFetcher) (catalog.EndpointData, error) {
	if c.endpoint == nil {
		c.endpoint = &lazyEndpoint{}
	}
	return c.endpoint.get(ctx, fetcher, c.Location, c.Scope)
}

// Fetched reports whether the endpoint data has been loaded.
func (c Candidate) Fetched() bool {
	return c.endpoint != nil && c.endpoint.isLoaded()
}

type lazyEndpoint struct {
	mu     sync.Mutex
	data   catalog.EndpointData
	loaded bool
}

func (l *lazyEndpoint) get(ctx context.Context, fetcher EndpointFetcher, location string, scope catalog.Scope) (catalog.EndpointData, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.loaded {
		return l.data, nil
	}
	data, err := fetcher.FetchEndpointData(ctx, location, scope)
	if err != nil {
		return nil, err
	}
	l.data, l.loaded = data, true
	return data, nil
}

func (l *lazyEndpoint) isLoaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/samber/lo"
)

// Endpoints manages the session owner's own published methods. Every method
// is stored as one file under PathPrefix and listed in supported.json.
type Endpoints struct {
	owner  string
	reader Reader
	writer Writer
}

func NewEndpoints(owner string, reader Reader, writer Writer) *Endpoints {
	return &Endpoints{owner: owner, reader: reader, writer: writer}
}

// EndpointPath is where the data for method is stored under the owner's key.
func EndpointPath(method MethodID) string {
	return PathPrefix + url.PathEscape(string(method))
}

// SetEndpoint stores data for method and lists it in the catalog. A method
// already listed keeps its position.
func (p *Endpoints) SetEndpoint(ctx context.Context, method MethodID, data EndpointData) error {
	if err := validateMethod(method); err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty endpoint data for %s", ErrEndpointMissing, method)
	}

	path := EndpointPath(method)
	if err := p.writer.Put(ctx, path, data); err != nil {
		return transportError("upsert_payment_endpoint", err)
	}

	entries, err := p.current(ctx)
	if err != nil {
		return err
	}
	if _, ok := lo.Find(entries, func(e Entry) bool { return e.Method == method }); !ok {
		entries = append(entries, Entry{Method: method, Endpoint: path})
	}
	return p.PublishCatalog(ctx, entries)
}

// RemoveEndpoint deletes method from the catalog. Removing a method that is
// not published is an error.
func (p *Endpoints) RemoveEndpoint(ctx context.Context, method MethodID) error {
	if err := validateMethod(method); err != nil {
		return err
	}

	entries, err := p.current(ctx)
	if err != nil {
		return err
	}
	listed := lo.ContainsBy(entries, func(e Entry) bool { return e.Method == method })

	err = p.writer.Delete(ctx, EndpointPath(method))
	switch {
	case errors.Is(err, ErrNotFound) && !listed:
		return fmt.Errorf("remove_payment_endpoint: %w: %s", ErrEndpointMissing, method)
	case err != nil && !errors.Is(err, ErrNotFound):
		return transportError("remove_payment_endpoint", err)
	}

	if !listed {
		return nil
	}
	return p.PublishCatalog(ctx, lo.Reject(entries, func(e Entry, _ int) bool { return e.Method == method }))
}

// PublishCatalog overwrites supported.json with entries, in order.
func (p *Endpoints) PublishCatalog(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		if err := validateMethod(e.Method); err != nil {
			return err
		}
	}
	if err := p.writer.Put(ctx, SupportedPaymentsPath, EncodeDocument(entries)); err != nil {
		return transportError("put_payment_list", err)
	}
	return nil
}

func (p *Endpoints) current(ctx context.Context) ([]Entry, error) {
	data, err := p.reader.Get(ctx, AddressOf(p.owner, SupportedPaymentsPath), ScopePublic)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, transportError("get_payment_list", err)
	}
	return DecodeDocument(data)
}

func validateMethod(method MethodID) error {
	if strings.TrimSpace(string(method)) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidMethod)
	}
	return nil
}

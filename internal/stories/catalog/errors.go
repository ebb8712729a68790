package catalog

import "errors"

var (
	// ErrNotFound is returned by Reader/Writer implementations for missing documents.
	ErrNotFound = errors.New("not found")

	// ErrResolutionUnavailable marks a transient network/transport failure. Callers decide on retries.
	ErrResolutionUnavailable = errors.New("resolution unavailable")

	// ErrCatalogMalformed marks a document that could not be parsed. Not retryable.
	ErrCatalogMalformed = errors.New("catalog malformed")

	ErrInvalidIdentity = errors.New("invalid payee identity")
	ErrInvalidMethod   = errors.New("invalid method id")
	ErrEndpointMissing = errors.New("endpoint data missing")
)

package catalog

import (
	"context"

	"paykit/internal/events"
)

type (
	// Reader is the routing-network read collaborator. Implementations return
	// ErrNotFound for missing documents and any other error for transport failures.
	Reader interface {
		Get(ctx context.Context, addr string, scope Scope) ([]byte, error)
		// List returns the full addresses of the entries directly under prefix.
		List(ctx context.Context, prefix string) ([]string, error)
	}

	// Writer is the authenticated write collaborator. Paths are absolute paths
	// under the session owner's key.
	Writer interface {
		Put(ctx context.Context, path string, data []byte) error
		Delete(ctx context.Context, path string) error
	}

	Publisher interface {
		Publish(e events.Event)
	}
)

package catalog

import (
	"fmt"
	"strings"
	"time"
)

type Scope string

const (
	ScopePublic  Scope = "public"
	ScopePrivate Scope = "private"
)

// MethodID names a payment method. The core never interprets it.
type MethodID string

// EndpointData is the opaque payload a backend needs to pay through a method.
type EndpointData []byte

// PayeeIdentity is either an unknown payee addressed by public key or a known
// peer addressed by a private capability URL. Zero value is invalid.
type PayeeIdentity struct {
	publicKey  string
	capability string
}

// Unknown builds an identity for a payee known only by public key.
func Unknown(publicKey string) (PayeeIdentity, error) {
	key := strings.TrimPrefix(strings.TrimSpace(publicKey), "pubky")
	key = strings.TrimPrefix(key, "://")
	if key == "" || strings.ContainsAny(key, "/#?: ") {
		return PayeeIdentity{}, fmt.Errorf("%w: invalid public key %q", ErrInvalidIdentity, publicKey)
	}
	return PayeeIdentity{publicKey: key}, nil
}

// KnownPeer builds an identity from a capability URL received from the payee,
// e.g. pubky://<key>/pub/paykit.app/v0/private/<token>#<material>.
func KnownPeer(capabilityURL string) (PayeeIdentity, error) {
	addr, err := ParseAddress(capabilityURL)
	if err != nil {
		return PayeeIdentity{}, err
	}
	if addr.Path == "" || addr.Path == "/" {
		return PayeeIdentity{}, fmt.Errorf("%w: capability %q has no path", ErrInvalidIdentity, capabilityURL)
	}
	return PayeeIdentity{publicKey: addr.Key, capability: strings.TrimSpace(capabilityURL)}, nil
}

// ParsePayee accepts either a bare/pubky-prefixed key or a capability URL.
func ParsePayee(s string) (PayeeIdentity, error) {
	if addr, err := ParseAddress(s); err == nil && addr.Path != "" && addr.Path != "/" {
		return KnownPeer(s)
	}
	return Unknown(s)
}

func (p PayeeIdentity) PublicKey() string  { return p.publicKey }
func (p PayeeIdentity) Capability() string { return p.capability }
func (p PayeeIdentity) IsKnownPeer() bool  { return p.capability != "" }
func (p PayeeIdentity) IsZero() bool       { return p.publicKey == "" }

// Scope is the resolution scope implied by the identity variant.
func (p PayeeIdentity) Scope() Scope {
	if p.IsKnownPeer() {
		return ScopePrivate
	}
	return ScopePublic
}

func (p PayeeIdentity) String() string {
	if p.IsKnownPeer() {
		return p.capability
	}
	return "pubky://" + p.publicKey
}

// Entry is one line of a Supported Payments List: a method and the location
// its endpoint data can be fetched from.
type Entry struct {
	Method   MethodID
	Endpoint string
}

// Catalog is an immutable snapshot of a payee's supported payments.
type Catalog struct {
	payee      PayeeIdentity
	scope      Scope
	entries    []Entry
	resolvedAt time.Time
}

func newCatalog(payee PayeeIdentity, scope Scope, entries []Entry, resolvedAt time.Time) *Catalog {
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	return &Catalog{payee: payee, scope: scope, entries: cp, resolvedAt: resolvedAt}
}

// NewCatalog builds a snapshot from already resolved entries.
func NewCatalog(payee PayeeIdentity, scope Scope, entries []Entry) *Catalog {
	return newCatalog(payee, scope, entries, time.Now().UTC())
}

func (c *Catalog) Payee() PayeeIdentity  { return c.payee }
func (c *Catalog) Scope() Scope          { return c.scope }
func (c *Catalog) ResolvedAt() time.Time { return c.resolvedAt }
func (c *Catalog) Len() int              { return len(c.entries) }
func (c *Catalog) IsEmpty() bool         { return len(c.entries) == 0 }

// Entries returns a copy of the entries in the payee's declared order.
func (c *Catalog) Entries() []Entry {
	cp := make([]Entry, len(c.entries))
	copy(cp, c.entries)
	return cp
}

// Methods lists the method IDs in catalog order.
func (c *Catalog) Methods() []MethodID {
	ids := make([]MethodID, 0, len(c.entries))
	for _, e := range c.entries {
		ids = append(ids, e.Method)
	}
	return ids
}

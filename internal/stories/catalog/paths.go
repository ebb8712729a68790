package catalog

import (
	"fmt"
	"strings"
)

// Conventional layout on the routing network. Must match other implementations.
const (
	PathPrefix            = "/pub/paykit.app/v0/"
	SupportedPaymentsPath = PathPrefix + "supported.json"
	MessagesPath          = PathPrefix + "messages/"
	FollowsPath           = "/pub/pubky.app/follows/"

	scheme = "pubky://"
)

// Address is a parsed pubky://<key><path>[#fragment] location.
type Address struct {
	Key      string
	Path     string
	Fragment string
}

func (a Address) String() string {
	s := scheme + a.Key + a.Path
	if a.Fragment != "" {
		s += "#" + a.Fragment
	}
	return s
}

// AddressOf joins a key and an absolute path.
func AddressOf(key, path string) string {
	return Address{Key: key, Path: path}.String()
}

// ParseAddress parses pubky://<key>/<path>. The legacy pubky<key>/<path> form is accepted too.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	var rest string
	switch {
	case strings.HasPrefix(s, scheme):
		rest = strings.TrimPrefix(s, scheme)
	case strings.HasPrefix(s, "pubky"):
		rest = strings.TrimPrefix(s, "pubky")
	default:
		return Address{}, fmt.Errorf("%w: %q is not a pubky address", ErrInvalidIdentity, s)
	}

	var a Address
	if i := strings.IndexByte(rest, '#'); i >= 0 {
		a.Fragment = rest[i+1:]
		rest = rest[:i]
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		a.Key = rest[:i]
		a.Path = rest[i:]
	} else {
		a.Key = rest
	}
	if a.Key == "" {
		return Address{}, fmt.Errorf("%w: %q has no key", ErrInvalidIdentity, s)
	}
	return a, nil
}

// resolveLocation turns an endpoint reference from a catalog into a full
// address. Relative paths are anchored at the payee's key.
func resolveLocation(payeeKey, location string) string {
	if strings.HasPrefix(location, "/") {
		return AddressOf(payeeKey, location)
	}
	return location
}

// lastSegment returns the final path segment of an address, "" for directories.
func lastSegment(addr string) string {
	if i := strings.IndexByte(addr, '#'); i >= 0 {
		addr = addr[:i]
	}
	if strings.HasSuffix(addr, "/") {
		return ""
	}
	return addr[strings.LastIndexByte(addr, '/')+1:]
}

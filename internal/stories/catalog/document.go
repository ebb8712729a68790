package catalog

import (
	"bytes"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

const (
	fieldMethod   = "method"
	fieldEndpoint = "endpoint"
)

// DecodeDocument parses a Supported Payments List:
//
//	[{"method": "<url>", "endpoint": "<url>"}, ...]
//
// Order is preserved. Unknown fields, non-string values and empty methods are
// rejected. An empty document is an empty list.
func DecodeDocument(data []byte) ([]Entry, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	d := jx.DecodeBytes(data)
	if d.Next() != jx.Array {
		return nil, malformed(errors.New("document is not an array"))
	}

	var entries []Entry
	err := d.Arr(func(d *jx.Decoder) error {
		if d.Next() != jx.Object {
			return errors.Errorf("entry %d is not an object", len(entries))
		}
		var (
			e                      Entry
			hasMethod, hasEndpoint bool
		)
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case fieldMethod:
				if hasMethod {
					return errors.Errorf("duplicate %q", key)
				}
				v, err := d.Str()
				if err != nil {
					return errors.Wrapf(err, "field %q", key)
				}
				e.Method, hasMethod = MethodID(v), true
			case fieldEndpoint:
				if hasEndpoint {
					return errors.Errorf("duplicate %q", key)
				}
				v, err := d.Str()
				if err != nil {
					return errors.Wrapf(err, "field %q", key)
				}
				e.Endpoint, hasEndpoint = v, true
			default:
				return errors.Errorf("unknown field %q", key)
			}
			return nil
		}); err != nil {
			return errors.Wrapf(err, "entry %d", len(entries))
		}
		if !hasMethod || e.Method == "" {
			return errors.Errorf("entry %d: empty method", len(entries))
		}
		if !hasEndpoint {
			return errors.Errorf("entry %d: missing endpoint", len(entries))
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, malformed(err)
	}
	if d.Next() != jx.Invalid {
		return nil, malformed(errors.New("trailing data after document"))
	}
	return entries, nil
}

// EncodeDocument is the inverse of DecodeDocument.
func EncodeDocument(entries []Entry) []byte {
	var e jx.Encoder
	e.ArrStart()
	for _, entry := range entries {
		e.ObjStart()
		e.FieldStart(fieldMethod)
		e.Str(string(entry.Method))
		e.FieldStart(fieldEndpoint)
		e.Str(entry.Endpoint)
		e.ObjEnd()
	}
	e.ArrEnd()
	return e.Bytes()
}

func malformed(err error) error {
	return fmt.Errorf("%w: %w", ErrCatalogMalformed, err)
}

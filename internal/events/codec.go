package events

import (
	"time"

	"github.com/go-faster/jx"
)

// Encode renders e as a flat JSON object for external sinks.
func Encode(e Event) []byte {
	var enc jx.Encoder
	enc.ObjStart()
	enc.FieldStart("id")
	enc.Str(e.ID)
	enc.FieldStart("type")
	enc.Str(string(e.Type))
	enc.FieldStart("entity_id")
	enc.Str(e.EntityID)
	if e.Payee != "" {
		enc.FieldStart("payee")
		enc.Str(e.Payee)
	}
	if e.Method != "" {
		enc.FieldStart("method")
		enc.Str(e.Method)
	}
	if e.Seq != 0 {
		enc.FieldStart("seq")
		enc.Int(e.Seq)
	}
	if e.Reason != "" {
		enc.FieldStart("reason")
		enc.Str(e.Reason)
	}
	enc.FieldStart("occurred_at")
	enc.Str(e.OccurredAt.UTC().Format(time.RFC3339Nano))
	if len(e.Attrs) > 0 {
		enc.FieldStart("attrs")
		enc.ObjStart()
		for k, v := range e.Attrs {
			enc.FieldStart(k)
			enc.Str(v)
		}
		enc.ObjEnd()
	}
	enc.ObjEnd()
	return enc.Bytes()
}

package pubky

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/jx"

	"paykit/internal/stories/catalog"
	"paykit/internal/stories/payment"
)

// Messenger delivers notifications by writing them into the sender's own
// storage under MessagesPath/<recipient>/. The recipient polls that
// directory on the sender's key.
type Messenger struct {
	writer catalog.Writer
	now    func() time.Time
}

func NewMessenger(writer catalog.Writer) *Messenger {
	return &Messenger{writer: writer, now: time.Now}
}

// InboxPath is the directory sender writes recipient's messages to.
func InboxPath(recipient string) string {
	return catalog.MessagesPath + recipient + "/"
}

func messagePath(recipient string, n payment.Notification) string {
	name := url.PathEscape(n.CorrelationID) + "." + n.Kind + ".json"
	return InboxPath(recipient) + name
}

func (m *Messenger) Notify(ctx context.Context, payee catalog.PayeeIdentity, n payment.Notification) error {
	if payee.IsZero() {
		return fmt.Errorf("%w: empty recipient", catalog.ErrInvalidIdentity)
	}
	if n.SentAt.IsZero() {
		n.SentAt = m.now().UTC()
	}
	if err := m.writer.Put(ctx, messagePath(payee.PublicKey(), n), EncodeNotification(n)); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

// Inbox reads the notifications sender left for recipient, oldest path first.
// Unreadable messages are skipped.
func Inbox(ctx context.Context, reader catalog.Reader, sender, recipient string) ([]payment.Notification, error) {
	addrs, err := reader.List(ctx, catalog.AddressOf(sender, InboxPath(recipient)))
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list inbox: %w", err)
	}

	var out []payment.Notification
	for _, addr := range addrs {
		if strings.HasSuffix(addr, "/") {
			continue
		}
		data, err := reader.Get(ctx, addr, catalog.ScopePublic)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("read message: %w", err)
		}
		n, err := DecodeNotification(data)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func EncodeNotification(n payment.Notification) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("kind")
	e.Str(n.Kind)
	e.FieldStart("correlation_id")
	e.Str(n.CorrelationID)
	if n.Reason != "" {
		e.FieldStart("reason")
		e.Str(n.Reason)
	}
	if len(n.Methods) > 0 {
		e.FieldStart("methods")
		e.ArrStart()
		for _, m := range n.Methods {
			e.Str(m)
		}
		e.ArrEnd()
	}
	if len(n.Payload) > 0 {
		e.FieldStart("payload")
		e.ObjStart()
		for k, v := range n.Payload {
			e.FieldStart(k)
			e.Str(v)
		}
		e.ObjEnd()
	}
	e.FieldStart("sent_at")
	e.Str(n.SentAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
	return e.Bytes()
}

func DecodeNotification(data []byte) (payment.Notification, error) {
	var n payment.Notification
	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "kind":
			n.Kind, err = d.Str()
		case "correlation_id":
			n.CorrelationID, err = d.Str()
		case "reason":
			n.Reason, err = d.Str()
		case "methods":
			err = d.Arr(func(d *jx.Decoder) error {
				m, err := d.Str()
				if err != nil {
					return err
				}
				n.Methods = append(n.Methods, m)
				return nil
			})
		case "payload":
			n.Payload = make(map[string]string)
			err = d.Obj(func(d *jx.Decoder, k string) error {
				v, err := d.Str()
				if err != nil {
					return err
				}
				n.Payload[k] = v
				return nil
			})
		case "sent_at":
			var s string
			if s, err = d.Str(); err == nil {
				n.SentAt, err = time.Parse(time.RFC3339Nano, s)
			}
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return payment.Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	if n.Kind == "" {
		return payment.Notification{}, errors.New("decode notification: missing kind")
	}
	return n, nil
}

package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-faster/jx"

	"paykit/internal/stories/payment"
)

const (
	SignatureHeader = "X-Paykit-Signature"
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 64 << 10
)

type Config struct {
	URL     string
	Secret  string
	Timeout time.Duration
}

// Backend forwards a send to an external wallet service over HTTP. 2xx is
// success, 5xx, 429 and transport errors are transient, other statuses fail
// the attempt.
type Backend struct {
	url    string
	secret []byte
	client *http.Client
	logger *slog.Logger
}

func NewBackend(cfg Config, logger *slog.Logger) *Backend {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Backend{
		url:    cfg.URL,
		secret: []byte(cfg.Secret),
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (b *Backend) Send(ctx context.Context, p payment.SendParams) (payment.Receipt, error) {
	body := encodeSend(p)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return payment.Receipt{}, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", p.CorrelationID)
	if len(b.secret) > 0 {
		req.Header.Set(SignatureHeader, Sign(b.secret, body))
	}

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return payment.Receipt{}, ctx.Err()
		}
		b.logger.Warn("Webhook send failed",
			"correlation_id", p.CorrelationID,
			"method", p.Method,
			"error", err)
		return payment.Receipt{}, payment.Transient(fmt.Errorf("webhook send: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return payment.Receipt{}, payment.Transient(fmt.Errorf("read webhook response: %w", err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		receipt, err := decodeReceipt(respBody)
		if err != nil {
			b.logger.Warn("Webhook returned unreadable receipt",
				"correlation_id", p.CorrelationID,
				"error", err)
			receipt = payment.Receipt{}
		}
		if receipt.Reference == "" {
			receipt.Reference = p.CorrelationID
		}
		b.logger.Info("Webhook send accepted",
			"correlation_id", p.CorrelationID,
			"method", p.Method,
			"reference", receipt.Reference)
		return receipt, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return payment.Receipt{}, payment.Transientf("webhook returned %s", resp.Status)
	default:
		return payment.Receipt{}, fmt.Errorf("webhook rejected send: %s", resp.Status)
	}
}

// Sign returns hex(HMAC-SHA256(secret, body)).
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func encodeSend(p payment.SendParams) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("correlation_id")
	e.Str(p.CorrelationID)
	e.FieldStart("method")
	e.Str(string(p.Method))
	e.FieldStart("endpoint")
	e.Str(string(p.Endpoint))
	if p.Amount.Valid {
		e.FieldStart("amount")
		e.Str(p.Amount.Decimal.String())
	}
	if p.Currency != "" {
		e.FieldStart("currency")
		e.Str(p.Currency)
	}
	if p.Memo != "" {
		e.FieldStart("memo")
		e.Str(p.Memo)
	}
	e.ObjEnd()
	return e.Bytes()
}

// decodeReceipt reads {"reference": "...", "details": {"k": "v"}}. An empty
// body is an empty receipt.
func decodeReceipt(data []byte) (payment.Receipt, error) {
	var r payment.Receipt
	if len(bytes.TrimSpace(data)) == 0 {
		return r, nil
	}
	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "reference":
			s, err := d.Str()
			r.Reference = s
			return err
		case "details":
			r.Details = make(map[string]string)
			return d.Obj(func(d *jx.Decoder, k string) error {
				if d.Next() != jx.String {
					raw, err := d.Raw()
					if err != nil {
						return err
					}
					r.Details[k] = raw.String()
					return nil
				}
				v, err := d.Str()
				r.Details[k] = v
				return err
			})
		default:
			return d.Skip()
		}
	})
	return r, err
}

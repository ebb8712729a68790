package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"paykit/internal/events"
	"paykit/internal/metrics"
	"paykit/internal/stories/catalog"
	"paykit/internal/stories/matching"
)

type ExecutorConfig struct {
	AttemptTimeout time.Duration
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
}

// Orchestrator runs candidates in rank order until one succeeds.
type Orchestrator struct {
	cfg       ExecutorConfig
	registry  *Registry
	fetcher   matching.EndpointFetcher
	publisher Publisher
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(cfg ExecutorConfig, registry *Registry, fetcher matching.EndpointFetcher, publisher Publisher, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		registry:  registry,
		fetcher:   fetcher,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("paykit/payment"), // global provider, no-op unless the host installs one
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// Execute drives req to a terminal outcome. Cancelling ctx stops further
// candidates and retries; an attempt already in flight runs to completion or
// to its timeout.
func (o *Orchestrator) Execute(ctx context.Context, req *Request, candidates []matching.Candidate) Outcome {
	ctx, span := o.tracer.Start(ctx, "payment.execute", trace.WithAttributes(
		attribute.String("correlation_id", req.CorrelationID),
		attribute.String("payee", req.Payee.PublicKey()),
		attribute.Int("candidates", len(candidates)),
	))
	defer span.End()

	if req.IsTerminal() {
		return req.Outcome()
	}

	if len(candidates) == 0 {
		return o.finish(span, req, Outcome{Status: StatusExhausted, Reason: ErrNoMatchingMethod.Error()})
	}

	for _, c := range candidates {
		for try := 0; ; try++ {
			if err := ctx.Err(); err != nil {
				return o.finish(span, req, Outcome{Status: StatusAborted, Reason: abortReason(ctx)})
			}

			receipt, err := o.attempt(ctx, req, c, try)
			if err == nil {
				c := c
				return o.finish(span, req, Outcome{Status: StatusSucceeded, Candidate: &c, Receipt: &receipt})
			}
			if errors.Is(err, ErrAlreadyTerminal) {
				return req.Outcome()
			}
			if !o.retryable(err, try) {
				break
			}

			delay := o.backoff(try)
			o.logger.Debug("Retrying payment attempt",
				"correlation_id", req.CorrelationID,
				"method", c.Method,
				"try", try+1,
				"delay", delay)
			if err := o.sleep(ctx, delay); err != nil {
				return o.finish(span, req, Outcome{Status: StatusAborted, Reason: abortReason(ctx)})
			}
		}
	}

	return o.finish(span, req, Outcome{Status: StatusExhausted, Reason: ErrExhausted.Error()})
}

// attempt runs one try of c and records it on req.
func (o *Orchestrator) attempt(ctx context.Context, req *Request, c matching.Candidate, try int) (Receipt, error) {
	seq, err := req.beginAttempt(c.Method, try, o.now().UTC())
	if err != nil {
		return Receipt{}, err
	}

	ctx, span := o.tracer.Start(ctx, "payment.attempt", trace.WithAttributes(
		attribute.String("method", string(c.Method)),
		attribute.Int("seq", seq),
		attribute.Int("try", try),
	))
	defer span.End()

	o.publish(events.Event{
		Type:     events.TypePaymentAttempted,
		EntityID: req.CorrelationID,
		Payee:    req.Payee.PublicKey(),
		Method:   string(c.Method),
		Seq:      seq,
	})

	started := o.now()
	receipt, err := o.send(ctx, req, c)
	metrics.AttemptDuration.WithLabelValues(string(c.Method)).Observe(o.now().Sub(started).Seconds())

	if err != nil {
		req.endAttempt(seq, AttemptFailed, err.Error(), o.now().UTC())
		metrics.AttemptsTotal.WithLabelValues(string(c.Method), attemptResult(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		o.logger.Warn("Payment attempt failed",
			"correlation_id", req.CorrelationID,
			"method", c.Method,
			"seq", seq,
			"try", try,
			"error", err)
		o.publish(events.Event{
			Type:     events.TypeAttemptFailed,
			EntityID: req.CorrelationID,
			Payee:    req.Payee.PublicKey(),
			Method:   string(c.Method),
			Seq:      seq,
			Reason:   err.Error(),
		})
		return Receipt{}, fmt.Errorf("%w: %w", ErrAttemptFailed, err)
	}

	req.endAttempt(seq, AttemptSucceeded, "", o.now().UTC())
	metrics.AttemptsTotal.WithLabelValues(string(c.Method), "succeeded").Inc()
	return receipt, nil
}

// send resolves the backend and endpoint, then calls the backend under the
// per-attempt timeout. The backend's context is detached from ctx so that a
// cancellation never interrupts a call in flight.
func (o *Orchestrator) send(ctx context.Context, req *Request, c matching.Candidate) (Receipt, error) {
	backend, ok := o.registry.Lookup(c.Method)
	if !ok {
		return Receipt{}, fmt.Errorf("%w: no backend for %s", ErrConfiguration, c.Method)
	}

	callCtx := context.WithoutCancel(ctx)
	if o.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, o.cfg.AttemptTimeout)
		defer cancel()
	}

	type result struct {
		receipt Receipt
		err     error
	}
	done := make(chan result, 1)

	go func() {
		endpoint, err := c.Endpoint(callCtx, o.fetcher)
		if err != nil {
			done <- result{err: endpointError(err)}
			return
		}
		receipt, err := backend.Send(callCtx, SendParams{
			CorrelationID: req.CorrelationID,
			Method:        c.Method,
			Endpoint:      endpoint,
			Amount:        req.Amount,
			Currency:      req.Currency,
			Memo:          req.Memo,
		})
		done <- result{receipt: receipt, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return Receipt{}, ErrTimeout
		}
		return r.receipt, r.err
	case <-callCtx.Done():
		return Receipt{}, ErrTimeout
	}
}

// retryable reports whether the same candidate may be tried again. Timeouts
// move on: the timed-out call may still complete on the backend side.
func (o *Orchestrator) retryable(err error, try int) bool {
	return IsTransient(err) && !errors.Is(err, ErrTimeout) && try < o.cfg.MaxRetries
}

func (o *Orchestrator) backoff(try int) time.Duration {
	if o.cfg.BackoffBase <= 0 {
		return 0
	}
	d := o.cfg.BackoffBase << min(try, 20)
	if o.cfg.BackoffMax > 0 && d > o.cfg.BackoffMax {
		d = o.cfg.BackoffMax
	}
	return d
}

func (o *Orchestrator) finish(span trace.Span, req *Request, out Outcome) Outcome {
	out.FinishedAt = o.now().UTC()
	if !req.finish(out) {
		return req.Outcome()
	}

	metrics.RequestsTotal.WithLabelValues(string(out.Status)).Inc()
	span.SetAttributes(attribute.String("outcome", string(out.Status)))

	e := events.Event{
		EntityID: req.CorrelationID,
		Payee:    req.Payee.PublicKey(),
		Seq:      len(req.Attempts()),
		Reason:   out.Reason,
	}
	if out.Status == StatusSucceeded {
		e.Type = events.TypePaymentSucceeded
		e.Method = string(out.Candidate.Method)
		o.logger.Info("Payment succeeded",
			"correlation_id", req.CorrelationID,
			"method", out.Candidate.Method,
			"attempts", e.Seq)
	} else {
		e.Type = events.TypePaymentFailed
		e.Attrs = map[string]string{"status": string(out.Status)}
		span.SetStatus(codes.Error, out.Reason)
		o.logger.Warn("Payment failed",
			"correlation_id", req.CorrelationID,
			"status", out.Status,
			"reason", out.Reason,
			"attempts", e.Seq)
	}
	o.publish(e)
	return out
}

// Abort ends req without running any candidate.
func (o *Orchestrator) Abort(ctx context.Context, req *Request, reason string) Outcome {
	return o.finish(trace.SpanFromContext(ctx), req, Outcome{Status: StatusAborted, Reason: reason})
}

func (o *Orchestrator) publish(e events.Event) {
	if o.publisher != nil {
		o.publisher.Publish(e)
	}
}

func endpointError(err error) error {
	if errors.Is(err, catalog.ErrResolutionUnavailable) {
		return Transient(err)
	}
	return err
}

func abortReason(ctx context.Context) string {
	if cause := context.Cause(ctx); cause != nil {
		return cause.Error()
	}
	return ErrAborted.Error()
}

func attemptResult(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case IsTransient(err):
		return "transient"
	default:
		return "failed"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

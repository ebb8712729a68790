package payment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"paykit/internal/stories/ledger"
	"paykit/internal/stories/matching"
)

type Config struct {
	NotifyTimeout    time.Duration
	RequestRetention time.Duration
}

// Service is the request pipeline: resolve, match, rank, execute, record.
type Service struct {
	resolver      Resolver
	orchestrator  *Orchestrator
	registry      *Registry
	policy        matching.Policy
	ledger        Ledger
	messenger     Messenger
	logger        *slog.Logger
	inflight      *inflight
	notifyTimeout time.Duration
	now           func() time.Time
}

func NewService(
	cfg Config,
	resolver Resolver,
	orchestrator *Orchestrator,
	registry *Registry,
	policy matching.Policy,
	ledger Ledger,
	messenger Messenger,
	logger *slog.Logger,
) *Service {
	if policy == nil {
		policy = matching.DefaultPolicy{}
	}
	return &Service{
		resolver:      resolver,
		orchestrator:  orchestrator,
		registry:      registry,
		policy:        policy,
		ledger:        ledger,
		messenger:     messenger,
		logger:        logger,
		inflight:      newInflight(cfg.RequestRetention, time.Now),
		notifyTimeout: cfg.NotifyTimeout,
		now:           time.Now,
	}
}

// Pay runs req through the pipeline and returns it in a terminal state. A
// concurrent call with the same correlation ID waits for the running one and
// returns its request and error. A correlation ID that already succeeded is
// never paid again.
func (s *Service) Pay(ctx context.Context, req *Request) (*Request, error) {
	if req == nil || req.Payee.IsZero() {
		return nil, fmt.Errorf("%w: payee is required", ErrInvalidRequest)
	}
	if req.Amount.Valid && !req.Amount.Decimal.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if req.IsTerminal() {
		return req, ErrAlreadyTerminal
	}
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.now().UTC()
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	c, owner := s.inflight.acquire(req.CorrelationID, req, cancel)
	if !owner {
		s.logger.Info("Joining in-progress payment", "correlation_id", req.CorrelationID)
		select {
		case <-c.done:
			return c.req, c.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var err error
	defer func() { s.inflight.release(req.CorrelationID, c, err) }()

	err = s.run(runCtx, req)
	return req, err
}

func (s *Service) run(ctx context.Context, req *Request) error {
	s.logger.Info("Processing payment request",
		"correlation_id", req.CorrelationID,
		"payee", req.Payee.PublicKey(),
		"known_peer", req.Payee.IsKnownPeer(),
		"amount", req.Amount.Decimal.String(),
		"currency", req.Currency)

	paid, err := s.alreadyPaid(ctx, req.CorrelationID)
	if err != nil {
		s.orchestrator.Abort(ctx, req, "ledger lookup failed: "+err.Error())
		return fmt.Errorf("%w: %w", ErrAborted, err)
	}
	if paid {
		s.orchestrator.Abort(ctx, req, ErrAlreadyPaid.Error())
		return ErrAlreadyPaid
	}

	snapshot, err := s.resolver.Resolve(ctx, req.Payee, req.Payee.Scope())
	if err != nil {
		s.orchestrator.Abort(ctx, req, "resolution failed: "+err.Error())
		s.record(ctx, req)
		return fmt.Errorf("%w: %w", ErrAborted, err)
	}

	candidates := matching.Select(snapshot, s.registry.Methods(), s.policy)
	out := s.orchestrator.Execute(ctx, req, candidates)
	s.record(ctx, req)

	switch out.Status {
	case StatusSucceeded:
		return nil
	case StatusExhausted:
		s.notifyPayee(ctx, req, candidates)
		if len(candidates) == 0 {
			return ErrNoMatchingMethod
		}
		return ErrExhausted
	default:
		return fmt.Errorf("%w: %s", ErrAborted, out.Reason)
	}
}

// Cancel stops a running request before its next candidate.
func (s *Service) Cancel(correlationID string) error {
	if !s.inflight.cancel(correlationID, errCancelledByCaller) {
		return fmt.Errorf("%w: %s is not running", ErrNotFound, correlationID)
	}
	s.logger.Info("Payment cancellation requested", "correlation_id", correlationID)
	return nil
}

var errCancelledByCaller = fmt.Errorf("%w: cancelled by caller", ErrAborted)

// GetRequest returns a running or recently finished request.
func (s *Service) GetRequest(correlationID string) (*Request, error) {
	req, ok := s.inflight.get(correlationID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, correlationID)
	}
	return req, nil
}

// Active reports the number of requests currently executing.
func (s *Service) Active() int {
	return s.inflight.activeCount()
}

func (s *Service) alreadyPaid(ctx context.Context, correlationID string) (bool, error) {
	if s.ledger == nil {
		return false, nil
	}
	kind, status := ledger.KindPayment, ledger.StatusSucceeded
	records, err := s.ledger.Query(ctx, ledger.Filter{
		CorrelationID: &correlationID,
		Kind:          &kind,
		Status:        &status,
		Limit:         1,
	})
	if err != nil {
		return false, err
	}
	return len(records) > 0, nil
}

// record writes the terminal outcome once. The ledger deduplicates by
// correlation ID, so a repeated write is harmless.
func (s *Service) record(ctx context.Context, req *Request) {
	if s.ledger == nil {
		return
	}
	out := req.Outcome()
	r := ledger.Record{
		Kind:           ledger.KindPayment,
		CorrelationID:  req.CorrelationID,
		Payee:          req.Payee.PublicKey(),
		Status:         ledgerStatus(out.Status),
		Amount:         req.Amount,
		Currency:       req.Currency,
		Memo:           req.Memo,
		Attempts:       len(req.Attempts()),
		SubscriptionID: req.SubscriptionID,
		Reason:         out.Reason,
		RecordedAt:     out.FinishedAt,
	}
	if out.Candidate != nil {
		r.Method = string(out.Candidate.Method)
	}

	if err := s.ledger.Record(context.WithoutCancel(ctx), r); err != nil {
		s.logger.Error("Failed to record payment outcome",
			"correlation_id", req.CorrelationID,
			"status", out.Status,
			"error", err)
	}
}

// notifyPayee tells a known peer that no method worked. Best effort.
func (s *Service) notifyPayee(ctx context.Context, req *Request, candidates []matching.Candidate) {
	if s.messenger == nil || !req.Payee.IsKnownPeer() {
		return
	}

	ctx = context.WithoutCancel(ctx)
	if s.notifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.notifyTimeout)
		defer cancel()
	}

	n := Notification{
		Kind:          NotificationPaymentFailed,
		CorrelationID: req.CorrelationID,
		Reason:        req.Outcome().Reason,
		Methods: lo.Map(candidates, func(c matching.Candidate, _ int) string {
			return string(c.Method)
		}),
		SentAt: s.now().UTC(),
	}
	if err := s.messenger.Notify(ctx, req.Payee, n); err != nil {
		s.logger.Warn("Failed to notify payee about failed payment",
			"correlation_id", req.CorrelationID,
			"payee", req.Payee.PublicKey(),
			"error", err)
	}
}

func ledgerStatus(s Status) ledger.Status {
	switch s {
	case StatusSucceeded:
		return ledger.StatusSucceeded
	case StatusExhausted:
		return ledger.StatusExhausted
	default:
		return ledger.StatusAborted
	}
}

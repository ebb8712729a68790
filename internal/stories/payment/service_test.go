package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paykit/internal/stories/catalog"
	"paykit/internal/stories/ledger"
	"paykit/internal/stories/matching"
)

type serviceHarness struct {
	*harness
	resolver  *fakeResolver
	ledger    *memLedger
	messenger *recordingMessenger
	svc       *Service
}

func newServiceHarness(catalogMethods []catalog.MethodID, backends map[catalog.MethodID]Backend, policy matching.Policy) *serviceHarness {
	h := newHarness(ExecutorConfig{}, backends)
	sh := &serviceHarness{
		harness:   h,
		resolver:  &fakeResolver{methods: catalogMethods},
		ledger:    &memLedger{},
		messenger: &recordingMessenger{},
	}
	h.orch.fetcher = sh.resolver
	sh.svc = NewService(Config{NotifyTimeout: time.Second, RequestRetention: time.Hour},
		sh.resolver, h.orch, h.registry, policy, sh.ledger, sh.messenger, discardLogger())
	return sh
}

func knownPeerRequest(t *testing.T, id string) *Request {
	t.Helper()
	payee, err := catalog.KnownPeer("pubky://payee/pub/paykit.app/v0/private/tok#key")
	require.NoError(t, err)
	return &Request{CorrelationID: id, Payee: payee}
}

func TestService_PayHappyPath(t *testing.T) {
	sh := newServiceHarness([]catalog.MethodID{"onchain", "lightning"}, map[catalog.MethodID]Backend{
		"lightning": succeeding(),
		"onchain":   failingWith("fee too low"),
	}, nil)

	req := newRequest("pay-1")
	req.Amount = decimal.NewNullDecimal(decimal.RequireFromString("12.50"))
	req.Currency = "SAT"

	got, err := sh.svc.Pay(context.Background(), req)
	require.NoError(t, err)
	assert.Same(t, req, got)
	assert.Equal(t, StatusSucceeded, got.Outcome().Status)
	assert.Equal(t, []string{"onchain:failed", "lightning:succeeded"}, attemptSummary(got.Attempts()))

	require.Len(t, sh.ledger.records, 1)
	rec := sh.ledger.records[0]
	assert.Equal(t, ledger.KindPayment, rec.Kind)
	assert.Equal(t, ledger.StatusSucceeded, rec.Status)
	assert.Equal(t, "lightning", rec.Method)
	assert.Equal(t, 2, rec.Attempts)
	assert.True(t, rec.Amount.Decimal.Equal(decimal.RequireFromString("12.5")))
	assert.Empty(t, sh.messenger.sent)
}

func TestService_PolicyDecidesOrder(t *testing.T) {
	policy, err := matching.NewCustomPolicy(matching.PolicyConfig{Prefer: []catalog.MethodID{"lightning"}})
	require.NoError(t, err)
	onchain := succeeding()
	sh := newServiceHarness([]catalog.MethodID{"onchain", "lightning"}, map[catalog.MethodID]Backend{
		"lightning": succeeding(),
		"onchain":   onchain,
	}, policy)

	got, err := sh.svc.Pay(context.Background(), newRequest("pay-2"))
	require.NoError(t, err)
	assert.Equal(t, catalog.MethodID("lightning"), got.Outcome().Candidate.Method)
	assert.Equal(t, int32(0), onchain.calls.Load())
}

func TestService_ResolutionFailureAborts(t *testing.T) {
	sh := newServiceHarness(nil, nil, nil)
	sh.resolver.err = catalog.ErrResolutionUnavailable

	got, err := sh.svc.Pay(context.Background(), newRequest("pay-3"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, catalog.ErrResolutionUnavailable)
	assert.Equal(t, StatusAborted, got.Outcome().Status)

	require.Len(t, sh.ledger.records, 1)
	assert.Equal(t, ledger.StatusAborted, sh.ledger.records[0].Status)
}

func TestService_NoMatchingMethod(t *testing.T) {
	sh := newServiceHarness([]catalog.MethodID{"sepa"}, map[catalog.MethodID]Backend{"lightning": succeeding()}, nil)

	got, err := sh.svc.Pay(context.Background(), newRequest("pay-4"))
	assert.ErrorIs(t, err, ErrNoMatchingMethod)
	assert.Equal(t, StatusExhausted, got.Outcome().Status)
	assert.Empty(t, got.Attempts())
}

func TestService_ConcurrentSameCorrelationIDRunsOnce(t *testing.T) {
	b := succeeding()
	b.gate = make(chan struct{})
	b.started = make(chan struct{}, 1)
	sh := newServiceHarness([]catalog.MethodID{"a"}, map[catalog.MethodID]Backend{"a": b}, nil)

	type result struct {
		req *Request
		err error
	}
	results := make(chan result, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		r, err := sh.svc.Pay(context.Background(), newRequest("dup"))
		results <- result{r, err}
	}()
	<-b.started

	wg.Add(1)
	go func() {
		defer wg.Done()
		r, err := sh.svc.Pay(context.Background(), newRequest("dup"))
		results <- result{r, err}
	}()

	require.Eventually(t, func() bool { return sh.svc.Active() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(b.gate)
	wg.Wait()
	close(results)

	var got []result
	for r := range results {
		got = append(got, r)
	}
	require.Len(t, got, 2)
	assert.NoError(t, got[0].err)
	assert.NoError(t, got[1].err)
	assert.Same(t, got[0].req, got[1].req)
	assert.Equal(t, int32(1), b.calls.Load())
	assert.Equal(t, 1, sh.ledger.writes)
}

func TestService_SucceededCorrelationIDIsNotPaidAgain(t *testing.T) {
	b := succeeding()
	sh := newServiceHarness([]catalog.MethodID{"a"}, map[catalog.MethodID]Backend{"a": b}, nil)
	ctx := context.Background()

	first, err := sh.svc.Pay(ctx, newRequest("once"))
	require.NoError(t, err)

	again, err := sh.svc.Pay(ctx, newRequest("once"))
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, int32(1), b.calls.Load())
}

func TestService_LedgerGuardsAgainstReplayAfterRestart(t *testing.T) {
	b := succeeding()
	sh := newServiceHarness([]catalog.MethodID{"a"}, map[catalog.MethodID]Backend{"a": b}, nil)
	sh.ledger.records = []ledger.Record{{Kind: ledger.KindPayment, CorrelationID: "old", Status: ledger.StatusSucceeded}}

	got, err := sh.svc.Pay(context.Background(), newRequest("old"))
	assert.ErrorIs(t, err, ErrAlreadyPaid)
	assert.Equal(t, StatusAborted, got.Outcome().Status)
	assert.Equal(t, int32(0), b.calls.Load())
	assert.Equal(t, int32(0), sh.resolver.calls.Load())
}

func TestService_FailedCorrelationIDMayRunAgain(t *testing.T) {
	b := failing(errors.New("declined"), nil)
	sh := newServiceHarness([]catalog.MethodID{"a"}, map[catalog.MethodID]Backend{"a": b}, nil)
	ctx := context.Background()

	_, err := sh.svc.Pay(ctx, newRequest("retry-me"))
	assert.ErrorIs(t, err, ErrExhausted)

	got, err := sh.svc.Pay(ctx, newRequest("retry-me"))
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got.Outcome().Status)

	require.Len(t, sh.ledger.records, 1)
	assert.Equal(t, ledger.StatusSucceeded, sh.ledger.records[0].Status)
}

func TestService_KnownPeerIsNotifiedOnExhaustion(t *testing.T) {
	sh := newServiceHarness([]catalog.MethodID{"a", "b"}, map[catalog.MethodID]Backend{
		"a": failingWith("x"),
		"b": failingWith("y"),
	}, nil)
	sh.messenger.err = errors.New("routing network down")

	got, err := sh.svc.Pay(context.Background(), knownPeerRequest(t, "peer-1"))
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, StatusExhausted, got.Outcome().Status, "notification failure must not change the outcome")

	require.Len(t, sh.messenger.sent, 1)
	n := sh.messenger.sent[0]
	assert.Equal(t, NotificationPaymentFailed, n.Kind)
	assert.Equal(t, "peer-1", n.CorrelationID)
	assert.Equal(t, []string{"a", "b"}, n.Methods)
}

func TestService_UnknownPayeeIsNotNotified(t *testing.T) {
	sh := newServiceHarness([]catalog.MethodID{"a"}, map[catalog.MethodID]Backend{"a": failingWith("x")}, nil)

	_, err := sh.svc.Pay(context.Background(), newRequest("anon"))
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Empty(t, sh.messenger.sent)
}

func TestService_CancelAbortsBeforeNextCandidate(t *testing.T) {
	a := failingWith("declined")
	a.gate = make(chan struct{})
	a.started = make(chan struct{}, 1)
	b := succeeding()
	sh := newServiceHarness([]catalog.MethodID{"a", "b"}, map[catalog.MethodID]Backend{"a": a, "b": b}, nil)

	done := make(chan error, 1)
	req := newRequest("cancel-me")
	go func() {
		_, err := sh.svc.Pay(context.Background(), req)
		done <- err
	}()

	<-a.started
	require.NoError(t, sh.svc.Cancel("cancel-me"))
	close(a.gate)

	err := <-done
	assert.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, StatusAborted, req.Outcome().Status)
	assert.Contains(t, req.Outcome().Reason, "cancelled by caller")
	assert.Equal(t, int32(0), b.calls.Load())

	assert.ErrorIs(t, sh.svc.Cancel("cancel-me"), ErrNotFound)

	stored, err := sh.svc.GetRequest("cancel-me")
	require.NoError(t, err)
	assert.Same(t, req, stored)
}

func TestService_PayValidates(t *testing.T) {
	sh := newServiceHarness(nil, nil, nil)

	_, err := sh.svc.Pay(context.Background(), &Request{})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	req := newRequest("neg")
	req.Amount = decimal.NewNullDecimal(decimal.NewFromInt(-1))
	_, err = sh.svc.Pay(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	req = newRequest("")
	_, err = sh.svc.Pay(context.Background(), req)
	assert.ErrorIs(t, err, ErrNoMatchingMethod)
	assert.NotEmpty(t, req.CorrelationID)
}

package broker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/socialpulse/walletcore/internal/events"
	"github.com/socialpulse/walletcore/internal/ledger"
	"github.com/socialpulse/walletcore/internal/models"
	"github.com/socialpulse/walletcore/internal/provider"
	"github.com/socialpulse/walletcore/internal/repository"
	"github.com/socialpulse/walletcore/pkg/logger"
)

type fakeProvider struct {
	mu            sync.Mutex
	approveErr    error
	completeErr   error
	cancelErr     error
	approveCalls  int
	completeCalls int
	cancelCalls   int
	completeGate  chan struct{}
	payments      map[string]*provider.PaymentDTO
	incomplete    []*provider.PaymentDTO
}

func (f *fakeProvider) GetIdentity(ctx context.Context, accessToken string) (*provider.Identity, error) {
	return &provider.Identity{UID: "user-1", Username: "alice"}, nil
}

func (f *fakeProvider) Approve(ctx context.Context, paymentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approveCalls++
	return f.approveErr
}

func (f *fakeProvider) Complete(ctx context.Context, paymentID, txid string) error {
	f.mu.Lock()
	f.completeCalls++
	gate := f.completeGate
	err := f.completeErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return err
}

func (f *fakeProvider) Cancel(ctx context.Context, paymentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls++
	return f.cancelErr
}

func (f *fakeProvider) GetPayment(ctx context.Context, paymentID string) (*provider.PaymentDTO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if payment, ok := f.payments[paymentID]; ok {
		return payment, nil
	}
	return nil, errors.Newf("unknown payment %s", paymentID)
}

func (f *fakeProvider) ListIncompletePayments(ctx context.Context) ([]*provider.PaymentDTO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.incomplete, nil
}

// flakyRepo fails a configured number of balance credits and completion
// records before recovering.
type flakyRepo struct {
	models.Repository
	mu             sync.Mutex
	creditFailures int
	markFailures   int
}

func (r *flakyRepo) CreditBalance(ctx context.Context, userUID string, amount decimal.Decimal, kind models.LedgerEntryKind, reference string) (decimal.Decimal, error) {
	r.mu.Lock()
	if r.creditFailures > 0 {
		r.creditFailures--
		r.mu.Unlock()
		return decimal.Zero, errors.New("ledger offline")
	}
	r.mu.Unlock()
	return r.Repository.CreditBalance(ctx, userUID, amount, kind, reference)
}

func (r *flakyRepo) MarkPaymentCompleted(ctx context.Context, identifier, txid string) (bool, error) {
	r.mu.Lock()
	if r.markFailures > 0 {
		r.markFailures--
		r.mu.Unlock()
		return false, errors.New("record store offline")
	}
	r.mu.Unlock()
	return r.Repository.MarkPaymentCompleted(ctx, identifier, txid)
}

type brokerFixture struct {
	broker   *Broker
	provider *fakeProvider
	repo     *flakyRepo
	ledger   *ledger.Ledger
	events   <-chan models.BalanceEvent
}

func newBrokerFixture(t *testing.T) *brokerFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormLogger.Default.LogMode(gormLogger.Silent)})
	require.NoError(t, err)

	baseRepo, err := repository.NewWithDB(db, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = baseRepo.Close() })
	repo := &flakyRepo{Repository: baseRepo}

	bus := events.NewBus(logger.NewNop())
	t.Cleanup(bus.Close)
	eventCh, unsubscribe := bus.Subscribe(8)
	t.Cleanup(unsubscribe)

	fake := &fakeProvider{payments: make(map[string]*provider.PaymentDTO)}
	walletLedger := ledger.NewLedger(repo, bus, decimal.NewFromInt(1), logger.NewNop())
	return &brokerFixture{
		broker:   NewBroker(fake, repo, walletLedger, bus, "testnet", logger.NewNop()),
		provider: fake,
		repo:     repo,
		ledger:   walletLedger,
		events:   eventCh,
	}
}

func TestApprovePaymentRecordsAndApproves(t *testing.T) {
	f := newBrokerFixture(t)
	ctx := context.Background()

	err := f.broker.ApprovePayment(ctx, "pay-1", "user-1", decimal.NewFromInt(100), "top-up", "")
	require.NoError(t, err)
	require.Equal(t, 1, f.provider.approveCalls)

	payment, err := f.repo.GetPayment(ctx, "pay-1")
	require.NoError(t, err)
	require.True(t, payment.DeveloperApproved)
	require.Equal(t, models.DirectionUserToApp, payment.Direction)
	require.Equal(t, "testnet", payment.Network)
}

func TestApprovalFailureIsTerminalWithNoLedgerEffect(t *testing.T) {
	f := newBrokerFixture(t)
	f.provider.approveErr = &provider.ApprovalError{PaymentID: "pay-1", StatusCode: 400}
	ctx := context.Background()

	err := f.broker.ApprovePayment(ctx, "pay-1", "user-1", decimal.NewFromInt(100), "", "")
	var approval *provider.ApprovalError
	require.ErrorAs(t, err, &approval)

	payment, err := f.repo.GetPayment(ctx, "pay-1")
	require.NoError(t, err)
	require.False(t, payment.DeveloperApproved)

	balance, err := f.ledger.Balance(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, balance.IsZero())
}

func TestApprovePaymentRejectsNonPositiveAmount(t *testing.T) {
	f := newBrokerFixture(t)

	err := f.broker.ApprovePayment(context.Background(), "pay-1", "user-1", decimal.Zero, "", "")
	require.Error(t, err)
	require.Equal(t, 0, f.provider.approveCalls)
}

func TestRetriedCompletionCreditsExactlyOnce(t *testing.T) {
	f := newBrokerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.broker.ApprovePayment(ctx, "pay-1", "user-1", decimal.NewFromInt(100), "", ""))

	// The completion network call is retried twice by the client
	require.NoError(t, f.broker.CompletePayment(ctx, "pay-1", "tx-abc"))
	require.NoError(t, f.broker.CompletePayment(ctx, "pay-1", "tx-abc"))

	balance, err := f.ledger.Balance(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.NewFromInt(100)))

	// Second call short-circuits on the recorded completion
	require.Equal(t, 1, f.provider.completeCalls)
}

func TestConcurrentCompletionIsDeduplicated(t *testing.T) {
	f := newBrokerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.broker.ApprovePayment(ctx, "pay-1", "user-1", decimal.NewFromInt(100), "", ""))

	gate := make(chan struct{})
	f.provider.completeGate = gate

	done := make(chan error, 1)
	go func() {
		done <- f.broker.CompletePayment(ctx, "pay-1", "tx-abc")
	}()

	// Wait until the first completion is holding the in-flight slot
	require.Eventually(t, func() bool {
		f.provider.mu.Lock()
		defer f.provider.mu.Unlock()
		return f.provider.completeCalls == 1
	}, time.Second, 5*time.Millisecond)

	// The duplicate is told the completion is in progress, not that it
	// succeeded, and never touches the provider
	require.ErrorIs(t, f.broker.CompletePayment(ctx, "pay-1", "tx-abc"), ErrCompletionInFlight)
	require.Equal(t, 1, f.provider.completeCalls)

	close(gate)
	require.NoError(t, <-done)

	balance, err := f.ledger.Balance(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.NewFromInt(100)))
}

func TestCompletionFailureIsPropagated(t *testing.T) {
	f := newBrokerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.broker.ApprovePayment(ctx, "pay-1", "user-1", decimal.NewFromInt(100), "", ""))

	f.provider.completeErr = &provider.CompletionError{PaymentID: "pay-1", StatusCode: 500}
	err := f.broker.CompletePayment(ctx, "pay-1", "tx-abc")
	var completion *provider.CompletionError
	require.ErrorAs(t, err, &completion)

	balance, err := f.ledger.Balance(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, balance.IsZero())
}

func TestCreditFailureAfterCompletionQueuesReconciliation(t *testing.T) {
	f := newBrokerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.broker.ApprovePayment(ctx, "pay-1", "user-1", decimal.NewFromInt(100), "", ""))

	// The provider confirms completion but the ledger write fails once,
	// then fails the first reconciliation attempt before recovering
	f.repo.creditFailures = 2
	require.NoError(t, f.broker.CompletePayment(ctx, "pay-1", "tx-abc"))

	event := <-f.events
	require.Equal(t, models.EventReconciliationPending, event.Type)
	require.Equal(t, "pay-1", event.PaymentID)

	balance, err := f.ledger.Balance(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, balance.IsZero())

	tasks, err := f.repo.GetUnresolvedReconciliations(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "pay-1", tasks[0].PaymentID)

	require.NoError(t, f.broker.ProcessReconciliations(ctx))

	balance, err = f.ledger.Balance(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.NewFromInt(100)))

	tasks, err = f.repo.GetUnresolvedReconciliations(ctx)
	require.NoError(t, err)
	require.Empty(t, tasks)
}

func TestRecordFailureAfterCompletionSettlesThroughWorker(t *testing.T) {
	f := newBrokerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.broker.ApprovePayment(ctx, "pay-1", "user-1", decimal.NewFromInt(100), "", ""))

	// The provider confirms completion but recording it fails, so the
	// credit is queued instead of applied
	f.repo.markFailures = 1
	require.NoError(t, f.broker.CompletePayment(ctx, "pay-1", "tx-abc"))

	balance, err := f.ledger.Balance(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, balance.IsZero())

	tasks, err := f.repo.GetUnresolvedReconciliations(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "tx-abc", tasks[0].TxID)

	// The worker records the completion before crediting
	require.NoError(t, f.broker.ProcessReconciliations(ctx))

	payment, err := f.repo.GetPayment(ctx, "pay-1")
	require.NoError(t, err)
	require.True(t, payment.DeveloperCompleted)

	balance, err = f.ledger.Balance(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.NewFromInt(100)))

	// The retried completion hits the persisted record and credits nothing
	require.NoError(t, f.broker.CompletePayment(ctx, "pay-1", "tx-abc"))
	require.Equal(t, 1, f.provider.completeCalls)

	balance, err = f.ledger.Balance(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.NewFromInt(100)))
}

func TestRetriedCompletionBeforeWorkerPassCreditsOnce(t *testing.T) {
	f := newBrokerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.broker.ApprovePayment(ctx, "pay-1", "user-1", decimal.NewFromInt(100), "", ""))

	f.repo.markFailures = 1
	require.NoError(t, f.broker.CompletePayment(ctx, "pay-1", "tx-abc"))

	// The retry lands before the worker has run. Recording succeeds this
	// time, but the queued task owns the credit, so none happens here.
	require.NoError(t, f.broker.CompletePayment(ctx, "pay-1", "tx-abc"))

	balance, err := f.ledger.Balance(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, balance.IsZero())

	require.NoError(t, f.broker.ProcessReconciliations(ctx))

	balance, err = f.ledger.Balance(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.NewFromInt(100)))

	tasks, err := f.repo.GetUnresolvedReconciliations(ctx)
	require.NoError(t, err)
	require.Empty(t, tasks)
}

func TestCancelPaymentIsIdempotent(t *testing.T) {
	f := newBrokerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.broker.ApprovePayment(ctx, "pay-1", "user-1", decimal.NewFromInt(100), "", ""))

	require.NoError(t, f.broker.CancelPayment(ctx, "pay-1"))
	require.NoError(t, f.broker.CancelPayment(ctx, "pay-1"))
	require.Equal(t, 1, f.provider.cancelCalls)

	payment, err := f.repo.GetPayment(ctx, "pay-1")
	require.NoError(t, err)
	require.True(t, payment.Cancelled)
}

func TestCancelResolvedAtProviderIsNoOp(t *testing.T) {
	f := newBrokerFixture(t)
	ctx := context.Background()

	// Payment unknown locally, provider rejects the cancel but reports
	// the payment as already cancelled
	f.provider.cancelErr = &provider.CancellationError{PaymentID: "pay-9", StatusCode: 400}
	f.provider.payments["pay-9"] = &provider.PaymentDTO{
		Identifier: "pay-9",
		Status:     provider.PaymentStatusDTO{Cancelled: true},
	}

	require.NoError(t, f.broker.CancelPayment(ctx, "pay-9"))
}

func TestCompleteUnknownPaymentFails(t *testing.T) {
	f := newBrokerFixture(t)

	err := f.broker.CompletePayment(context.Background(), "nope", "tx-abc")
	require.Error(t, err)
	require.Equal(t, 0, f.provider.completeCalls)
}

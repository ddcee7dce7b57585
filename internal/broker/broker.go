package broker

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"github.com/socialpulse/walletcore/internal/ledger"
	"github.com/socialpulse/walletcore/internal/models"
	"github.com/socialpulse/walletcore/internal/provider"
	"github.com/socialpulse/walletcore/pkg/logger"
)

// ErrCompletionInFlight is returned when a completion call for the same
// payment is still running; the duplicate caller must not be told the payment
// completed before the outcome is known.
var ErrCompletionInFlight = errors.New("payment completion already in progress")

// Broker sequences a payment's lifecycle against the provider and is the only
// component allowed to call Complete. Completion is effectively-once per
// payment identifier: an in-flight set catches concurrent duplicates and the
// persisted completion flag catches retried ones, so at most one wallet credit
// results.
type Broker struct {
	logger   *logger.Logger
	provider provider.API
	repo     models.Repository
	ledger   *ledger.Ledger
	bus      models.EventBus
	network  string

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewBroker(providerAPI provider.API, repo models.Repository, ledger *ledger.Ledger, bus models.EventBus, network string, logger *logger.Logger) *Broker {
	return &Broker{
		logger:   logger,
		provider: providerAPI,
		repo:     repo,
		ledger:   ledger,
		bus:      bus,
		network:  network,
		inFlight: make(map[string]struct{}),
	}
}

// ApprovePayment records the payment and approves it at the provider. The
// client must not submit anything to the blockchain before this succeeds.
// Approval failure is terminal for the attempt: no retry, no ledger effect.
func (b *Broker) ApprovePayment(ctx context.Context, paymentID, userUID string, amount decimal.Decimal, memo, metadata string) error {
	if !amount.IsPositive() {
		return errors.Newf("payment amount must be positive, got %s", amount)
	}

	existing, err := b.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if existing == nil {
		payment := &models.Payment{
			Identifier: paymentID,
			UserUID:    userUID,
			Amount:     amount,
			Memo:       memo,
			Metadata:   metadata,
			Direction:  models.DirectionUserToApp,
			Network:    b.network,
		}
		if err := b.repo.CreatePayment(ctx, payment); err != nil {
			return err
		}
	} else if existing.Resolved() {
		return errors.Newf("payment %s is already resolved", paymentID)
	}

	if err := b.provider.Approve(ctx, paymentID); err != nil {
		b.logger.Error("Provider approval failed ", "payment ", paymentID, " error ", err)
		return err
	}

	if err := b.repo.MarkPaymentApproved(ctx, paymentID); err != nil {
		return err
	}
	b.logger.Info("Payment approved ", "payment ", paymentID, " user ", userUID, " amount ", amount)
	return nil
}

// CompletePayment finalizes the payment at the provider and credits the
// wallet. Duplicate invocations for the same identifier, concurrent or
// retried, result in a single credit.
//
// A ledger failure after the provider confirmed completion does not fail the
// payment: the on-chain transfer has already happened, so the credit is
// queued as a reconciliation task and retried by the worker.
func (b *Broker) CompletePayment(ctx context.Context, paymentID, txid string) error {
	b.mu.Lock()
	if _, busy := b.inFlight[paymentID]; busy {
		b.mu.Unlock()
		b.logger.Debug("Completion already in flight ", "payment ", paymentID)
		return ErrCompletionInFlight
	}
	b.inFlight[paymentID] = struct{}{}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.inFlight, paymentID)
		b.mu.Unlock()
	}()

	payment, err := b.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if payment == nil {
		return errors.Newf("unknown payment %s", paymentID)
	}
	if payment.DeveloperCompleted {
		b.logger.Debug("Payment already completed ", "payment ", paymentID)
		return nil
	}

	if err := b.provider.Complete(ctx, paymentID, txid); err != nil {
		b.logger.Error("Provider completion failed ", "payment ", paymentID, " error ", err)
		return err
	}

	first, err := b.repo.MarkPaymentCompleted(ctx, paymentID, txid)
	if err != nil {
		// Provider confirmed completion but we could not record it.
		// Money has moved, so queue the credit instead of failing.
		b.queueReconciliation(ctx, payment, txid, err)
		return nil
	}
	if !first {
		b.logger.Debug("Completion already recorded, skipping credit ", "payment ", paymentID)
		return nil
	}

	// A reconciliation task, resolved or not, owns the credit for its
	// payment. A retried completion whose earlier attempt queued one must
	// not credit again here.
	task, err := b.repo.GetReconciliationByPayment(ctx, paymentID)
	if err != nil {
		b.queueReconciliation(ctx, payment, txid, err)
		return nil
	}
	if task != nil {
		b.logger.Debug("Credit owned by reconciliation task, skipping ", "payment ", paymentID)
		return nil
	}

	if _, err := b.ledger.Credit(ctx, payment.UserUID, payment.Amount, models.EntryTopUp, paymentID); err != nil {
		b.queueReconciliation(ctx, payment, txid, err)
		return nil
	}

	b.logger.Info("Payment completed and credited ", "payment ", paymentID, " user ", payment.UserUID, " amount ", payment.Amount)
	return nil
}

func (b *Broker) queueReconciliation(ctx context.Context, payment *models.Payment, txid string, cause error) {
	b.logger.Error("Could not settle confirmed completion, queueing reconciliation ",
		"payment ", payment.Identifier, " error ", cause)

	task := &models.ReconciliationTask{
		PaymentID: payment.Identifier,
		UserUID:   payment.UserUID,
		Amount:    payment.Amount,
		TxID:      txid,
		LastError: cause.Error(),
	}
	if err := b.repo.EnqueueReconciliation(ctx, task); err != nil {
		b.logger.Error("Failed to enqueue reconciliation task ", "payment ", payment.Identifier, " error ", err)
	}

	b.bus.Publish(models.BalanceEvent{
		Type:      models.EventReconciliationPending,
		UserUID:   payment.UserUID,
		Required:  payment.Amount,
		PaymentID: payment.Identifier,
		At:        time.Now().Unix(),
	})
}

// CancelPayment cancels the payment at the provider and records it locally.
// Cancelling a payment that is already resolved is a no-op, not an error.
func (b *Broker) CancelPayment(ctx context.Context, paymentID string) error {
	payment, err := b.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if payment != nil && payment.Resolved() {
		b.logger.Debug("Payment already resolved, skipping cancel ", "payment ", paymentID)
		return nil
	}

	if err := b.provider.Cancel(ctx, paymentID); err != nil {
		var cancellation *provider.CancellationError
		if errors.As(err, &cancellation) {
			// The provider rejects cancels of already-resolved payments.
			// Check before treating it as a failure.
			dto, fetchErr := b.provider.GetPayment(ctx, paymentID)
			if fetchErr == nil && dto.Resolved() {
				b.logger.Debug("Payment already resolved at provider ", "payment ", paymentID)
				return nil
			}
		}
		return err
	}

	if err := b.repo.MarkPaymentCancelled(ctx, paymentID, false); err != nil {
		return err
	}
	b.logger.Info("Payment cancelled ", "payment ", paymentID)
	return nil
}

// Reconcile fetches the provider's current view of a payment. Diagnostic
// only, not part of the happy path.
func (b *Broker) Reconcile(ctx context.Context, paymentID string) (*provider.PaymentDTO, error) {
	return b.provider.GetPayment(ctx, paymentID)
}

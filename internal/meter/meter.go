package meter

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/socialpulse/walletcore/internal/ledger"
	"github.com/socialpulse/walletcore/internal/models"
	"github.com/socialpulse/walletcore/pkg/logger"
)

// Meter wraps metered feature invocations with a debit-before, refund-on-
// failure transaction against the wallet ledger. Every pay-per-use feature
// (AI generation, automation creation, scheduled posting) charges through
// this single primitive instead of re-implementing debit/refund inline.
type Meter struct {
	logger *logger.Logger
	ledger *ledger.Ledger
	bus    models.EventBus
}

func NewMeter(ledger *ledger.Ledger, bus models.EventBus, logger *logger.Logger) *Meter {
	return &Meter{logger: logger, ledger: ledger, bus: bus}
}

// PendingCharge is the ephemeral record of one metered action between its
// debit and its settlement. It is not persisted; its net effect on the
// balance stays auditable through the usage and refund ledger entries
// sharing its id.
type PendingCharge struct {
	ID      string
	UserUID string
	Cost    decimal.Decimal
}

// OpenCharge debits cost from the user. When the balance does not cover the
// cost, an insufficient-funds event is published and the error is returned;
// the metered action must not run in that case.
func (m *Meter) OpenCharge(ctx context.Context, userUID string, cost decimal.Decimal) (*PendingCharge, error) {
	charge := &PendingCharge{
		ID:      uuid.NewString(),
		UserUID: userUID,
		Cost:    cost,
	}

	_, err := m.ledger.Debit(ctx, userUID, cost, models.EntryUsage, charge.ID)
	if err != nil {
		var insufficient *models.InsufficientFundsError
		if errors.As(err, &insufficient) {
			m.logger.Info("Usage debit rejected ", "user ", userUID, " cost ", cost, " balance ", insufficient.Balance)
			m.bus.Publish(models.BalanceEvent{
				Type:     models.EventInsufficientFunds,
				UserUID:  userUID,
				Balance:  insufficient.Balance,
				Required: insufficient.Required,
				At:       time.Now().Unix(),
			})
		}
		return nil, err
	}

	return charge, nil
}

// SettleCharge finalizes a pending charge. A successful action keeps the
// debit; a failed one gets the cost refunded, bringing the net balance
// change of the attempt to zero.
func (m *Meter) SettleCharge(ctx context.Context, charge *PendingCharge, actionSucceeded bool) error {
	if actionSucceeded {
		return nil
	}

	if _, err := m.ledger.Credit(ctx, charge.UserUID, charge.Cost, models.EntryRefund, charge.ID); err != nil {
		m.logger.Error("Failed to refund settled charge ", "user ", charge.UserUID, " charge ", charge.ID, " error ", err)
		return err
	}
	m.logger.Debug("Refunded failed metered action ", "user ", charge.UserUID, " charge ", charge.ID, " cost ", charge.Cost)
	return nil
}

// Charge debits cost from the user, then runs action. When the debit fails
// with insufficient funds, the action is never invoked. When the action
// fails after a successful debit, the cost is refunded and the action's own
// error is propagated.
func (m *Meter) Charge(ctx context.Context, userUID string, cost decimal.Decimal, action func(context.Context) error) error {
	charge, err := m.OpenCharge(ctx, userUID, cost)
	if err != nil {
		return err
	}

	if actionErr := action(ctx); actionErr != nil {
		if refundErr := m.SettleCharge(ctx, charge, false); refundErr != nil {
			return errors.WithSecondaryError(actionErr, refundErr)
		}
		return actionErr
	}

	return m.SettleCharge(ctx, charge, true)
}

// ChargeValue is Charge for actions that produce a result.
func ChargeValue[T any](ctx context.Context, m *Meter, userUID string, cost decimal.Decimal, action func(context.Context) (T, error)) (T, error) {
	var result T
	err := m.Charge(ctx, userUID, cost, func(ctx context.Context) error {
		var actionErr error
		result, actionErr = action(ctx)
		return actionErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

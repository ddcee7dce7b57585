package ledger

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"github.com/socialpulse/walletcore/internal/models"
	"github.com/socialpulse/walletcore/pkg/logger"
)

// Ledger is the sole writer of wallet balances. Every mutation goes through
// Credit or Debit; no other component may read-modify-write a balance.
// Concurrent calls for the same user serialize through the repository's
// transactional update, not through external locking.
type Ledger struct {
	logger *logger.Logger
	repo   models.Repository
	bus    models.EventBus

	lowBalanceThreshold decimal.Decimal
}

func NewLedger(repo models.Repository, bus models.EventBus, lowBalanceThreshold decimal.Decimal, logger *logger.Logger) *Ledger {
	return &Ledger{
		logger:              logger,
		repo:                repo,
		bus:                 bus,
		lowBalanceThreshold: lowBalanceThreshold,
	}
}

// Credit adds amount to the user's balance and returns the new balance.
// Always succeeds for amount > 0.
func (l *Ledger) Credit(ctx context.Context, userUID string, amount decimal.Decimal, kind models.LedgerEntryKind, reference string) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, errors.Newf("credit amount must be positive, got %s", amount)
	}

	newBalance, err := l.repo.CreditBalance(ctx, userUID, amount, kind, reference)
	if err != nil {
		return decimal.Zero, err
	}
	l.logger.Info("Credited wallet ", "user ", userUID, " amount ", amount, " balance ", newBalance, " kind ", kind)
	return newBalance, nil
}

// Debit subtracts amount from the user's balance and returns the new balance.
// Returns *models.InsufficientFundsError when the balance does not cover the
// amount; the balance is unchanged in that case. When a successful debit
// drops the balance to or below the low-balance threshold, a low-balance
// event is published. That is a nudge, distinct from the hard
// insufficient-funds failure.
func (l *Ledger) Debit(ctx context.Context, userUID string, amount decimal.Decimal, kind models.LedgerEntryKind, reference string) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, errors.Newf("debit amount must be positive, got %s", amount)
	}

	newBalance, err := l.repo.DebitBalance(ctx, userUID, amount, kind, reference)
	if err != nil {
		return decimal.Zero, err
	}
	l.logger.Info("Debited wallet ", "user ", userUID, " amount ", amount, " balance ", newBalance, " kind ", kind)

	previousBalance := newBalance.Add(amount)
	if newBalance.LessThanOrEqual(l.lowBalanceThreshold) && previousBalance.GreaterThan(l.lowBalanceThreshold) {
		l.bus.Publish(models.BalanceEvent{
			Type:    models.EventLowBalance,
			UserUID: userUID,
			Balance: newBalance,
			At:      time.Now().Unix(),
		})
	}

	return newBalance, nil
}

// Balance returns the current spendable balance, zero for unknown users.
func (l *Ledger) Balance(ctx context.Context, userUID string) (decimal.Decimal, error) {
	return l.repo.GetBalance(ctx, userUID)
}

// Entries returns the user's audit trail, oldest first.
func (l *Ledger) Entries(ctx context.Context, userUID string) ([]*models.LedgerEntry, error) {
	return l.repo.GetLedgerEntries(ctx, userUID)
}

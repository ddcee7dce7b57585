package models

import (
	"context"

	"github.com/shopspring/decimal"
)

type Repository interface {
	Close() error

	// Balances. CreditBalance and DebitBalance are atomic with respect to
	// concurrent calls for the same user and write a LedgerEntry alongside
	// the balance mutation. DebitBalance returns *InsufficientFundsError
	// when the balance does not cover the amount, leaving it unchanged.
	GetBalance(ctx context.Context, userUID string) (decimal.Decimal, error)
	CreditBalance(ctx context.Context, userUID string, amount decimal.Decimal, kind LedgerEntryKind, reference string) (decimal.Decimal, error)
	DebitBalance(ctx context.Context, userUID string, amount decimal.Decimal, kind LedgerEntryKind, reference string) (decimal.Decimal, error)
	GetLedgerEntries(ctx context.Context, userUID string) ([]*LedgerEntry, error)

	// Payments.
	CreatePayment(ctx context.Context, payment *Payment) error
	GetPayment(ctx context.Context, identifier string) (*Payment, error)
	MarkPaymentApproved(ctx context.Context, identifier string) error
	// MarkPaymentCompleted records completion exactly once. It returns
	// false when the payment was already completed, so callers can skip
	// the wallet credit on retried completions.
	MarkPaymentCompleted(ctx context.Context, identifier, txid string) (bool, error)
	MarkPaymentCancelled(ctx context.Context, identifier string, byUser bool) error

	// Reconciliation tasks. A task, resolved or not, owns the wallet credit
	// for its payment; GetReconciliationByPayment returns nil when none
	// exists.
	EnqueueReconciliation(ctx context.Context, task *ReconciliationTask) error
	GetReconciliationByPayment(ctx context.Context, paymentID string) (*ReconciliationTask, error)
	GetUnresolvedReconciliations(ctx context.Context) ([]*ReconciliationTask, error)
	RecordReconciliationAttempt(ctx context.Context, id string, attemptErr string) error
	ResolveReconciliation(ctx context.Context, id string) error
}

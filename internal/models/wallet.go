package models

import "github.com/shopspring/decimal"

// WalletBalance is the per-user spendable amount. It is server-authoritative
// and mutated only through the ledger's atomic credit/debit primitives; a
// successful debit never leaves the balance negative.
type WalletBalance struct {
	UserUID   string          `json:"user_uid" gorm:"column:user_uid;primaryKey"`
	Balance   decimal.Decimal `json:"balance" gorm:"column:balance;type:numeric"`
	UpdatedAt int64           `json:"updated_at" gorm:"column:updated_at"`
}

type LedgerEntryKind string

const (
	EntryTopUp          LedgerEntryKind = "topup"
	EntryUsage          LedgerEntryKind = "usage"
	EntryRefund         LedgerEntryKind = "refund"
	EntryReconciliation LedgerEntryKind = "reconciliation"
)

// LedgerEntry is the audit row written for every balance mutation. A metered
// action that fails after its debit leaves a usage entry and a matching refund
// entry, so the net effect of every attempt stays auditable.
type LedgerEntry struct {
	// ID is a generated UUID.
	ID string `json:"id" gorm:"column:id;primaryKey"`
	// UserUID is the wallet owner.
	UserUID string `json:"user_uid" gorm:"column:user_uid;index;not null"`
	// Change is positive for credits, negative for debits.
	Change decimal.Decimal `json:"change" gorm:"column:change;type:numeric"`
	// BalanceAfter is the balance immediately after this mutation.
	BalanceAfter decimal.Decimal `json:"balance_after" gorm:"column:balance_after;type:numeric"`
	// Kind classifies the mutation (topup, usage, refund, reconciliation).
	Kind LedgerEntryKind `json:"kind" gorm:"column:kind;not null"`
	// Reference links the entry to its origin: a payment identifier for
	// top-ups, a charge id for usage debits and their refunds.
	Reference string `json:"reference" gorm:"column:reference;index"`
	CreatedAt int64  `json:"created_at" gorm:"column:created_at;index"`
}

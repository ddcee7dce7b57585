package models

import "github.com/shopspring/decimal"

type EventType string

const (
	// EventInsufficientFunds fires when a usage debit is rejected. The
	// action behind the debit is never invoked.
	EventInsufficientFunds EventType = "insufficient-funds"
	// EventLowBalance fires when a successful debit leaves the balance at
	// or below the configured threshold. Non-blocking nudge, not a failure.
	EventLowBalance EventType = "low-balance"
	// EventReconciliationPending fires when a confirmed on-chain completion
	// could not be credited and was queued for reconciliation.
	EventReconciliationPending EventType = "reconciliation-pending"
)

// BalanceEvent is published on the notification bus for presentation layers
// and ops alerting. It carries no behavior; subscribers decide what to show.
type BalanceEvent struct {
	Type      EventType       `json:"type"`
	UserUID   string          `json:"user_uid"`
	Balance   decimal.Decimal `json:"balance"`
	Required  decimal.Decimal `json:"required,omitempty"`
	PaymentID string          `json:"payment_id,omitempty"`
	At        int64           `json:"at"`
}

// EventBus decouples balance event producers (ledger, meter, broker) from
// their consumers (UI push channels, ops notificators).
type EventBus interface {
	Publish(event BalanceEvent)
	// Subscribe returns a receive channel and an unsubscribe function.
	Subscribe(buffer int) (<-chan BalanceEvent, func())
}

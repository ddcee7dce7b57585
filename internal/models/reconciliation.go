package models

import "github.com/shopspring/decimal"

// ReconciliationTask records a payment whose on-chain completion was confirmed
// by the provider but whose wallet credit failed. Money has already moved
// externally at that point, so the credit is deferred and retried by the
// broker's reconciliation worker instead of failing the payment.
type ReconciliationTask struct {
	// ID is a generated UUID.
	ID string `json:"id" gorm:"column:id;primaryKey"`
	// PaymentID is the provider payment identifier. Unique: a payment is
	// enqueued for reconciliation at most once.
	PaymentID string          `json:"payment_id" gorm:"column:payment_id;uniqueIndex;not null"`
	UserUID   string          `json:"user_uid" gorm:"column:user_uid;index;not null"`
	Amount    decimal.Decimal `json:"amount" gorm:"column:amount;type:numeric"`
	// TxID lets the worker persist the completion record before crediting.
	TxID string `json:"txid" gorm:"column:txid"`
	// Attempts counts credit retries performed by the worker.
	Attempts  int    `json:"attempts" gorm:"column:attempts"`
	LastError string `json:"last_error" gorm:"column:last_error"`
	Resolved  bool   `json:"resolved" gorm:"column:resolved;index"`
	CreatedAt int64  `json:"created_at" gorm:"column:created_at"`
	UpdatedAt int64  `json:"updated_at" gorm:"column:updated_at"`
}

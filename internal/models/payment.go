package models

import "github.com/shopspring/decimal"

type PaymentDirection string

const (
	// DirectionUserToApp is a top-up: the user pays the app.
	DirectionUserToApp PaymentDirection = "user_to_app"
	// DirectionAppToUser is a payout from the app to the user.
	DirectionAppToUser PaymentDirection = "app_to_user"
)

// Payment represents one blockchain-backed top-up attempt.
// The identifier is assigned by the payment provider and is globally unique.
//
// The status booleans are monotonic: once true they never revert to false.
// DeveloperCompleted is recorded exactly once per identifier; retried
// completion calls must not produce a second wallet credit.
type Payment struct {
	// Identifier is the provider-assigned payment id.
	Identifier string `json:"identifier" gorm:"column:identifier;primaryKey"`
	// UserUID is the owning user.
	UserUID string `json:"user_uid" gorm:"column:user_uid;index;not null"`
	// Amount is the top-up amount in currency-of-record units.
	Amount decimal.Decimal `json:"amount" gorm:"column:amount;type:numeric"`
	// Memo is an opaque descriptive field, not used for logic.
	Memo string `json:"memo" gorm:"column:memo"`
	// Metadata is an opaque descriptive field, not used for logic.
	Metadata string `json:"metadata" gorm:"column:metadata"`
	// Direction is user_to_app for top-ups.
	Direction PaymentDirection `json:"direction" gorm:"column:direction"`
	// Network identifies the credential set used (mainnet, testnet).
	Network string `json:"network" gorm:"column:network"`

	DeveloperApproved   bool `json:"developer_approved" gorm:"column:developer_approved"`
	TransactionVerified bool `json:"transaction_verified" gorm:"column:transaction_verified"`
	DeveloperCompleted  bool `json:"developer_completed" gorm:"column:developer_completed"`
	Cancelled           bool `json:"cancelled" gorm:"column:cancelled"`
	UserCancelled       bool `json:"user_cancelled" gorm:"column:user_cancelled"`

	// TxID is set once a blockchain transaction exists for this payment.
	TxID       string `json:"txid" gorm:"column:txid"`
	TxVerified bool   `json:"tx_verified" gorm:"column:tx_verified"`
	TxLink     string `json:"tx_link" gorm:"column:tx_link"`

	CreatedAt int64 `json:"created_at" gorm:"column:created_at;index"`
	UpdatedAt int64 `json:"updated_at" gorm:"column:updated_at"`
}

// Resolved reports whether the payment has reached a terminal state.
func (p *Payment) Resolved() bool {
	return p.DeveloperCompleted || p.Cancelled || p.UserCancelled
}

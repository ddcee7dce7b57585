package provider

import "github.com/shopspring/decimal"

// Identity is the result of resolving a user access token at the provider.
type Identity struct {
	UID      string `json:"uid"`
	Username string `json:"username"`
}

// PaymentDTO is the provider's wire representation of a payment.
type PaymentDTO struct {
	Identifier string           `json:"identifier"`
	UserUID    string           `json:"user_uid"`
	Amount     decimal.Decimal  `json:"amount"`
	Memo       string           `json:"memo"`
	Metadata   map[string]any   `json:"metadata"`
	Direction  string           `json:"direction"`
	Network    string           `json:"network"`
	Status     PaymentStatusDTO `json:"status"`
	// Transaction is null until a blockchain transaction exists.
	Transaction *TransactionDTO `json:"transaction"`
	CreatedAt   string          `json:"created_at"`
}

type PaymentStatusDTO struct {
	DeveloperApproved   bool `json:"developer_approved"`
	TransactionVerified bool `json:"transaction_verified"`
	DeveloperCompleted  bool `json:"developer_completed"`
	Cancelled           bool `json:"cancelled"`
	UserCancelled       bool `json:"user_cancelled"`
}

type TransactionDTO struct {
	TxID     string `json:"txid"`
	Verified bool   `json:"verified"`
	Link     string `json:"_link"`
}

// Resolved reports whether the payment has reached a terminal state on the
// provider side.
func (p *PaymentDTO) Resolved() bool {
	return p.Status.DeveloperCompleted || p.Status.Cancelled || p.Status.UserCancelled
}

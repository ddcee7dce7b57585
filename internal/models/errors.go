package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// InsufficientFundsError is returned by a debit when the wallet balance does
// not cover the requested amount. The balance is left unchanged.
type InsufficientFundsError struct {
	UserUID  string
	Balance  decimal.Decimal
	Required decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds for user %s: balance %s, required %s",
		e.UserUID, e.Balance, e.Required)
}

// Shortfall returns how much the balance is missing.
func (e *InsufficientFundsError) Shortfall() decimal.Decimal {
	return e.Required.Sub(e.Balance)
}

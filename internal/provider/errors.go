package provider

import "fmt"

// AuthenticationError signals an identity-resolution failure against the
// provider. Surfaced to the user as "failed to sign in".
type AuthenticationError struct {
	StatusCode int
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("provider identity resolution failed with status %d", e.StatusCode)
}

// ApprovalError signals that the provider rejected the server-side approval.
// The top-up attempt is terminal at that point and no ledger mutation occurs.
type ApprovalError struct {
	PaymentID  string
	StatusCode int
}

func (e *ApprovalError) Error() string {
	return fmt.Sprintf("provider rejected approval of payment %s with status %d", e.PaymentID, e.StatusCode)
}

// CompletionError signals that the provider rejected the completion call.
// This must not be conflated with a failed blockchain transfer: the transfer
// may well have happened.
type CompletionError struct {
	PaymentID  string
	StatusCode int
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("provider rejected completion of payment %s with status %d", e.PaymentID, e.StatusCode)
}

// CancellationError signals that a cancel call itself failed. It is logged by
// callers but never masks the error that triggered the cancellation.
type CancellationError struct {
	PaymentID  string
	StatusCode int
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("provider rejected cancellation of payment %s with status %d", e.PaymentID, e.StatusCode)
}

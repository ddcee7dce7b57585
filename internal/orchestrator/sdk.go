package orchestrator

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/socialpulse/walletcore/internal/provider"
)

// Scopes requested from the payment SDK on authentication.
var AuthScopes = []string{"username", "payments", "wallet_address"}

// AuthResult is what the client SDK returns from a successful authentication.
type AuthResult struct {
	AccessToken   string
	Username      string
	WalletAddress string
}

// PaymentRequest describes the top-up the client wants to create.
type PaymentRequest struct {
	Amount   decimal.Decimal
	Memo     string
	Metadata string
}

type EventKind string

const (
	// EventReadyForApproval: the SDK created the payment and waits for
	// server-side approval before letting the user sign the transaction.
	EventReadyForApproval EventKind = "ready_for_approval"
	// EventReadyForCompletion: the transaction was submitted to the
	// blockchain and the SDK reports its txid.
	EventReadyForCompletion EventKind = "ready_for_completion"
	// EventCancelled: the user dismissed the payment flow.
	EventCancelled EventKind = "cancelled"
	// EventError: the SDK reported a failure.
	EventError EventKind = "error"
)

// LifecycleEvent is one SDK callback, reshaped as a value on a channel so
// each state transition is testable without mocking nested callbacks.
type LifecycleEvent struct {
	Kind      EventKind
	PaymentID string
	TxID      string
	Err       error
}

// SDK is the client-side payment SDK contract the orchestrator consumes.
// Implementations adapt the SDK's callback API into a stream of lifecycle
// events; the channel must be closed when the payment flow ends.
type SDK interface {
	// Authenticate signs the user in with the given scopes. When the SDK
	// knows about a single orphaned payment from a prior session, it is
	// returned alongside the auth result for recovery.
	Authenticate(ctx context.Context, scopes []string) (*AuthResult, *provider.PaymentDTO, error)
	// CreatePayment starts the payment flow and streams its lifecycle.
	CreatePayment(ctx context.Context, req PaymentRequest) (<-chan LifecycleEvent, error)
}

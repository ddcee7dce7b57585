package orchestrator

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/socialpulse/walletcore/internal/broker"
	"github.com/socialpulse/walletcore/internal/provider"
	"github.com/socialpulse/walletcore/internal/recovery"
	"github.com/socialpulse/walletcore/pkg/logger"
	"github.com/socialpulse/walletcore/pkg/validation"
)

// State of one client-initiated payment.
type State string

const (
	StateInitiated           State = "initiated"
	StateServerApproved      State = "server_approved"
	StateBlockchainSubmitted State = "blockchain_submitted"
	// StateServerCompleted is the only terminal success state; reaching it
	// is what credits the wallet (inside the broker's completion).
	StateServerCompleted   State = "server_completed"
	StateUserCancelled     State = "user_cancelled"
	StateProviderCancelled State = "provider_cancelled"
	StateRecoveryCancelled State = "recovery_cancelled"
)

// Session is an authenticated wallet-identity binding.
type Session struct {
	UserUID       string
	Username      string
	WalletAddress string
	AccessToken   string
}

// Result describes how a payment flow ended.
type Result struct {
	PaymentID string
	State     State
}

// Orchestrator drives the client-initiated payment flow: authenticate, create
// the payment, and relay SDK lifecycle events to the server broker. It owns
// no ledger state; the wallet credit happens inside the broker's completion.
type Orchestrator struct {
	logger   *logger.Logger
	sdk      SDK
	broker   *broker.Broker
	provider provider.API
	recovery *recovery.Recovery
}

func NewOrchestrator(sdk SDK, broker *broker.Broker, providerAPI provider.API, recovery *recovery.Recovery, logger *logger.Logger) *Orchestrator {
	return &Orchestrator{
		logger:   logger,
		sdk:      sdk,
		broker:   broker,
		provider: providerAPI,
		recovery: recovery,
	}
}

// Authenticate signs the user in through the SDK, verifies the access token
// server-side against the provider's identity endpoint, and routes any
// orphaned payment the SDK reports into the recovery sweep. Sweep failures
// are logged and do not fail the sign-in.
func (o *Orchestrator) Authenticate(ctx context.Context) (*Session, error) {
	auth, orphan, err := o.sdk.Authenticate(ctx, AuthScopes)
	if err != nil {
		return nil, errors.Wrap(err, "sdk authentication failed")
	}

	if err := validation.ValidateWalletAddress(auth.WalletAddress); err != nil {
		return nil, errors.Wrap(err, "sdk returned invalid wallet address")
	}

	identity, err := o.provider.GetIdentity(ctx, auth.AccessToken)
	if err != nil {
		return nil, err
	}

	if orphan != nil {
		o.logger.Info("Client reported orphaned payment, starting recovery ", "payment ", orphan.Identifier)
		if err := o.recovery.Recover(ctx, orphan.Identifier); err != nil {
			o.logger.Error("Recovery sweep after login failed ", "error ", err)
		}
	}

	return &Session{
		UserUID:       identity.UID,
		Username:      identity.Username,
		WalletAddress: auth.WalletAddress,
		AccessToken:   auth.AccessToken,
	}, nil
}

// TopUp runs one payment to a terminal state. onCompleted, if non-nil, is
// invoked only when StateServerCompleted is reached. On approval or
// completion errors the known payment id is cancelled before the error is
// propagated, so no hold lingers at the provider.
func (o *Orchestrator) TopUp(ctx context.Context, userUID string, req PaymentRequest, onCompleted func(paymentID string)) (*Result, error) {
	events, err := o.sdk.CreatePayment(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "sdk failed to create payment")
	}

	result := &Result{State: StateInitiated}
	for {
		select {
		case <-ctx.Done():
			o.cancelQuietly(result.PaymentID)
			return result, ctx.Err()

		case event, ok := <-events:
			if !ok {
				if result.State == StateServerCompleted {
					return result, nil
				}
				o.cancelQuietly(result.PaymentID)
				return result, errors.Newf("payment flow ended in state %s", result.State)
			}

			done, err := o.handleEvent(ctx, result, userUID, req, event, onCompleted)
			if err != nil {
				return result, err
			}
			if done {
				return result, nil
			}
		}
	}
}

func (o *Orchestrator) handleEvent(ctx context.Context, result *Result, userUID string, req PaymentRequest, event LifecycleEvent, onCompleted func(paymentID string)) (bool, error) {
	o.logger.Debug("Payment lifecycle event ", "kind ", event.Kind, " payment ", event.PaymentID, " state ", result.State)

	switch event.Kind {
	case EventReadyForApproval:
		if result.State != StateInitiated {
			return false, o.protocolViolation(result, event)
		}
		result.PaymentID = event.PaymentID
		if err := o.broker.ApprovePayment(ctx, event.PaymentID, userUID, req.Amount, req.Memo, req.Metadata); err != nil {
			o.cancelQuietly(event.PaymentID)
			result.State = StateProviderCancelled
			return false, err
		}
		result.State = StateServerApproved
		return false, nil

	case EventReadyForCompletion:
		// Approval must have happened before anything reached the
		// blockchain; a completion event in any other state breaks the
		// SDK's ordering contract.
		if result.State != StateServerApproved {
			return false, o.protocolViolation(result, event)
		}
		result.State = StateBlockchainSubmitted
		if err := o.broker.CompletePayment(ctx, event.PaymentID, event.TxID); err != nil {
			o.cancelQuietly(event.PaymentID)
			result.State = StateProviderCancelled
			return false, err
		}
		result.State = StateServerCompleted
		if onCompleted != nil {
			onCompleted(event.PaymentID)
		}
		return true, nil

	case EventCancelled:
		// No debit or credit has occurred yet for a top-up at this
		// point, so no ledger action is needed.
		result.State = StateUserCancelled
		o.logger.Info("Payment cancelled by user ", "payment ", event.PaymentID)
		return true, nil

	case EventError:
		o.logger.Error("SDK reported payment error ", "payment ", event.PaymentID, " error ", event.Err)
		o.cancelQuietly(event.PaymentID)
		result.State = StateProviderCancelled
		return false, event.Err

	default:
		return false, errors.Newf("unknown lifecycle event kind %q", event.Kind)
	}
}

func (o *Orchestrator) protocolViolation(result *Result, event LifecycleEvent) error {
	o.cancelQuietly(event.PaymentID)
	prior := result.State
	result.State = StateProviderCancelled
	return errors.Newf("unexpected %s event in state %s", event.Kind, prior)
}

// cancelQuietly cancels the payment so no hold lingers. A failed cancel is
// logged but never masks the error that triggered it. Uses a fresh context:
// the triggering error may be the caller's ctx being cancelled.
func (o *Orchestrator) cancelQuietly(paymentID string) {
	if paymentID == "" {
		return
	}
	if err := o.broker.CancelPayment(context.Background(), paymentID); err != nil {
		o.logger.Error("Failed to cancel payment after error ", "payment ", paymentID, " error ", err)
	}
}

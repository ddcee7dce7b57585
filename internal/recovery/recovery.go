package recovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/socialpulse/walletcore/internal/broker"
	"github.com/socialpulse/walletcore/internal/provider"
	"github.com/socialpulse/walletcore/pkg/logger"
)

// SweepError collects the individual cancellation failures of a recovery
// sweep. A sweep failure is logged and must not block new payment creation
// attempts indefinitely.
type SweepError struct {
	Failures map[string]error
}

func (e *SweepError) Error() string {
	ids := make([]string, 0, len(e.Failures))
	for id := range e.Failures {
		ids = append(ids, id)
	}
	return fmt.Sprintf("recovery sweep failed to cancel %d payment(s): %s",
		len(e.Failures), strings.Join(ids, ", "))
}

// Recovery sweeps and cancels orphaned in-flight payments. Orphans hold the
// provider-side payment slot for their user and block creation of any new
// payment until resolved.
type Recovery struct {
	logger   *logger.Logger
	broker   *broker.Broker
	provider provider.API
}

func NewRecovery(broker *broker.Broker, providerAPI provider.API, logger *logger.Logger) *Recovery {
	return &Recovery{logger: logger, broker: broker, provider: providerAPI}
}

// Recover cancels the specifically flagged orphaned payment, if any, then
// unconditionally lists all incomplete server payments and cancels each one
// not already resolved. The sweep is idempotent: cancelling an already
// cancelled payment is a no-op. Returns *SweepError when any cancellation
// failed; successes are not rolled back.
func (r *Recovery) Recover(ctx context.Context, flaggedPaymentID string) error {
	failures := make(map[string]error)

	if flaggedPaymentID != "" {
		r.logger.Info("Cancelling orphaned payment reported by client ", "payment ", flaggedPaymentID)
		if err := r.broker.CancelPayment(ctx, flaggedPaymentID); err != nil {
			r.logger.Error("Failed to cancel flagged orphaned payment ", "payment ", flaggedPaymentID, " error ", err)
			failures[flaggedPaymentID] = err
		}
	}

	incomplete, err := r.provider.ListIncompletePayments(ctx)
	if err != nil {
		r.logger.Error("Failed to list incomplete payments ", "error ", err)
		failures["incomplete_server_payments"] = err
		return &SweepError{Failures: failures}
	}

	for _, payment := range incomplete {
		if payment.Resolved() {
			continue
		}
		if payment.Identifier == flaggedPaymentID {
			// Skip only when the flagged cancel above succeeded; a
			// failed one gets retried by the sweep like any other.
			if _, failed := failures[flaggedPaymentID]; !failed {
				continue
			}
		}
		r.logger.Info("Cancelling incomplete payment from sweep ", "payment ", payment.Identifier)
		if err := r.broker.CancelPayment(ctx, payment.Identifier); err != nil {
			r.logger.Error("Failed to cancel incomplete payment ", "payment ", payment.Identifier, " error ", err)
			failures[payment.Identifier] = err
		} else {
			delete(failures, payment.Identifier)
		}
	}

	if len(failures) > 0 {
		return &SweepError{Failures: failures}
	}
	return nil
}

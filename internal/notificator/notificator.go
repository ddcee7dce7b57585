package notificator

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/socialpulse/walletcore/internal/models"
	"github.com/socialpulse/walletcore/pkg/logger"
)

// Alerter delivers one formatted alert message.
type Alerter interface {
	SendAlert(message string)
}

// Notificator subscribes to the balance event bus and fans events out to the
// configured alert channels. Low-balance and insufficient-funds events are
// primarily consumed by the UI push layer; this component covers the ops
// side, in particular reconciliation-pending alerts that need a human eye.
type Notificator struct {
	logger *logger.Logger
	bus    models.EventBus

	alerters []Alerter
}

func NewNotificator(bus models.EventBus, logger *logger.Logger, alerters ...Alerter) *Notificator {
	return &Notificator{logger: logger, bus: bus, alerters: alerters}
}

// Run consumes bus events until ctx is cancelled or the bus closes.
func (n *Notificator) Run(ctx context.Context) {
	events, unsubscribe := n.bus.Subscribe(64)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			n.dispatch(event)
		}
	}
}

func (n *Notificator) dispatch(event models.BalanceEvent) {
	message := formatEvent(event)
	for _, alerter := range n.alerters {
		n.safeCall(func() { alerter.SendAlert(message) }, "alerter")
	}
}

// safeCall runs a function with panic recovery so one broken alert channel
// cannot take down the event loop.
func (n *Notificator) safeCall(fn func(), context string) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("Function panicked",
				"context", context,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	fn()
}

func formatEvent(event models.BalanceEvent) string {
	switch event.Type {
	case models.EventInsufficientFunds:
		return fmt.Sprintf("Insufficient funds: user %s has %s, needed %s", event.UserUID, event.Balance, event.Required)
	case models.EventLowBalance:
		return fmt.Sprintf("Low balance: user %s is down to %s", event.UserUID, event.Balance)
	case models.EventReconciliationPending:
		return fmt.Sprintf("Reconciliation pending: payment %s for user %s (%s) completed on-chain but is not yet credited",
			event.PaymentID, event.UserUID, event.Required)
	default:
		return fmt.Sprintf("Balance event %s for user %s", event.Type, event.UserUID)
	}
}

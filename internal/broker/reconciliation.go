package broker

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/socialpulse/walletcore/internal/models"
)

const creditRetryAttempts = 3

// RunReconciliationWorker drains unresolved reconciliation tasks on a ticker
// until ctx is cancelled. Each task is a wallet credit owed for a payment the
// provider already confirmed as completed.
func (b *Broker) RunReconciliationWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.ProcessReconciliations(ctx); err != nil {
				b.logger.Error("Reconciliation pass failed ", "error ", err)
			}
		}
	}
}

// ProcessReconciliations runs one pass over the unresolved tasks.
func (b *Broker) ProcessReconciliations(ctx context.Context) error {
	tasks, err := b.repo.GetUnresolvedReconciliations(ctx)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return nil
	}
	b.logger.Info("Processing reconciliation tasks ", "count ", len(tasks))

	for _, task := range tasks {
		// Persist the completion record first: once the flag is set, a
		// retried completion call short-circuits instead of crediting a
		// payment this task already owns.
		if _, err := b.repo.MarkPaymentCompleted(ctx, task.PaymentID, task.TxID); err != nil {
			b.logger.Error("Reconciliation could not record completion ", "payment ", task.PaymentID, " error ", err)
			if err := b.repo.RecordReconciliationAttempt(ctx, task.ID, err.Error()); err != nil {
				b.logger.Error("Failed to record reconciliation attempt ", "task ", task.ID, " error ", err)
			}
			continue
		}

		creditErr := retry.Do(
			func() error {
				_, err := b.ledger.Credit(ctx, task.UserUID, task.Amount, models.EntryReconciliation, task.PaymentID)
				return err
			},
			retry.Context(ctx),
			retry.Attempts(creditRetryAttempts),
			retry.LastErrorOnly(true),
		)
		if creditErr != nil {
			b.logger.Error("Reconciliation credit failed ", "payment ", task.PaymentID, " error ", creditErr)
			if err := b.repo.RecordReconciliationAttempt(ctx, task.ID, creditErr.Error()); err != nil {
				b.logger.Error("Failed to record reconciliation attempt ", "task ", task.ID, " error ", err)
			}
			continue
		}

		if err := b.repo.ResolveReconciliation(ctx, task.ID); err != nil {
			b.logger.Error("Failed to resolve reconciliation task ", "task ", task.ID, " error ", err)
			continue
		}
		b.logger.Info("Reconciled payment credit ", "payment ", task.PaymentID, " user ", task.UserUID, " amount ", task.Amount)
	}
	return nil
}

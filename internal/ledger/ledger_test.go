package ledger

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/socialpulse/walletcore/internal/events"
	"github.com/socialpulse/walletcore/internal/models"
	"github.com/socialpulse/walletcore/internal/repository"
	"github.com/socialpulse/walletcore/pkg/logger"
)

func newTestLedger(t *testing.T, threshold decimal.Decimal) (*Ledger, *events.Bus) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormLogger.Default.LogMode(gormLogger.Silent)})
	require.NoError(t, err)

	repo, err := repository.NewWithDB(db, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	bus := events.NewBus(logger.NewNop())
	t.Cleanup(bus.Close)
	return NewLedger(repo, bus, threshold, logger.NewNop()), bus
}

func TestCreditRejectsNonPositiveAmounts(t *testing.T) {
	walletLedger, _ := newTestLedger(t, decimal.NewFromInt(1))
	ctx := context.Background()

	_, err := walletLedger.Credit(ctx, "user-1", decimal.Zero, models.EntryTopUp, "pay-1")
	require.Error(t, err)

	_, err = walletLedger.Credit(ctx, "user-1", decimal.NewFromInt(-5), models.EntryTopUp, "pay-1")
	require.Error(t, err)
}

func TestDebitRejectsNonPositiveAmounts(t *testing.T) {
	walletLedger, _ := newTestLedger(t, decimal.NewFromInt(1))

	_, err := walletLedger.Debit(context.Background(), "user-1", decimal.Zero, models.EntryUsage, "charge-1")
	require.Error(t, err)
}

func TestDebitPublishesLowBalanceOnThresholdCrossing(t *testing.T) {
	walletLedger, bus := newTestLedger(t, decimal.NewFromInt(2))
	ctx := context.Background()

	eventCh, unsubscribe := bus.Subscribe(8)
	defer unsubscribe()

	_, err := walletLedger.Credit(ctx, "user-1", decimal.NewFromInt(10), models.EntryTopUp, "pay-1")
	require.NoError(t, err)

	// 10 -> 3: still above threshold, no event
	_, err = walletLedger.Debit(ctx, "user-1", decimal.NewFromInt(7), models.EntryUsage, "charge-1")
	require.NoError(t, err)
	require.Empty(t, eventCh)

	// 3 -> 2: crosses the threshold
	balance, err := walletLedger.Debit(ctx, "user-1", decimal.NewFromInt(1), models.EntryUsage, "charge-2")
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.NewFromInt(2)))

	event := <-eventCh
	require.Equal(t, models.EventLowBalance, event.Type)
	require.Equal(t, "user-1", event.UserUID)
	require.True(t, event.Balance.Equal(decimal.NewFromInt(2)))

	// 2 -> 1: already below, no second nudge
	_, err = walletLedger.Debit(ctx, "user-1", decimal.NewFromInt(1), models.EntryUsage, "charge-3")
	require.NoError(t, err)
	require.Empty(t, eventCh)
}

func TestFailedDebitLeavesBalanceUntouched(t *testing.T) {
	walletLedger, _ := newTestLedger(t, decimal.NewFromInt(1))
	ctx := context.Background()

	_, err := walletLedger.Credit(ctx, "user-1", decimal.NewFromInt(5), models.EntryTopUp, "pay-1")
	require.NoError(t, err)

	_, err = walletLedger.Debit(ctx, "user-1", decimal.NewFromInt(7), models.EntryUsage, "charge-1")
	var insufficient *models.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)

	balance, err := walletLedger.Balance(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.NewFromInt(5)))
}

package http_api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/socialpulse/walletcore/internal/broker"
	"github.com/socialpulse/walletcore/internal/events"
	"github.com/socialpulse/walletcore/internal/ledger"
	"github.com/socialpulse/walletcore/internal/meter"
	"github.com/socialpulse/walletcore/internal/provider"
	"github.com/socialpulse/walletcore/internal/recovery"
	"github.com/socialpulse/walletcore/internal/repository"
	"github.com/socialpulse/walletcore/pkg/logger"
)

type fakeProvider struct {
	mu            sync.Mutex
	completeCalls int
	completeGate  chan struct{}
}

func (f *fakeProvider) GetIdentity(ctx context.Context, accessToken string) (*provider.Identity, error) {
	return &provider.Identity{UID: "user-1"}, nil
}

func (f *fakeProvider) Approve(ctx context.Context, paymentID string) error { return nil }

func (f *fakeProvider) Complete(ctx context.Context, paymentID, txid string) error {
	f.mu.Lock()
	f.completeCalls++
	gate := f.completeGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return nil
}

func (f *fakeProvider) Cancel(ctx context.Context, paymentID string) error { return nil }

func (f *fakeProvider) GetPayment(ctx context.Context, paymentID string) (*provider.PaymentDTO, error) {
	return nil, errors.Newf("unknown payment %s", paymentID)
}

func (f *fakeProvider) ListIncompletePayments(ctx context.Context) ([]*provider.PaymentDTO, error) {
	return nil, nil
}

type serverFixture struct {
	server   *HTTPServer
	broker   *broker.Broker
	ledger   *ledger.Ledger
	provider *fakeProvider
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormLogger.Default.LogMode(gormLogger.Silent)})
	require.NoError(t, err)

	repo, err := repository.NewWithDB(db, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	bus := events.NewBus(logger.NewNop())
	t.Cleanup(bus.Close)

	fake := &fakeProvider{}
	walletLedger := ledger.NewLedger(repo, bus, decimal.NewFromInt(1), logger.NewNop())
	usageMeter := meter.NewMeter(walletLedger, bus, logger.NewNop())
	paymentBroker := broker.NewBroker(fake, repo, walletLedger, bus, "testnet", logger.NewNop())
	sweep := recovery.NewRecovery(paymentBroker, fake, logger.NewNop())

	return &serverFixture{
		server:   NewHTTPServer(paymentBroker, walletLedger, usageMeter, sweep, 0, logger.NewNop()),
		broker:   paymentBroker,
		ledger:   walletLedger,
		provider: fake,
	}
}

func (f *serverFixture) request(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	f.server.router.ServeHTTP(recorder, req)
	return recorder
}

func (f *serverFixture) balance(t *testing.T, userUID string) decimal.Decimal {
	t.Helper()
	balance, err := f.ledger.Balance(context.Background(), userUID)
	require.NoError(t, err)
	return balance
}

func TestChargeAndSettleOverHTTP(t *testing.T) {
	f := newServerFixture(t)
	_, err := f.ledger.Credit(context.Background(), "user-1", decimal.NewFromInt(10), "topup", "seed")
	require.NoError(t, err)

	resp := f.request(t, http.MethodPost, "/api/v1/wallet/user-1/charge", `{"cost": "2"}`)
	require.Equal(t, http.StatusOK, resp.Code)

	var opened struct {
		ChargeID string `json:"charge_id"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &opened))
	require.NotEmpty(t, opened.ChargeID)
	require.True(t, f.balance(t, "user-1").Equal(decimal.NewFromInt(8)))

	resp = f.request(t, http.MethodPost, "/api/v1/charges/"+opened.ChargeID+"/settle", `{"ok": false}`)
	require.Equal(t, http.StatusOK, resp.Code)
	require.True(t, f.balance(t, "user-1").Equal(decimal.NewFromInt(10)))

	// A settled charge cannot be settled again
	resp = f.request(t, http.MethodPost, "/api/v1/charges/"+opened.ChargeID+"/settle", `{"ok": false}`)
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestChargeInsufficientFundsReturns402(t *testing.T) {
	f := newServerFixture(t)
	_, err := f.ledger.Credit(context.Background(), "user-1", decimal.NewFromInt(5), "topup", "seed")
	require.NoError(t, err)

	resp := f.request(t, http.MethodPost, "/api/v1/wallet/user-1/charge", `{"cost": "7"}`)
	require.Equal(t, http.StatusPaymentRequired, resp.Code)

	var payload struct {
		Balance   decimal.Decimal `json:"balance"`
		Required  decimal.Decimal `json:"required"`
		Shortfall decimal.Decimal `json:"shortfall"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	require.True(t, payload.Balance.Equal(decimal.NewFromInt(5)))
	require.True(t, payload.Required.Equal(decimal.NewFromInt(7)))
	require.True(t, payload.Shortfall.Equal(decimal.NewFromInt(2)))
	require.True(t, f.balance(t, "user-1").Equal(decimal.NewFromInt(5)))
}

func TestAbandonedChargeIsRefundedAfterTTL(t *testing.T) {
	f := newServerFixture(t)
	_, err := f.ledger.Credit(context.Background(), "user-1", decimal.NewFromInt(10), "topup", "seed")
	require.NoError(t, err)

	resp := f.request(t, http.MethodPost, "/api/v1/wallet/user-1/charge", `{"cost": "2"}`)
	require.Equal(t, http.StatusOK, resp.Code)

	var opened struct {
		ChargeID string `json:"charge_id"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &opened))
	require.True(t, f.balance(t, "user-1").Equal(decimal.NewFromInt(8)))

	// Too young to expire
	f.server.expirePendingCharges(time.Now())
	require.True(t, f.balance(t, "user-1").Equal(decimal.NewFromInt(8)))

	// Past the TTL the debit is refunded and the charge is gone
	f.server.expirePendingCharges(time.Now().Add(chargeTTL + time.Minute))
	require.True(t, f.balance(t, "user-1").Equal(decimal.NewFromInt(10)))

	resp = f.request(t, http.MethodPost, "/api/v1/charges/"+opened.ChargeID+"/settle", `{"ok": true}`)
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestConcurrentCompletionReturnsConflict(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.broker.ApprovePayment(ctx, "pay-1", "user-1", decimal.NewFromInt(100), "", ""))

	gate := make(chan struct{})
	f.provider.completeGate = gate

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- f.request(t, http.MethodPost, "/api/v1/payments/pay-1/complete", `{"txid": "tx-abc"}`)
	}()

	require.Eventually(t, func() bool {
		f.provider.mu.Lock()
		defer f.provider.mu.Unlock()
		return f.provider.completeCalls == 1
	}, time.Second, 5*time.Millisecond)

	resp := f.request(t, http.MethodPost, "/api/v1/payments/pay-1/complete", `{"txid": "tx-abc"}`)
	require.Equal(t, http.StatusConflict, resp.Code)

	close(gate)
	require.Equal(t, http.StatusOK, (<-done).Code)
	require.True(t, f.balance(t, "user-1").Equal(decimal.NewFromInt(100)))
}

package http_api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/socialpulse/walletcore/internal/broker"
	"github.com/socialpulse/walletcore/internal/ledger"
	"github.com/socialpulse/walletcore/internal/meter"
	"github.com/socialpulse/walletcore/internal/recovery"
	"github.com/socialpulse/walletcore/pkg/logger"
)

const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout = 10 * time.Second

	// chargeTTL bounds how long an open charge may stay unsettled. A client
	// that crashed between charge and settle gets its debit refunded when
	// the TTL expires.
	chargeTTL           = 15 * time.Minute
	chargeSweepInterval = time.Minute
)

// openCharge is a pending charge together with its opening time, so the
// expiry sweep can refund abandoned ones.
type openCharge struct {
	charge   *meter.PendingCharge
	openedAt time.Time
}

// HTTPServer exposes the wallet core to the rest of the SaaS: the browser
// payment SDK's server-side callbacks, balance queries, and the metered
// charge hook feature services call through.
type HTTPServer struct {
	// logger is the logger instance
	logger *logger.Logger

	// router is the HTTP router
	router *gin.Engine
	// port is the port on which the server will listen
	port int

	// server is the underlying HTTP server
	server *http.Server

	broker   *broker.Broker
	ledger   *ledger.Ledger
	meter    *meter.Meter
	recovery *recovery.Recovery

	// pendingCharges tracks open charges between charge and settle calls.
	// Ephemeral state; the ledger entries carry the durable audit trail.
	chargesMu      sync.Mutex
	pendingCharges map[string]openCharge

	stop     chan struct{}
	stopOnce sync.Once
}

// corsMiddleware adds CORS headers to all responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// NewHTTPServer creates a new HTTP server instance
func NewHTTPServer(broker *broker.Broker, ledger *ledger.Ledger, meter *meter.Meter, recovery *recovery.Recovery, port int, logger *logger.Logger) *HTTPServer {
	router := gin.Default()

	// Add CORS middleware
	router.Use(corsMiddleware())

	server := &HTTPServer{
		router:         router,
		port:           port,
		broker:         broker,
		ledger:         ledger,
		meter:          meter,
		recovery:       recovery,
		logger:         logger,
		pendingCharges: make(map[string]openCharge),
		stop:           make(chan struct{}),
	}

	// Define routes
	server.routes()

	return server
}

// Start starts the HTTP server
func (s *HTTPServer) Start() {
	go s.sweepExpiredCharges()

	addr := fmt.Sprintf("0.0.0.0:%v", s.port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	s.logger.Info("Starting HTTP server", "address", addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Fatal("Failed to start the HTTP server: ", err)
	}
}

func (s *HTTPServer) sweepExpiredCharges() {
	ticker := time.NewTicker(chargeSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.expirePendingCharges(time.Now())
		}
	}
}

// expirePendingCharges refunds every open charge older than chargeTTL as of
// now. The client never settled these, so the metered action is treated as
// failed.
func (s *HTTPServer) expirePendingCharges(now time.Time) {
	s.chargesMu.Lock()
	var expired []*meter.PendingCharge
	for id, open := range s.pendingCharges {
		if now.Sub(open.openedAt) >= chargeTTL {
			delete(s.pendingCharges, id)
			expired = append(expired, open.charge)
		}
	}
	s.chargesMu.Unlock()

	for _, charge := range expired {
		s.logger.Warn("Refunding expired charge", "charge", charge.ID, "user", charge.UserUID)
		if err := s.meter.SettleCharge(context.Background(), charge, false); err != nil {
			s.logger.Error("Failed to refund expired charge", "charge", charge.ID, "error", err)
		}
	}
}

// Shutdown stops the HTTP server gracefully
func (s *HTTPServer) Shutdown() error {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

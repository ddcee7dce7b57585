package http_api

import (
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/socialpulse/walletcore/internal/broker"
	"github.com/socialpulse/walletcore/internal/models"
	"github.com/socialpulse/walletcore/internal/provider"
)

// ApproveRequest is the JSON body relayed by the web client when the payment
// SDK reports onReadyForServerApproval.
type ApproveRequest struct {
	UserUID  string          `json:"user_uid" binding:"required"`
	Amount   decimal.Decimal `json:"amount" binding:"required"`
	Memo     string          `json:"memo"`
	Metadata string          `json:"metadata"`
}

// CompleteRequest carries the blockchain transaction id reported by the SDK.
type CompleteRequest struct {
	TxID string `json:"txid" binding:"required"`
}

// ChargeRequest opens a metered usage charge.
type ChargeRequest struct {
	Cost decimal.Decimal `json:"cost" binding:"required"`
}

// SettleRequest finalizes a metered usage charge.
type SettleRequest struct {
	Ok bool `json:"ok"`
}

// SweepRequest optionally names the orphaned payment the client flagged.
type SweepRequest struct {
	PaymentID string `json:"payment_id"`
}

// approvePayment is a handler for POST /api/v1/payments/:id/approve.
func (s *HTTPServer) approvePayment(c *gin.Context) {
	paymentID := c.Param("id")

	var req ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Debug("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body: " + err.Error(),
		})
		return
	}

	if err := s.broker.ApprovePayment(c.Request.Context(), paymentID, req.UserUID, req.Amount, req.Memo, req.Metadata); err != nil {
		var approval *provider.ApprovalError
		if errors.As(err, &approval) {
			c.JSON(http.StatusBadGateway, gin.H{
				"success": false,
				"error":   "Payment provider rejected approval",
			})
			return
		}
		s.logger.Error("Failed to approve payment", "payment", paymentID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to approve payment",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// completePayment is a handler for POST /api/v1/payments/:id/complete.
// Retried calls for the same payment are idempotent: the wallet is credited
// at most once.
func (s *HTTPServer) completePayment(c *gin.Context) {
	paymentID := c.Param("id")

	var req CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Debug("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body: " + err.Error(),
		})
		return
	}

	if err := s.broker.CompletePayment(c.Request.Context(), paymentID, req.TxID); err != nil {
		if errors.Is(err, broker.ErrCompletionInFlight) {
			c.JSON(http.StatusConflict, gin.H{
				"success": false,
				"error":   "Completion already in progress",
			})
			return
		}
		var completion *provider.CompletionError
		if errors.As(err, &completion) {
			c.JSON(http.StatusBadGateway, gin.H{
				"success": false,
				"error":   "Payment provider rejected completion",
			})
			return
		}
		s.logger.Error("Failed to complete payment", "payment", paymentID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to complete payment",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// cancelPayment is a handler for POST /api/v1/payments/:id/cancel.
func (s *HTTPServer) cancelPayment(c *gin.Context) {
	paymentID := c.Param("id")

	if err := s.broker.CancelPayment(c.Request.Context(), paymentID); err != nil {
		s.logger.Error("Failed to cancel payment", "payment", paymentID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to cancel payment",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// getPayment is a handler for GET /api/v1/payments/:id. It returns the
// provider's current view of the payment for diagnostics.
func (s *HTTPServer) getPayment(c *gin.Context) {
	paymentID := c.Param("id")

	payment, err := s.broker.Reconcile(c.Request.Context(), paymentID)
	if err != nil {
		s.logger.Error("Failed to fetch payment", "payment", paymentID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch payment"})
		return
	}

	c.JSON(http.StatusOK, payment)
}

// getBalance is a handler for GET /api/v1/wallet/:uid/balance.
func (s *HTTPServer) getBalance(c *gin.Context) {
	userUID := c.Param("uid")

	balance, err := s.ledger.Balance(c.Request.Context(), userUID)
	if err != nil {
		s.logger.Error("Failed to get balance", "user", userUID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get balance"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_uid": userUID, "balance": balance})
}

// getLedger is a handler for GET /api/v1/wallet/:uid/ledger.
func (s *HTTPServer) getLedger(c *gin.Context) {
	userUID := c.Param("uid")

	entries, err := s.ledger.Entries(c.Request.Context(), userUID)
	if err != nil {
		s.logger.Error("Failed to get ledger entries", "user", userUID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get ledger entries"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_uid": userUID, "entries": entries})
}

// openCharge is a handler for POST /api/v1/wallet/:uid/charge. Feature
// services debit before running their action and settle afterwards; a failed
// settle refunds the debit.
func (s *HTTPServer) openCharge(c *gin.Context) {
	userUID := c.Param("uid")

	var req ChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Debug("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body: " + err.Error(),
		})
		return
	}

	charge, err := s.meter.OpenCharge(c.Request.Context(), userUID, req.Cost)
	if err != nil {
		var insufficient *models.InsufficientFundsError
		if errors.As(err, &insufficient) {
			c.JSON(http.StatusPaymentRequired, gin.H{
				"success":   false,
				"error":     "insufficient funds",
				"balance":   insufficient.Balance,
				"required":  insufficient.Required,
				"shortfall": insufficient.Shortfall(),
			})
			return
		}
		s.logger.Error("Failed to open charge", "user", userUID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to open charge",
		})
		return
	}

	s.chargesMu.Lock()
	s.pendingCharges[charge.ID] = openCharge{charge: charge, openedAt: time.Now()}
	s.chargesMu.Unlock()

	c.JSON(http.StatusOK, gin.H{"success": true, "charge_id": charge.ID})
}

// settleCharge is a handler for POST /api/v1/charges/:id/settle.
func (s *HTTPServer) settleCharge(c *gin.Context) {
	chargeID := c.Param("id")

	var req SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Debug("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body: " + err.Error(),
		})
		return
	}

	s.chargesMu.Lock()
	open, ok := s.pendingCharges[chargeID]
	delete(s.pendingCharges, chargeID)
	s.chargesMu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Unknown charge",
		})
		return
	}

	if err := s.meter.SettleCharge(c.Request.Context(), open.charge, req.Ok); err != nil {
		s.logger.Error("Failed to settle charge", "charge", chargeID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to settle charge",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// runSweep is a handler for POST /api/v1/recovery/sweep. Sweep failures are
// reported but are non-blocking for the client.
func (s *HTTPServer) runSweep(c *gin.Context) {
	var req SweepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Debug("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body: " + err.Error(),
		})
		return
	}

	if err := s.recovery.Recover(c.Request.Context(), req.PaymentID); err != nil {
		s.logger.Error("Recovery sweep finished with failures", "error", err)
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

package server

import (
	"net/http"
	"strconv"
	"strings"

	paymentdomain "github.com/aptora/aptora/internal/payment/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type paymentWebhookRequest struct {
	InvoiceID         string `json:"invoice_id" binding:"required"`
	Amount            int64  `json:"amount" binding:"required"`
	BankTransactionID string `json:"bank_transaction_id" binding:"required"`
}

// HandlePaymentWebhook ingests a bank payment event. The bank transaction
// id is the idempotency key; a re-delivered event returns 200 without
// crediting anything twice.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))

	var req paymentWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	feeID, err := strconv.ParseInt(req.InvoiceID, 10, 64)
	if err != nil {
		AbortWithError(c, newValidationError("invoice_id", "invalid_invoice_id", "invalid value"))
		return
	}

	result, err := s.paymentSvc.ApplyPayment(
		c.Request.Context(),
		feeID,
		req.Amount,
		paymentdomain.MethodWebhook,
		req.BankTransactionID,
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.log.Info("payment.webhook_processed",
		zap.String("provider", provider),
		zap.String("fee_id", result.FeeID.String()),
		zap.Bool("duplicate", result.Duplicate),
	)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

package server

import (
	"net/http"
	"strconv"
	"time"

	feedomain "github.com/aptora/aptora/internal/fee/domain"
	paymentdomain "github.com/aptora/aptora/internal/payment/domain"
	"github.com/gin-gonic/gin"
)

type createFeeItemRequest struct {
	Description string `json:"description" binding:"required"`
	Unit        string `json:"unit"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	Amount      int64  `json:"amount"`
}

type createFeeRequest struct {
	ApartmentID   int64                  `json:"apartment_id,string" binding:"required"`
	ResidentID    int64                  `json:"resident_id,string" binding:"required"`
	FeeTypeID     int64                  `json:"fee_type_id,string" binding:"required"`
	BillingPeriod string                 `json:"billing_period" binding:"required"`
	DueDate       string                 `json:"due_date" binding:"required"`
	TotalAmount   int64                  `json:"total_amount"`
	Items         []createFeeItemRequest `json:"items" binding:"required"`
}

type feeItemResponse struct {
	Position    int    `json:"position"`
	Description string `json:"description"`
	Unit        string `json:"unit,omitempty"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	Amount      int64  `json:"amount"`
}

type feeResponse struct {
	ID            string            `json:"id"`
	ApartmentID   string            `json:"apartment_id"`
	ResidentID    string            `json:"resident_id"`
	FeeTypeID     string            `json:"fee_type_id"`
	BillingPeriod string            `json:"billing_period"`
	DueDate       string            `json:"due_date"`
	TotalAmount   int64             `json:"total_amount"`
	AmountPaid    int64             `json:"amount_paid"`
	Status        string            `json:"status"`
	PaymentDate   *time.Time        `json:"payment_date,omitempty"`
	Items         []feeItemResponse `json:"items,omitempty"`
}

func toFeeResponse(fee *feedomain.Fee, items []feedomain.FeeItem) feeResponse {
	resp := feeResponse{
		ID:            fee.ID.String(),
		ApartmentID:   fee.ApartmentID.String(),
		ResidentID:    fee.ResidentID.String(),
		FeeTypeID:     fee.FeeTypeID.String(),
		BillingPeriod: fee.BillingPeriod,
		DueDate:       fee.DueDate.UTC().Format("2006-01-02"),
		TotalAmount:   fee.TotalAmount,
		AmountPaid:    fee.AmountPaid,
		Status:        string(fee.Status),
		PaymentDate:   fee.PaymentDate,
	}
	for _, item := range items {
		resp.Items = append(resp.Items, feeItemResponse{
			Position:    item.Position,
			Description: item.Description,
			Unit:        item.Unit,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Amount:      item.Amount,
		})
	}
	return resp
}

func (s *Server) HandleCreateFee(c *gin.Context) {
	var req createFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	dueDate, err := parseDate(req.DueDate)
	if err != nil {
		AbortWithError(c, newValidationError("due_date", "invalid_due_date", "expected YYYY-MM-DD"))
		return
	}

	items := make([]feedomain.CreateFeeItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, feedomain.CreateFeeItem{
			Description: item.Description,
			Unit:        item.Unit,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Amount:      item.Amount,
		})
	}

	fee, err := s.feeSvc.Create(c.Request.Context(), feedomain.CreateFeeRequest{
		ApartmentID:   req.ApartmentID,
		ResidentID:    req.ResidentID,
		FeeTypeID:     req.FeeTypeID,
		BillingPeriod: req.BillingPeriod,
		DueDate:       dueDate,
		TotalAmount:   req.TotalAmount,
		CreatedBy:     "api",
		Items:         items,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toFeeResponse(fee, nil))
}

func (s *Server) HandleListFees(c *gin.Context) {
	filter := feedomain.ListFeeFilter{
		BillingPeriod: c.Query("billing_period"),
	}
	if raw := c.Query("apartment_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			AbortWithError(c, newValidationError("apartment_id", "invalid_apartment_id", "invalid value"))
			return
		}
		filter.ApartmentID = id
	}
	if raw := c.Query("resident_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			AbortWithError(c, newValidationError("resident_id", "invalid_resident_id", "invalid value"))
			return
		}
		filter.ResidentID = id
	}
	if raw := c.Query("status"); raw != "" {
		filter.Statuses = []feedomain.FeeStatus{feedomain.FeeStatus(raw)}
	}

	fees, err := s.feeSvc.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := make([]feeResponse, 0, len(fees))
	for i := range fees {
		resp = append(resp, toFeeResponse(&fees[i], nil))
	}
	c.JSON(http.StatusOK, gin.H{"fees": resp})
}

func (s *Server) HandleGetFee(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	fee, items, err := s.feeSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, toFeeResponse(fee, items))
}

func (s *Server) HandleCancelFee(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.feeSvc.Cancel(c.Request.Context(), id, "api"); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

type applyPaymentRequest struct {
	Amount         int64  `json:"amount" binding:"required"`
	Method         string `json:"method"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (s *Server) HandleApplyPayment(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req applyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	// Manual entries without a client key get a generated one; retries of
	// the same HTTP request then need the client to supply its own.
	key := req.IdempotencyKey
	if key == "" {
		key = s.genID.Generate().String()
	}
	method := req.Method
	if method == "" {
		method = paymentdomain.MethodManual
	}

	result, err := s.paymentSvc.ApplyPayment(c.Request.Context(), id, req.Amount, method, key)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"fee_id":              result.FeeID.String(),
		"status":              string(result.Status),
		"amount_paid":         result.AmountPaid,
		"applied":             result.Applied,
		"duplicate":           result.Duplicate,
		"overpayment_warning": result.OverpaymentWarning,
	})
}

func parseIDParam(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, newValidationError("id", "invalid_id", "invalid value")
	}
	return id, nil
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.RFC3339, raw)
}

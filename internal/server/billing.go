package server

import (
	"net/http"
	"strconv"

	billingdomain "github.com/aptora/aptora/internal/billing/domain"
	"github.com/gin-gonic/gin"
)

type meterReadingRequest struct {
	ApartmentID string `json:"apartment_id" binding:"required"`
	ResidentID  string `json:"resident_id" binding:"required"`
	Description string `json:"description" binding:"required"`
	Unit        string `json:"unit"`
	Consumption int64  `json:"consumption"`
	UnitPrice   int64  `json:"unit_price"`
}

type generateBatchRequest struct {
	Period    string                `json:"period" binding:"required"`
	FeeTypeID string                `json:"fee_type_id" binding:"required"`
	DueDate   string                `json:"due_date" binding:"required"`
	Readings  []meterReadingRequest `json:"readings" binding:"required"`
}

// HandleGenerateBatch runs invoice generation for one period. The response
// always carries the full report; per-reading failures do not fail the
// request.
func (s *Server) HandleGenerateBatch(c *gin.Context) {
	var req generateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	feeTypeID, err := strconv.ParseInt(req.FeeTypeID, 10, 64)
	if err != nil {
		AbortWithError(c, newValidationError("fee_type_id", "invalid_fee_type_id", "invalid value"))
		return
	}
	dueDate, err := parseDate(req.DueDate)
	if err != nil {
		AbortWithError(c, newValidationError("due_date", "invalid_due_date", "expected YYYY-MM-DD"))
		return
	}

	readings := make([]billingdomain.MeterReading, 0, len(req.Readings))
	for _, reading := range req.Readings {
		apartmentID, err := strconv.ParseInt(reading.ApartmentID, 10, 64)
		if err != nil {
			AbortWithError(c, newValidationError("apartment_id", "invalid_apartment_id", "invalid value"))
			return
		}
		residentID, err := strconv.ParseInt(reading.ResidentID, 10, 64)
		if err != nil {
			AbortWithError(c, newValidationError("resident_id", "invalid_resident_id", "invalid value"))
			return
		}
		readings = append(readings, billingdomain.MeterReading{
			ApartmentID: apartmentID,
			ResidentID:  residentID,
			Description: reading.Description,
			Unit:        reading.Unit,
			Consumption: reading.Consumption,
			UnitPrice:   reading.UnitPrice,
		})
	}

	report, err := s.billingSvc.Generate(c.Request.Context(), req.Period, feeTypeID, dueDate, readings)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	failures := make([]gin.H, 0, len(report.Failures))
	for _, failure := range report.Failures {
		failures = append(failures, gin.H{
			"apartment_id": strconv.FormatInt(failure.ApartmentID, 10),
			"error":        failure.Err.Error(),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"period":   report.Period,
		"created":  report.Created,
		"skipped":  report.Skipped,
		"failures": failures,
	})
}

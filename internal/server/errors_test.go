package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	billingdomain "github.com/aptora/aptora/internal/billing/domain"
	feedomain "github.com/aptora/aptora/internal/fee/domain"
	notificationdomain "github.com/aptora/aptora/internal/notification/domain"
	paymentdomain "github.com/aptora/aptora/internal/payment/domain"
	residentdomain "github.com/aptora/aptora/internal/resident/domain"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"invalid period", feedomain.ErrInvalidPeriod, http.StatusBadRequest, "validation_error"},
		{"line items mismatch", feedomain.ErrLineItemsMismatch, http.StatusBadRequest, "validation_error"},
		{"invalid payment amount", paymentdomain.ErrInvalidAmount, http.StatusBadRequest, "validation_error"},
		{"missing idempotency key", paymentdomain.ErrMissingIdempotencyKey, http.StatusBadRequest, "validation_error"},
		{"no readings", billingdomain.ErrNoReadings, http.StatusBadRequest, "validation_error"},
		{"empty recipient list", notificationdomain.ErrEmptyRecipientList, http.StatusBadRequest, "validation_error"},
		{"duplicate fee", feedomain.ErrDuplicateFee, http.StatusConflict, "conflict"},
		{"fee not payable", paymentdomain.ErrFeeNotPayable, http.StatusConflict, "conflict"},
		{"cancelled fee", feedomain.ErrFeeCancelled, http.StatusConflict, "conflict"},
		{"fee not found", feedomain.ErrFeeNotFound, http.StatusNotFound, "not_found"},
		{"notification not found", notificationdomain.ErrNotificationNotFound, http.StatusNotFound, "not_found"},
		{"resident not found", residentdomain.ErrResidentNotFound, http.StatusNotFound, "not_found"},
		{"gorm record not found", gorm.ErrRecordNotFound, http.StatusNotFound, "not_found"},
		{"unknown error", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
		{"nil error", nil, http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.wantStatus, status)
			assert.Equal(t, tc.wantType, payload.Type)
		})
	}
}

func TestMapErrorWrapped(t *testing.T) {
	status, payload := mapError(fmt.Errorf("apply payment: %w", feedomain.ErrFeeNotFound))
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", payload.Type)
}

func TestMapErrorValidationDetails(t *testing.T) {
	status, payload := mapError(newValidationError("due_date", "invalid_date", "must be YYYY-MM-DD"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", payload.Type)
	if assert.Len(t, payload.Errors, 1) {
		assert.Equal(t, "due_date", payload.Errors[0].Field)
		assert.Equal(t, "invalid_date", payload.Errors[0].Code)
	}
}

func TestInternalErrorsAreOpaque(t *testing.T) {
	_, payload := mapError(errors.New("pq: connection refused to 10.0.0.12"))
	assert.Equal(t, "internal server error", payload.Message)
	assert.NotContains(t, payload.Message, "10.0.0.12")
}

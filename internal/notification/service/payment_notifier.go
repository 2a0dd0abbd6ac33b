package service

import (
	"context"
	"fmt"

	feedomain "github.com/aptora/aptora/internal/fee/domain"
	notificationdomain "github.com/aptora/aptora/internal/notification/domain"
	paymentdomain "github.com/aptora/aptora/internal/payment/domain"
	"github.com/aptora/aptora/internal/providers/email"
)

// PaymentNotifier sends the payment-confirmation notification to the
// paying resident when a fee reaches PAID.
type PaymentNotifier struct {
	notifications notificationdomain.Service
}

func NewPaymentNotifier(notifications notificationdomain.Service) paymentdomain.Notifier {
	return &PaymentNotifier{notifications: notifications}
}

func (n *PaymentNotifier) PaymentConfirmed(ctx context.Context, fee *feedomain.Fee) error {
	_, err := n.notifications.Send(ctx, notificationdomain.SendInput{
		Title:         "Payment received",
		Body:          fmt.Sprintf("Your fee for %s is fully paid.", fee.BillingPeriod),
		Category:      notificationdomain.CategoryBilling,
		TargetMode:    notificationdomain.TargetSpecific,
		ResidentIDs:   []int64{int64(fee.ResidentID)},
		CreatedBy:     "payment.reconciler",
		EmailTemplate: email.TemplatePaymentReceived,
		EmailData: map[string]interface{}{
			"fee_title":      fmt.Sprintf("Fee %s", fee.ID.String()),
			"billing_period": fee.BillingPeriod,
			"amount_paid":    fee.AmountPaid,
			"status":         string(fee.Status),
		},
	})
	return err
}

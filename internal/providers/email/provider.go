package email

import (
	"context"
	"errors"
)

// ErrNoRecipients is returned when a send is attempted with an empty
// recipient list.
var ErrNoRecipients = errors.New("email_no_recipients")

// Template kinds known to the provider.
const (
	TemplatePaymentReceived = "payment_received"
	TemplateFeeReminder     = "fee_reminder"
	TemplateFeeOverdue      = "fee_overdue"
	TemplateMaintenance     = "maintenance"
	TemplateGeneral         = "general"
)

type Provider interface {
	Send(ctx context.Context, to []string, subject string, htmlBody string) error
	SendTemplate(ctx context.Context, to []string, templateKind string, data map[string]interface{}) error
}

// NoOpProvider is used in tests and when SMTP is not configured.
type NoOpProvider struct{}

func (p *NoOpProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	return nil
}

func (p *NoOpProvider) SendTemplate(ctx context.Context, to []string, templateKind string, data map[string]interface{}) error {
	return nil
}

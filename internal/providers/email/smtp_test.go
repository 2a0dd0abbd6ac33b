package email

import (
	"context"
	"errors"
	"testing"
)

func TestSendRequiresRecipient(t *testing.T) {
	p := NewSMTP(Config{Host: "localhost", Port: 2525, From: "noreply@aptora.local"})

	// The guard rejects before any relay connection, so no SMTP server is
	// needed here.
	if err := p.Send(context.Background(), nil, "subject", "body"); !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("expected ErrNoRecipients, got %v", err)
	}
	if err := p.SendTemplate(context.Background(), []string{}, TemplateGeneral, map[string]interface{}{}); !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("expected ErrNoRecipients from template send, got %v", err)
	}
}

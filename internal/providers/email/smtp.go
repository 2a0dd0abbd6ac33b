package email

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"time"
)

type Config struct {
	Host        string
	Port        int
	Username    string
	Password    string
	From        string
	SendTimeout time.Duration
}

type SMTPProvider struct {
	cfg Config
}

func NewSMTP(cfg Config) *SMTPProvider {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &SMTPProvider{cfg: cfg}
}

// Send delivers one HTML email. The send is bounded by the configured
// timeout so a slow relay never stalls a scheduler batch.
func (p *SMTPProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	if len(to) == 0 {
		return ErrNoRecipients
	}
	auth := smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)

	mime := "MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n\n"
	msg := []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\n%s\r\n%s", to[0], subject, mime, htmlBody))

	ctx, cancel := context.WithTimeout(ctx, p.cfg.SendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, p.cfg.From, to, msg)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("smtp send to %s: %w", to[0], ctx.Err())
	}
}

func (p *SMTPProvider) SendTemplate(ctx context.Context, to []string, templateKind string, data map[string]interface{}) error {
	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, templateKind, data); err != nil {
		return fmt.Errorf("execute template %s: %w", templateKind, err)
	}
	return p.Send(ctx, to, defaultSubject(templateKind, data), body.String())
}

package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

type sendgridAPI interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridConfig configures the SendGrid sender.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// SendGridSender delivers mail through the SendGrid v3 API. Categories and
// the ref custom arg make messages searchable in the SendGrid activity feed.
type SendGridSender struct {
	api       sendgridAPI
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// NewSendGridSender returns nil without an API key or from address.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" || cfg.FromEmail == "" {
		return nil
	}
	return newSendGridSender(sendgrid.NewSendClient(cfg.APIKey), cfg, logger)
}

func newSendGridSender(api sendgridAPI, cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &SendGridSender{api: api, fromEmail: cfg.FromEmail, fromName: cfg.FromName, logger: logger}
}

func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if msg.To == "" {
		return errNoRecipient
	}
	m := buildSendGridMail(s.fromEmail, msg.fromName(s.fromName), msg)

	resp, err := s.api.SendWithContext(ctx, m)
	if err != nil {
		return fmt.Errorf("notify: sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		s.logger.Error("sendgrid rejected email", "status", resp.StatusCode, "body", resp.Body, "ref", msg.Ref)
		return fmt.Errorf("notify: sendgrid returned status %d", resp.StatusCode)
	}
	s.logger.Info("email sent", "provider", "sendgrid", "category", msg.Category, "ref", msg.Ref)
	return nil
}

func buildSendGridMail(fromEmail, fromName string, msg EmailMessage) *mail.SGMailV3 {
	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(fromName, fromEmail))
	m.Subject = msg.Subject

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail(msg.ToName, msg.To))
	if msg.Ref != "" {
		p.SetCustomArg("ref", msg.Ref)
	}
	m.AddPersonalizations(p)

	if msg.Text != "" {
		m.AddContent(mail.NewContent("text/plain", msg.Text))
	}
	if msg.HTML != "" {
		m.AddContent(mail.NewContent("text/html", msg.HTML))
	}
	if msg.Category != "" {
		m.AddCategories(msg.Category)
	}
	return m
}

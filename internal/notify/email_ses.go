package notify

import (
	"context"
	"fmt"
	"net/mail"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESConfig configures the SES sender. ConfigurationSet is optional.
type SESConfig struct {
	FromEmail        string
	FromName         string
	ConfigurationSet string
}

// SESSender delivers mail through SES v2. Category and ref travel as
// message tags so bounce and complaint events can be traced.
type SESSender struct {
	api    sesAPI
	cfg    SESConfig
	logger *logging.Logger
}

// NewSESSender returns nil without a client or from address.
func NewSESSender(api sesAPI, cfg SESConfig, logger *logging.Logger) *SESSender {
	if api == nil || cfg.FromEmail == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SESSender{api: api, cfg: cfg, logger: logger}
}

func (s *SESSender) Send(ctx context.Context, msg EmailMessage) error {
	if msg.To == "" {
		return errNoRecipient
	}
	from := (&mail.Address{Name: msg.fromName(s.cfg.FromName), Address: s.cfg.FromEmail}).String()
	to := (&mail.Address{Name: msg.ToName, Address: msg.To}).String()

	body := &types.Body{}
	if msg.Text != "" {
		body.Text = sesContent(msg.Text)
	}
	if msg.HTML != "" {
		body.Html = sesContent(msg.HTML)
	}
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{to}},
		Content: &types.EmailContent{Simple: &types.Message{
			Subject: sesContent(msg.Subject),
			Body:    body,
		}},
	}
	if s.cfg.ConfigurationSet != "" {
		input.ConfigurationSetName = aws.String(s.cfg.ConfigurationSet)
	}
	for _, tag := range [][2]string{{"category", msg.Category}, {"ref", msg.Ref}} {
		if tag[1] != "" {
			input.EmailTags = append(input.EmailTags, types.MessageTag{Name: aws.String(tag[0]), Value: aws.String(sesTagValue(tag[1]))})
		}
	}

	out, err := s.api.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("notify: ses send: %w", err)
	}
	s.logger.Info("email sent", "provider", "ses", "category", msg.Category, "ref", msg.Ref, "message_id", aws.ToString(out.MessageId))
	return nil
}

func sesContent(data string) *types.Content {
	return &types.Content{Data: aws.String(data), Charset: aws.String("UTF-8")}
}

var sesTagUnsafe = regexp.MustCompile(`[^A-Za-z0-9_.@-]`)

// sesTagValue keeps only the characters SES accepts in tag values.
func sesTagValue(v string) string {
	return sesTagUnsafe.ReplaceAllString(v, "_")
}

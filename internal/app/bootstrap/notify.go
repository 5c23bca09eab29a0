package bootstrap

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/wolfman30/medspa-booking-engine/internal/archive"
	appconfig "github.com/wolfman30/medspa-booking-engine/internal/config"
	"github.com/wolfman30/medspa-booking-engine/internal/notify"
	"github.com/wolfman30/medspa-booking-engine/internal/rebooking"
	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

// BuildEmailSender prefers SendGrid, then SES, and falls back to a sender
// that only logs.
func BuildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) notify.EmailSender {
	if cfg.SendGridAPIKey != "" && cfg.SendGridFromEmail != "" {
		logger.Info("email provider configured", "provider", "sendgrid")
		return notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
	}
	if cfg.SESFromEmail != "" && awsCfg != nil {
		if sender := notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
			FromEmail:        cfg.SESFromEmail,
			FromName:         cfg.SendGridFromName,
			ConfigurationSet: cfg.SESConfigurationSet,
		}, logger); sender != nil {
			logger.Info("email provider configured", "provider", "ses")
			return sender
		}
	}
	logger.Warn("no email provider configured; booking emails will only be logged")
	return notify.NewLogEmailSender(logger)
}

// BuildArchive returns the S3 transcript archive. Without a bucket the store
// is a no-op.
func BuildArchive(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) *archive.Store {
	if cfg.ArchiveBucket == "" || awsCfg == nil {
		return archive.NewStore(nil, "", logger)
	}
	client := s3.NewFromConfig(*awsCfg, func(o *s3.Options) {
		// LocalStack serves buckets by path, not by virtual host.
		o.UsePathStyle = cfg.AWSEndpointOverride != ""
	})
	return archive.NewStore(client, cfg.ArchiveBucket, logger)
}

// BuildReminderStore keeps rebooking reminders next to bookings.
func BuildReminderStore(dbs *Databases) rebooking.ReminderStore {
	if dbs == nil || dbs.Pool == nil {
		return rebooking.NewMemoryReminderStore()
	}
	return rebooking.NewPostgresReminderStore(dbs.Pool)
}

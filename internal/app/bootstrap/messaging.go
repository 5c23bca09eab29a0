package bootstrap

import (
	"fmt"

	appconfig "github.com/wolfman30/medspa-booking-engine/internal/config"
	"github.com/wolfman30/medspa-booking-engine/internal/messaging"
	"github.com/wolfman30/medspa-booking-engine/internal/observability/metrics"
	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

// BuildReplySender returns the Twilio sender when credentials are present and
// a log-only sender otherwise. The second value names the provider.
func BuildReplySender(cfg *appconfig.Config, m *metrics.MessagingMetrics, logger *logging.Logger) (messaging.Sender, string) {
	if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" || cfg.TwilioFromNumber == "" {
		logger.Warn("twilio not configured; replies will only be logged")
		return messaging.NewLogSender(logger), "log"
	}
	return messaging.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger,
		messaging.WithTwilioMetrics(m),
	), "twilio"
}

// BuildOrgResolver maps clinic Twilio numbers to orgs from TWILIO_ORG_MAP_JSON.
func BuildOrgResolver(cfg *appconfig.Config) (*messaging.StaticOrgResolver, error) {
	mapping, err := messaging.ParseOrgMap(cfg.TwilioOrgMapJSON)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return messaging.NewStaticOrgResolver(mapping, cfg.DefaultOrgID), nil
}

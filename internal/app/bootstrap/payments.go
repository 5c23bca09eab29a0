package bootstrap

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/medspa-booking-engine/internal/bookings"
	"github.com/wolfman30/medspa-booking-engine/internal/clinic"
	appconfig "github.com/wolfman30/medspa-booking-engine/internal/config"
	"github.com/wolfman30/medspa-booking-engine/internal/events"
	"github.com/wolfman30/medspa-booking-engine/internal/observability/metrics"
	"github.com/wolfman30/medspa-booking-engine/internal/payments"
	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

// BuildCheckout wires the checkout providers. Stripe is enabled when a
// secret key is set and the fake provider when ALLOW_FAKE_PAYMENTS is on or
// PAYMENT_PROVIDER=fake. Clinics choose between them through their config.
func BuildCheckout(cfg *appconfig.Config, clinicStore *clinic.Store, logger *logging.Logger) (*payments.MultiCheckoutService, error) {
	var stripe, fake payments.PollingCheckoutProvider
	if cfg.StripeSecretKey != "" {
		stripe = payments.NewStripeCheckoutService(cfg.StripeSecretKey, cfg.StripeSuccessURL, cfg.StripeCancelURL, logger).
			WithAccountResolver(clinicStore)
	}
	if FakePaymentsEnabled(cfg) {
		fake = payments.NewFakeCheckoutService(cfg.PublicBaseURL, logger)
	}
	if stripe == nil && fake == nil {
		return nil, fmt.Errorf("bootstrap: no payment provider configured (set STRIPE_SECRET_KEY or ALLOW_FAKE_PAYMENTS)")
	}
	return payments.NewMultiCheckoutService(stripe, fake, clinicStore, logger), nil
}

// FakePaymentsEnabled reports whether the fake checkout and its pages run.
func FakePaymentsEnabled(cfg *appconfig.Config) bool {
	return cfg.AllowFakePayments || cfg.PaymentProvider == payments.ProviderFake
}

// BuildLinkStore returns the Postgres link store or an in-memory one.
func BuildLinkStore(dbs *Databases) payments.LinkStore {
	if dbs != nil && dbs.Pool != nil {
		return payments.NewPostgresLinkStore(dbs.Pool)
	}
	return payments.NewMemoryLinkStore()
}

// BuildDeduper returns the processed-events store shared by the Stripe
// webhook and the booking notifier: Postgres when configured, then Redis.
func BuildDeduper(dbs *Databases, rdb *redis.Client) events.Deduper {
	switch {
	case dbs != nil && dbs.Pool != nil:
		return events.NewProcessedStore(dbs.Pool)
	case rdb != nil:
		return events.NewRedisDeduper(rdb, events.DedupWindow)
	default:
		return events.NewMemoryDeduper()
	}
}

// BuildGate assembles the payment gate. The settlement hook is attached by
// the caller once the conversation publisher exists.
func BuildGate(
	cfg *appconfig.Config,
	links payments.LinkStore,
	checkout *payments.MultiCheckoutService,
	bookingService *bookings.Service,
	clinicStore *clinic.Store,
	redisClient *redis.Client,
	m *metrics.BookingMetrics,
	logger *logging.Logger,
) *payments.Gate {
	opts := []payments.GateOption{
		payments.WithStatusPoller(checkout),
		payments.WithGateMetrics(m),
	}
	if redisClient != nil && cfg.LinkVelocityMax > 0 {
		opts = append(opts, payments.WithVelocityChecker(
			payments.NewVelocityChecker(redisClient, payments.VelocityLimit{Max: cfg.LinkVelocityMax, Window: cfg.LinkVelocityWindow}, logger),
		))
	}
	return payments.NewGate(links, checkout, bookingService, clinicStore, logger, opts...)
}

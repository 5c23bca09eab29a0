// Package bootstrap assembles the booking engine from configuration. Every
// binary builds the same App and starts the parts it runs.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/medspa-booking-engine/internal/api/router"
	"github.com/wolfman30/medspa-booking-engine/internal/bookings"
	"github.com/wolfman30/medspa-booking-engine/internal/clinic"
	appconfig "github.com/wolfman30/medspa-booking-engine/internal/config"
	"github.com/wolfman30/medspa-booking-engine/internal/contacts"
	"github.com/wolfman30/medspa-booking-engine/internal/conversation"
	"github.com/wolfman30/medspa-booking-engine/internal/events"
	httpmiddleware "github.com/wolfman30/medspa-booking-engine/internal/http/middleware"
	"github.com/wolfman30/medspa-booking-engine/internal/messaging"
	"github.com/wolfman30/medspa-booking-engine/internal/notify"
	"github.com/wolfman30/medspa-booking-engine/internal/observability/metrics"
	"github.com/wolfman30/medspa-booking-engine/internal/payments"
	"github.com/wolfman30/medspa-booking-engine/internal/rebooking"
	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

// ErrRedisRequired is returned when clinic configuration cannot be reached.
var ErrRedisRequired = errors.New("bootstrap: redis is required for clinic configuration")

type outbox interface {
	events.Publisher
	events.PendingSource
}

// App is the wired booking engine.
type App struct {
	Config   *appconfig.Config
	Logger   *logging.Logger
	Registry *prometheus.Registry

	Redis    *redis.Client
	DB       *Databases
	Clinics  *clinic.Store
	Contacts contacts.Repository
	Bookings *bookings.Service

	Gate     *payments.Gate
	Sweeper  *payments.ExpirySweeper
	Checkout *payments.MultiCheckoutService
	Deduper  events.Deduper

	Outbox    outbox
	Deliverer *events.Deliverer
	Reminders *rebooking.Worker

	Queue     conversation.Queue
	Jobs      conversation.JobTracker
	Publisher *conversation.Publisher
	Router    *conversation.Router
	Worker    *conversation.Worker
	Sender    messaging.Sender

	MessagingMetrics *metrics.MessagingMetrics
	BookingMetrics   *metrics.BookingMetrics

	wg      sync.WaitGroup
	closers []func()
}

// New wires every component. awsCfg may be nil when no AWS service is used.
func New(ctx context.Context, cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	app := &App{Config: cfg, Logger: logger, Registry: prometheus.NewRegistry()}
	app.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	app.MessagingMetrics = metrics.NewMessagingMetrics(app.Registry)
	app.BookingMetrics = metrics.NewBookingMetrics(app.Registry)

	app.Redis = BuildRedisClient(ctx, cfg, logger, true)
	if app.Redis == nil {
		return nil, ErrRedisRequired
	}
	app.closers = append(app.closers, func() { _ = app.Redis.Close() })
	app.Clinics = BuildClinicStore(app.Redis, cfg)

	dbs, err := OpenDatabases(ctx, cfg, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.DB = dbs
	app.closers = append(app.closers, dbs.Close)

	var bookingRepo bookings.Repository
	if dbs != nil {
		bookingRepo = bookings.NewPostgresRepository(dbs.Pool)
		app.Contacts = contacts.NewSQLRepository(dbs.SQL)
		app.Outbox = events.NewOutboxStore(dbs.Pool)
	} else {
		logger.Warn("DATABASE_URL not set; bookings, links and contacts kept in memory")
		bookingRepo = bookings.NewMemoryRepository()
		app.Contacts = contacts.NewInMemoryRepository()
		app.Outbox = events.NewMemoryOutbox()
	}
	app.Bookings = bookings.NewService(bookingRepo, logger)
	app.Deduper = BuildDeduper(dbs, app.Redis)

	checkout, err := BuildCheckout(cfg, app.Clinics, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Checkout = checkout
	app.Gate = BuildGate(cfg, BuildLinkStore(dbs), checkout, app.Bookings, app.Clinics, app.Redis, app.BookingMetrics, logger)
	app.Sweeper = payments.NewExpirySweeper(app.Gate, cfg.PaymentSweepInterval, logger)

	queue, err := BuildQueue(cfg, awsCfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Queue = queue
	app.Jobs = BuildJobStore(cfg, awsCfg, dbs, logger)
	app.Publisher = conversation.NewPublisher(queue, logger)
	app.Gate.SetSettlementHook(app.Publisher)

	extractor, closeExtractor, err := BuildExtractor(ctx, cfg, awsCfg, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.closers = append(app.closers, closeExtractor)

	tasks := conversation.NewTaskRunner(app.Outbox, BuildArchive(cfg, awsCfg, logger), app.BookingMetrics, logger)
	app.closers = append(app.closers, tasks.Wait)
	app.Router = conversation.NewRouter(BuildContextStore(app.Redis, cfg, logger), app.Clinics, bookingRepo, logger,
		conversation.WithContacts(app.Contacts),
		conversation.WithPaymentGate(app.Gate),
		conversation.WithExtractor(extractor),
		conversation.WithTaskRunner(tasks),
		conversation.WithRouterMetrics(app.BookingMetrics),
	)

	sender, provider := BuildReplySender(cfg, app.MessagingMetrics, logger)
	app.Sender = sender
	app.Worker = conversation.NewWorker(app.Router, queue, app.Jobs, sender, logger,
		conversation.WithPollerCount(cfg.WorkerCount),
	)

	reminderStore := BuildReminderStore(dbs)
	scheduler := rebooking.NewScheduler(reminderStore, app.Contacts, logger)
	app.Reminders = rebooking.NewWorker(reminderStore, sender, app.Clinics, logger,
		rebooking.WithInterval(cfg.RebookReminderInterval),
	)

	notifier := notify.NewBookingNotifier(BuildEmailSender(cfg, awsCfg, logger), app.Contacts, app.Clinics, logger,
		notify.WithDeduper(app.Deduper),
	)
	app.Deliverer = events.NewDeliverer(app.Outbox, events.NewRouter(logger).
		On(events.BookingsConfirmedV1{}.EventType(), notifier).
		On(events.BookingsConfirmedV1{}.EventType(), scheduler).
		On(events.BookingCancelledV1{}.EventType(), notifier).
		On(events.BookingCancelledV1{}.EventType(), scheduler),
		logger)

	logger.Info("booking engine wired",
		"sms_provider", provider,
		"memory_queue", cfg.UseMemoryQueue,
		"postgres", dbs != nil,
		"fake_payments", FakePaymentsEnabled(cfg),
	)
	return app, nil
}

// HTTPHandler builds the public HTTP surface.
func (a *App) HTTPHandler() (http.Handler, error) {
	cfg := a.Config
	resolver, err := BuildOrgResolver(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.TwilioAuthToken == "" {
		a.Logger.Warn("TWILIO_AUTH_TOKEN not set; inbound SMS signatures are not verified")
	}

	routerCfg := &router.Config{
		Logger: a.Logger,
		MessagingHandler: messaging.NewHandler(cfg.TwilioAuthToken, a.Publisher, resolver, a.Contacts, a.Logger,
			messaging.WithPublicBaseURL(cfg.PublicBaseURL),
			messaging.WithHandlerMetrics(a.MessagingMetrics),
		),
		TurnHandler:      conversation.NewHandler(a.Publisher, a.Jobs, a.Contacts, a.Logger),
		MetricsHandler:   promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}),
		ServiceJWTSecret: cfg.ServiceJWTSecret,
	}
	if cfg.StripeWebhookSecret != "" {
		routerCfg.StripeWebhook = payments.NewStripeWebhookHandler(cfg.StripeWebhookSecret, a.Gate, a.Deduper, a.Logger)
	}
	if FakePaymentsEnabled(cfg) {
		routerCfg.FakePayments = payments.NewFakePaymentsHandler(a.Gate, a.Logger)
	}
	if cfg.WebhookRatePerSec > 0 {
		routerCfg.WebhookLimiter = httpmiddleware.NewRateLimiter(cfg.WebhookRatePerSec, cfg.WebhookRateBurst)
	}
	if cfg.ServiceJWTSecret == "" {
		a.Logger.Warn("SERVICE_JWT_SECRET not set; turn API disabled")
	}
	return router.New(routerCfg), nil
}

// StartWorker consumes the conversation queue until ctx is cancelled.
func (a *App) StartWorker(ctx context.Context) {
	a.Worker.Start(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Worker.Wait()
	}()
}

// StartBackground runs the expiry sweeper, the outbox deliverer and the
// rebooking reminder loop.
func (a *App) StartBackground(ctx context.Context) {
	a.wg.Add(3)
	go func() {
		defer a.wg.Done()
		a.Sweeper.Start(ctx)
	}()
	go func() {
		defer a.wg.Done()
		a.Deliverer.Start(ctx)
	}()
	go func() {
		defer a.wg.Done()
		a.Reminders.Start(ctx)
	}()
}

// Wait blocks until every started loop has returned.
func (a *App) Wait() {
	a.wg.Wait()
}

// Close releases clients in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

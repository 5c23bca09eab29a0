package router

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/medspa-booking-engine/internal/conversation"
	httpmiddleware "github.com/wolfman30/medspa-booking-engine/internal/http/middleware"
	"github.com/wolfman30/medspa-booking-engine/internal/messaging"
	"github.com/wolfman30/medspa-booking-engine/internal/payments"
	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

// Config lists the handlers to mount. Nil handlers are left unmounted.
type Config struct {
	Logger           *logging.Logger
	MessagingHandler *messaging.Handler
	TurnHandler      *conversation.Handler
	StripeWebhook    *payments.StripeWebhookHandler
	FakePayments     *payments.FakePaymentsHandler
	MetricsHandler   http.Handler

	// ServiceJWTSecret guards /v1. The turn API stays unmounted without it.
	ServiceJWTSecret string

	// WebhookLimiter throttles the public routes per client IP.
	WebhookLimiter *httpmiddleware.RateLimiter
}

// New builds the HTTP surface: health and metrics, the public webhooks, and
// the service-authenticated turn API under /v1.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		httpmiddleware.RequestLogger(cfg.Logger),
	)

	r.Get("/health", health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}
	r.Group(func(public chi.Router) { mountWebhooks(public, cfg) })

	if cfg.TurnHandler != nil && cfg.ServiceJWTSecret != "" {
		r.With(httpmiddleware.ServiceJWT(cfg.ServiceJWTSecret)).Mount("/v1", cfg.TurnHandler.Routes())
	}
	return r
}

func mountWebhooks(r chi.Router, cfg *Config) {
	if cfg.WebhookLimiter != nil {
		r.Use(httpmiddleware.RateLimit(cfg.WebhookLimiter))
	}
	if h := cfg.MessagingHandler; h != nil {
		r.Post("/webhooks/twilio/sms", h.TwilioWebhook)
	}
	if h := cfg.StripeWebhook; h != nil {
		r.Post("/webhooks/stripe", h.Handle)
	}
	if h := cfg.FakePayments; h != nil {
		r.Mount("/payments/fake", h.Routes())
	}
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"status":"ok"}`)
}

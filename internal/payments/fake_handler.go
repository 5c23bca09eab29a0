package payments

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

// LinkReader loads a payment link.
type LinkReader interface {
	Link(ctx context.Context, linkID string) (*Link, error)
}

// FakeGate is what the fake checkout pages need from the gate.
type FakeGate interface {
	LinkReader
	LinkResolver
}

// FakePaymentsHandler exposes a tiny demo UI to pay or expire links without a
// real processor. Only mount this handler when ALLOW_FAKE_PAYMENTS=true.
type FakePaymentsHandler struct {
	gate   FakeGate
	logger *logging.Logger
}

func NewFakePaymentsHandler(gate FakeGate, logger *logging.Logger) *FakePaymentsHandler {
	if gate == nil {
		panic("payments: gate required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FakePaymentsHandler{gate: gate, logger: logger}
}

// Routes mounts under /payments/fake.
func (h *FakePaymentsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{linkID}", h.HandleCheckout)
	r.Post("/{linkID}/pay", h.HandlePay)
	r.Post("/{linkID}/expire", h.HandleExpire)
	return r
}

func (h *FakePaymentsHandler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	linkID := strings.TrimSpace(chi.URLParam(r, "linkID"))
	link, err := h.gate.Link(r.Context(), linkID)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}

	id := html.EscapeString(link.ID)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>Demo Checkout</title>
    <style>
      body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Ubuntu,Cantarell,Noto Sans,sans-serif;max-width:680px;margin:40px auto;padding:0 16px;}
      .card{border:1px solid #e5e7eb;border-radius:12px;padding:18px;}
      .btn{display:inline-block;background:#111827;color:#fff;padding:12px 16px;border-radius:10px;text-decoration:none;border:0;cursor:pointer;}
      .muted{color:#6b7280;font-size:14px;}
      code{background:#f3f4f6;padding:2px 6px;border-radius:6px;}
    </style>
  </head>
  <body>
    <h1>Demo Checkout</h1>
    <div class="card">
      <p><strong>%s</strong></p>
      <p><strong>Amount:</strong> %s</p>
      <p><strong>Status:</strong> %s</p>
      <p class="muted">This is a demo-only payment page (no real payment is processed).</p>
      <form method="POST" action="/payments/fake/%s/pay">
        <button class="btn" type="submit">Pay</button>
      </form>
      <form method="POST" action="/payments/fake/%s/expire">
        <button class="btn" type="submit">Let it expire</button>
      </form>
      <p class="muted">Link ID: <code>%s</code></p>
    </div>
  </body>
</html>`, html.EscapeString(link.Description), FormatCents(link.AmountCents), html.EscapeString(string(link.Status)), id, id, id)
}

func (h *FakePaymentsHandler) HandlePay(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, StatusPaid)
}

func (h *FakePaymentsHandler) HandleExpire(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, StatusExpired)
}

func (h *FakePaymentsHandler) resolve(w http.ResponseWriter, r *http.Request, status Status) {
	linkID := strings.TrimSpace(chi.URLParam(r, "linkID"))
	link, err := h.gate.Resolve(r.Context(), linkID, status)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	h.logger.Info("fake payment resolved", "link_id", linkID, "org_id", link.OrgID, "status", string(link.Status))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!doctype html>
<html>
  <head><meta charset="utf-8" /><title>Payment %s</title></head>
  <body>
    <h1>Payment %s</h1>
    <p>You can close this tab and continue the text conversation.</p>
  </body>
</html>`, html.EscapeString(string(link.Status)), html.EscapeString(string(link.Status)))
}

func (h *FakePaymentsHandler) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrLinkNotFound) {
		http.Error(w, "payment link not found", http.StatusNotFound)
		return
	}
	h.logger.Error("fake payment handler failed", "error", err)
	http.Error(w, "payment link unavailable", http.StatusInternalServerError)
}

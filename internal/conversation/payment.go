package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/medspa-booking-engine/internal/bookings"
	"github.com/wolfman30/medspa-booking-engine/internal/clinic"
	"github.com/wolfman30/medspa-booking-engine/internal/events"
	"github.com/wolfman30/medspa-booking-engine/internal/payments"
	"github.com/wolfman30/medspa-booking-engine/internal/scheduling"
)

func planDescription(ms *MultiSessionState) string {
	if len(ms.Schedule) == 1 {
		return fmt.Sprintf("your %s session", ms.ServiceName)
	}
	return fmt.Sprintf("your %d %s sessions", len(ms.Schedule), ms.ServiceName)
}

func sessionSlots(list []bookings.Booking) []events.SessionSlot {
	slots := make([]events.SessionSlot, 0, len(list))
	for _, b := range list {
		slots = append(slots, events.SessionSlot{BookingID: b.ID, SessionNumber: b.SessionNumber, StartTime: b.StartTime})
	}
	return slots
}

// slotsFromSchedule pairs booking IDs with the schedule they were created from.
func slotsFromSchedule(ids []string, schedule []scheduling.SessionScheduleEntry) []events.SessionSlot {
	slots := make([]events.SessionSlot, 0, len(ids))
	for i, id := range ids {
		slot := events.SessionSlot{BookingID: id}
		if i < len(schedule) {
			slot.SessionNumber = schedule[i].SessionNumber
			slot.StartTime = schedule[i].StartTime
		}
		slots = append(slots, slot)
	}
	return slots
}

// commitPlan creates every session of the reviewed plan as one batch. Paid
// services are created provisional and held behind a payment link.
func (r *Router) commitPlan(ctx context.Context, c *Context, svc clinic.Service) Reply {
	logger := r.log(c)
	ms := c.MultiSession
	loc := r.location(ctx, c.OrgID)

	var req payments.Requirement
	if r.payments != nil {
		var err error
		req, err = r.payments.RequiresPayment(ctx, c.OrgID, svc.ID)
		if err != nil {
			logger.Error("conversation: payment requirement lookup failed", "service_id", svc.ID, "error", err)
			return fail()
		}
	}
	status := bookings.StatusConfirmed
	if req.Required {
		status = bookings.StatusProvisional
	}

	drafts := make([]bookings.Draft, 0, len(ms.Schedule))
	for _, e := range ms.Schedule {
		drafts = append(drafts, bookings.Draft{
			OrgID:         c.OrgID,
			ContactID:     c.ContactID,
			ServiceID:     svc.ID,
			ServiceName:   svc.Name,
			StartTime:     e.StartTime,
			EndTime:       e.EndTime,
			SessionNumber: e.SessionNumber,
			TotalSessions: ms.TotalSessions,
		})
	}
	created, err := r.bookings.CreateBatch(ctx, status, drafts)
	if err != nil {
		logger.Error("conversation: create booking batch failed", "service_id", svc.ID, "sessions", len(drafts), "error", err)
		return fail()
	}
	r.metrics.ObserveBookings(string(ms.Strategy), string(status), len(created))
	slots := sessionSlots(created)
	c.NewBookingStep = NewBookingStepDone

	if !req.Required {
		logger.Info("conversation: plan booked", "service_id", svc.ID, "booking_ids", bookings.IDs(created))
		r.publishConfirmed(ctx, c, svc.Name, slots, false, "")
		return complete(bookedMessage(ms, loc, false))
	}

	r.tasks.Publish(ctx, c.OrgID, "group:"+created[0].GroupID, events.ProvisionalBookingsCreatedV1{
		OrgID:          c.OrgID,
		ConversationID: c.ConversationID,
		ContactID:      c.ContactID,
		ServiceID:      svc.ID,
		GroupID:        created[0].GroupID,
		Sessions:       slots,
		CreatedAt:      r.now(),
	})

	// A deposit holds the whole plan; without one each session is paid up front.
	amount := req.AmountCents
	if req.DepositCents == 0 {
		amount *= len(created)
	}
	linkReq := payments.LinkRequest{
		OrgID:          c.OrgID,
		ConversationID: c.ConversationID,
		ContactID:      c.ContactID,
		PhoneNumber:    c.PhoneNumber,
		BookingIDs:     bookings.IDs(created),
		Description:    planDescription(ms),
		AmountCents:    amount,
	}
	link, text, err := r.payments.CreateAndSendLink(ctx, linkReq)
	if err != nil {
		return r.applyLinkFailure(ctx, c, linkReq, err, slots, loc)
	}

	c.Payment = &PaymentState{
		LinkID:            link.ID,
		LinkURL:           link.URL,
		Status:            link.Status,
		ExpiresAt:         link.ExpiresAt,
		PendingBookingIDs: append([]string(nil), link.BookingIDs...),
		Required:          true,
		AmountCents:       link.AmountCents,
	}
	c.NewBookingStep = NewBookingStepMultiSession
	ms.Step = MultiSessionAwaitingPayment
	logger.Info("conversation: plan held for payment", "link_id", link.ID, "booking_ids", link.BookingIDs)

	r.tasks.Publish(ctx, c.OrgID, "payment_link:"+link.ID, events.PaymentLinkCreatedV1{
		OrgID:          c.OrgID,
		ConversationID: c.ConversationID,
		LinkID:         link.ID,
		Provider:       link.Provider,
		AmountCents:    link.AmountCents,
		BookingIDs:     link.BookingIDs,
		ExpiresAt:      link.ExpiresAt,
	})
	return continueWith(text)
}

func (r *Router) applyLinkFailure(ctx context.Context, c *Context, req payments.LinkRequest, cause error, slots []events.SessionSlot, loc *time.Location) Reply {
	logger := r.log(c)
	fallback, err := r.payments.ApplyLinkFailure(ctx, req, cause)
	logger.Warn("conversation: payment link unavailable",
		"fallback", string(fallback),
		"booking_ids", req.BookingIDs,
		"cause", cause,
	)
	if err != nil {
		logger.Error("conversation: payment fallback failed", "error", err)
		return fail()
	}

	if fallback == payments.FallbackConfirmedUnpaid {
		r.publishConfirmed(ctx, c, c.MultiSession.ServiceName, slots, false, "")
		return complete(bookedMessage(c.MultiSession, loc, true))
	}
	r.tasks.Publish(ctx, c.OrgID, "conversation:"+c.ConversationID, events.BookingsRolledBackV1{
		OrgID:        c.OrgID,
		BookingIDs:   req.BookingIDs,
		Reason:       "payment_link_unavailable",
		RolledBackAt: r.now(),
	})
	return Reply{Text: msgLinkUnavailable, Outcome: OutcomeFailed, Cleared: true}
}

// checkPayment answers every message while a link holds the context's
// bookings. A pending link only reports the time left; a terminal link is
// settled and the context closed.
func (r *Router) checkPayment(ctx context.Context, c *Context) Reply {
	logger := r.log(c)
	p := c.Payment
	if r.payments == nil {
		logger.Error("conversation: context awaits payment but no gate is configured", "link_id", p.LinkID)
		return fail()
	}

	status, err := r.payments.CheckStatus(ctx, p.LinkID)
	if errors.Is(err, payments.ErrLinkNotFound) {
		logger.Error("conversation: payment link missing", "link_id", p.LinkID)
		return Reply{Text: msgPaymentLost, Outcome: OutcomeFailed, Cleared: true}
	}
	if err != nil {
		logger.Warn("conversation: payment status check failed", "link_id", p.LinkID, "error", err)
		return continueWith(msgPaymentCheckFail)
	}
	p.Status = status
	if status == payments.StatusPending {
		return continueWith(paymentPendingMessage(p, r.now()))
	}

	link, settledNow, err := r.payments.SettleOnce(ctx, p.LinkID)
	if err != nil {
		logger.Error("conversation: settle payment link failed", "link_id", p.LinkID, "error", err)
		return fail()
	}
	if settledNow {
		r.publishSettlement(ctx, *link, c)
	}
	if link != nil && link.Status.Terminal() {
		status = link.Status
	}
	logger.Info("conversation: payment resolved in turn", "link_id", p.LinkID, "status", string(status))
	return r.settledReply(ctx, c, status)
}

func (r *Router) settledReply(ctx context.Context, c *Context, status payments.Status) Reply {
	loc := r.location(ctx, c.OrgID)
	var (
		name    string
		entries []scheduling.SessionScheduleEntry
	)
	if c.MultiSession != nil {
		name = c.MultiSession.ServiceName
		entries = c.MultiSession.Schedule
	}
	text := paymentResolvedMessage(status, name, entries, loc)
	if status == payments.StatusPaid {
		return complete(text)
	}
	return reject(text)
}

// ResolvePayment closes out a link settled outside a turn (webhook, fake
// checkout, expiry sweep). Events are always published; the context is only
// closed, and a reply only returned, when it still waits on this link.
func (r *Router) ResolvePayment(ctx context.Context, link payments.Link) (Reply, error) {
	c, err := r.store.Get(ctx, link.ConversationID)
	if err != nil && !errors.Is(err, ErrContextNotFound) {
		r.publishSettlement(ctx, link, nil)
		return Reply{}, fmt.Errorf("conversation: load context for link %s: %w", link.ID, err)
	}
	r.publishSettlement(ctx, link, c)

	if c == nil || !c.AwaitingPayment() || c.Payment.LinkID != link.ID {
		r.logger.Info("conversation: settled link no longer held by a context", "link_id", link.ID, "conversation_id", link.ConversationID)
		return Reply{}, nil
	}

	c.Payment.Status = link.Status
	reply := r.settledReply(ctx, c, link.Status)
	if err := r.store.Delete(ctx, c.ConversationID); err != nil {
		return reply, fmt.Errorf("conversation: delete context: %w", err)
	}
	r.tasks.Archive(ctx, c, reply.Outcome, r.now())
	r.metrics.ObserveTurn(string(c.Intent), string(reply.Outcome), 0)
	r.log(c).Info("conversation: payment resolved out of band", "link_id", link.ID, "status", string(link.Status))
	return reply, nil
}

func (r *Router) publishConfirmed(ctx context.Context, c *Context, serviceName string, slots []events.SessionSlot, paid bool, linkID string) {
	r.tasks.Publish(ctx, c.OrgID, "conversation:"+c.ConversationID, events.BookingsConfirmedV1{
		OrgID:          c.OrgID,
		ConversationID: c.ConversationID,
		ContactID:      c.ContactID,
		ContactEmail:   c.ContactEmail,
		ServiceName:    serviceName,
		Sessions:       slots,
		Paid:           paid,
		PaymentLinkID:  linkID,
		ConfirmedAt:    r.now(),
	})
}

// publishSettlement reports the outcome of a settled link. c supplies the
// schedule and email when it still describes the link.
func (r *Router) publishSettlement(ctx context.Context, link payments.Link, c *Context) {
	if c == nil || c.MultiSession == nil || c.Payment == nil || c.Payment.LinkID != link.ID {
		c = &Context{ConversationID: link.ConversationID, OrgID: link.OrgID, ContactID: link.ContactID}
	}
	var (
		name     = link.Description
		schedule []scheduling.SessionScheduleEntry
	)
	if c.MultiSession != nil {
		name = c.MultiSession.ServiceName
		schedule = c.MultiSession.Schedule
	}

	if link.Status == payments.StatusPaid {
		r.publishConfirmed(ctx, c, name, slotsFromSchedule(link.BookingIDs, schedule), true, link.ID)
		return
	}
	r.tasks.Publish(ctx, link.OrgID, "payment_link:"+link.ID, events.BookingsRolledBackV1{
		OrgID:         link.OrgID,
		BookingIDs:    link.BookingIDs,
		PaymentLinkID: link.ID,
		Reason:        string(link.Status),
		RolledBackAt:  r.now(),
	})
}

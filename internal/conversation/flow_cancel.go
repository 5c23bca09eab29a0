package conversation

import (
	"context"
	"time"

	"github.com/wolfman30/medspa-booking-engine/internal/bookings"
	"github.com/wolfman30/medspa-booking-engine/internal/events"
)

// flowAction is what a pure transition asks the flow to do next.
type flowAction string

const (
	actionNoBookings      flowAction = "no_bookings"
	actionPromptSelection flowAction = "prompt_selection"
	actionPromptReason    flowAction = "prompt_reason"
	actionPromptDateTime  flowAction = "prompt_datetime"
	actionPastDateTime    flowAction = "past_datetime"
	actionCommit          flowAction = "commit"
)

// selectionInput is what a turn offers to the booking selection step.
// Choice is the 1-based menu number in the message, or 0.
type selectionInput struct {
	Bookings []bookings.Booking
	Choice   int
}

// selectBooking resolves the booking selection step. It returns the chosen
// booking ID, whether the current message may also be read for the next slot
// (true only when the choice was automatic), and the action when nothing was
// chosen.
func selectBooking(in selectionInput) (string, bool, flowAction) {
	switch n := len(in.Bookings); {
	case n == 0:
		return "", false, actionNoBookings
	case n == 1:
		return in.Bookings[0].ID, true, ""
	case in.Choice >= 1 && in.Choice <= n:
		return in.Bookings[in.Choice-1].ID, false, ""
	default:
		return "", false, actionPromptSelection
	}
}

type cancelState struct {
	Step     CancelStep
	Selected string
	Reason   string
	Pending  string
}

type cancelInput struct {
	selectionInput
	Reason string
}

// transitionCancel advances the cancellation flow by one message. Slots
// already filled are never asked for again. A reason given while the booking
// is still being chosen is held as Pending and used once selection finishes.
func transitionCancel(s cancelState, in cancelInput) (cancelState, flowAction) {
	if s.Step == "" {
		s.Step = CancelStepSelectBooking
	}
	if s.Step == CancelStepSelectBooking {
		id, readSameMessage, action := selectBooking(in.selectionInput)
		if id == "" {
			if action == actionNoBookings {
				s.Step = CancelStepDone
			}
			if in.Reason != "" {
				s.Pending = in.Reason
			}
			return s, action
		}
		s.Selected = id
		s.Step = CancelStepCollectReason
		if !readSameMessage || in.Reason == "" {
			in.Reason = s.Pending
		}
		s.Pending = ""
	}
	if s.Step == CancelStepCollectReason {
		if s.Reason == "" {
			s.Reason = in.Reason
		}
		if s.Reason == "" {
			return s, actionPromptReason
		}
		s.Step = CancelStepDone
		return s, actionCommit
	}
	return s, actionCommit
}

type rescheduleState struct {
	Step     RescheduleStep
	Selected string
	Proposed *time.Time
	Pending  *time.Time
}

type rescheduleInput struct {
	selectionInput
	DateTime DateTimeResult
	Now      time.Time
}

// transitionReschedule advances the rescheduling flow by one message. A
// proposed time must carry both a date and a time and be strictly after now.
// A complete date and time given before the booking is chosen is held as
// Pending and checked once selection finishes.
func transitionReschedule(s rescheduleState, in rescheduleInput) (rescheduleState, flowAction) {
	if s.Step == "" {
		s.Step = RescheduleStepSelectBooking
	}
	if s.Step == RescheduleStepSelectBooking {
		id, readSameMessage, action := selectBooking(in.selectionInput)
		if id == "" {
			if action == actionNoBookings {
				s.Step = RescheduleStepDone
			}
			if in.DateTime.Complete() {
				t := in.DateTime.Time
				s.Pending = &t
			}
			return s, action
		}
		s.Selected = id
		s.Step = RescheduleStepCollectDateTime
		if !readSameMessage || !in.DateTime.Complete() {
			in.DateTime = pendingDateTime(s.Pending)
		}
		s.Pending = nil
	}
	if s.Step == RescheduleStepCollectDateTime {
		if s.Proposed == nil {
			if !in.DateTime.Complete() {
				return s, actionPromptDateTime
			}
			if !in.DateTime.Time.After(in.Now) {
				return s, actionPastDateTime
			}
			t := in.DateTime.Time
			s.Proposed = &t
		}
		s.Step = RescheduleStepDone
		return s, actionCommit
	}
	return s, actionCommit
}

func pendingDateTime(t *time.Time) DateTimeResult {
	if t == nil {
		return DateTimeResult{}
	}
	return DateTimeResult{Found: true, HasDate: true, HasTime: true, Time: *t}
}

// loadBookings fills the context's booking snapshot once.
func (r *Router) loadBookings(ctx context.Context, c *Context) error {
	if c.BookingsLoaded {
		return nil
	}
	list, err := r.bookings.ListActiveForContact(ctx, c.OrgID, c.ContactID, r.now())
	if err != nil {
		return err
	}
	c.CurrentBookings = list
	c.BookingsLoaded = true
	return nil
}

func (r *Router) handleCancel(ctx context.Context, c *Context, message string) Reply {
	logger := r.log(c)
	if err := r.loadBookings(ctx, c); err != nil {
		logger.Error("conversation: load bookings failed", "error", err)
		return fail()
	}
	loc := r.location(ctx, c.OrgID)

	// While a booking is still being chosen only an explicit "because ..."
	// counts as a reason; a bare menu number never does.
	choosing := c.CancelStep == "" || c.CancelStep == CancelStepSelectBooking
	in := cancelInput{selectionInput: selectionInput{Bookings: c.CurrentBookings}}
	if n, ok := ParseChoice(message); ok {
		in.Choice = n
	} else if c.CancellationReason == "" && (!choosing || hasReasonLeadIn(message)) {
		reason, err := r.extractor.ExtractReason(ctx, message)
		if err != nil {
			logger.Warn("conversation: reason extraction failed", "error", err)
		}
		in.Reason = reason
	}

	next, action := transitionCancel(cancelState{
		Step:     c.CancelStep,
		Selected: c.SelectedBookingID,
		Reason:   c.CancellationReason,
		Pending:  c.PendingReason,
	}, in)
	c.CancelStep = next.Step
	c.SelectedBookingID = next.Selected
	c.CancellationReason = next.Reason
	c.PendingReason = next.Pending

	switch action {
	case actionNoBookings:
		return complete(noBookingsMessage(c.Intent))
	case actionPromptSelection:
		return continueWith(selectionPrompt(c.Intent, c.CurrentBookings, loc))
	case actionPromptReason:
		return continueWith(msgReasonPrompt)
	}
	return r.commitCancel(ctx, c, loc)
}

func (r *Router) commitCancel(ctx context.Context, c *Context, loc *time.Location) Reply {
	logger := r.log(c)
	booking, ok := c.SelectedBooking()
	if !ok {
		logger.Error("conversation: selected booking missing from snapshot", "booking_id", c.SelectedBookingID)
		return fail()
	}
	now := r.now()

	fee := 0
	if policy, err := r.catalog.Policy(ctx, c.OrgID); err != nil {
		logger.Warn("conversation: policy lookup failed, no cancellation fee applied", "error", err)
	} else {
		fee = policy.Cancellation.FeeFor(booking.StartTime, now)
	}

	if err := r.bookings.Cancel(ctx, c.OrgID, booking.ID, c.CancellationReason, fee); err != nil {
		logger.Error("conversation: cancel booking failed", "booking_id", booking.ID, "error", err)
		return fail()
	}
	logger.Info("conversation: booking cancelled", "booking_id", booking.ID, "fee_cents", fee)

	r.tasks.Publish(ctx, c.OrgID, "booking:"+booking.ID, events.BookingCancelledV1{
		OrgID:          c.OrgID,
		ConversationID: c.ConversationID,
		ContactID:      c.ContactID,
		BookingID:      booking.ID,
		ServiceName:    booking.ServiceName,
		StartTime:      booking.StartTime,
		Reason:         c.CancellationReason,
		FeeCents:       fee,
		CancelledAt:    now,
	})
	return complete(cancelledMessage(booking, fee, r.suggester.Suggest(booking.ServiceName), loc))
}

// handleReschedule runs the email guard before the flow. A message held back
// by the guard is replayed once the guard lets the flow through; when the
// releasing message carries the email address, the replayed turn's reply stands.
func (r *Router) handleReschedule(ctx context.Context, c *Context, message string) Reply {
	prompt, err := r.guard.Check(ctx, c, message)
	if err != nil {
		r.log(c).Error("conversation: email guard failed", "error", err)
		return fail()
	}
	if prompt != "" {
		if c.DeferredMessage == "" {
			c.DeferredMessage = message
		}
		return continueWith(prompt)
	}
	if deferred := c.DeferredMessage; deferred != "" {
		c.DeferredMessage = ""
		reply := r.rescheduleTurn(ctx, c, deferred)
		if reply.Outcome != OutcomeContinued || ExtractEmail(message) != "" {
			return reply
		}
	}
	return r.rescheduleTurn(ctx, c, message)
}

func (r *Router) rescheduleTurn(ctx context.Context, c *Context, message string) Reply {
	logger := r.log(c)
	if err := r.loadBookings(ctx, c); err != nil {
		logger.Error("conversation: load bookings failed", "error", err)
		return fail()
	}
	loc := r.location(ctx, c.OrgID)
	now := r.now()

	in := rescheduleInput{selectionInput: selectionInput{Bookings: c.CurrentBookings}, Now: now}
	if n, ok := ParseChoice(message); ok && c.RescheduleStep != RescheduleStepCollectDateTime {
		in.Choice = n
	} else if c.ProposedDateTime == nil {
		dt, err := r.extractor.ExtractDateTime(ctx, message, now, loc)
		if err != nil {
			logger.Warn("conversation: date extraction failed", "error", err)
		}
		in.DateTime = dt
	}

	next, action := transitionReschedule(rescheduleState{
		Step:     c.RescheduleStep,
		Selected: c.SelectedBookingID,
		Proposed: c.ProposedDateTime,
		Pending:  c.PendingDateTime,
	}, in)
	c.RescheduleStep = next.Step
	c.SelectedBookingID = next.Selected
	c.ProposedDateTime = next.Proposed
	c.PendingDateTime = next.Pending

	switch action {
	case actionNoBookings:
		return complete(noBookingsMessage(c.Intent))
	case actionPromptSelection:
		return continueWith(selectionPrompt(c.Intent, c.CurrentBookings, loc))
	case actionPromptDateTime:
		return continueWith(msgDateTimePrompt)
	case actionPastDateTime:
		return continueWith(msgPastDateTime)
	}
	return r.commitReschedule(ctx, c, loc)
}

func (r *Router) commitReschedule(ctx context.Context, c *Context, loc *time.Location) Reply {
	logger := r.log(c)
	booking, ok := c.SelectedBooking()
	if !ok || c.ProposedDateTime == nil {
		logger.Error("conversation: reschedule commit without selection", "booking_id", c.SelectedBookingID)
		return fail()
	}
	requested := *c.ProposedDateTime
	if err := r.bookings.RequestReschedule(ctx, c.OrgID, booking.ID, requested); err != nil {
		logger.Error("conversation: reschedule request failed", "booking_id", booking.ID, "error", err)
		return fail()
	}
	logger.Info("conversation: reschedule requested", "booking_id", booking.ID, "requested_start", requested)

	r.tasks.Publish(ctx, c.OrgID, "booking:"+booking.ID, events.RescheduleRequestedV1{
		OrgID:          c.OrgID,
		ConversationID: c.ConversationID,
		ContactID:      c.ContactID,
		BookingID:      booking.ID,
		CurrentStart:   booking.StartTime,
		RequestedStart: requested,
		RequestedAt:    r.now(),
	})
	return complete(rescheduleRequestedMessage(booking, requested, loc))
}

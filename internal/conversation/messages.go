package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/medspa-booking-engine/internal/bookings"
	"github.com/wolfman30/medspa-booking-engine/internal/clinic"
	"github.com/wolfman30/medspa-booking-engine/internal/payments"
	"github.com/wolfman30/medspa-booking-engine/internal/scheduling"
)

const (
	msgApology          = "Sorry - I'm having trouble completing that right now. Please text us again in a few minutes and we'll get it sorted."
	msgStartOver        = "Sorry, I lost track of our conversation. Let's start over - are you looking to book, reschedule, or cancel an appointment?"
	msgHelp             = "Hi! I can help you book a new appointment, reschedule, or cancel one. What would you like to do?"
	msgNoBookingsSuffix = "Would you like to book a new appointment instead? Just tell me which service you're interested in."
	msgReasonPrompt     = "Sorry to hear you need to cancel. Could you share the reason for cancelling?"
	msgDateTimePrompt   = "What new date and time would work for you? For example, \"Tuesday, March 4 at 2pm\"."
	msgPastDateTime     = "That time has already passed. Please send a future date and time, for example \"Tuesday, March 4 at 2pm\"."
	msgEmailMandatory   = "Before I can book this, I need an email address for your confirmation. What's the best email for you?"
	msgEmailGentle      = "What's the best email for your booking confirmation? If you'd rather not share one, just tell me which service you'd like."
	msgPlanDeclined     = "No problem, I haven't booked anything. Text me whenever you'd like to pick new dates."
	msgPaymentCheckFail = "I'm having trouble checking your payment right now. Please reply again in a moment."
	msgPaymentLost      = "Sorry, I couldn't find your payment details, so those times were not held. Text me if you'd like to start again."
	msgLinkUnavailable  = "Sorry, I couldn't create your payment link, so I wasn't able to hold those times. Please try again in a few minutes."
	msgConfirmSuffix    = "Reply YES to book these sessions or NO to start over."
)

const (
	exampleDateTime = "\"March 4 at 2pm\""
	whenLayout      = "Monday, January 2 at 3:04 PM"
)

func formatWhen(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(whenLayout)
}

func noBookingsMessage(intent Intent) string {
	verb := "cancel"
	if intent == IntentReschedule {
		verb = "reschedule"
	}
	return fmt.Sprintf("I don't see any upcoming appointments to %s. %s", verb, msgNoBookingsSuffix)
}

func selectionPrompt(intent Intent, list []bookings.Booking, loc *time.Location) string {
	verb := "cancel"
	if intent == IntentReschedule {
		verb = "reschedule"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Which appointment would you like to %s?\n", verb)
	for i, bk := range list {
		fmt.Fprintf(&b, "%d. %s - %s\n", i+1, bk.ServiceName, formatWhen(bk.StartTime, loc))
	}
	b.WriteString("Reply with the number.")
	return b.String()
}

func cancelledMessage(b bookings.Booking, feeCents int, suggestion string, loc *time.Location) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Your %s on %s has been cancelled.", b.ServiceName, formatWhen(b.StartTime, loc))
	if feeCents > 0 {
		fmt.Fprintf(&sb, " Because it was within our cancellation window, a late cancellation fee of %s applies.", payments.FormatCents(feeCents))
	}
	if suggestion != "" {
		sb.WriteString(" ")
		sb.WriteString(suggestion)
	}
	return sb.String()
}

func rescheduleRequestedMessage(b bookings.Booking, requested time.Time, loc *time.Location) string {
	return fmt.Sprintf("Got it! I've requested to move your %s from %s to %s. We'll text you as soon as the new time is confirmed.",
		b.ServiceName, formatWhen(b.StartTime, loc), formatWhen(requested, loc))
}

func servicesMenu(services []clinic.Service) string {
	if len(services) == 0 {
		return "Sorry, we don't have any services open for online booking right now. Please call us and we'll help you directly."
	}
	var b strings.Builder
	b.WriteString("Which service would you like to book?\n")
	for i, svc := range services {
		fmt.Fprintf(&b, "%d. %s\n", i+1, svc.Name)
	}
	b.WriteString("Reply with the number or the name.")
	return b.String()
}

func singleSessionMessage(svc clinic.Service, hint string) string {
	hint = strings.TrimSpace(hint)
	if hint != "" {
		hint += " "
	}
	return fmt.Sprintf("Great choice! %sWhat date and time would work best for your %s? For example, %s.", hint, svc.Name, exampleDateTime)
}

func spacingSummary(ms *MultiSessionState, buffer scheduling.BufferConfig) string {
	last := ms.FirstSessionNumber + ms.SessionsToBook - 1
	if ms.SessionsToBook <= 1 {
		return ""
	}
	parts := make([]string, 0, ms.SessionsToBook-1)
	for n := ms.FirstSessionNumber; n < last; n++ {
		parts = append(parts, fmt.Sprintf("%d to %d: %s", n, n+1, buffer.GapAfter(n)))
	}
	return "Spacing between sessions: " + strings.Join(parts, ", ") + "."
}

// datePrompt asks for the date of the next session. It depends only on the
// state so that repeating the question repeats the text.
func datePrompt(ms *MultiSessionState, buffer scheduling.BufferConfig) string {
	next := ms.NextSessionNumber()
	switch ms.Strategy {
	case scheduling.StrategyImmediate:
		var b strings.Builder
		fmt.Fprintf(&b, "%s is a %d-session treatment, and I'll book all %d remaining sessions for you at once. ", ms.ServiceName, ms.TotalSessions, ms.SessionsToBook)
		if s := spacingSummary(ms, buffer); s != "" {
			b.WriteString(s + " ")
		}
		fmt.Fprintf(&b, "What date and time would you like for session %d? For example, %s.", next, exampleDateTime)
		return b.String()
	case scheduling.StrategySequential:
		return fmt.Sprintf("%s sessions are booked one at a time. What date and time would you like for session %d of %d? For example, %s.",
			ms.ServiceName, next, ms.TotalSessions, exampleDateTime)
	default:
		return fmt.Sprintf("What date and time would you like for session %d of %d? For example, %s.", next, ms.TotalSessions, exampleDateTime)
	}
}

func sessionCountPrompt(ms *MultiSessionState) string {
	remaining := ms.TotalSessions - ms.FirstSessionNumber + 1
	if remaining == 1 {
		return fmt.Sprintf("%s is a %d-session treatment and you have 1 session left to book. Reply 1 to book it.", ms.ServiceName, ms.TotalSessions)
	}
	return fmt.Sprintf("%s is a %d-session treatment and you have %d sessions left to book. How many would you like to book now? Reply a number from 1 to %d, or \"all\".",
		ms.ServiceName, ms.TotalSessions, remaining, remaining)
}

func scheduleReview(ms *MultiSessionState, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Here's your %s plan:\n", ms.ServiceName)
	for _, e := range ms.Schedule {
		fmt.Fprintf(&b, "Session %d: %s\n", e.SessionNumber, formatWhen(e.StartTime, loc))
	}
	b.WriteString(msgConfirmSuffix)
	return b.String()
}

func gapTooShortMessage(ms *MultiSessionState, prev time.Time, buffer scheduling.BufferConfig, loc *time.Location) string {
	next := ms.NextSessionNumber()
	if buffer.MinimumGap.IsZero() {
		return fmt.Sprintf("Session %d needs to be after session %d (%s). %s",
			next, next-1, formatWhen(prev, loc), datePrompt(ms, buffer))
	}
	return fmt.Sprintf("Session %d needs to be at least %s after session %d (%s). %s",
		next, buffer.MinimumGap, next-1, formatWhen(prev, loc), datePrompt(ms, buffer))
}

func sessionList(entries []scheduling.SessionScheduleEntry, loc *time.Location) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("Session %d: %s", e.SessionNumber, formatWhen(e.StartTime, loc)))
	}
	return strings.Join(lines, "\n")
}

func bookedMessage(ms *MultiSessionState, loc *time.Location, unpaid bool) string {
	msg := fmt.Sprintf("You're all set! Your %s sessions are booked:\n%s", ms.ServiceName, sessionList(ms.Schedule, loc))
	if unpaid {
		msg += "\nWe couldn't send a payment link, so we'll collect payment at your visit."
	}
	return msg
}

func progressMessage(ms *MultiSessionState, p bookings.SessionProgress) string {
	return fmt.Sprintf("You've booked %d of your %d %s sessions and completed %d. Session %d can be booked once session %d is complete. We'll remind you when it's time!",
		p.Booked, p.Total, ms.ServiceName, p.Completed, p.Booked+1, p.Booked)
}

func planFinishedMessage(serviceName string, total int) string {
	return fmt.Sprintf("You've completed all %d of your %s sessions. Congratulations! If you'd like to start a new series, just let us know.", total, serviceName)
}

func planFullyBookedMessage(serviceName string, p bookings.SessionProgress) string {
	return fmt.Sprintf("All %d of your %s sessions are already booked (%d completed). Nothing else to book right now!", p.Total, serviceName, p.Completed)
}

func paymentPendingMessage(p *PaymentState, now time.Time) string {
	remaining := p.ExpiresAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	msg := fmt.Sprintf("We're still waiting on your %s payment. Your times are held for another %s.", payments.FormatCents(p.AmountCents), payments.FormatDuration(remaining))
	if p.LinkURL != "" {
		msg += " You can pay here: " + p.LinkURL
	}
	return msg
}

func paymentResolvedMessage(status payments.Status, serviceName string, entries []scheduling.SessionScheduleEntry, loc *time.Location) string {
	switch status {
	case payments.StatusPaid:
		if len(entries) == 0 {
			return fmt.Sprintf("Payment received, thank you! Your %s booking is confirmed.", serviceName)
		}
		return fmt.Sprintf("Payment received, thank you! Your %s sessions are confirmed:\n%s", serviceName, sessionList(entries, loc))
	case payments.StatusExpired:
		return fmt.Sprintf("Your payment link expired, so I've released the %s times I was holding. Text me anytime to pick new dates.", serviceName)
	default:
		return fmt.Sprintf("Your payment didn't go through, so I've released the %s times I was holding. Text me anytime to try again.", serviceName)
	}
}

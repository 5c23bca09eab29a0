package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/wolfman30/medspa-booking-engine/internal/clinic"
	"github.com/wolfman30/medspa-booking-engine/internal/rebooking"
	"github.com/wolfman30/medspa-booking-engine/internal/scheduling"
)

// seriesBuffer returns the service's spacing rules, falling back to the
// treatment interval table when the clinic configured none.
func seriesBuffer(svc clinic.Service) scheduling.BufferConfig {
	if svc.MultiSession != nil && !svc.MultiSession.Buffer.IsZero() {
		return svc.MultiSession.Buffer
	}
	if b, ok := rebooking.SeriesBuffer(svc.Name); ok {
		return b
	}
	return scheduling.BufferConfig{}
}

// startMultiSession opens a treatment plan. The customer's existing progress
// decides the first session number, and for sequential plans whether
// anything may be booked at all.
func (r *Router) startMultiSession(ctx context.Context, c *Context, svc clinic.Service, message string) Reply {
	logger := r.log(c)
	total := svc.MultiSession.TotalSessionsRequired

	progress, err := r.bookings.SessionProgress(ctx, c.OrgID, c.ContactID, svc.ID, total)
	if err != nil {
		logger.Error("conversation: session progress lookup failed", "service_id", svc.ID, "error", err)
		return fail()
	}

	ms := &MultiSessionState{
		ServiceID:          svc.ID,
		ServiceName:        svc.Name,
		Strategy:           svc.MultiSession.Strategy,
		TotalSessions:      total,
		FirstSessionNumber: progress.Booked + 1,
	}
	if progress.Finished() {
		c.NewBookingStep = NewBookingStepDone
		return complete(planFinishedMessage(svc.Name, total))
	}

	switch ms.Strategy {
	case scheduling.StrategySequential:
		if progress.InProgress() {
			logger.Info("conversation: sequential plan blocked until current session completes",
				"service_id", svc.ID,
				"booked", progress.Booked,
				"completed", progress.Completed,
				"total", progress.Total,
			)
			c.NewBookingStep = NewBookingStepDone
			return reject(progressMessage(ms, progress))
		}
		ms.SessionsToBook = 1
		ms.Step = MultiSessionCollectDates
	case scheduling.StrategyFlexible:
		if progress.Remaining() == 0 {
			c.NewBookingStep = NewBookingStepDone
			return reject(planFullyBookedMessage(svc.Name, progress))
		}
		ms.Step = MultiSessionConfirmStrategy
		c.MultiSession = ms
		c.NewBookingStep = NewBookingStepMultiSession
		return continueWith(sessionCountPrompt(ms))
	default:
		if progress.Remaining() == 0 {
			c.NewBookingStep = NewBookingStepDone
			return reject(planFullyBookedMessage(svc.Name, progress))
		}
		ms.SessionsToBook = progress.Remaining()
		ms.Step = MultiSessionCollectDates
	}

	c.MultiSession = ms
	c.NewBookingStep = NewBookingStepMultiSession
	return r.collectSessionDate(ctx, c, svc, message)
}

func (r *Router) handleMultiSession(ctx context.Context, c *Context, message string) Reply {
	logger := r.log(c)
	ms := c.MultiSession
	svc, err := r.catalog.Service(ctx, c.OrgID, ms.ServiceID)
	if err != nil {
		logger.Error("conversation: service lookup failed", "service_id", ms.ServiceID, "error", err)
		return fail()
	}

	switch ms.Step {
	case MultiSessionConfirmStrategy:
		return r.collectSessionCount(ctx, c, svc, message)
	case MultiSessionCollectDates:
		return r.collectSessionDate(ctx, c, svc, message)
	case MultiSessionConfirmAll:
		return r.confirmPlan(ctx, c, svc, message)
	default:
		// awaiting_payment without a link: the payment state was lost.
		logger.Error("conversation: multi-session step without payment state", "step", string(ms.Step))
		return fail()
	}
}

func (r *Router) collectSessionCount(ctx context.Context, c *Context, svc clinic.Service, message string) Reply {
	ms := c.MultiSession
	remaining := ms.TotalSessions - ms.FirstSessionNumber + 1

	n, ok := 0, false
	if strings.Contains(" "+normalizeText(message)+" ", " all ") {
		n, ok = remaining, true
	} else {
		var err error
		n, ok, err = r.extractor.ExtractSessionCount(ctx, message)
		if err != nil {
			r.log(c).Warn("conversation: session count extraction failed", "error", err)
		}
	}
	if !ok || n < 1 || n > remaining {
		return continueWith(sessionCountPrompt(ms))
	}

	ms.SessionsToBook = n
	ms.Step = MultiSessionCollectDates
	return continueWith(datePrompt(ms, seriesBuffer(svc)))
}

// collectSessionDate reads one session date. Immediate and sequential plans
// need only the first date; flexible plans collect one date per session, in order.
func (r *Router) collectSessionDate(ctx context.Context, c *Context, svc clinic.Service, message string) Reply {
	logger := r.log(c)
	ms := c.MultiSession
	buffer := seriesBuffer(svc)
	loc := r.location(ctx, c.OrgID)
	now := r.now()

	dt, err := r.extractor.ExtractDateTime(ctx, message, now, loc)
	if err != nil {
		logger.Warn("conversation: date extraction failed", "error", err)
	}
	if !dt.Complete() {
		return continueWith(datePrompt(ms, buffer))
	}
	if !dt.Time.After(now) {
		return continueWith(msgPastDateTime)
	}

	var entries []scheduling.SessionScheduleEntry
	if ms.Strategy == scheduling.StrategyFlexible {
		if n := len(ms.CollectedDates); n > 0 {
			prev := ms.CollectedDates[n-1]
			if err := scheduling.ValidateNext(prev, dt.Time, buffer); err != nil {
				return continueWith(gapTooShortMessage(ms, prev, buffer, loc))
			}
		}
		ms.CollectedDates = append(ms.CollectedDates, dt.Time)
		if len(ms.CollectedDates) < ms.SessionsToBook {
			return continueWith(datePrompt(ms, buffer))
		}
		entries, err = scheduling.ScheduleFromDates(ms.CollectedDates, ms.FirstSessionNumber, svc.Duration(), buffer)
	} else {
		ms.CollectedDates = []time.Time{dt.Time}
		entries, err = scheduling.Compute(scheduling.Request{
			Strategy:           ms.Strategy,
			Start:              dt.Time,
			Buffer:             buffer,
			SessionCount:       ms.SessionsToBook,
			FirstSessionNumber: ms.FirstSessionNumber,
			Duration:           svc.Duration(),
		})
	}
	if err != nil {
		logger.Error("conversation: schedule computation failed", "service_id", svc.ID, "error", err)
		return fail()
	}

	ms.Schedule = entries
	ms.Step = MultiSessionConfirmAll
	return continueWith(scheduleReview(ms, loc))
}

func (r *Router) confirmPlan(ctx context.Context, c *Context, svc clinic.Service, message string) Reply {
	switch ExtractConfirmation(message) {
	case ConfirmationYes:
		return r.commitPlan(ctx, c, svc)
	case ConfirmationNo:
		c.NewBookingStep = NewBookingStepDone
		return reject(msgPlanDeclined)
	default:
		return continueWith(scheduleReview(c.MultiSession, r.location(ctx, c.OrgID)))
	}
}

package conversation

import (
	"context"
	"regexp"
	"strings"

	"github.com/wolfman30/medspa-booking-engine/internal/clinic"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

func normalizeText(s string) string {
	return strings.TrimSpace(nonAlnum.ReplaceAllString(strings.ToLower(s), " "))
}

// matchService finds the active service named in message. Names and aliases
// match on word boundaries and the longest match wins, so "laser hair
// removal" beats "laser".
func matchService(services []clinic.Service, message string) (clinic.Service, bool) {
	text := " " + normalizeText(message) + " "
	var (
		best    clinic.Service
		bestLen int
	)
	for _, svc := range services {
		for _, name := range svc.Names() {
			key := normalizeText(name)
			if key == "" || len(key) <= bestLen {
				continue
			}
			if strings.Contains(text, " "+key+" ") {
				best, bestLen = svc, len(key)
			}
		}
	}
	return best, bestLen > 0
}

func (r *Router) handleNewBooking(ctx context.Context, c *Context, message string) Reply {
	logger := r.log(c)

	prompt, err := r.guard.Check(ctx, c, message)
	if err != nil {
		logger.Error("conversation: email guard failed", "error", err)
		return fail()
	}
	if prompt != "" {
		if c.NewBookingStep != NewBookingStepMultiSession && c.DeferredMessage == "" {
			c.DeferredMessage = message
		}
		return continueWith(prompt)
	}

	if c.NewBookingStep == NewBookingStepMultiSession && c.MultiSession != nil {
		return r.handleMultiSession(ctx, c, message)
	}

	services, err := r.catalog.ActiveServices(ctx, c.OrgID)
	if err != nil {
		logger.Error("conversation: load services failed", "error", err)
		return fail()
	}

	source := message
	svc, ok := matchService(services, message)
	if !ok && c.NewBookingStep == NewBookingStepChooseService {
		if n, isChoice := ParseChoice(message); isChoice && n >= 1 && n <= len(services) {
			svc, ok = services[n-1], true
		}
	}
	if !ok && c.DeferredMessage != "" {
		svc, ok = matchService(services, c.DeferredMessage)
		source = c.DeferredMessage
	}
	c.DeferredMessage = ""
	if !ok {
		c.NewBookingStep = NewBookingStepChooseService
		return continueWith(servicesMenu(services))
	}
	logger.Info("conversation: service resolved", "service_id", svc.ID, "multi_session", svc.IsMultiSession())

	if svc.IsMultiSession() {
		return r.startMultiSession(ctx, c, svc, source)
	}

	hint := ""
	if r.recommender != nil {
		if h, err := r.recommender.Recommend(ctx, c.OrgID, svc.ID, r.now()); err != nil {
			logger.Warn("conversation: recommendation failed", "service_id", svc.ID, "error", err)
		} else {
			hint = h
		}
	}
	c.NewBookingStep = NewBookingStepDone
	return complete(singleSessionMessage(svc, hint))
}

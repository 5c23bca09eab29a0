package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/medspa-booking-engine/internal/clinic"
	"github.com/wolfman30/medspa-booking-engine/internal/contacts"
	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

// ContactStore reads and updates the contact behind a conversation.
type ContactStore interface {
	GetByID(ctx context.Context, orgID, id string) (*contacts.Contact, error)
	UpdateEmail(ctx context.Context, orgID, id, email string) error
}

// PolicySource returns the effective booking policy of an org.
type PolicySource interface {
	Policy(ctx context.Context, orgID string) (clinic.Policy, error)
}

// EmailGuard applies the org's email collection mode before a booking moves forward.
type EmailGuard struct {
	contacts ContactStore
	policies PolicySource
	logger   *logging.Logger
}

// NewEmailGuard builds a guard. contacts may be nil, in which case collected
// addresses live only on the context.
func NewEmailGuard(contacts ContactStore, policies PolicySource, logger *logging.Logger) *EmailGuard {
	if policies == nil {
		panic("conversation: policy source required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &EmailGuard{contacts: contacts, policies: policies, logger: logger}
}

// Check returns a prompt when the booking must wait for an email address, or
// "" when the flow may proceed. An address found in message is saved to the
// contact. Under gentle collection the prompt is returned at most once per context.
func (g *EmailGuard) Check(ctx context.Context, c *Context, message string) (string, error) {
	if c.ContactEmail != "" {
		return "", nil
	}

	mode := clinic.EmailGentle
	if policy, err := g.policies.Policy(ctx, c.OrgID); err != nil {
		g.logger.Warn("conversation: policy lookup failed, using gentle email collection", "org_id", c.OrgID, "error", err)
	} else if policy.EmailCollectionMode != "" {
		mode = policy.EmailCollectionMode
	}
	if mode == clinic.EmailSkip {
		return "", nil
	}

	if g.contacts != nil && c.ContactID != "" {
		contact, err := g.contacts.GetByID(ctx, c.OrgID, c.ContactID)
		switch {
		case err == nil && contact.HasEmail():
			c.ContactEmail = contact.Email
			return "", nil
		case err != nil && !errors.Is(err, contacts.ErrContactNotFound):
			g.logger.Warn("conversation: contact lookup failed", "org_id", c.OrgID, "contact_id", c.ContactID, "error", err)
		}
	}

	if email := ExtractEmail(message); email != "" {
		if g.contacts != nil && c.ContactID != "" {
			if err := g.contacts.UpdateEmail(ctx, c.OrgID, c.ContactID, email); err != nil {
				return "", fmt.Errorf("conversation: save contact email: %w", err)
			}
		}
		c.ContactEmail = email
		return "", nil
	}

	if mode == clinic.EmailMandatory {
		c.EmailCollectionAsked = true
		return msgEmailMandatory, nil
	}
	if c.EmailCollectionAsked {
		return "", nil
	}
	c.EmailCollectionAsked = true
	return msgEmailGentle, nil
}

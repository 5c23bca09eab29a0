package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/medspa-booking-engine/internal/contacts"
)

// ErrOrgNotFound is returned when a clinic number maps to no org.
var ErrOrgNotFound = errors.New("messaging: org not found for number")

// OrgResolver maps the clinic number a message was sent to onto its org.
type OrgResolver interface {
	ResolveOrgID(ctx context.Context, toNumber string) (string, error)
}

// StaticOrgResolver serves a fixed number-to-org table, typically
// TWILIO_ORG_MAP_JSON, with an optional catch-all org.
type StaticOrgResolver struct {
	byNumber   map[string]string
	defaultOrg string
}

// NewStaticOrgResolver normalizes every key to E.164. Entries with an empty
// number or org are skipped.
func NewStaticOrgResolver(mapping map[string]string, defaultOrg string) *StaticOrgResolver {
	byNumber := make(map[string]string, len(mapping))
	for number, org := range mapping {
		if n := contacts.NormalizePhone(number); n != "" && org != "" {
			byNumber[n] = org
		}
	}
	return &StaticOrgResolver{byNumber: byNumber, defaultOrg: strings.TrimSpace(defaultOrg)}
}

func (r *StaticOrgResolver) ResolveOrgID(_ context.Context, toNumber string) (string, error) {
	if r == nil {
		return "", ErrOrgNotFound
	}
	if org, ok := r.byNumber[contacts.NormalizePhone(toNumber)]; ok {
		return org, nil
	}
	if r.defaultOrg == "" {
		return "", ErrOrgNotFound
	}
	return r.defaultOrg, nil
}

// ParseOrgMap decodes a JSON object of phone number to org id. Blank input
// is an empty map.
func ParseOrgMap(raw string) (map[string]string, error) {
	out := map[string]string{}
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("messaging: parse org map: %w", err)
	}
	return out, nil
}

// ConversationID is the stable id of an SMS conversation between a customer
// and a clinic: sms:<org>:<customer digits>.
func ConversationID(orgID, from string) string {
	return "sms:" + orgID + ":" + strings.TrimPrefix(contacts.NormalizePhone(from), "+")
}

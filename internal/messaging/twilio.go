package messaging

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/wolfman30/medspa-booking-engine/internal/contacts"
)

var errIncompleteSMS = errors.New("messaging: missing required twilio fields")

// InboundSMS is the part of a Twilio messaging webhook the engine reads.
// Numbers are E.164 and the body is trimmed.
type InboundSMS struct {
	MessageSID string
	AccountSID string
	From       string
	To         string
	Body       string
}

func ParseInboundSMS(r *http.Request) (*InboundSMS, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("messaging: parse form: %w", err)
	}
	field := func(name string) string { return strings.TrimSpace(r.PostForm.Get(name)) }
	msg := &InboundSMS{
		MessageSID: field("MessageSid"),
		AccountSID: field("AccountSid"),
		From:       contacts.NormalizePhone(field("From")),
		To:         contacts.NormalizePhone(field("To")),
		Body:       field("Body"),
	}
	if msg.MessageSID == "" || msg.From == "" || msg.Body == "" {
		return nil, errIncompleteSMS
	}
	return msg, nil
}

// SignTwilioRequest computes X-Twilio-Signature for a form post: base64 of
// HMAC-SHA1 over the URL followed by every sorted key and its values.
func SignTwilioRequest(authToken, webhookURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(webhookURL))
	for _, k := range keys {
		for _, v := range params[k] {
			mac.Write([]byte(k + v))
		}
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidateTwilioSignature reports whether r carries a valid signature.
// webhookURL must be the exact public URL Twilio posted to.
func ValidateTwilioSignature(r *http.Request, authToken, webhookURL string) bool {
	got := r.Header.Get("X-Twilio-Signature")
	if got == "" || r.ParseForm() != nil {
		return false
	}
	want := SignTwilioRequest(authToken, webhookURL, r.PostForm)
	return hmac.Equal([]byte(got), []byte(want))
}

// RequestURL rebuilds the absolute URL Twilio called. publicBaseURL wins
// over forwarded headers when set.
func RequestURL(r *http.Request, publicBaseURL string) string {
	if r.URL == nil {
		return ""
	}
	if base := strings.TrimRight(publicBaseURL, "/"); base != "" {
		return base + r.URL.RequestURI()
	}
	if r.URL.IsAbs() {
		return r.URL.String()
	}

	u := url.URL{Scheme: r.Header.Get("X-Forwarded-Proto"), Host: r.Header.Get("X-Forwarded-Host")}
	if u.Scheme == "" {
		u.Scheme = "http"
		if r.TLS != nil {
			u.Scheme = "https"
		}
	}
	if u.Host == "" {
		u.Host = r.Host
	}
	return u.String() + r.URL.RequestURI()
}

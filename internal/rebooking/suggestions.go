package rebooking

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

var suggestionTemplates = []string{
	"Whenever you're ready to get your %s back on the calendar, just text me and I'll find a time.",
	"No worries at all. If you'd like to rebook your %s, reply anytime and I'll check availability.",
	"Life happens! Let me know when you'd like to reschedule your %s and I'll take care of it.",
	"We'd love to see you soon. Just reply here whenever you want to set up a new %s.",
}

// Suggester picks a soft rebooking nudge from a fixed set of phrasings.
type Suggester struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSuggester seeds a suggester. Pass a fixed seed for reproducible output.
func NewSuggester(seed int64) *Suggester {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Suggester{rng: rand.New(rand.NewSource(seed))}
}

// Suggest returns one phrasing for the given service name.
func (s *Suggester) Suggest(service string) string {
	service = strings.TrimSpace(service)
	if service == "" {
		service = "appointment"
	}
	idx := 0
	if s != nil && s.rng != nil {
		s.mu.Lock()
		idx = s.rng.Intn(len(suggestionTemplates))
		s.mu.Unlock()
	}
	return fmt.Sprintf(suggestionTemplates[idx], service)
}

// IsSuggestion reports whether text is one of the rebooking phrasings for service.
func IsSuggestion(text, service string) bool {
	for _, tmpl := range suggestionTemplates {
		if strings.Contains(text, fmt.Sprintf(tmpl, service)) {
			return true
		}
	}
	return false
}

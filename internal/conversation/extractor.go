package conversation

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateTimeResult is what an extractor recognized in a message. Time carries
// the date when HasDate is set and the clock time when HasTime is set.
type DateTimeResult struct {
	Found   bool
	HasDate bool
	HasTime bool
	Time    time.Time
}

// Complete reports whether both a date and a time were given.
func (r DateTimeResult) Complete() bool {
	return r.Found && r.HasDate && r.HasTime
}

// Extractor pulls structured facts out of free text. Every method is best
// effort; a miss is reported as a zero result, not an error.
type Extractor interface {
	ExtractDateTime(ctx context.Context, message string, now time.Time, loc *time.Location) (DateTimeResult, error)
	ExtractReason(ctx context.Context, message string) (string, error)
	ExtractSessionCount(ctx context.Context, message string) (int, bool, error)
}

// Confirmation is a yes/no answer.
type Confirmation int

const (
	ConfirmationUnknown Confirmation = iota
	ConfirmationYes
	ConfirmationNo
)

var (
	emailPattern  = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	choicePattern = regexp.MustCompile(`^#?(\d{1,3})[.)]?$`)

	isoDatePattern   = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})(?:[ t](\d{1,2}):(\d{2}))?\b`)
	slashDatePattern = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{2,4}))?\b`)
	monthDayPattern  = regexp.MustCompile(`\b(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s+(\d{4}))?\b`)
	dayMonthPattern  = regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\b`)
	weekdayPattern   = regexp.MustCompile(`\b(?:(next|this)\s+)?(mon|tue|tues|wed|thu|thur|thurs|fri|sat|sun)(?:day|sday|nesday|rsday|urday)?\b`)
	relativePattern  = regexp.MustCompile(`\b(today|tonight|tomorrow|tmrw)\b`)

	meridiemTimePattern = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(am|pm|a\.m\.|p\.m\.)`)
	clockTimePattern    = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	atHourPattern       = regexp.MustCompile(`\bat\s+(\d{1,2})\b`)
	namedTimePattern    = regexp.MustCompile(`\b(noon|midday)\b`)

	numberWords = map[string]int{
		"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
		"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
		"single": 1, "couple": 2, "both": 2,
	}
	monthIndex = map[string]time.Month{
		"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
		"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
		"sep": time.September, "sept": time.September, "oct": time.October,
		"nov": time.November, "dec": time.December,
	}
	weekdayIndex = map[string]time.Weekday{
		"mon": time.Monday, "tue": time.Tuesday, "tues": time.Tuesday, "wed": time.Wednesday,
		"thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "fri": time.Friday,
		"sat": time.Saturday, "sun": time.Sunday,
	}
)

// PatternExtractor recognizes common date, count, and reason phrasings
// with regular expressions. It never returns an error.
type PatternExtractor struct{}

// NewPatternExtractor returns the regexp-based extractor.
func NewPatternExtractor() *PatternExtractor {
	return &PatternExtractor{}
}

var _ Extractor = (*PatternExtractor)(nil)

// ExtractDateTime recognizes dates like "March 4", "3/4", "2030-03-04",
// "tomorrow" or "next friday" and times like "2pm", "2:30 pm" or "14:00".
// Dates without a year resolve to their next occurrence on or after now.
func (p *PatternExtractor) ExtractDateTime(ctx context.Context, message string, now time.Time, loc *time.Location) (DateTimeResult, error) {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	text := strings.ToLower(strings.TrimSpace(message))
	if text == "" {
		return DateTimeResult{}, nil
	}

	var (
		res            DateTimeResult
		year           int
		month          time.Month
		day            int
		hour, minute   int
		explicitYear   bool
		remainingInput = text
	)

	consume := func(re *regexp.Regexp) []string {
		idx := re.FindStringSubmatchIndex(remainingInput)
		if idx == nil {
			return nil
		}
		m := make([]string, len(idx)/2)
		for i := range m {
			if idx[2*i] >= 0 {
				m[i] = remainingInput[idx[2*i]:idx[2*i+1]]
			}
		}
		remainingInput = remainingInput[:idx[0]] + " " + remainingInput[idx[1]:]
		return m
	}

	if m := consume(isoDatePattern); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		if validDate(y, mo, d) {
			year, month, day, explicitYear, res.HasDate = y, time.Month(mo), d, true, true
		}
		if m[4] != "" {
			h, _ := strconv.Atoi(m[4])
			mi, _ := strconv.Atoi(m[5])
			if h < 24 && mi < 60 {
				hour, minute, res.HasTime = h, mi, true
			}
		}
	}
	if !res.HasDate {
		if m := consume(monthDayPattern); m != nil {
			d, _ := strconv.Atoi(m[2])
			month, day = monthIndex[m[1]], d
			if m[3] != "" {
				year, _ = strconv.Atoi(m[3])
				explicitYear = true
			}
			res.HasDate = validDate(max(year, 2000), int(month), day)
		} else if m := consume(dayMonthPattern); m != nil {
			d, _ := strconv.Atoi(m[1])
			month, day = monthIndex[m[2]], d
			res.HasDate = validDate(2000, int(month), day)
		} else if m := consume(slashDatePattern); m != nil {
			mo, _ := strconv.Atoi(m[1])
			d, _ := strconv.Atoi(m[2])
			month, day = time.Month(mo), d
			if m[3] != "" {
				year, _ = strconv.Atoi(m[3])
				if year < 100 {
					year += 2000
				}
				explicitYear = true
			}
			res.HasDate = validDate(max(year, 2000), mo, d)
		} else if m := consume(relativePattern); m != nil {
			target := now
			if m[1] == "tomorrow" || m[1] == "tmrw" {
				target = now.AddDate(0, 0, 1)
			}
			year, month, day = target.Date()
			explicitYear, res.HasDate = true, true
		} else if m := consume(weekdayPattern); m != nil {
			wd := weekdayIndex[m[2]]
			ahead := (int(wd) - int(now.Weekday()) + 7) % 7
			if ahead == 0 {
				ahead = 7
			}
			target := now.AddDate(0, 0, ahead)
			year, month, day = target.Date()
			explicitYear, res.HasDate = true, true
		}
	}

	if !res.HasTime {
		if m := consume(meridiemTimePattern); m != nil {
			h, _ := strconv.Atoi(m[1])
			mi := 0
			if m[2] != "" {
				mi, _ = strconv.Atoi(m[2])
			}
			if h >= 1 && h <= 12 && mi < 60 {
				pm := strings.HasPrefix(m[3], "p")
				if h == 12 {
					h = 0
				}
				if pm {
					h += 12
				}
				hour, minute, res.HasTime = h, mi, true
			}
		} else if m := consume(clockTimePattern); m != nil {
			h, _ := strconv.Atoi(m[1])
			mi, _ := strconv.Atoi(m[2])
			if h < 24 && mi < 60 {
				hour, minute, res.HasTime = businessHour(h), mi, true
			}
		} else if m := consume(namedTimePattern); m != nil {
			hour, minute, res.HasTime = 12, 0, true
		} else if m := consume(atHourPattern); m != nil {
			h, _ := strconv.Atoi(m[1])
			if h >= 1 && h <= 12 {
				hour, minute, res.HasTime = businessHour(h), 0, true
			}
		}
	}

	if !res.HasDate && !res.HasTime {
		return DateTimeResult{}, nil
	}
	res.Found = true

	if !res.HasDate {
		year, month, day = now.Date()
	} else if !explicitYear {
		year = now.Year()
		candidate := time.Date(year, month, day, 23, 59, 0, 0, loc)
		if candidate.Before(now) {
			year++
		}
	}
	res.Time = time.Date(year, month, day, hour, minute, 0, 0, loc)
	return res, nil
}

// businessHour reads an hour given without am/pm. Hours 1-7 are afternoon
// appointments; clinics are not open at 3 in the morning.
func businessHour(h int) int {
	if h >= 1 && h <= 7 {
		return h + 12
	}
	return h
}

func validDate(year, month, day int) bool {
	if month < 1 || month > 12 || day < 1 {
		return false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return t.Day() == day
}

var (
	reasonLeadIns = []string{
		"i need to cancel because", "i have to cancel because", "i'm cancelling because", "cancelling because",
		"the reason is", "reason is", "reason:", "it's because", "its because", "because of", "because",
		"cause", "since", "due to",
	}
	reasonTrailers = []string{" on me", " sorry", " please", " thanks", " thank you", " unfortunately"}
	fillerWords    = map[string]bool{
		"i": true, "i'd": true, "id": true, "im": true, "i'm": true, "need": true, "want": true, "to": true,
		"would": true, "like": true, "please": true, "pls": true, "cancel": true, "cancellation": true,
		"my": true, "the": true, "a": true, "an": true, "appointment": true, "appt": true, "booking": true,
		"can": true, "you": true, "hi": true, "hey": true, "hello": true, "yes": true, "no": true, "ok": true,
		"okay": true, "it": true, "that": true, "this": true, "one": true, "just": true, "thanks": true,
		"thank": true, "reschedule": true, "have": true, "go": true, "ahead": true, "sure": true,
	}
	wordSplit = regexp.MustCompile(`[^a-z0-9']+`)
)

// ExtractReason returns the customer's stated reason with lead-ins and
// trailing pleasantries removed. Messages made only of request words
// ("cancel please") carry no reason.
func (p *PatternExtractor) ExtractReason(ctx context.Context, message string) (string, error) {
	reason := strings.TrimSpace(message)
	reason = strings.TrimRight(reason, ".!? ")
	if reason == "" || choicePattern.MatchString(reason) {
		return "", nil
	}
	lower := strings.ToLower(reason)
	for _, lead := range reasonLeadIns {
		if idx := strings.Index(lower, lead); idx >= 0 {
			reason = strings.TrimSpace(reason[idx+len(lead):])
			lower = strings.ToLower(reason)
			break
		}
	}
	for changed := true; changed; {
		changed = false
		for _, trail := range reasonTrailers {
			if strings.HasSuffix(lower, trail) {
				reason = strings.TrimSpace(reason[:len(reason)-len(trail)])
				reason = strings.TrimRight(reason, ",.!? ")
				lower = strings.ToLower(reason)
				changed = true
			}
		}
	}
	meaningful := 0
	for _, w := range wordSplit.Split(lower, -1) {
		if w != "" && !fillerWords[w] {
			meaningful++
		}
	}
	if meaningful == 0 {
		return "", nil
	}
	return reason, nil
}

// ExtractSessionCount reads a count given as digits or a number word.
func (p *PatternExtractor) ExtractSessionCount(ctx context.Context, message string) (int, bool, error) {
	for _, w := range wordSplit.Split(strings.ToLower(message), -1) {
		if w == "" {
			continue
		}
		if n, err := strconv.Atoi(w); err == nil {
			return n, true, nil
		}
		if n, ok := numberWords[w]; ok {
			return n, true, nil
		}
	}
	return 0, false, nil
}

// ExtractEmail returns the first email address in message.
func ExtractEmail(message string) string {
	return strings.ToLower(emailPattern.FindString(message))
}

// ParseChoice reads a bare menu number such as "2", "#2" or "2.".
func ParseChoice(message string) (int, bool) {
	m := choicePattern.FindStringSubmatch(strings.TrimSpace(message))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

var (
	yesPhrases = map[string]bool{
		"yes": true, "y": true, "yeah": true, "yea": true, "yep": true, "yup": true, "sure": true,
		"ok": true, "okay": true, "k": true, "confirm": true, "confirmed": true, "correct": true,
		"absolutely": true, "perfect": true, "great": true, "definitely": true,
	}
	yesMultiWord = []string{"sounds good", "book it", "do it", "go ahead", "looks good", "that works", "works for me", "please do"}
	noPhrases    = map[string]bool{
		"no": true, "n": true, "nope": true, "nah": true, "cancel": true, "stop": true, "don't": true,
		"dont": true, "not": true, "never": true,
	}
	noMultiWord = []string{"never mind", "nevermind", "changed my mind", "no thanks", "not now"}
)

// ExtractConfirmation classifies a yes/no answer. Mixed or unrelated
// messages are unknown.
func ExtractConfirmation(message string) Confirmation {
	text := strings.ToLower(strings.TrimSpace(message))
	for _, phrase := range noMultiWord {
		if strings.Contains(text, phrase) {
			return ConfirmationNo
		}
	}
	yes, no := false, false
	for _, phrase := range yesMultiWord {
		if strings.Contains(text, phrase) {
			yes = true
		}
	}
	for _, w := range wordSplit.Split(text, -1) {
		if yesPhrases[w] {
			yes = true
		}
		if noPhrases[w] {
			no = true
		}
	}
	switch {
	case yes && !no:
		return ConfirmationYes
	case no && !yes:
		return ConfirmationNo
	default:
		return ConfirmationUnknown
	}
}

// IntentDetector classifies the opening message of a conversation.
type IntentDetector interface {
	DetectIntent(ctx context.Context, message string) (Intent, bool)
}

// PatternIntentDetector matches booking keywords.
type PatternIntentDetector struct{}

var (
	rescheduleIntentPattern = regexp.MustCompile(`\b(reschedul\w*|re-schedul\w*|move my (appointment|appt|booking)|change (my|the) (appointment|appt|booking|time|date)|different (time|day)|push (it|my appointment) back)\b`)
	cancelIntentPattern     = regexp.MustCompile(`\b(cancel\w*|call off|can't make it|cannot make it|can not make it|won't make it|won't be able to make it)\b`)
	newIntentPattern        = regexp.MustCompile(`\b(book\w*|schedul\w*|appointment|appt|sign me up|set up|make an? (appointment|appt)|come in|get (a|an|some)|interested in|availability|available|openings?)\b`)
)

// DetectIntent prefers reschedule over cancel ("cancel and move it to
// friday" is a reschedule) and cancel over a new booking.
func (PatternIntentDetector) DetectIntent(ctx context.Context, message string) (Intent, bool) {
	text := strings.ToLower(message)
	switch {
	case rescheduleIntentPattern.MatchString(text):
		return IntentReschedule, true
	case cancelIntentPattern.MatchString(text):
		return IntentCancel, true
	case newIntentPattern.MatchString(text):
		return IntentNew, true
	default:
		return "", false
	}
}

// isFlowAnswer reports whether message only makes sense as an answer to a
// question from an earlier turn.
func isFlowAnswer(message string) bool {
	if _, ok := ParseChoice(message); ok {
		return true
	}
	text := strings.ToLower(strings.Trim(strings.TrimSpace(message), ".!"))
	return yesPhrases[text] || noPhrases[text]
}

// hasReasonLeadIn reports whether message explicitly states a reason
// ("... because ...", "due to ...").
func hasReasonLeadIn(message string) bool {
	lower := strings.ToLower(message)
	for _, lead := range reasonLeadIns {
		if strings.Contains(lower, lead) {
			return true
		}
	}
	return false
}

package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

const extractorSystemPrompt = `You extract booking facts from one customer text message.
Reply with a single JSON object and nothing else. Use null for anything the message does not state.
Never guess a date or time the customer did not give.`

// LLMExtractor asks a language model for structured facts and falls back to
// the pattern extractor whenever the model fails or answers with junk.
type LLMExtractor struct {
	client   LLMClient
	model    string
	fallback Extractor
	logger   *logging.Logger
}

var _ Extractor = (*LLMExtractor)(nil)

// NewLLMExtractor wraps client. A nil fallback uses PatternExtractor.
func NewLLMExtractor(client LLMClient, model string, fallback Extractor, logger *logging.Logger) *LLMExtractor {
	if client == nil {
		panic("conversation: llm client required")
	}
	if fallback == nil {
		fallback = NewPatternExtractor()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &LLMExtractor{client: client, model: model, fallback: fallback, logger: logger}
}

type llmDateTime struct {
	Date *string `json:"date"`
	Time *string `json:"time"`
}

// ExtractDateTime asks for {"date":"YYYY-MM-DD","time":"HH:MM"} relative to now in loc.
func (e *LLMExtractor) ExtractDateTime(ctx context.Context, message string, now time.Time, loc *time.Location) (DateTimeResult, error) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	prompt := fmt.Sprintf(`Today is %s (%s). Extract the appointment date and time the customer asks for.
Answer as {"date": "YYYY-MM-DD" or null, "time": "HH:MM" 24-hour or null}.
Message: %q`, local.Format("Monday, January 2, 2006"), loc.String(), message)

	var out llmDateTime
	if err := e.ask(ctx, prompt, &out); err != nil {
		e.logger.Warn("llm date extraction failed, using patterns", "error", err)
		return e.fallback.ExtractDateTime(ctx, message, now, loc)
	}

	res := DateTimeResult{}
	year, month, day := local.Date()
	hour, minute := 0, 0
	if out.Date != nil {
		d, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(*out.Date), loc)
		if err != nil {
			return e.fallback.ExtractDateTime(ctx, message, now, loc)
		}
		year, month, day = d.Date()
		res.HasDate = true
	}
	if out.Time != nil {
		t, err := time.Parse("15:04", strings.TrimSpace(*out.Time))
		if err != nil {
			return e.fallback.ExtractDateTime(ctx, message, now, loc)
		}
		hour, minute = t.Hour(), t.Minute()
		res.HasTime = true
	}
	if !res.HasDate && !res.HasTime {
		return DateTimeResult{}, nil
	}
	res.Found = true
	res.Time = time.Date(year, month, day, hour, minute, 0, 0, loc)
	return res, nil
}

// ExtractReason asks for a short cancellation reason.
func (e *LLMExtractor) ExtractReason(ctx context.Context, message string) (string, error) {
	prompt := fmt.Sprintf(`Extract why the customer is cancelling, in their words, without greetings or requests.
Answer as {"reason": "short phrase" or null}.
Message: %q`, message)

	var out struct {
		Reason *string `json:"reason"`
	}
	if err := e.ask(ctx, prompt, &out); err != nil {
		e.logger.Warn("llm reason extraction failed, using patterns", "error", err)
		return e.fallback.ExtractReason(ctx, message)
	}
	if out.Reason == nil {
		return "", nil
	}
	return strings.TrimSpace(*out.Reason), nil
}

// ExtractSessionCount asks how many sessions the customer wants to book now.
func (e *LLMExtractor) ExtractSessionCount(ctx context.Context, message string) (int, bool, error) {
	prompt := fmt.Sprintf(`Extract how many treatment sessions the customer wants to book right now.
Answer as {"count": integer or null}.
Message: %q`, message)

	var out struct {
		Count *int `json:"count"`
	}
	if err := e.ask(ctx, prompt, &out); err != nil {
		e.logger.Warn("llm count extraction failed, using patterns", "error", err)
		return e.fallback.ExtractSessionCount(ctx, message)
	}
	if out.Count == nil {
		return 0, false, nil
	}
	return *out.Count, true, nil
}

func (e *LLMExtractor) ask(ctx context.Context, prompt string, out any) error {
	resp, err := e.client.Complete(ctx, LLMRequest{
		Model:        e.model,
		Instructions: extractorSystemPrompt,
		Prompt:       prompt,
		MaxTokens:    128,
	})
	if err != nil {
		return err
	}
	e.logger.Debug("llm extraction answered", "provider", resp.Provider, "output_tokens", resp.OutputTokens)
	raw := strings.TrimSpace(resp.Text)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return fmt.Errorf("conversation: llm answer is not json: %q", resp.Text)
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), out); err != nil {
		return fmt.Errorf("conversation: decode llm answer: %w", err)
	}
	return nil
}

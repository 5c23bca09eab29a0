package conversation

import (
	"context"
	"errors"

	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

// LLMRequest is one single-shot extraction prompt. Extraction never needs
// conversation history, so a request carries one instruction block and one
// prompt.
type LLMRequest struct {
	Model        string
	Instructions string
	Prompt       string
	MaxTokens    int32
	Temperature  float32
}

// LLMResponse is the model's raw answer.
type LLMResponse struct {
	Text         string
	Provider     string
	InputTokens  int32
	OutputTokens int32
}

// LLMClient is the completion backend behind LLMExtractor.
type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}

var errEmptyPrompt = errors.New("conversation: llm prompt is empty")

// FallbackLLMClient tries the primary backend and asks the fallback once when
// the primary fails. A nil fallback leaves the primary on its own.
type FallbackLLMClient struct {
	primary  LLMClient
	fallback LLMClient
	logger   *logging.Logger
}

func NewFallbackLLMClient(primary, fallback LLMClient, logger *logging.Logger) *FallbackLLMClient {
	if primary == nil {
		panic("conversation: primary llm client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackLLMClient{primary: primary, fallback: fallback, logger: logger}
}

func (c *FallbackLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	resp, err := c.primary.Complete(ctx, req)
	if err == nil || c.fallback == nil {
		return resp, err
	}
	c.logger.Warn("primary extractor model failed; trying fallback", "error", err)
	resp, fbErr := c.fallback.Complete(ctx, req)
	if fbErr != nil {
		return LLMResponse{}, errors.Join(err, fbErr)
	}
	return resp, nil
}

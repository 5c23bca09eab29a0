package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-2.5-flash"

// geminiModel is the slice of *genai.GenerativeModel the client drives.
type geminiModel interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiLLMClient answers extraction prompts with Gemini in JSON mode.
type GeminiLLMClient struct {
	client   *genai.Client
	modelID  string
	newModel func(req LLMRequest) geminiModel
}

func NewGeminiLLMClient(ctx context.Context, apiKey, modelID string) (*GeminiLLMClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("conversation: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("conversation: gemini client: %w", err)
	}
	c := &GeminiLLMClient{client: client, modelID: modelID}
	c.newModel = c.configure
	return c, nil
}

// configure builds a model tuned for one request. The model id on the
// request is ignored; it names the primary backend's model.
func (c *GeminiLLMClient) configure(req LLMRequest) geminiModel {
	model := c.client.GenerativeModel(c.modelID)
	model.SetTemperature(req.Temperature)
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(req.MaxTokens)
	}
	model.ResponseMIMEType = "application/json"
	if req.Instructions != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(req.Instructions))
	}
	return model
}

func (c *GeminiLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return LLMResponse{}, errEmptyPrompt
	}
	resp, err := c.newModel(req).GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return LLMResponse{}, fmt.Errorf("conversation: gemini generate: %w", err)
	}
	return geminiResponse(resp)
}

func geminiResponse(resp *genai.GenerateContentResponse) (LLMResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return LLMResponse{}, errors.New("conversation: gemini returned no candidates")
	}
	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	out := LLMResponse{Text: strings.TrimSpace(text.String()), Provider: "gemini"}
	if out.Text == "" {
		return LLMResponse{}, errors.New("conversation: gemini returned no text")
	}
	if resp.UsageMetadata != nil {
		out.InputTokens = resp.UsageMetadata.PromptTokenCount
		out.OutputTokens = resp.UsageMetadata.CandidatesTokenCount
	}
	return out, nil
}

// Close releases the underlying Gemini client.
func (c *GeminiLLMClient) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

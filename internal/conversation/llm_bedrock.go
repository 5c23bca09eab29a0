package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockLLMClient answers extraction prompts through the Bedrock Converse API.
type BedrockLLMClient struct {
	api bedrockConverseAPI
}

func NewBedrockLLMClient(api bedrockConverseAPI) *BedrockLLMClient {
	if api == nil {
		panic("conversation: bedrock converse client required")
	}
	return &BedrockLLMClient{api: api}
}

func (c *BedrockLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	if strings.TrimSpace(req.Model) == "" {
		return LLMResponse{}, errors.New("conversation: bedrock model id is required")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return LLMResponse{}, errEmptyPrompt
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(req.Model),
		Messages: []brtypes.Message{{
			Role:    brtypes.ConversationRoleUser,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: req.Prompt}},
		}},
		InferenceConfig: &brtypes.InferenceConfiguration{Temperature: aws.Float32(req.Temperature)},
	}
	if req.Instructions != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.Instructions}}
	}
	if req.MaxTokens > 0 {
		input.InferenceConfig.MaxTokens = aws.Int32(req.MaxTokens)
	}

	out, err := c.api.Converse(ctx, input)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("conversation: bedrock converse: %w", err)
	}
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return LLMResponse{}, errors.New("conversation: bedrock returned no message")
	}

	var text strings.Builder
	for _, block := range msg.Value.Content {
		if t, ok := block.(*brtypes.ContentBlockMemberText); ok {
			text.WriteString(t.Value)
		}
	}
	resp := LLMResponse{Text: strings.TrimSpace(text.String()), Provider: "bedrock"}
	if resp.Text == "" {
		return LLMResponse{}, errors.New("conversation: bedrock returned no text")
	}
	if out.Usage != nil {
		resp.InputTokens = aws.ToInt32(out.Usage.InputTokens)
		resp.OutputTokens = aws.ToInt32(out.Usage.OutputTokens)
	}
	return resp, nil
}

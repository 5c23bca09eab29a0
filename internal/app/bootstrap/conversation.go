package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/medspa-booking-engine/internal/config"
	"github.com/wolfman30/medspa-booking-engine/internal/conversation"
	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

// memoryQueueBuffer bounds the in-process queue used in development.
const memoryQueueBuffer = 1024

// BuildExtractor picks the extraction backend. Bedrock is primary and Gemini
// its fallback; with neither configured the pattern extractor is used alone.
// The returned closer releases the Gemini client and is never nil.
func BuildExtractor(ctx context.Context, cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (conversation.Extractor, func(), error) {
	noop := func() {}
	patterns := conversation.NewPatternExtractor()

	var primary conversation.LLMClient
	model := ""
	if cfg.BedrockModelID != "" && awsCfg != nil {
		primary = conversation.NewBedrockLLMClient(bedrockruntime.NewFromConfig(*awsCfg))
		model = cfg.BedrockModelID
	}

	var gemini *conversation.GeminiLLMClient
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		client, err := conversation.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, noop, fmt.Errorf("bootstrap: gemini client: %w", err)
		}
		gemini = client
	}
	closer := noop
	if gemini != nil {
		closer = func() { _ = gemini.Close() }
	}

	switch {
	case primary != nil && gemini != nil:
		logger.Info("llm extractor enabled", "primary", "bedrock", "fallback", "gemini", "model", model)
		return conversation.NewLLMExtractor(conversation.NewFallbackLLMClient(primary, gemini, logger), model, patterns, logger), closer, nil
	case primary != nil:
		logger.Info("llm extractor enabled", "primary", "bedrock", "model", model)
		return conversation.NewLLMExtractor(primary, model, patterns, logger), closer, nil
	case gemini != nil:
		logger.Info("llm extractor enabled", "primary", "gemini", "model", cfg.GeminiModelID)
		return conversation.NewLLMExtractor(gemini, cfg.GeminiModelID, patterns, logger), closer, nil
	default:
		logger.Info("no llm configured; using pattern extractor")
		return patterns, closer, nil
	}
}

// BuildQueue returns the SQS queue, or the in-process queue when
// USE_MEMORY_QUEUE is set.
func BuildQueue(cfg *appconfig.Config, awsCfg *aws.Config) (conversation.Queue, error) {
	if cfg.UseMemoryQueue {
		return conversation.NewMemoryQueue(memoryQueueBuffer), nil
	}
	if strings.TrimSpace(cfg.ConversationQueueURL) == "" {
		return nil, fmt.Errorf("bootstrap: CONVERSATION_QUEUE_URL is required unless USE_MEMORY_QUEUE is set")
	}
	if awsCfg == nil {
		return nil, fmt.Errorf("bootstrap: aws config required for sqs")
	}
	return conversation.NewSQSQueue(sqs.NewFromConfig(*awsCfg), cfg.ConversationQueueURL), nil
}

// BuildJobStore selects where job status lives: DynamoDB alongside SQS,
// Postgres when a database is configured, memory otherwise.
func BuildJobStore(cfg *appconfig.Config, awsCfg *aws.Config, dbs *Databases, logger *logging.Logger) conversation.JobTracker {
	switch {
	case !cfg.UseMemoryQueue && awsCfg != nil && cfg.ConversationJobsTable != "":
		return conversation.NewDynamoJobStore(dynamodb.NewFromConfig(*awsCfg), cfg.ConversationJobsTable, logger)
	case dbs != nil && dbs.Pool != nil:
		return conversation.NewPGJobStore(dbs.Pool)
	default:
		return conversation.NewMemoryJobStore()
	}
}

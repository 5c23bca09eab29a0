// Package mainconfig holds the start-up wiring shared by every binary.
package mainconfig

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	appconfig "github.com/wolfman30/medspa-booking-engine/internal/config"
)

// AWSConsumers lists the configured components that call AWS.
func AWSConsumers(cfg *appconfig.Config) []string {
	var uses []string
	if !cfg.UseMemoryQueue {
		uses = append(uses, "sqs", "dynamodb")
	}
	if cfg.BedrockModelID != "" {
		uses = append(uses, "bedrock")
	}
	if cfg.ArchiveBucket != "" {
		uses = append(uses, "s3")
	}
	if cfg.SESFromEmail != "" {
		uses = append(uses, "ses")
	}
	return uses
}

func NeedsAWS(cfg *appconfig.Config) bool {
	return len(AWSConsumers(cfg)) > 0
}

// LoadOptionalAWSConfig returns nil when no component needs AWS.
func LoadOptionalAWSConfig(ctx context.Context, cfg *appconfig.Config) (*aws.Config, error) {
	if !NeedsAWS(cfg) {
		return nil, nil
	}
	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &awsCfg, nil
}

// LoadAWSConfig builds the SDK config. Static keys win over the default
// chain, and AWS_ENDPOINT_OVERRIDE points every client at one endpoint such
// as LocalStack.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	key, secret := strings.TrimSpace(cfg.AWSAccessKeyID), strings.TrimSpace(cfg.AWSSecretAccessKey)
	if key != "" && secret != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(key, secret, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("mainconfig: load aws config: %w", err)
	}
	if endpoint := strings.TrimSpace(cfg.AWSEndpointOverride); endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(endpoint)
	}
	return awsCfg, nil
}

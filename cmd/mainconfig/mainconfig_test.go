package mainconfig

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/medspa-booking-engine/internal/config"
)

func TestAWSConsumers(t *testing.T) {
	tests := map[string]struct {
		cfg  appconfig.Config
		want []string
	}{
		"all in memory":  {cfg: appconfig.Config{UseMemoryQueue: true}},
		"queue and jobs": {cfg: appconfig.Config{}, want: []string{"sqs", "dynamodb"}},
		"bedrock only":   {cfg: appconfig.Config{UseMemoryQueue: true, BedrockModelID: "m"}, want: []string{"bedrock"}},
		"archive and ses": {
			cfg:  appconfig.Config{UseMemoryQueue: true, ArchiveBucket: "b", SESFromEmail: "a@example.com"},
			want: []string{"s3", "ses"},
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, AWSConsumers(&tt.cfg))
			assert.Equal(t, len(tt.want) > 0, NeedsAWS(&tt.cfg))
		})
	}
}

func TestLoadOptionalAWSConfig_SkipsWhenUnused(t *testing.T) {
	awsCfg, err := LoadOptionalAWSConfig(context.Background(), &appconfig.Config{UseMemoryQueue: true})
	require.NoError(t, err)
	assert.Nil(t, awsCfg)
}

func TestLoadAWSConfig_EndpointOverride(t *testing.T) {
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	awsCfg, err := LoadAWSConfig(context.Background(), &appconfig.Config{
		AWSRegion:           "us-east-1",
		AWSAccessKeyID:      "test",
		AWSSecretAccessKey:  "test",
		AWSEndpointOverride: " http://localhost:4566 ",
	})
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", awsCfg.Region)
	assert.Equal(t, "http://localhost:4566", aws.ToString(awsCfg.BaseEndpoint))

	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", creds.AccessKeyID)
}

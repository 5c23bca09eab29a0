package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoJobStore keeps job records in a DynamoDB table keyed by jobId. The
// table's TTL attribute should be expiresAt.
type DynamoJobStore struct {
	client dynamoAPI
	table  string
	logger *logging.Logger
	now    func() time.Time
}

var (
	_ JobRecorder = (*DynamoJobStore)(nil)
	_ JobUpdater  = (*DynamoJobStore)(nil)
)

func NewDynamoJobStore(client dynamoAPI, table string, logger *logging.Logger) *DynamoJobStore {
	if client == nil {
		panic("conversation: dynamodb client cannot be nil")
	}
	if table == "" {
		panic("conversation: job table cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoJobStore{client: client, table: table, logger: logger, now: time.Now}
}

func jobKey(jobID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"jobId": &types.AttributeValueMemberS{Value: jobID}}
}

func (s *DynamoJobStore) PutPending(ctx context.Context, job *JobRecord) error {
	if err := job.pending(s.now().UTC()); err != nil {
		return err
	}
	item, err := attributevalue.MarshalMap(job)
	if err != nil {
		return fmt.Errorf("conversation: encode job %s: %w", job.JobID, err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(jobId)"),
	})
	if err != nil {
		var exists *types.ConditionalCheckFailedException
		if errors.As(err, &exists) {
			return fmt.Errorf("conversation: job %s already exists", job.JobID)
		}
		return fmt.Errorf("conversation: put job %s: %w", job.JobID, err)
	}
	return nil
}

// Finish applies result only while the stored job is still pending. The
// old item comes back on a failed condition, which separates a missing job
// from one that already ended.
func (s *DynamoJobStore) Finish(ctx context.Context, jobID string, result JobResult) error {
	if jobID == "" {
		return errJobIDRequired
	}
	names := map[string]string{"#status": "status"}
	values := map[string]types.AttributeValue{
		":pending": &types.AttributeValueMemberS{Value: string(JobStatusPending)},
		":status":  &types.AttributeValueMemberS{Value: string(result.status())},
		":updated": &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339Nano)},
	}
	set := []string{"#status = :status", "updatedAt = :updated"}

	if result.Err != "" {
		names["#error"] = "error"
		values[":error"] = &types.AttributeValueMemberS{Value: result.Err}
		set = append(set, "#error = :error")
	} else if result.Reply != nil {
		reply, err := attributevalue.Marshal(result.Reply)
		if err != nil {
			return fmt.Errorf("conversation: encode reply for job %s: %w", jobID, err)
		}
		values[":reply"] = reply
		set = append(set, "reply = :reply")
	}
	if result.ConversationID != "" {
		values[":conversation"] = &types.AttributeValueMemberS{Value: result.ConversationID}
		set = append(set, "conversationId = :conversation")
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(s.table),
		Key:                                 jobKey(jobID),
		UpdateExpression:                    aws.String("SET " + strings.Join(set, ", ")),
		ConditionExpression:                 aws.String("attribute_exists(jobId) AND #status = :pending"),
		ExpressionAttributeNames:            names,
		ExpressionAttributeValues:           values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err == nil {
		return nil
	}
	var failed *types.ConditionalCheckFailedException
	if errors.As(err, &failed) {
		if len(failed.Item) == 0 {
			return ErrJobNotFound
		}
		return ErrJobFinished
	}
	return fmt.Errorf("conversation: finish job %s: %w", jobID, err)
}

// GetJob reads with strong consistency so a poll right after Finish sees it.
// Items past expiresAt may linger until DynamoDB sweeps them and read as
// missing.
func (s *DynamoJobStore) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	if jobID == "" {
		return nil, errJobIDRequired
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            jobKey(jobID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("conversation: get job %s: %w", jobID, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrJobNotFound
	}
	var job JobRecord
	if err := attributevalue.UnmarshalMap(out.Item, &job); err != nil {
		return nil, fmt.Errorf("conversation: decode job %s: %w", jobID, err)
	}
	if !job.ExpiresAt.IsZero() && s.now().After(job.ExpiresAt) {
		return nil, ErrJobNotFound
	}
	return &job, nil
}

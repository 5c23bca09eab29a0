package conversation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQS caps a single receive at ten messages and a long poll at twenty seconds.
const (
	sqsMaxBatch = 10
	sqsMaxWait  = 20
)

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

var errNoMessageGroup = errors.New("conversation: FIFO queue requires a message group")

// SQSQueue carries jobs over SQS. When the queue URL ends in .fifo every
// send is grouped by conversation, which keeps a conversation's turns in
// order across consumers.
type SQSQueue struct {
	api  sqsAPI
	url  string
	fifo bool
}

func NewSQSQueue(api sqsAPI, queueURL string) *SQSQueue {
	if api == nil {
		panic("conversation: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("conversation: SQS queueURL cannot be empty")
	}
	return &SQSQueue{api: api, url: queueURL, fifo: strings.HasSuffix(queueURL, ".fifo")}
}

func (q *SQSQueue) Send(ctx context.Context, body, groupID, dedupID string) error {
	in := &sqs.SendMessageInput{QueueUrl: &q.url, MessageBody: aws.String(body)}
	if q.fifo {
		if groupID == "" {
			return errNoMessageGroup
		}
		in.MessageGroupId = aws.String(groupID)
		if dedupID != "" {
			in.MessageDeduplicationId = aws.String(dedupID)
		}
	}
	if _, err := q.api.SendMessage(ctx, in); err != nil {
		return fmt.Errorf("conversation: sqs send: %w", err)
	}
	return nil
}

// Receive long-polls for up to maxMessages. Requests beyond the SQS limits
// are clamped rather than rejected.
func (q *SQSQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	out, err := q.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    &q.url,
		MaxNumberOfMessages:         int32(clamp(maxMessages, 1, sqsMaxBatch)),
		WaitTimeSeconds:             int32(clamp(waitSeconds, 0, sqsMaxWait)),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
	})
	if err != nil {
		return nil, fmt.Errorf("conversation: sqs receive: %w", err)
	}

	msgs := make([]queueMessage, len(out.Messages))
	for i, m := range out.Messages {
		msgs[i] = queueMessage{
			ID:            aws.ToString(m.MessageId),
			Body:          aws.ToString(m.Body),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Receives:      receiveCount(m.Attributes),
		}
	}
	return msgs, nil
}

func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return nil
	}
	if _, err := q.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{QueueUrl: &q.url, ReceiptHandle: &receiptHandle}); err != nil {
		return fmt.Errorf("conversation: sqs delete: %w", err)
	}
	return nil
}

func receiveCount(attrs map[string]string) int {
	n, err := strconv.Atoi(attrs[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	if err != nil {
		return 1
	}
	return n
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

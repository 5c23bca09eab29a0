// Command turn-lambda processes conversation jobs delivered by an SQS FIFO
// event source mapping. Once a record fails, it and every record after it are
// reported as failures so the queue redelivers them in order.
package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wolfman30/medspa-booking-engine/cmd/mainconfig"
	"github.com/wolfman30/medspa-booking-engine/internal/app/bootstrap"
	appconfig "github.com/wolfman30/medspa-booking-engine/internal/config"
	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

type jobProcessor interface {
	Process(ctx context.Context, body string) error
}

type outboxDrainer interface {
	Drain(ctx context.Context)
}

func main() {
	cfg := appconfig.Load()
	// Replies and settlement jobs still go through SQS.
	cfg.UseMemoryQueue = false
	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		panic(err)
	}
	app, err := bootstrap.New(ctx, cfg, &awsCfg, logger)
	if err != nil {
		panic(err)
	}

	lambda.Start(func(ctx context.Context, evt events.SQSEvent) (events.SQSEventResponse, error) {
		return handle(ctx, app.Worker, app.Deliverer, logger, evt)
	})
}

func handle(ctx context.Context, worker jobProcessor, outbox outboxDrainer, logger *logging.Logger, evt events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	failed := false
	for _, record := range evt.Records {
		if !failed {
			if err := worker.Process(ctx, record.Body); err != nil {
				logger.Error("conversation job failed; returning to queue", "message_id", record.MessageId, "error", err)
				failed = true
			}
		}
		if failed {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
		}
	}
	if outbox != nil {
		outbox.Drain(ctx)
	}
	return resp, nil
}

package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/aws"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/config"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/idempotency"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/logging"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()
	clients := aws.NewClients()
	cw, err := clients.CloudWatch(ctx)
	if err != nil {
		log.WithError(err).Fatal("failed to init aws clients")
	}

	var dedupe Deduper
	if cfg.IdempotencyTable != "" {
		dynamo, err := clients.DynamoDB(ctx)
		if err != nil {
			log.WithError(err).Fatal("failed to init aws clients")
		}
		dedupe = idempotency.NewStore(dynamo, cfg.IdempotencyTable, cfg.IdempotencyTTL)
	}
	p := NewProcessor(aws.NewMetricSink(cw, cfg.MetricsNamespace), dedupe, log)

	// If RUN_LOCAL=true, simulate a single SQS event for local testing.
	if cfg.RunLocal {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			testBody = `{"eventId":"local-event-1","type":"checkout.started","userId":"local-user","sessionId":"local-session","productKey":"default","state":"collecting_info"}`
		}
		resp, err := p.Handle(ctx, events.SQSEvent{
			Records: []events.SQSMessage{{MessageId: "local-1", Body: testBody}},
		})
		if err != nil || len(resp.BatchItemFailures) > 0 {
			log.WithError(err).WithField("failures", len(resp.BatchItemFailures)).Fatal("local handler error")
		}
		return
	}

	lambda.Start(p.Handle)
}

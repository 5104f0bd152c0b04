package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/checkout"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/idempotency"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/logging"
)

// Metric names, one per lifecycle event type.
var metricFor = map[string]string{
	checkout.EventStarted:    "SessionsStarted",
	checkout.EventTurn:       "Turns",
	checkout.EventReady:      "SessionsReady",
	checkout.EventCompleted:  "SessionsCompleted",
	checkout.EventCancelled:  "SessionsCancelled",
	checkout.EventSuperseded: "SessionsSuperseded",
	checkout.EventFailed:     "SessionsFailed",
}

// MetricCounter is satisfied by aws.MetricSink.
type MetricCounter interface {
	Count(ctx context.Context, metric string, value float64, dimensions map[string]string) error
}

// Deduper is satisfied by idempotency.Store; it drops redelivered events.
type Deduper interface {
	Begin(ctx context.Context, key, fingerprint string) (bool, error)
	Retry(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) (*idempotency.Record, error)
	MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error
	MarkFailed(ctx context.Context, key, note string) error
}

// Processor turns checkout lifecycle events into CloudWatch counts.
type Processor struct {
	metrics MetricCounter
	dedupe  Deduper
	log     logrus.FieldLogger
}

// NewProcessor returns a Processor. dedupe may be nil, in which case SQS
// redeliveries are counted again.
func NewProcessor(metrics MetricCounter, dedupe Deduper, log logrus.FieldLogger) *Processor {
	return &Processor{metrics: metrics, dedupe: dedupe, log: logging.OrDiscard(log)}
}

// Handle processes a batch and reports the messages that should be
// redelivered. Undecodable messages are logged and dropped.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.log.WithError(err).WithField("message_id", rec.MessageId).Error("worker: message failed")
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var ev checkout.Event
	if err := json.Unmarshal([]byte(rec.Body), &ev); err != nil || ev.EventID == "" {
		p.log.WithField("message_id", rec.MessageId).Warn("worker: dropping malformed event")
		return nil
	}
	log := p.log.WithFields(logrus.Fields{
		"event_id":   ev.EventID,
		"event":      ev.Type,
		"session_id": ev.SessionID,
	})

	metric, ok := metricFor[ev.Type]
	if !ok {
		log.Debug("worker: ignoring event type")
		return nil
	}

	key := "event#" + ev.EventID
	run, err := p.claim(ctx, key, ev.Type)
	if err != nil {
		return err
	}
	if !run {
		log.Info("worker: duplicate event")
		return nil
	}

	err = p.metrics.Count(ctx, metric, 1, map[string]string{"ProductKey": ev.ProductKey})
	if p.dedupe != nil {
		done := context.WithoutCancel(ctx)
		var markErr error
		if err != nil {
			markErr = p.dedupe.MarkFailed(done, key, err.Error())
		} else {
			markErr = p.dedupe.MarkDone(done, key, metric, 0)
		}
		if markErr != nil {
			log.WithError(markErr).Warn("worker: could not record event outcome")
		}
	}
	if err != nil {
		return fmt.Errorf("count %s: %w", metric, err)
	}
	log.WithField("metric", metric).Debug("worker: counted")
	return nil
}

// claim reports whether this delivery should be processed. A key still in
// progress is an error so SQS redelivers it later.
func (p *Processor) claim(ctx context.Context, key, fingerprint string) (bool, error) {
	if p.dedupe == nil {
		return true, nil
	}
	created, err := p.dedupe.Begin(ctx, key, fingerprint)
	if err != nil || created {
		return created, err
	}
	rec, err := p.dedupe.Get(ctx, key)
	if err != nil {
		return false, err
	}
	switch {
	case rec == nil:
		return false, fmt.Errorf("event %s claimed concurrently", key)
	case rec.Status == idempotency.StatusDone:
		return false, nil
	case rec.Status == idempotency.StatusFailed:
		ok, err := p.dedupe.Retry(ctx, key)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, fmt.Errorf("event %s is being processed", key)
}

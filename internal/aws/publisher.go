package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Publisher wraps an SQS client and a queue URL.
type Publisher struct {
	SQS      SQSAPI
	QueueURL string

	// FIFO queues only: the attributes whose values become the message
	// group id and deduplication id.
	groupAttr string
	dedupAttr string
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithFIFO names the message attributes that carry the group and
// deduplication ids. It has no effect unless the queue URL ends in ".fifo".
func WithFIFO(groupAttr, dedupAttr string) PublisherOption {
	return func(p *Publisher) {
		p.groupAttr = groupAttr
		p.dedupAttr = dedupAttr
	}
}

// NewPublisher returns a Publisher bound to a queue URL.
func NewPublisher(sqsClient SQSAPI, queueURL string, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		SQS:      sqsClient,
		QueueURL: queueURL,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IsFIFO reports whether the queue is a FIFO queue.
func (p *Publisher) IsFIFO() bool { return strings.HasSuffix(p.QueueURL, ".fifo") }

// Publish sends a JSON message body to the queue. Attributes are sent as
// String message attributes; empty values are skipped since SQS rejects them.
func (p *Publisher) Publish(ctx context.Context, messageBody string, attributes map[string]string) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: &messageBody,
	}
	if p.IsFIFO() {
		group := attributes[p.groupAttr]
		if group == "" {
			return fmt.Errorf("send message: fifo queue needs a %q attribute", p.groupAttr)
		}
		input.MessageGroupId = awsString(group)
		if dedup := attributes[p.dedupAttr]; dedup != "" {
			input.MessageDeduplicationId = awsString(dedup)
		}
	}

	msgAttrs := map[string]sqstypes.MessageAttributeValue{}
	for k, v := range attributes {
		if v == "" {
			continue
		}
		msgAttrs[k] = sqstypes.MessageAttributeValue{
			DataType:    awsString("String"),
			StringValue: awsString(v),
		}
	}
	if len(msgAttrs) > 0 {
		input.MessageAttributes = msgAttrs
	}

	if _, err := p.SQS.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }

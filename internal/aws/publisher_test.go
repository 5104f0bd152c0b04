package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type mockSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (m *mockSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.inputs = append(m.inputs, in)
	return &sqs.SendMessageOutput{}, nil
}

type mockCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
}

func (m *mockCloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.inputs = append(m.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestPublisher_SendsAttributes(t *testing.T) {
	m := &mockSQS{}
	p := NewPublisher(m, "https://sqs.local/q")

	err := p.Publish(context.Background(), `{"type":"checkout.started"}`, map[string]string{
		"event_type": "checkout.started",
		"user_id":    "u1",
		"empty":      "",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(m.inputs) != 1 {
		t.Fatalf("expected one message, got %d", len(m.inputs))
	}
	in := m.inputs[0]
	if *in.QueueUrl != "https://sqs.local/q" {
		t.Fatalf("queue url mismatch: %s", *in.QueueUrl)
	}
	if len(in.MessageAttributes) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(in.MessageAttributes))
	}
	// each attribute must point at its own value
	if *in.MessageAttributes["user_id"].StringValue != "u1" {
		t.Fatalf("user_id attribute mismatch: %s", *in.MessageAttributes["user_id"].StringValue)
	}
	if *in.MessageAttributes["event_type"].StringValue != "checkout.started" {
		t.Fatalf("event_type attribute mismatch")
	}
}

func TestPublisher_WrapsError(t *testing.T) {
	boom := errors.New("boom")
	p := NewPublisher(&mockSQS{err: boom}, "q")
	if err := p.Publish(context.Background(), "{}", nil); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestMetricSink_Count(t *testing.T) {
	m := &mockCloudWatch{}
	sink := NewMetricSink(m, "CheckoutAssistant")

	if err := sink.Count(context.Background(), "SessionsStarted", 1, map[string]string{"ProductKey": "p1"}); err != nil {
		t.Fatalf("count: %v", err)
	}
	if len(m.inputs) != 1 {
		t.Fatalf("expected one call, got %d", len(m.inputs))
	}
	in := m.inputs[0]
	if *in.Namespace != "CheckoutAssistant" {
		t.Fatalf("namespace mismatch: %s", *in.Namespace)
	}
	d := in.MetricData[0]
	if *d.MetricName != "SessionsStarted" || *d.Value != 1 || d.Unit != cwtypes.StandardUnitCount {
		t.Fatalf("unexpected datum: %+v", d)
	}
	if len(d.Dimensions) != 1 || *d.Dimensions[0].Value != "p1" {
		t.Fatalf("unexpected dimensions: %+v", d.Dimensions)
	}
}

func TestPublisher_FIFOGroupsByAttribute(t *testing.T) {
	m := &mockSQS{}
	p := NewPublisher(m, "https://sqs.local/checkout-events.fifo", WithFIFO("sessionId", "eventId"))

	err := p.Publish(context.Background(), "{}", map[string]string{"sessionId": "s1", "eventId": "e1"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	in := m.inputs[0]
	if in.MessageGroupId == nil || *in.MessageGroupId != "s1" {
		t.Fatalf("group id mismatch: %v", in.MessageGroupId)
	}
	if in.MessageDeduplicationId == nil || *in.MessageDeduplicationId != "e1" {
		t.Fatalf("dedup id mismatch: %v", in.MessageDeduplicationId)
	}

	if err := p.Publish(context.Background(), "{}", map[string]string{"eventId": "e2"}); err == nil {
		t.Fatalf("expected error without a group attribute")
	}
}

func TestPublisher_StandardQueueIgnoresFIFO(t *testing.T) {
	m := &mockSQS{}
	p := NewPublisher(m, "https://sqs.local/q", WithFIFO("sessionId", "eventId"))

	if err := p.Publish(context.Background(), "{}", map[string]string{"sessionId": "s1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if m.inputs[0].MessageGroupId != nil {
		t.Fatalf("standard queue must not carry a group id")
	}
}

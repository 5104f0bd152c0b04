package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/aws"
)

// EnvelopePublisher is the SQS side of SQSTap.
type EnvelopePublisher interface {
	Publish(ctx context.Context, messageBody string, attributes map[string]string) error
}

// SQSTap mirrors envelopes to an SQS queue.
type SQSTap struct {
	pub EnvelopePublisher
}

func NewSQSTap(pub EnvelopePublisher) *SQSTap { return &SQSTap{pub: pub} }

// NewSQSTapForQueue builds the tap from an SQS client and queue URL.
func NewSQSTapForQueue(client aws.SQSAPI, queueURL string) *SQSTap {
	return &SQSTap{pub: aws.NewPublisher(client, queueURL)}
}

func (t *SQSTap) Mirror(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("sqs tap: marshal: %w", err)
	}
	return t.pub.Publish(ctx, string(body), map[string]string{
		"messageType": env.MessageType,
		"intent":      env.Intent,
		"toAgent":     env.ToAgent,
	})
}

// amqpChannel is the part of *amqp.Channel the tap uses.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPTap mirrors envelopes to a fanout exchange.
type AMQPTap struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string
}

// DialAMQPTap connects to url and declares a durable fanout exchange.
func DialAMQPTap(url, exchange string) (*AMQPTap, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp tap: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp tap: channel: %w", err)
	}
	t, err := newAMQPTap(ch, exchange)
	if err != nil {
		conn.Close()
		return nil, err
	}
	t.conn = conn
	return t, nil
}

func newAMQPTap(ch amqpChannel, exchange string) (*AMQPTap, error) {
	if exchange == "" {
		exchange = "checkout.bus"
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("amqp tap: declare %s: %w", exchange, err)
	}
	return &AMQPTap{ch: ch, exchange: exchange}, nil
}

func (t *AMQPTap) Mirror(_ context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("amqp tap: marshal: %w", err)
	}
	// amqp.Channel is not safe for concurrent publishes.
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ch.Publish(t.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   env.MessageID,
		Timestamp:   env.Timestamp,
		Type:        env.MessageType,
		Body:        body,
	})
}

func (t *AMQPTap) Close() {
	if t.ch != nil {
		t.ch.Close()
	}
	if t.conn != nil {
		t.conn.Close()
	}
}

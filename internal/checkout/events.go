package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/session"
)

// Lifecycle event types.
const (
	EventStarted    = "checkout.started"
	EventTurn       = "checkout.turn"
	EventReady      = "checkout.ready"
	EventCompleted  = "checkout.completed"
	EventCancelled  = "checkout.cancelled"
	EventSuperseded = "checkout.superseded"
	EventFailed     = "checkout.failed"
)

// Event describes a session lifecycle change.
type Event struct {
	EventID    string        `json:"eventId"`
	Type       string        `json:"type"`
	UserID     string        `json:"userId"`
	SessionID  string        `json:"sessionId"`
	ProductKey string        `json:"productKey"`
	State      session.State `json:"state"`
	Progress   int           `json:"progress"`
	At         time.Time     `json:"at"`
}

// EventPublisher delivers lifecycle events.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev Event) error
}

// MessagePublisher is the queue side of QueueEvents; aws.Publisher
// implements it.
type MessagePublisher interface {
	Publish(ctx context.Context, messageBody string, attributes map[string]string) error
}

// QueueEvents publishes events as JSON queue messages. The sessionId and
// eventId attributes let a FIFO queue order and deduplicate them.
type QueueEvents struct {
	pub MessagePublisher
}

func NewQueueEvents(pub MessagePublisher) *QueueEvents { return &QueueEvents{pub: pub} }

func (q *QueueEvents) PublishEvent(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return q.pub.Publish(ctx, string(body), map[string]string{
		"eventId":    ev.EventID,
		"sessionId":  ev.SessionID,
		"eventType":  ev.Type,
		"productKey": ev.ProductKey,
		"progress":   strconv.Itoa(ev.Progress),
	})
}

type noEvents struct{}

func (noEvents) PublishEvent(context.Context, Event) error { return nil }

func (o *Orchestrator) emit(ctx context.Context, typ string, s *session.Session, progress int) {
	if s == nil {
		return
	}
	ev := Event{
		EventID:    uuid.NewString(),
		Type:       typ,
		UserID:     s.UserID,
		SessionID:  s.SessionID,
		ProductKey: s.ProductKey,
		State:      s.State,
		Progress:   progress,
		At:         o.sessions.Now(),
	}
	if err := o.events.PublishEvent(context.WithoutCancel(ctx), ev); err != nil {
		o.log.WithError(err).WithFields(logrus.Fields{
			"event":      typ,
			"session_id": s.SessionID,
		}).Warn("checkout: publish event failed")
	}
}

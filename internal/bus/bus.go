package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/logging"
)

// broadcastFanout bounds concurrent sends of one Broadcast.
const broadcastFanout = 8

// Handler serves the intents addressed to one agent.
type Handler interface {
	Handle(ctx context.Context, env Envelope) (json.RawMessage, error)
}

// Sender dispatches an envelope and returns the reply.
type Sender interface {
	Send(ctx context.Context, env Envelope) (Envelope, error)
}

// Tap receives a copy of every dispatched envelope and reply.
type Tap interface {
	Mirror(ctx context.Context, env Envelope) error
}

// Bus routes envelopes to registered agents by name.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	taps     []Tap
	log      logrus.FieldLogger
	nowFunc  func() time.Time
	newID    func() string
}

func New(log logrus.FieldLogger, taps ...Tap) *Bus {
	return &Bus{
		handlers: map[string]Handler{},
		taps:     taps,
		log:      logging.OrDiscard(log),
		nowFunc:  time.Now,
		newID:    uuid.NewString,
	}
}

// Register binds name to h, replacing any previous handler.
func (b *Bus) Register(name string, h Handler) error {
	if name == "" || h == nil {
		return fmt.Errorf("%w: register needs a name and a handler", ErrInvalidEnvelope)
	}
	b.mu.Lock()
	b.handlers[name] = h
	b.mu.Unlock()
	b.log.WithField("agent", name).Debug("bus: agent registered")
	return nil
}

// Agents returns the registered names, sorted.
func (b *Bus) Agents() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.handlers))
	for n := range b.handlers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Send validates env, dispatches it and returns the reply envelope. Pings
// are answered by the bus on behalf of the agent.
func (b *Bus) Send(ctx context.Context, env Envelope) (Envelope, error) {
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	b.mu.RLock()
	h, ok := b.handlers[env.ToAgent]
	b.mu.RUnlock()
	if !ok {
		return Envelope{}, fmt.Errorf("%w: %q", ErrAgentNotRegistered, env.ToAgent)
	}
	b.mirror(ctx, env)

	var payload json.RawMessage
	if env.MessageType == TypePing {
		payload, _ = json.Marshal(map[string]string{"agent": env.ToAgent, "status": "ok"})
	} else {
		out, err := h.Handle(ctx, env)
		if err != nil {
			return Envelope{}, fmt.Errorf("bus: %s/%s: %w", env.ToAgent, env.Intent, err)
		}
		payload = out
	}

	reply := Envelope{
		MessageID:   b.newID(),
		FromAgent:   env.ToAgent,
		ToAgent:     env.FromAgent,
		MessageType: TypeReply,
		Intent:      env.Intent,
		Payload:     payload,
		Timestamp:   b.nowFunc().UTC(),
	}
	b.mirror(ctx, reply)
	return reply, nil
}

// Broadcast sends one envelope per registered agent other than from and
// returns the replies ordered by agent name. Agents that do not serve the
// intent are skipped.
func (b *Bus) Broadcast(ctx context.Context, from, messageType, intent string, payload any) ([]Envelope, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	var targets []string
	for _, name := range b.Agents() {
		if name != from {
			targets = append(targets, name)
		}
	}

	replies := make([]*Envelope, len(targets))
	errs := make([]error, len(targets))
	var g errgroup.Group
	g.SetLimit(broadcastFanout)
	for i, to := range targets {
		g.Go(func() error {
			reply, err := b.Send(ctx, Envelope{
				MessageID:   b.newID(),
				FromAgent:   from,
				ToAgent:     to,
				MessageType: messageType,
				Intent:      intent,
				Payload:     raw,
				Timestamp:   b.nowFunc().UTC(),
			})
			if err != nil {
				if !errors.Is(err, ErrUnknownIntent) {
					errs[i] = err
				}
				return nil
			}
			replies[i] = &reply
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Envelope, 0, len(targets))
	for _, r := range replies {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, errors.Join(errs...)
}

func (b *Bus) mirror(ctx context.Context, env Envelope) {
	for _, t := range b.taps {
		if err := t.Mirror(ctx, env); err != nil {
			b.log.WithError(err).WithFields(logrus.Fields{
				"agent":  env.ToAgent,
				"intent": env.Intent,
			}).Warn("bus: tap failed")
		}
	}
}

func marshalPayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrInvalidEnvelope, err)
	}
	return raw, nil
}

// Call sends a request with req as payload and decodes the reply payload.
func Call[Resp any](ctx context.Context, s Sender, from, to, intent string, req any) (Resp, error) {
	var zero Resp
	raw, err := marshalPayload(req)
	if err != nil {
		return zero, err
	}
	reply, err := s.Send(ctx, Envelope{
		MessageID:   uuid.NewString(),
		FromAgent:   from,
		ToAgent:     to,
		MessageType: TypeRequest,
		Intent:      intent,
		Payload:     raw,
		Timestamp:   time.Now().UTC(),
	})
	if err != nil {
		return zero, err
	}
	var out Resp
	if err := json.Unmarshal(reply.Payload, &out); err != nil {
		return zero, fmt.Errorf("bus: decode %s/%s reply: %w", to, intent, err)
	}
	return out, nil
}

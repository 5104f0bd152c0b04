// Package bus is a named-address dispatcher between the checkout
// orchestrator and the agents that serve it.
package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Message types.
const (
	TypeRequest = "request"
	TypeReply   = "reply"
	TypePing    = "ping"
)

var (
	ErrAgentNotRegistered = errors.New("bus: agent not registered")
	ErrInvalidEnvelope    = errors.New("bus: invalid envelope")
	ErrUnknownIntent      = errors.New("bus: unknown intent")
)

// Envelope is the unit of dispatch.
type Envelope struct {
	MessageID   string          `json:"messageId"`
	FromAgent   string          `json:"fromAgent"`
	ToAgent     string          `json:"toAgent"`
	MessageType string          `json:"messageType"`
	Intent      string          `json:"intent"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Validate checks that every field is set. Payload may only be omitted on
// ping messages.
func (e Envelope) Validate() error {
	var missing []string
	for name, v := range map[string]string{
		"messageId":   e.MessageID,
		"fromAgent":   e.FromAgent,
		"toAgent":     e.ToAgent,
		"messageType": e.MessageType,
		"intent":      e.Intent,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if e.Timestamp.IsZero() {
		missing = append(missing, "timestamp")
	}
	if e.MessageType != TypePing && isEmptyPayload(e.Payload) {
		missing = append(missing, "payload")
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("%w: missing %s", ErrInvalidEnvelope, strings.Join(missing, ", "))
	}
	return nil
}

func isEmptyPayload(p json.RawMessage) bool {
	s := strings.TrimSpace(string(p))
	return s == "" || s == "null"
}

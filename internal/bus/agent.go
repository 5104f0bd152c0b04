package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
)

// IntentFunc serves one intent with a raw payload.
type IntentFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Agent is a Handler built from a table of intents.
type Agent struct {
	name    string
	intents map[string]IntentFunc
}

func NewAgent(name string) *Agent {
	return &Agent{name: name, intents: map[string]IntentFunc{}}
}

func (a *Agent) Name() string { return a.name }

// Intents returns the served intents, sorted.
func (a *Agent) Intents() []string {
	out := make([]string, 0, len(a.intents))
	for k := range a.intents {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Handle implements Handler.
func (a *Agent) Handle(ctx context.Context, env Envelope) (json.RawMessage, error) {
	fn, ok := a.intents[env.Intent]
	if !ok {
		return nil, fmt.Errorf("%w: %s does not serve %q", ErrUnknownIntent, a.name, env.Intent)
	}
	return fn(ctx, env.Payload)
}

// On registers a typed handler for intent on a.
func On[Req, Resp any](a *Agent, intent string, fn func(ctx context.Context, req Req) (Resp, error)) {
	a.intents[intent] = func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var req Req
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("%w: decode %s payload: %v", ErrInvalidEnvelope, intent, err)
		}
		resp, err := fn(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	}
}

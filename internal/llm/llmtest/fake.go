// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/llm"
)

// Fake answers Generate with Text and Extract with Fields, or with Raw
// decoded through llm.DecodeObject when Raw is set. Err fails every call.
// Delay blocks each call until it elapses or the context ends.
type Fake struct {
	Text   string
	Fields map[string]string
	Raw    string
	Err    error
	Delay  time.Duration

	mu            sync.Mutex
	generateCalls int
	extractCalls  int
	lastSchema    llm.Schema
	lastUser      string
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) Generate(ctx context.Context, system, user string) (string, error) {
	f.mu.Lock()
	f.generateCalls++
	f.lastUser = user
	f.mu.Unlock()
	if err := f.wait(ctx); err != nil {
		return "", err
	}
	if f.Err != nil {
		return "", f.Err
	}
	return f.Text, nil
}

func (f *Fake) Extract(ctx context.Context, system, user string, schema llm.Schema) (map[string]string, error) {
	f.mu.Lock()
	f.extractCalls++
	f.lastUser = user
	f.lastSchema = schema
	f.mu.Unlock()
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Raw != "" {
		return llm.DecodeObject([]byte(f.Raw), schema)
	}
	return maps.Clone(f.Fields), nil
}

func (f *Fake) wait(ctx context.Context) error {
	if f.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(f.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Calls returns how many times Generate and Extract ran.
func (f *Fake) Calls() (generate, extract int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generateCalls, f.extractCalls
}

// LastSchema returns the schema of the latest Extract call.
func (f *Fake) LastSchema() llm.Schema {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSchema
}

// LastUser returns the user prompt of the latest call.
func (f *Fake) LastUser() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastUser
}

// Package extract turns a free-form utterance into values for a set of
// checkout fields.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/fields"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/llm"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/logging"
)

// Source tells where extracted values came from.
type Source string

const (
	SourceNone          Source = "none"
	SourceLLM           Source = "llm"
	SourceDeterministic Source = "deterministic"
)

// Result is the partial assignment found in an utterance.
type Result struct {
	Fields map[string]string `json:"fields"`
	Source Source            `json:"source"`
	// Unavailable is set when the model could not be used and no pattern
	// matched any target.
	Unavailable bool `json:"unavailable,omitempty"`
}

// Adapter extracts with the model first and falls back to patterns.
type Adapter struct {
	client llm.Client
	log    logrus.FieldLogger
}

// NewAdapter returns an Adapter. A nil client means patterns only.
func NewAdapter(client llm.Client, log logrus.FieldLogger) *Adapter {
	if client == nil {
		client = llm.Disabled{}
	}
	return &Adapter{client: client, log: logging.OrDiscard(log)}
}

// Extract returns values for targets found in utterance. Keys outside
// targets and fields already present in prior are never returned, nor are
// blank values. The only error is the context's.
func (a *Adapter) Extract(ctx context.Context, utterance string, targets []fields.Field, prior map[string]string) (Result, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" || len(targets) == 0 {
		return Result{Fields: map[string]string{}, Source: SourceNone}, nil
	}

	raw, err := a.client.Extract(ctx, systemPrompt, userPrompt(utterance, targets, prior), schemaFor(targets))
	if err == nil {
		return Result{Fields: clean(raw, targets, prior), Source: SourceLLM}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}

	entry := a.log.WithField("targets", fields.Names(targets)).WithError(err)
	if errors.Is(err, llm.ErrUnavailable) {
		entry.Debug("extract: model unavailable, using patterns")
	} else {
		entry.Warn("extract: model failed, using patterns")
	}

	found := clean(Deterministic(utterance, targets), targets, prior)
	if len(found) == 0 {
		return Result{Fields: found, Source: SourceNone, Unavailable: true}, nil
	}
	return Result{Fields: found, Source: SourceDeterministic}, nil
}

func clean(raw map[string]string, targets []fields.Field, prior map[string]string) map[string]string {
	out := make(map[string]string, len(raw))
	for _, f := range targets {
		v, ok := raw[f.Name]
		if !ok || fields.IsCollected(prior, f.Name) {
			continue
		}
		if v = fields.Normalize(v); v != "" {
			out[f.Name] = v
		}
	}
	return out
}

const systemPrompt = `You extract checkout form values from a shopper's message.
Return a JSON object using only the given property names.
Copy values exactly as the shopper wrote them; do not guess, translate or invent.
Omit or set to null any property the message does not mention.
For fields with options, return the option the shopper chose.`

func userPrompt(utterance string, targets []fields.Field, prior map[string]string) string {
	var b strings.Builder
	b.WriteString("Fields:\n")
	for _, f := range targets {
		fmt.Fprintf(&b, "- %s\n", describe(f))
	}
	if len(prior) > 0 {
		b.WriteString("\nAlready known (do not repeat): ")
		b.WriteString(strings.Join(sortedKeys(prior), ", "))
		b.WriteString("\n")
	}
	b.WriteString("\nMessage:\n")
	b.WriteString(utterance)
	return b.String()
}

func schemaFor(targets []fields.Field) llm.Schema {
	s := llm.Schema{Fields: make([]llm.SchemaField, 0, len(targets))}
	for _, f := range targets {
		s.Fields = append(s.Fields, llm.SchemaField{Name: f.Name, Description: describe(f)})
	}
	return s
}

func describe(f fields.Field) string {
	d := fmt.Sprintf("%s: %s (%s)", f.Name, f.DisplayName(), f.Type)
	if f.HasOptions() {
		opts := make([]string, 0, len(f.Options))
		for _, o := range f.Options {
			opts = append(opts, o.Text)
		}
		d += "; options: " + strings.Join(opts, ", ")
	}
	return d
}

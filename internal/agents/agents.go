// Package agents exposes the checkout collaborators as bus agents and
// provides the bus-backed clients the orchestrator talks to.
package agents

import (
	"context"
	"fmt"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/bus"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/cpm"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/deeplink"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/extract"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/fields"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/prompt"
)

// Agent names.
const (
	Orchestrator = "orchestrator"
	ProcessModel = "cpm-store"
	Extractor    = "extractor"
	Composer     = "prompt-composer"
	DeepLink     = "deeplink-builder"
)

// Intents.
const (
	IntentLoadModel     = "cpm.load"
	IntentExtract       = "extract.fields"
	IntentNextField     = "prompt.next_field"
	IntentRecovery      = "prompt.recovery"
	IntentSummary       = "prompt.summary"
	IntentApology       = "prompt.apology"
	IntentBuildDeepLink = "deeplink.build"
)

type LoadModelRequest struct {
	ProductKey string `json:"productKey"`
}

type ExtractRequest struct {
	Utterance string            `json:"utterance"`
	Targets   []fields.Field    `json:"targets"`
	Prior     map[string]string `json:"prior,omitempty"`
}

// Services are the concrete collaborators served on the bus.
type Services struct {
	Models    *cpm.Store
	Extractor *extract.Adapter
	Composer  *prompt.Composer
	Links     *deeplink.Builder
}

// Register adds one agent per collaborator to b.
func Register(b *bus.Bus, s Services) error {
	if s.Models == nil || s.Extractor == nil || s.Composer == nil || s.Links == nil {
		return fmt.Errorf("agents: every service is required")
	}
	for _, a := range []*bus.Agent{
		ProcessModelAgent(s.Models),
		ExtractorAgent(s.Extractor),
		ComposerAgent(s.Composer),
		DeepLinkAgent(s.Links),
	} {
		if err := b.Register(a.Name(), a); err != nil {
			return err
		}
	}
	return nil
}

func ProcessModelAgent(store *cpm.Store) *bus.Agent {
	a := bus.NewAgent(ProcessModel)
	bus.On(a, IntentLoadModel, func(ctx context.Context, req LoadModelRequest) (*cpm.Model, error) {
		return store.Load(ctx, req.ProductKey)
	})
	return a
}

func ExtractorAgent(ad *extract.Adapter) *bus.Agent {
	a := bus.NewAgent(Extractor)
	bus.On(a, IntentExtract, func(ctx context.Context, req ExtractRequest) (extract.Result, error) {
		return ad.Extract(ctx, req.Utterance, req.Targets, req.Prior)
	})
	return a
}

func ComposerAgent(c *prompt.Composer) *bus.Agent {
	a := bus.NewAgent(Composer)
	bus.On(a, IntentNextField, c.NextField)
	bus.On(a, IntentRecovery, c.Recovery)
	bus.On(a, IntentSummary, c.Summary)
	bus.On(a, IntentApology, c.Apology)
	return a
}

func DeepLinkAgent(b *deeplink.Builder) *bus.Agent {
	a := bus.NewAgent(DeepLink)
	bus.On(a, IntentBuildDeepLink, func(_ context.Context, req deeplink.Request) (*deeplink.Artifact, error) {
		return b.Build(req)
	})
	return a
}

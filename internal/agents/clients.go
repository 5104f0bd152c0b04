package agents

import (
	"context"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/bus"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/cpm"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/deeplink"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/extract"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/fields"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/prompt"
)

// Clients reaches every collaborator through the bus as the orchestrator.
type Clients struct {
	bus  bus.Sender
	from string
}

func NewClients(s bus.Sender) *Clients {
	return &Clients{bus: s, from: Orchestrator}
}

func (c *Clients) LoadModel(ctx context.Context, productKey string) (*cpm.Model, error) {
	return bus.Call[*cpm.Model](ctx, c.bus, c.from, ProcessModel, IntentLoadModel, LoadModelRequest{ProductKey: productKey})
}

func (c *Clients) Extract(ctx context.Context, utterance string, targets []fields.Field, prior map[string]string) (extract.Result, error) {
	return bus.Call[extract.Result](ctx, c.bus, c.from, Extractor, IntentExtract, ExtractRequest{
		Utterance: utterance,
		Targets:   targets,
		Prior:     prior,
	})
}

func (c *Clients) NextField(ctx context.Context, req prompt.NextFieldRequest) (prompt.Prompt, error) {
	return bus.Call[prompt.Prompt](ctx, c.bus, c.from, Composer, IntentNextField, req)
}

func (c *Clients) Recovery(ctx context.Context, req prompt.RecoveryRequest) (prompt.Prompt, error) {
	return bus.Call[prompt.Prompt](ctx, c.bus, c.from, Composer, IntentRecovery, req)
}

func (c *Clients) Summary(ctx context.Context, req prompt.SummaryRequest) (prompt.Prompt, error) {
	return bus.Call[prompt.Prompt](ctx, c.bus, c.from, Composer, IntentSummary, req)
}

func (c *Clients) Apology(ctx context.Context, req prompt.ApologyRequest) (prompt.Prompt, error) {
	return bus.Call[prompt.Prompt](ctx, c.bus, c.from, Composer, IntentApology, req)
}

func (c *Clients) BuildDeepLink(ctx context.Context, req deeplink.Request) (*deeplink.Artifact, error) {
	return bus.Call[*deeplink.Artifact](ctx, c.bus, c.from, DeepLink, IntentBuildDeepLink, req)
}

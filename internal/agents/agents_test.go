package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/bus"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/cpm"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/cpm/cpmtest"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/deeplink"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/extract"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/fields"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/prompt"
)

func newBus(t *testing.T) (*bus.Bus, *cpm.Store) {
	t.Helper()
	store, err := cpm.NewStore(cpm.NewMemoryBlobs(), 8, nil)
	require.NoError(t, err)
	b := bus.New(nil)
	require.NoError(t, Register(b, Services{
		Models:    store,
		Extractor: extract.NewAdapter(nil, nil),
		Composer:  prompt.NewComposer(nil, "ko-KR", nil),
		Links:     deeplink.NewBuilder(deeplink.Options{}),
	}))
	return b, store
}

func TestClients_LoadModelThroughBus(t *testing.T) {
	b, store := newBus(t)
	c := NewClients(b)

	_, err := c.LoadModel(context.Background(), "p1")
	assert.ErrorIs(t, err, cpm.ErrNoProcessModel)

	_, err = store.Save(context.Background(), cpm.DefaultKey, cpmtest.Scenario(cpm.DefaultKey))
	require.NoError(t, err)

	m, err := c.LoadModel(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, cpm.DefaultKey, m.ProductKey)
	assert.Len(t, m.Steps, 3)
	assert.Equal(t, "pix", m.Steps[2].Fields[0].Options[0].Value)
}

func TestClients_ExtractAndPrompts(t *testing.T) {
	b, _ := newBus(t)
	c := NewClients(b)
	model := cpmtest.Scenario("p1")

	res, err := c.Extract(context.Background(), "joao@ex.com, 01310-100", model.Steps[0].Fields, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"email": "joao@ex.com"}, res.Fields)
	assert.Equal(t, extract.SourceDeterministic, res.Source)

	p, err := c.NextField(context.Background(), prompt.NextFieldRequest{Missing: model.Steps[0].Fields[:1]})
	require.NoError(t, err)
	assert.Equal(t, "이름을(를) 알려주세요.", p.Text)

	p, err = c.Recovery(context.Background(), prompt.RecoveryRequest{
		Errors: []fields.FieldError{{Field: "email", Message: "x"}},
		Fields: model.Fields(),
	})
	require.NoError(t, err)
	assert.Contains(t, p.Text, "- 이메일: x")

	p, err = c.Summary(context.Background(), prompt.SummaryRequest{Collected: map[string]string{"name": "Ana"}, Fields: model.Fields()})
	require.NoError(t, err)
	assert.Contains(t, p.Text, prompt.ProceedPlaceholder)

	p, err = c.Apology(context.Background(), prompt.ApologyRequest{Reason: "boom"})
	require.NoError(t, err)
	assert.Contains(t, p.Text, "boom")
}

func TestClients_BuildDeepLink(t *testing.T) {
	b, _ := newBus(t)
	c := NewClients(b)

	art, err := c.BuildDeepLink(context.Background(), deeplink.Request{
		BaseURL:    cpmtest.Storefront,
		ProductKey: "p1",
		Collected:  map[string]string{"name": "Ana", "cvv": "123"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"cvv"}, art.RedactedFields)
	assert.NotContains(t, art.URL, "123")

	_, err = c.BuildDeepLink(context.Background(), deeplink.Request{BaseURL: cpmtest.Storefront})
	assert.ErrorIs(t, err, deeplink.ErrEmptyProductKey)
}

func TestEveryAgentAnswersPing(t *testing.T) {
	b, _ := newBus(t)
	replies, err := b.Broadcast(context.Background(), Orchestrator, bus.TypePing, "health", nil)
	require.NoError(t, err)
	require.Len(t, replies, 4)

	var names []string
	for _, r := range replies {
		names = append(names, r.FromAgent)
		assert.Contains(t, string(r.Payload), `"status":"ok"`)
	}
	assert.Equal(t, []string{ProcessModel, DeepLink, Extractor, Composer}, names)
}

func TestMissingAgentIsNotRegistered(t *testing.T) {
	c := NewClients(bus.New(nil))
	_, err := c.LoadModel(context.Background(), "p1")
	assert.ErrorIs(t, err, bus.ErrAgentNotRegistered)
}

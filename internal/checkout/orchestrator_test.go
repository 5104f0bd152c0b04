package checkout_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/agents"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/bus"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/checkout"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/cpm"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/cpm/cpmtest"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/deeplink"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/extract"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/fields"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/llm/llmtest"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/prompt"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/session"
)

const user = "u1"

var allValues = map[string]string{
	"name":        "João Silva",
	"email":       "joao@ex.com",
	"cep":         "01310-100",
	"address":     "Av. Paulista, 1000",
	"paymentType": "Pix",
}

type recordingEvents struct {
	mu     sync.Mutex
	events []checkout.Event
}

func (r *recordingEvents) PublishEvent(_ context.Context, ev checkout.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

// flakyStore fails the next failPuts writes.
type flakyStore struct {
	session.Store
	failPuts atomic.Int32
}

func (f *flakyStore) Put(ctx context.Context, s *session.Session, expected int64) error {
	if f.failPuts.Load() > 0 {
		f.failPuts.Add(-1)
		return errors.New("table unavailable")
	}
	return f.Store.Put(ctx, s, expected)
}

type failingLinks struct{ err error }

func (f failingLinks) BuildDeepLink(context.Context, deeplink.Request) (*deeplink.Artifact, error) {
	return nil, f.err
}

type harnessConfig struct {
	store       session.Store
	models      []*cpm.Model
	links       checkout.LinkBuilder
	noExtractor bool
}

type harness struct {
	orch     *checkout.Orchestrator
	machine  *session.Machine
	models   *cpm.Store
	llm      *llmtest.Fake
	events   *recordingEvents
	sessions session.Store
}

func newHarness(t *testing.T, cfg harnessConfig) *harness {
	t.Helper()
	ctx := context.Background()

	models, err := cpm.NewStore(cpm.NewMemoryBlobs(), 8, nil)
	require.NoError(t, err)
	if cfg.models == nil {
		cfg.models = []*cpm.Model{cpmtest.Scenario("p1")}
	}
	for _, m := range cfg.models {
		_, err := models.Save(ctx, m.ProductKey, m)
		require.NoError(t, err)
	}

	fake := &llmtest.Fake{Fields: allValues}
	b := bus.New(nil)
	require.NoError(t, b.Register(agents.ProcessModel, agents.ProcessModelAgent(models)))
	require.NoError(t, b.Register(agents.Composer, agents.ComposerAgent(prompt.NewComposer(nil, "ko-KR", nil))))
	require.NoError(t, b.Register(agents.DeepLink, agents.DeepLinkAgent(deeplink.NewBuilder(deeplink.Options{}))))
	if !cfg.noExtractor {
		require.NoError(t, b.Register(agents.Extractor, agents.ExtractorAgent(extract.NewAdapter(fake, nil))))
	}

	clients := agents.NewClients(b)
	collab := checkout.Collaborators{Models: clients, Extractor: clients, Composer: clients, Links: clients}
	if cfg.links != nil {
		collab.Links = cfg.links
	}
	if cfg.store == nil {
		cfg.store = session.NewMemoryStore(64, time.Hour)
	}
	machine := session.NewMachine(cfg.store, nil)
	events := &recordingEvents{}
	orch, err := checkout.New(machine, collab, checkout.Options{Locale: "ko-KR", Events: events})
	require.NoError(t, err)

	return &harness{orch: orch, machine: machine, models: models, llm: fake, events: events, sessions: cfg.store}
}

func (h *harness) inspect(t *testing.T) *session.Session {
	t.Helper()
	s, err := h.orch.Inspect(context.Background(), user)
	require.NoError(t, err)
	require.NotNil(t, s)
	return s
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := checkout.New(session.NewMachine(session.NewMemoryStore(1, time.Hour), nil), checkout.Collaborators{}, checkout.Options{})
	assert.Error(t, err)
}

func TestOrchestrator_HappyPath(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()

	start, err := h.orch.Start(ctx, user, "p1")
	require.NoError(t, err)
	assert.Equal(t, session.StateCollecting, start.State)
	assert.Equal(t, "이름을(를) 알려주세요.\n이메일을(를) 알려주세요.", start.Prompt)
	assert.Equal(t, []string{"name", "email"}, start.RequiredFields)
	assert.Equal(t, []string{"name", "email"}, start.MissingFields)
	assert.Equal(t, 0, start.Progress)
	assert.Empty(t, start.SupersededSessionID)

	t1, err := h.orch.Turn(ctx, user, "João Silva, joao@ex.com")
	require.NoError(t, err)
	assert.Equal(t, session.StateCollecting, t1.State)
	assert.Equal(t, []string{"email", "name"}, t1.ProcessedFields)
	assert.Equal(t, []string{"cep", "address"}, t1.MissingFields)
	assert.Equal(t, 40, t1.Progress)
	assert.Contains(t, t1.Prompt, "CEP을(를) 알려주세요.")

	t2, err := h.orch.Turn(ctx, user, "CEP 01310-100, Av. Paulista, 1000")
	require.NoError(t, err)
	assert.Equal(t, []string{"address", "cep"}, t2.ProcessedFields)
	assert.Equal(t, 80, t2.Progress)
	assert.Equal(t, "결제 수단을(를) 알려주세요. (선택: Pix, Cartão)", t2.Prompt)

	t3, err := h.orch.Turn(ctx, user, "Pix")
	require.NoError(t, err)
	assert.Equal(t, session.StateReady, t3.State)
	assert.Equal(t, 100, t3.Progress)
	assert.Empty(t, t3.MissingFields)
	assert.Contains(t, t3.Prompt, prompt.ProceedPlaceholder)
	require.NotNil(t, t3.DeepLink)
	assert.True(t, strings.HasPrefix(t3.DeepLink.URL,
		"https://loja.example.com/checkout?productId=p1&prefill=%7B%22name%22%3A%22Jo%C3%A3o%20Silva%22"), t3.DeepLink.URL)
	assert.True(t, strings.HasSuffix(t3.DeepLink.URL, "&autoFill=true"), t3.DeepLink.URL)

	prefill, err := deeplink.ParsePrefill(t3.DeepLink.URL)
	require.NoError(t, err)
	assert.Equal(t, "pix", prefill["paymentType"])

	s := h.inspect(t)
	assert.Equal(t, session.StateReady, s.State)
	require.Len(t, s.History, 3)
	assert.Equal(t, t3.Prompt, s.History[2].PromptEmitted)

	done, err := h.orch.Complete(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, session.StateCompleted, done.State)
	assert.Equal(t, 100, done.Progress)
	assert.Equal(t, t3.DeepLink.URL, done.DeepLink.URL)

	assert.Equal(t, []string{
		checkout.EventStarted,
		checkout.EventTurn,
		checkout.EventTurn,
		checkout.EventTurn,
		checkout.EventReady,
		checkout.EventCompleted,
	}, h.events.types())

	_, err = h.orch.Turn(ctx, user, "mais uma coisa")
	assert.ErrorIs(t, err, checkout.ErrNoActiveSession)
}

func TestOrchestrator_ValidationRecovery(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()
	_, err := h.orch.Start(ctx, user, "p1")
	require.NoError(t, err)

	h.llm.Fields = map[string]string{"name": "João Silva", "email": "joao@"}
	res, err := h.orch.Turn(ctx, user, "João Silva, joao@")
	require.NoError(t, err)
	assert.Equal(t, session.StateValidationError, res.State)
	assert.Equal(t, []fields.FieldError{{Field: "email", Message: "유효한 이메일 주소 형식이 아닙니다."}}, res.Errors)
	assert.Equal(t, []string{"name"}, res.ProcessedFields)
	assert.Equal(t, []string{"email"}, res.MissingFields)
	assert.Equal(t, 20, res.Progress)
	assert.Contains(t, res.Prompt, "입력하신 정보를 확인해 주세요:")
	assert.Contains(t, res.Prompt, "- 이메일: 유효한 이메일 주소 형식이 아닙니다.")

	s := h.inspect(t)
	assert.Equal(t, session.StateValidationError, s.State)
	assert.Equal(t, 0, s.StepIndex)
	assert.NotContains(t, s.Collected, "email")

	h.llm.Fields = allValues
	res, err = h.orch.Turn(ctx, user, "joao@ex.com")
	require.NoError(t, err)
	assert.Equal(t, session.StateCollecting, res.State)
	assert.Equal(t, []string{"email"}, res.ProcessedFields)
	assert.Equal(t, 40, res.Progress)
	assert.Equal(t, 1, h.inspect(t).StepIndex)
}

func TestOrchestrator_SensitiveFieldsNeverLeaveTheSession(t *testing.T) {
	h := newHarness(t, harnessConfig{models: []*cpm.Model{cpmtest.WithCardStep("p1")}})
	ctx := context.Background()
	_, err := h.orch.Start(ctx, user, "p1")
	require.NoError(t, err)

	_, err = h.orch.Turn(ctx, user, "João Silva, joao@ex.com")
	require.NoError(t, err)
	_, err = h.orch.Turn(ctx, user, "01310-100, Av. Paulista, 1000")
	require.NoError(t, err)

	h.llm.Fields = map[string]string{"paymentType": "Cartão", "cardNumber": "4111111111111111"}
	res, err := h.orch.Turn(ctx, user, "Cartão 4111111111111111")
	require.NoError(t, err)
	assert.Equal(t, session.StateReady, res.State)
	assert.Equal(t, []string{"cardNumber", "paymentType"}, res.ProcessedFields)
	require.NotNil(t, res.DeepLink)
	assert.Equal(t, []string{"cardNumber"}, res.DeepLink.RedactedFields)
	assert.NotContains(t, res.DeepLink.URL, "4111")
	assert.NotContains(t, res.Prompt, "4111")

	prefill, err := deeplink.ParsePrefill(res.DeepLink.URL)
	require.NoError(t, err)
	assert.Equal(t, "card", prefill["paymentType"])
	assert.NotContains(t, prefill, "cardNumber")
}

func TestOrchestrator_StartSupersedesLiveSession(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()

	first, err := h.orch.Start(ctx, user, "p1")
	require.NoError(t, err)
	_, err = h.orch.Turn(ctx, user, "João Silva, joao@ex.com")
	require.NoError(t, err)

	second, err := h.orch.Start(ctx, user, "p1")
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, first.SessionID, second.SupersededSessionID)
	assert.Equal(t, 0, second.Progress)

	old, err := h.machine.GetByID(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StateSuperseded, old.State)

	cur := h.inspect(t)
	assert.Equal(t, second.SessionID, cur.SessionID)
	assert.Empty(t, cur.Collected)
	assert.Contains(t, h.events.types(), checkout.EventSuperseded)
}

func TestOrchestrator_FallsBackToDefaultModel(t *testing.T) {
	h := newHarness(t, harnessConfig{models: []*cpm.Model{cpmtest.Scenario(cpm.DefaultKey)}})
	ctx := context.Background()

	res, err := h.orch.Start(ctx, user, "sku-42")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "email"}, res.RequiredFields)

	s := h.inspect(t)
	assert.Equal(t, "sku-42", s.ProductKey)
	assert.Equal(t, cpm.DefaultKey, s.CPMRef)

	for _, u := range []string{"João Silva, joao@ex.com", "01310-100, Av. Paulista, 1000", "Pix"} {
		_, err = h.orch.Turn(ctx, user, u)
		require.NoError(t, err)
	}
	done, err := h.orch.Complete(ctx, user)
	require.NoError(t, err)
	assert.Contains(t, done.DeepLink.URL, "productId=sku-42&")
	assert.Equal(t, "sku-42", done.DeepLink.ProductKey)
}

func TestOrchestrator_StartWithoutAnyModel(t *testing.T) {
	h := newHarness(t, harnessConfig{models: []*cpm.Model{}})

	_, err := h.orch.Start(context.Background(), user, "p1")
	assert.ErrorIs(t, err, checkout.ErrNoProcessModel)
	assert.Equal(t, checkout.KindNoProcessModel, checkout.KindOf(err))

	s, err := h.orch.Inspect(context.Background(), user)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestOrchestrator_ExtractionDegradesToPatterns(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.llm.Err = errors.New("quota exceeded")
	ctx := context.Background()
	_, err := h.orch.Start(ctx, user, "p1")
	require.NoError(t, err)

	res, err := h.orch.Turn(ctx, user, "meu email é joao@ex.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"email"}, res.ProcessedFields)
	assert.False(t, res.ExtractionUnavailable)
	assert.Equal(t, 20, res.Progress)
	assert.Equal(t, "이름을(를) 알려주세요.", res.Prompt)

	res, err = h.orch.Turn(ctx, user, "oi, tudo bem?")
	require.NoError(t, err)
	assert.True(t, res.ExtractionUnavailable)
	assert.Empty(t, res.ProcessedFields)
	assert.Equal(t, session.StateCollecting, res.State)
	assert.Equal(t, 20, res.Progress)

	s := h.inspect(t)
	require.Len(t, s.History, 2)
	assert.Empty(t, s.History[1].NewlyCollected)
}

func TestOrchestrator_TurnWithoutSession(t *testing.T) {
	h := newHarness(t, harnessConfig{})

	_, err := h.orch.Turn(context.Background(), user, "olá")
	assert.ErrorIs(t, err, checkout.ErrNoActiveSession)

	_, err = h.orch.Complete(context.Background(), user)
	assert.ErrorIs(t, err, checkout.ErrNoActiveSession)
}

func TestOrchestrator_CompleteBeforeReady(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()
	_, err := h.orch.Start(ctx, user, "p1")
	require.NoError(t, err)

	_, err = h.orch.Complete(ctx, user)
	assert.ErrorIs(t, err, checkout.ErrValidation)
	assert.Equal(t, session.StateCollecting, h.inspect(t).State)
}

func TestOrchestrator_CancelIsIdempotent(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()

	none, err := h.orch.Cancel(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, session.StateCancelled, none.State)
	assert.Nil(t, none.Session)

	_, err = h.orch.Start(ctx, user, "p1")
	require.NoError(t, err)

	first, err := h.orch.Cancel(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, session.StateCancelled, first.State)
	require.NotNil(t, first.Session)

	second, err := h.orch.Cancel(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, first.Session, second.Session)

	_, err = h.orch.Turn(ctx, user, "João")
	assert.ErrorIs(t, err, checkout.ErrNoActiveSession)

	cancelled := 0
	for _, typ := range h.events.types() {
		if typ == checkout.EventCancelled {
			cancelled++
		}
	}
	assert.Equal(t, 1, cancelled)
}

func TestOrchestrator_ConcurrentTurnIsRejected(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()
	_, err := h.orch.Start(ctx, user, "p1")
	require.NoError(t, err)

	h.llm.Delay = 200 * time.Millisecond
	done := make(chan error, 1)
	go func() {
		_, err := h.orch.Turn(ctx, user, "João Silva, joao@ex.com")
		done <- err
	}()
	require.Eventually(t, func() bool {
		_, n := h.llm.Calls()
		return n == 1
	}, time.Second, 5*time.Millisecond)

	_, err = h.orch.Turn(ctx, user, "again")
	assert.ErrorIs(t, err, checkout.ErrTurnInProgress)

	require.NoError(t, <-done)
	assert.Len(t, h.inspect(t).History, 1)
}

func TestOrchestrator_CancelInterruptsTurn(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()
	_, err := h.orch.Start(ctx, user, "p1")
	require.NoError(t, err)

	h.llm.Delay = 5 * time.Second
	done := make(chan error, 1)
	go func() {
		_, err := h.orch.Turn(ctx, user, "João Silva, joao@ex.com")
		done <- err
	}()
	require.Eventually(t, func() bool {
		_, n := h.llm.Calls()
		return n == 1
	}, time.Second, 5*time.Millisecond)

	res, err := h.orch.Cancel(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, session.StateCancelled, res.State)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, checkout.ErrNoActiveSession)
	case <-time.After(2 * time.Second):
		t.Fatal("turn was not interrupted")
	}

	s := h.inspect(t)
	assert.Equal(t, session.StateCancelled, s.State)
	assert.Empty(t, s.History)
	assert.Empty(t, s.Collected)
}

func TestOrchestrator_StoreFailureFailsSession(t *testing.T) {
	store := &flakyStore{Store: session.NewMemoryStore(16, time.Hour)}
	h := newHarness(t, harnessConfig{store: store})
	ctx := context.Background()
	_, err := h.orch.Start(ctx, user, "p1")
	require.NoError(t, err)

	store.failPuts.Store(1)
	_, err = h.orch.Turn(ctx, user, "João Silva, joao@ex.com")
	assert.ErrorIs(t, err, checkout.ErrStoreFailure)

	s := h.inspect(t)
	assert.Equal(t, session.StateFailed, s.State)
	assert.Equal(t, "failed: store_failure", s.Disposition)
	assert.Empty(t, s.History)
	assert.Contains(t, h.events.types(), checkout.EventFailed)
}

func TestOrchestrator_DeepLinkFailureApologizes(t *testing.T) {
	h := newHarness(t, harnessConfig{links: failingLinks{err: errors.New("link service down")}})
	ctx := context.Background()
	_, err := h.orch.Start(ctx, user, "p1")
	require.NoError(t, err)

	var res *checkout.TurnResult
	for _, u := range []string{"João Silva, joao@ex.com", "01310-100, Av. Paulista, 1000", "Pix"} {
		res, err = h.orch.Turn(ctx, user, u)
		require.NoError(t, err)
	}
	assert.Equal(t, checkout.StateDeepLinkError, res.State)
	assert.Nil(t, res.DeepLink)
	assert.Equal(t, 100, res.Progress)
	assert.Contains(t, res.Prompt, "죄송합니다")
	assert.Contains(t, res.Prompt, cpmtest.Storefront)

	s := h.inspect(t)
	assert.Equal(t, session.StateReady, s.State)
	assert.Nil(t, s.DeepLink)

	_, err = h.orch.Complete(ctx, user)
	assert.ErrorIs(t, err, checkout.ErrDeepLink)
	assert.Equal(t, session.StateReady, h.inspect(t).State)
}

func TestOrchestrator_MissingAgentDoesNotFailSession(t *testing.T) {
	h := newHarness(t, harnessConfig{noExtractor: true})
	ctx := context.Background()
	_, err := h.orch.Start(ctx, user, "p1")
	require.NoError(t, err)

	_, err = h.orch.Turn(ctx, user, "João Silva")
	assert.ErrorIs(t, err, checkout.ErrAgentNotRegistered)
	assert.ErrorIs(t, err, bus.ErrAgentNotRegistered)

	s := h.inspect(t)
	assert.Equal(t, session.StateCollecting, s.State)
	assert.Empty(t, s.History)
}

func TestOrchestrator_CallerCancellation(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	_, err := h.orch.Start(context.Background(), user, "p1")
	require.NoError(t, err)

	h.llm.Delay = 5 * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = h.orch.Turn(ctx, user, "João Silva")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	s := h.inspect(t)
	assert.Equal(t, session.StateCollecting, s.State)
	assert.Empty(t, s.History)
}

// slowStore delays reads so concurrent writers overlap.
type slowStore struct {
	session.Store
	delay time.Duration
}

func (s *slowStore) Get(ctx context.Context, userID string) (*session.Session, error) {
	time.Sleep(s.delay)
	return s.Store.Get(ctx, userID)
}

func TestOrchestrator_ConcurrentStartsLeaveOneLiveSession(t *testing.T) {
	h := newHarness(t, harnessConfig{store: &slowStore{Store: session.NewMemoryStore(64, time.Hour), delay: 20 * time.Millisecond}})
	ctx := context.Background()

	const starts = 4
	ids := make([]string, starts)
	var wg sync.WaitGroup
	for i := 0; i < starts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.orch.Start(ctx, user, "p1")
			if assert.NoError(t, err) {
				ids[i] = res.SessionID
			}
		}(i)
	}
	wg.Wait()

	cur := h.inspect(t)
	live := 0
	for _, id := range ids {
		s, err := h.machine.GetByID(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, s)
		if !s.State.Terminal() {
			live++
			assert.Equal(t, cur.SessionID, id)
			continue
		}
		assert.Equal(t, session.StateSuperseded, s.State)
	}
	assert.Equal(t, 1, live)
}

func TestOrchestrator_EmptyUtteranceKeepsCollecting(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()
	_, err := h.orch.Start(ctx, user, "p1")
	require.NoError(t, err)

	res, err := h.orch.Turn(ctx, user, "   ")
	require.NoError(t, err)
	assert.Equal(t, session.StateCollecting, res.State)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.ProcessedFields)
	assert.Equal(t, []string{"name", "email"}, res.MissingFields)
	assert.Equal(t, 0, res.Progress)
	_, extracts := h.llm.Calls()
	assert.Zero(t, extracts)

	s := h.inspect(t)
	assert.Equal(t, session.StateCollecting, s.State)
	require.Len(t, s.History, 1)
	assert.Empty(t, s.History[0].Extracted)
	assert.Equal(t, res.Prompt, s.History[0].PromptEmitted)
}

func TestOrchestrator_OneUtteranceFillsEveryRequiredField(t *testing.T) {
	scenario := cpmtest.Scenario("express")
	express := &cpm.Model{
		ProductKey: "express",
		BaseURL:    cpmtest.Storefront,
		Steps: []fields.Step{{
			StepID:     "s1",
			Name:       "express",
			Order:      1,
			IsTerminal: true,
			Fields: []fields.Field{
				scenario.Steps[0].Fields[0],
				scenario.Steps[0].Fields[1],
				scenario.Steps[2].Fields[0],
			},
		}},
	}
	h := newHarness(t, harnessConfig{models: []*cpm.Model{express}})
	ctx := context.Background()
	_, err := h.orch.Start(ctx, user, "express")
	require.NoError(t, err)

	res, err := h.orch.Turn(ctx, user, "João Silva, joao@ex.com, Pix")
	require.NoError(t, err)
	assert.Equal(t, session.StateReady, res.State)
	assert.Equal(t, []string{"email", "name", "paymentType"}, res.ProcessedFields)
	assert.Empty(t, res.MissingFields)
	assert.Equal(t, 100, res.Progress)
	require.NotNil(t, res.DeepLink)
	assert.True(t, strings.HasPrefix(res.DeepLink.URL, cpmtest.Storefront+"/checkout?productId=express"), res.DeepLink.URL)

	assert.Equal(t, []string{checkout.EventStarted, checkout.EventTurn, checkout.EventReady}, h.events.types())
	s := h.inspect(t)
	assert.Equal(t, session.StateReady, s.State)
	assert.Len(t, s.History, 1)
}

func TestOrchestrator_StartInterruptsTurn(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()
	first, err := h.orch.Start(ctx, user, "p1")
	require.NoError(t, err)

	h.llm.Delay = 5 * time.Second
	done := make(chan error, 1)
	go func() {
		_, err := h.orch.Turn(ctx, user, "João Silva, joao@ex.com")
		done <- err
	}()
	require.Eventually(t, func() bool {
		_, n := h.llm.Calls()
		return n == 1
	}, time.Second, 5*time.Millisecond)

	second, err := h.orch.Start(ctx, user, "p1")
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SupersededSessionID)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, checkout.ErrNoActiveSession)
	case <-time.After(2 * time.Second):
		t.Fatal("turn was not interrupted")
	}
	cur := h.inspect(t)
	assert.Equal(t, second.SessionID, cur.SessionID)
	assert.Empty(t, cur.History)
}

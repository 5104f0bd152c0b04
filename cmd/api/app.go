package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/agents"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/aws"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/bus"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/checkout"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/config"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/cpm"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/deeplink"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/extract"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/handlers"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/idempotency"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/llm"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/prompt"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/session"
)

const sessionCacheSize = 10000

// app holds the wired services and whatever must be closed on shutdown.
type app struct {
	handlers handlers.HandlerConfig
	closers  []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// newApp wires the orchestrator, its agents and their backends from cfg.
// AWS clients are created only when a backend needs them.
func newApp(ctx context.Context, cfg config.Config, log *logrus.Logger) (*app, error) {
	a := &app{}
	clients := aws.NewClients()

	var store session.Store
	switch cfg.SessionBackend {
	case "", "memory":
		store = session.NewMemoryStore(sessionCacheSize, cfg.SessionTTL)
	case "dynamodb":
		dynamo, err := clients.DynamoDB(ctx)
		if err != nil {
			return nil, err
		}
		store = session.NewDynamoStore(dynamo, cfg.SessionsTable, cfg.SessionTTL)
	case "redis":
		rs := session.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.SessionTTL)
		a.closers = append(a.closers, rs.Close)
		store = rs
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.SessionBackend)
	}

	blobs, closeBlobs, err := cpm.OpenBlobs(cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeBlobs)
	models, err := cpm.NewStore(blobs, cfg.CPMCacheSize, log.WithField("component", "cpm"))
	if err != nil {
		return nil, err
	}

	client, err := newLLM(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	var taps []bus.Tap
	if cfg.BusQueueURL != "" {
		q, err := clients.SQS(ctx)
		if err != nil {
			return nil, err
		}
		taps = append(taps, bus.NewSQSTapForQueue(q, cfg.BusQueueURL))
	}
	if cfg.BusAMQPURL != "" {
		tap, err := bus.DialAMQPTap(cfg.BusAMQPURL, cfg.BusAMQPExchange)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { tap.Close(); return nil })
		taps = append(taps, tap)
	}
	b := bus.New(log.WithField("component", "bus"), taps...)
	if err := agents.Register(b, agents.Services{
		Models:    models,
		Extractor: extract.NewAdapter(client, log.WithField("component", "extract")),
		Composer:  prompt.NewComposer(client, cfg.PromptLocale, log.WithField("component", "prompt")),
		Links: deeplink.NewBuilder(deeplink.Options{
			RootURL:      cfg.DeeplinkRootURL,
			CheckoutPath: cfg.DeeplinkCheckoutPath,
			SigningKey:   []byte(cfg.DeeplinkSigningKey),
		}),
	}); err != nil {
		return nil, err
	}
	remote := agents.NewClients(b)

	opts := checkout.Options{
		Locale:                   cfg.PromptLocale,
		ProgressIncludesOptional: cfg.ProgressIncludesOptional,
		Log:                      log.WithField("component", "checkout"),
	}
	if cfg.EventsQueueURL != "" {
		q, err := clients.SQS(ctx)
		if err != nil {
			return nil, err
		}
		opts.Events = checkout.NewQueueEvents(aws.NewPublisher(q, cfg.EventsQueueURL, aws.WithFIFO("sessionId", "eventId")))
	}
	orch, err := checkout.New(
		session.NewMachine(store, log.WithField("component", "session")),
		checkout.Collaborators{Models: remote, Extractor: remote, Composer: remote, Links: remote},
		opts,
	)
	if err != nil {
		return nil, err
	}

	a.handlers = handlers.HandlerConfig{
		Checkout: orch,
		Models:   models,
		Log:      log.WithField("component", "api"),
	}
	if cfg.IdempotencyTable != "" {
		dynamo, err := clients.DynamoDB(ctx)
		if err != nil {
			return nil, err
		}
		a.handlers.Idempotency = idempotency.NewStore(dynamo, cfg.IdempotencyTable, cfg.IdempotencyTTL)
	}
	return a, nil
}

// newLLM returns nil when the model is disabled; extraction and prompts
// then run on patterns and templates alone.
func newLLM(ctx context.Context, cfg config.Config, log *logrus.Logger) (llm.Client, error) {
	if !cfg.LLMEnabled {
		return nil, nil
	}
	if cfg.GeminiAPIKey == "" {
		log.Warn("LLM_ENABLED is set but no GEMINI_API_KEY; running without a model")
		return nil, nil
	}
	g, err := llm.NewGemini(ctx, cfg.GeminiAPIKey, cfg.LLMModel)
	if err != nil {
		return nil, err
	}
	return llm.Wrap(g,
		llm.WithLogging(log.WithField("component", "llm")),
		llm.Retry(cfg.LLMRetries+1, 300*time.Millisecond),
		llm.RateLimit(cfg.LLMRPS, cfg.LLMBurst),
		llm.Timeout(cfg.LLMTimeout),
	), nil
}

// Package checkout drives a conversational checkout: it owns the session
// lifecycle and coordinates the process-model store, the field extractor,
// the prompt composer and the deep-link builder for every turn.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/bus"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/cpm"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/deeplink"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/extract"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/fields"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/logging"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/prompt"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/session"
)

const tracerName = "github.com/imrishuroy/go-checkout-orchestrator/internal/checkout"

// StateDeepLinkError is reported by a turn whose session became ready but
// whose deep-link could not be built. The stored session stays ready.
const StateDeepLinkError session.State = "deeplink_error"

type ProcessModels interface {
	LoadModel(ctx context.Context, productKey string) (*cpm.Model, error)
}

type Extractor interface {
	Extract(ctx context.Context, utterance string, targets []fields.Field, prior map[string]string) (extract.Result, error)
}

type Composer interface {
	NextField(ctx context.Context, req prompt.NextFieldRequest) (prompt.Prompt, error)
	Recovery(ctx context.Context, req prompt.RecoveryRequest) (prompt.Prompt, error)
	Summary(ctx context.Context, req prompt.SummaryRequest) (prompt.Prompt, error)
	Apology(ctx context.Context, req prompt.ApologyRequest) (prompt.Prompt, error)
}

type LinkBuilder interface {
	BuildDeepLink(ctx context.Context, req deeplink.Request) (*deeplink.Artifact, error)
}

// Collaborators are the services a turn talks to. agents.Clients
// implements all of them over the bus.
type Collaborators struct {
	Models    ProcessModels
	Extractor Extractor
	Composer  Composer
	Links     LinkBuilder
}

type Options struct {
	// Locale selects validation messages and template prompts (BCP 47).
	Locale string
	// ProgressIncludesOptional counts optional visible fields in progress.
	ProgressIncludesOptional bool
	Events                   EventPublisher
	Tracer                   trace.Tracer
	Log                      logrus.FieldLogger
}

// Orchestrator runs checkout sessions. It is safe for concurrent use; at
// most one Start, Turn or Complete per user is in flight at a time.
type Orchestrator struct {
	sessions        *session.Machine
	models          ProcessModels
	extractor       Extractor
	composer        Composer
	templates       *prompt.Composer
	links           LinkBuilder
	validator       *fields.Validator
	includeOptional bool
	guard           *turnGuard
	events          EventPublisher
	tracer          trace.Tracer
	log             logrus.FieldLogger
}

func New(sessions *session.Machine, c Collaborators, opts Options) (*Orchestrator, error) {
	if sessions == nil || c.Models == nil || c.Extractor == nil || c.Composer == nil || c.Links == nil {
		return nil, errors.New("checkout: session machine and every collaborator are required")
	}
	if opts.Events == nil {
		opts.Events = noEvents{}
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	log := logging.OrDiscard(opts.Log)
	return &Orchestrator{
		sessions:        sessions,
		models:          c.Models,
		extractor:       c.Extractor,
		composer:        c.Composer,
		templates:       prompt.NewComposer(nil, opts.Locale, log),
		links:           c.Links,
		validator:       fields.NewValidator(opts.Locale),
		includeOptional: opts.ProgressIncludesOptional,
		guard:           newTurnGuard(),
		events:          opts.Events,
		tracer:          opts.Tracer,
		log:             log,
	}, nil
}

type StartResult struct {
	SessionID           string             `json:"sessionId"`
	State               session.State      `json:"state"`
	Prompt              string             `json:"prompt"`
	RequiredFields      []string           `json:"requiredFields"`
	MissingFields       []string           `json:"missingFields"`
	Progress            int                `json:"progress"`
	DeepLink            *deeplink.Artifact `json:"deeplink,omitempty"`
	SupersededSessionID string             `json:"supersededSessionId,omitempty"`
}

type TurnResult struct {
	SessionID             string              `json:"sessionId"`
	State                 session.State       `json:"state"`
	Prompt                string              `json:"prompt"`
	Errors                []fields.FieldError `json:"errors,omitempty"`
	ProcessedFields       []string            `json:"processedFields"`
	MissingFields         []string            `json:"missingFields"`
	DeepLink              *deeplink.Artifact  `json:"deeplink,omitempty"`
	Progress              int                 `json:"progress"`
	ExtractionUnavailable bool                `json:"extractionUnavailable,omitempty"`
}

type CompleteResult struct {
	SessionID string             `json:"sessionId"`
	State     session.State      `json:"state"`
	DeepLink  *deeplink.Artifact `json:"deeplink"`
	Progress  int                `json:"progress"`
}

// CancelResult carries the cancelled snapshot. Session is nil when the
// user had none.
type CancelResult struct {
	SessionID string           `json:"sessionId,omitempty"`
	State     session.State    `json:"state"`
	Session   *session.Session `json:"session,omitempty"`
}

// Start opens a session for userID on the process model of productKey,
// superseding the user's live session and interrupting its turn.
func (o *Orchestrator) Start(ctx context.Context, userID, productKey string) (res *StartResult, err error) {
	const op = "start"
	ctx, span := o.startSpan(ctx, op, userID)
	defer func() { o.endSpan(span, stateOf(res), err) }()

	if strings.TrimSpace(userID) == "" {
		return nil, newError(KindValidation, op, errors.New("user id is required"))
	}
	model, err := o.models.LoadModel(ctx, productKey)
	if err != nil {
		return nil, o.collaboratorError(op, err)
	}

	// Starts of one user run one at a time; an in-flight turn is stopped
	// rather than waited for.
	o.guard.interrupt(userID)
	unlock, err := o.guard.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	created, superseded, err := o.sessions.Create(ctx, userID, productKey, model.ProductKey)
	if err != nil {
		return nil, newError(KindStoreFailure, op, err)
	}
	if superseded != nil {
		o.emit(ctx, EventSuperseded, superseded, 0)
	}

	next := created.Clone()
	out, err := o.settle(ctx, next, model)
	if err != nil {
		return nil, o.classify(ctx, ctx, op, userID, err)
	}
	if next.StepIndex != created.StepIndex || next.DeepLink != nil {
		if err := o.save(ctx, op, next); err != nil {
			return nil, err
		}
	}

	step, _ := next.CurrentStep(model.Steps)
	res = &StartResult{
		SessionID:      next.SessionID,
		State:          out.state,
		Prompt:         out.prompt,
		RequiredFields: fields.Names(fields.RequiredFieldsOf(step)),
		MissingFields:  fields.Names(out.missing),
		Progress:       o.progress(model, next),
		DeepLink:       out.link,
	}
	if superseded != nil {
		res.SupersededSessionID = superseded.SessionID
	}
	o.emit(ctx, EventStarted, next, res.Progress)
	if next.State == session.StateReady {
		o.emit(ctx, EventReady, next, res.Progress)
	}
	return res, nil
}

// Turn processes one utterance of userID against the current step.
func (o *Orchestrator) Turn(ctx context.Context, userID, utterance string) (res *TurnResult, err error) {
	const op = "turn"
	ctx, span := o.startSpan(ctx, op, userID)
	defer func() { o.endSpan(span, stateOf(res), err) }()

	tctx, release, ok := o.guard.acquire(ctx, userID)
	if !ok {
		return nil, newError(KindTurnInProgress, op, nil)
	}
	defer release()

	s, err := o.sessions.Get(tctx, userID)
	if err != nil {
		return nil, o.classify(ctx, tctx, op, userID, err)
	}
	if s == nil || !s.State.AcceptsTurns() {
		return nil, newError(KindNoActiveSession, op, nil)
	}
	log := o.log.WithFields(logrus.Fields{"user_id": userID, "session_id": s.SessionID})

	model, err := o.models.LoadModel(tctx, s.CPMRef)
	if err != nil {
		return nil, o.classify(ctx, tctx, op, userID, err)
	}
	step, _ := s.CurrentStep(model.Steps)
	targets := fields.OpenFields(step, s.Collected)

	extracted, err := o.extractor.Extract(tctx, utterance, targets, s.Collected)
	if err != nil {
		if tctx.Err() != nil || errors.Is(err, bus.ErrAgentNotRegistered) {
			return nil, o.classify(ctx, tctx, op, userID, err)
		}
		log.WithError(err).Warn("checkout: extraction failed")
		extracted = extract.Result{Fields: map[string]string{}, Source: extract.SourceNone, Unavailable: true}
	}
	if extracted.Unavailable {
		log.WithField("kind", KindExtractionUnavailable).Debug("checkout: nothing extracted")
	}

	newly, verrs := o.validate(targets, extracted.Fields)
	now := o.sessions.Now()
	next := s.Clone()
	record := session.TurnRecord{Utterance: utterance, Extracted: extracted.Fields, Timestamp: now}
	if err := next.Record(record, newly, verrs, now); err != nil {
		return nil, newError(KindNoActiveSession, op, err)
	}

	res = &TurnResult{
		SessionID:             next.SessionID,
		ProcessedFields:       sortedKeys(newly),
		ExtractionUnavailable: extracted.Unavailable,
	}
	if len(verrs) > 0 {
		req := prompt.RecoveryRequest{Errors: verrs, Fields: model.Fields()}
		text, err := o.compose(tctx, "recovery",
			func(ctx context.Context) (prompt.Prompt, error) { return o.composer.Recovery(ctx, req) },
			func(ctx context.Context) (prompt.Prompt, error) { return o.templates.Recovery(ctx, req) })
		if err != nil {
			return nil, o.classify(ctx, tctx, op, userID, err)
		}
		res.State = session.StateValidationError
		res.Prompt = text
		res.Errors = verrs
		res.MissingFields = fields.Names(fields.MissingFields(step, next.Collected))
	} else {
		out, err := o.settle(tctx, next, model)
		if err != nil {
			return nil, o.classify(ctx, tctx, op, userID, err)
		}
		res.State = out.state
		res.Prompt = out.prompt
		res.MissingFields = fields.Names(out.missing)
		res.DeepLink = out.link
	}
	next.History[len(next.History)-1].PromptEmitted = res.Prompt

	if tctx.Err() != nil {
		return nil, o.interrupted(ctx, op)
	}
	if err := o.save(ctx, op, next); err != nil {
		return nil, err
	}

	res.Progress = o.progress(model, next)
	log.WithFields(logrus.Fields{
		"state":     res.State,
		"processed": res.ProcessedFields,
		"progress":  res.Progress,
		"source":    extracted.Source,
	}).Info("checkout: turn processed")
	o.emit(ctx, EventTurn, next, res.Progress)
	if s.State != session.StateReady && next.State == session.StateReady {
		o.emit(ctx, EventReady, next, res.Progress)
	}
	return res, nil
}

// Complete finishes a ready session and returns its deep-link. A session
// that is not ready yet fails with a validation error.
func (o *Orchestrator) Complete(ctx context.Context, userID string) (res *CompleteResult, err error) {
	const op = "complete"
	ctx, span := o.startSpan(ctx, op, userID)
	defer func() { o.endSpan(span, stateOf(res), err) }()

	cctx, release, ok := o.guard.acquire(ctx, userID)
	if !ok {
		return nil, newError(KindTurnInProgress, op, nil)
	}
	defer release()

	s, err := o.sessions.Get(cctx, userID)
	if err != nil {
		return nil, o.classify(ctx, cctx, op, userID, err)
	}
	if s == nil || s.State.Terminal() {
		return nil, newError(KindNoActiveSession, op, nil)
	}
	if s.State != session.StateReady {
		return nil, newError(KindValidation, op, fmt.Errorf("session is %s, not %s", s.State, session.StateReady))
	}

	link := s.DeepLink
	if link == nil {
		model, err := o.models.LoadModel(cctx, s.CPMRef)
		if err != nil {
			return nil, o.classify(ctx, cctx, op, userID, err)
		}
		link, err = o.links.BuildDeepLink(cctx, linkRequest(s, model))
		if err != nil {
			if cctx.Err() != nil || errors.Is(err, bus.ErrAgentNotRegistered) {
				return nil, o.classify(ctx, cctx, op, userID, err)
			}
			return nil, newError(KindDeepLink, op, err)
		}
	}
	if cctx.Err() != nil {
		return nil, o.interrupted(ctx, op)
	}

	done, err := o.sessions.Complete(ctx, userID, link)
	if err != nil {
		if errors.Is(err, session.ErrTerminal) || errors.Is(err, session.ErrInvalidTransition) || errors.Is(err, session.ErrNotFound) {
			return nil, newError(KindNoActiveSession, op, err)
		}
		return nil, o.storeFailure(ctx, op, userID, err)
	}
	o.emit(ctx, EventCompleted, done, 100)
	return &CompleteResult{SessionID: done.SessionID, State: done.State, DeepLink: done.DeepLink, Progress: 100}, nil
}

// Cancel ends the user's session and interrupts its in-flight turn.
// Cancelling twice, or with no session, is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context, userID string) (res *CancelResult, err error) {
	const op = "cancel"
	ctx, span := o.startSpan(ctx, op, userID)
	defer func() {
		var state session.State
		if res != nil {
			state = res.State
		}
		o.endSpan(span, state, err)
	}()

	o.guard.interrupt(userID)
	snap, changed, err := o.sessions.Cancel(ctx, userID)
	if err != nil {
		return nil, newError(KindStoreFailure, op, err)
	}
	if snap == nil {
		return &CancelResult{State: session.StateCancelled}, nil
	}
	if changed {
		o.emit(ctx, EventCancelled, snap, 0)
	}
	return &CancelResult{SessionID: snap.SessionID, State: snap.State, Session: snap}, nil
}

// Inspect returns the user's latest session, or nil.
func (o *Orchestrator) Inspect(ctx context.Context, userID string) (*session.Session, error) {
	s, err := o.sessions.Get(ctx, userID)
	if err != nil {
		return nil, newError(KindStoreFailure, "inspect", err)
	}
	return s, nil
}

type outcome struct {
	state   session.State
	prompt  string
	missing []fields.Field
	link    *deeplink.Artifact
}

// settle advances next past completed steps and composes the prompt for
// where it lands: the next missing fields, or the summary once ready.
func (o *Orchestrator) settle(ctx context.Context, next *session.Session, model *cpm.Model) (outcome, error) {
	next.AdvanceIfStepComplete(model.Steps, o.sessions.Now())
	if next.State == session.StateReady {
		return o.ready(ctx, next, model)
	}

	step, _ := next.CurrentStep(model.Steps)
	missing := fields.MissingFields(step, next.Collected)
	req := prompt.NextFieldRequest{Missing: missing, Product: next.ProductKey, Collected: next.Collected}
	text, err := o.compose(ctx, "next_field",
		func(ctx context.Context) (prompt.Prompt, error) { return o.composer.NextField(ctx, req) },
		func(ctx context.Context) (prompt.Prompt, error) { return o.templates.NextField(ctx, req) })
	return outcome{state: next.State, prompt: text, missing: missing}, err
}

func (o *Orchestrator) ready(ctx context.Context, s *session.Session, model *cpm.Model) (outcome, error) {
	if s.DeepLink == nil {
		link, err := o.links.BuildDeepLink(ctx, linkRequest(s, model))
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, bus.ErrAgentNotRegistered) {
				return outcome{}, err
			}
			o.log.WithError(err).WithField("session_id", s.SessionID).Warn("checkout: deep-link build failed")
			req := prompt.ApologyRequest{Reason: linkFailureReason(err), Storefront: model.BaseURL}
			text, err := o.compose(ctx, "apology",
				func(ctx context.Context) (prompt.Prompt, error) { return o.composer.Apology(ctx, req) },
				func(ctx context.Context) (prompt.Prompt, error) { return o.templates.Apology(ctx, req) })
			return outcome{state: StateDeepLinkError, prompt: text}, err
		}
		s.DeepLink = link
	}

	req := prompt.SummaryRequest{Collected: s.Collected, Fields: model.Fields(), Product: s.ProductKey}
	text, err := o.compose(ctx, "summary",
		func(ctx context.Context) (prompt.Prompt, error) { return o.composer.Summary(ctx, req) },
		func(ctx context.Context) (prompt.Prompt, error) { return o.templates.Summary(ctx, req) })
	return outcome{state: session.StateReady, prompt: text, link: s.DeepLink}, err
}

// compose asks the composer agent and falls back to local templates when
// the agent fails for any reason but cancellation or a missing agent.
func (o *Orchestrator) compose(ctx context.Context, kind string, remote, local func(context.Context) (prompt.Prompt, error)) (string, error) {
	p, err := remote(ctx)
	if err == nil {
		return p.Text, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if errors.Is(err, bus.ErrAgentNotRegistered) {
		return "", err
	}
	o.log.WithError(err).WithField("prompt", kind).Warn("checkout: composer failed, using template")
	p, err = local(ctx)
	return p.Text, err
}

// validate checks the extracted value of every target. Values for fields
// outside targets are ignored.
func (o *Orchestrator) validate(targets []fields.Field, extracted map[string]string) (map[string]string, []fields.FieldError) {
	newly := map[string]string{}
	var errs []fields.FieldError
	for _, f := range targets {
		raw, ok := extracted[f.Name]
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		value, ferr := o.validator.Check(f, raw)
		if ferr != nil {
			errs = append(errs, *ferr)
			continue
		}
		newly[f.Name] = value
	}
	return newly, errs
}

func (o *Orchestrator) progress(model *cpm.Model, s *session.Session) int {
	if s.State == session.StateReady || s.State == session.StateCompleted {
		return 100
	}
	return Progress(model, s.Collected, o.includeOptional)
}

// save persists the outcome of an operation. Losing the version race means
// the session was cancelled or superseded meanwhile.
func (o *Orchestrator) save(ctx context.Context, op string, s *session.Session) error {
	err := o.sessions.Save(ctx, s)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrVersionMismatch):
		return newError(KindNoActiveSession, op, errInterrupted)
	default:
		return o.storeFailure(ctx, op, s.UserID, err)
	}
}

// classify turns a collaborator error of an operation running under opCtx
// into the error the caller sees. Store and model failures also fail the
// session.
func (o *Orchestrator) classify(ctx, opCtx context.Context, op, userID string, err error) error {
	if opCtx.Err() != nil {
		return o.interrupted(ctx, op)
	}
	e := o.collaboratorError(op, err)
	if k := KindOf(e); k == KindStoreFailure || k == KindNoProcessModel {
		o.failSession(ctx, userID, string(k))
	}
	return e
}

func (o *Orchestrator) collaboratorError(op string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, bus.ErrAgentNotRegistered):
		return newError(KindAgentNotRegistered, op, err)
	case errors.Is(err, cpm.ErrNoProcessModel):
		return newError(KindNoProcessModel, op, err)
	default:
		return newError(KindStoreFailure, op, err)
	}
}

// interrupted reports a stopped operation: the caller's own cancellation
// wins, otherwise a cancel or a new start took the session away.
func (o *Orchestrator) interrupted(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return newError(KindNoActiveSession, op, errInterrupted)
}

func (o *Orchestrator) storeFailure(ctx context.Context, op, userID string, cause error) error {
	o.failSession(ctx, userID, string(KindStoreFailure))
	return newError(KindStoreFailure, op, cause)
}

// failSession moves the user's session to failed, best effort.
func (o *Orchestrator) failSession(ctx context.Context, userID, reason string) {
	s, err := o.sessions.Fail(context.WithoutCancel(ctx), userID, reason)
	if err != nil {
		o.log.WithError(err).WithField("user_id", userID).Warn("checkout: could not mark session failed")
		return
	}
	o.emit(ctx, EventFailed, s, 0)
}

func (o *Orchestrator) startSpan(ctx context.Context, op, userID string) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, "checkout."+op, trace.WithAttributes(attribute.String("checkout.user_id", userID)))
}

func (o *Orchestrator) endSpan(span trace.Span, state session.State, err error) {
	if state != "" {
		span.SetAttributes(attribute.String("checkout.state", string(state)))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
	}
	span.End()
}

// stateOf extracts the reported state from any operation result.
func stateOf(res interface{}) session.State {
	switch r := res.(type) {
	case *StartResult:
		if r != nil {
			return r.State
		}
	case *TurnResult:
		if r != nil {
			return r.State
		}
	case *CompleteResult:
		if r != nil {
			return r.State
		}
	}
	return ""
}

func linkRequest(s *session.Session, model *cpm.Model) deeplink.Request {
	return deeplink.Request{
		BaseURL:    model.BaseURL,
		ProductKey: s.ProductKey,
		Collected:  s.Collected,
		FieldOrder: fields.Names(model.Fields()),
	}
}

func linkFailureReason(err error) string {
	switch {
	case errors.Is(err, deeplink.ErrInvalidBaseURL):
		return "invalid storefront address"
	case errors.Is(err, deeplink.ErrEmptyProductKey):
		return "missing product"
	default:
		return "link service unavailable"
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

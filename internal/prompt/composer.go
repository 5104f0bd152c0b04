// Package prompt composes the assistant's messages during checkout: the
// next-field request, validation recovery, readiness summary and the
// deep-link apology.
package prompt

import (
	"context"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/deeplink"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/fields"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/llm"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/logging"
)

// ProceedPlaceholder is replaced by the transport with the deep-link.
const ProceedPlaceholder = "[proceed to checkout]"

// MaxAskedFields caps how many fields one next-field prompt asks for.
const MaxAskedFields = 3

// Prompt is a composed message.
type Prompt struct {
	Text      string `json:"text"`
	Generated bool   `json:"generated"`
}

type NextFieldRequest struct {
	Missing   []fields.Field    `json:"missing"`
	Product   string            `json:"product,omitempty"`
	Collected map[string]string `json:"collected,omitempty"`
}

type RecoveryRequest struct {
	Errors []fields.FieldError `json:"errors"`
	// Fields supplies labels for the errored names.
	Fields []fields.Field `json:"fields,omitempty"`
}

type SummaryRequest struct {
	Collected map[string]string `json:"collected"`
	// Fields orders and labels the summary; collected names outside it
	// are listed after, by name.
	Fields  []fields.Field `json:"fields,omitempty"`
	Product string         `json:"product,omitempty"`
}

type ApologyRequest struct {
	Reason     string `json:"reason"`
	Storefront string `json:"storefront,omitempty"`
}

// Composer generates prompts with the model when it can and falls back to
// locale templates otherwise.
type Composer struct {
	client llm.Client
	locale fields.Locale
	tmpl   templates
	log    logrus.FieldLogger
}

// NewComposer returns a Composer for locale (BCP 47). A nil client means
// templates only.
func NewComposer(client llm.Client, locale string, log logrus.FieldLogger) *Composer {
	if client == nil {
		client = llm.Disabled{}
	}
	l := fields.ResolveLocale(locale)
	return &Composer{client: client, locale: l, tmpl: templatesFor(l), log: logging.OrDiscard(log)}
}

func (c *Composer) Locale() fields.Locale { return c.locale }

// NextField asks for at most the first three missing fields.
func (c *Composer) NextField(ctx context.Context, req NextFieldRequest) (Prompt, error) {
	missing := req.Missing
	if len(missing) > MaxAskedFields {
		missing = missing[:MaxAskedFields]
	}
	fallback := c.tmpl.nextField(missing)

	asked := make([]map[string]any, 0, len(missing))
	for _, f := range missing {
		item := map[string]any{"name": f.Name, "label": f.DisplayName(), "type": f.Type}
		if f.HasOptions() {
			item["options"] = optionTexts(f.Options)
		}
		asked = append(asked, item)
	}
	known, _ := deeplink.Redact(req.Collected)
	return c.generate(ctx, "next_field", Brief{
		Purpose:    "Ask the shopper for the next checkout details in one short, friendly message.",
		Background: "You are a shopping assistant guiding a checkout by chat.",
		Input:      map[string]any{"product": req.Product, "ask": asked, "alreadyCollected": known},
		Rules: []string{
			"Ask only for the fields listed in ask, in that order.",
			"List the options of fields that have them.",
			"Do not repeat values already collected.",
		},
		Constraints: []string{"Plain text, at most three sentences."},
		Language:    c.tmpl.language,
	}, fallback, nil)
}

// Recovery lists each validation error and asks for corrected values.
func (c *Composer) Recovery(ctx context.Context, req RecoveryRequest) (Prompt, error) {
	labels := make(map[string]string, len(req.Fields))
	for _, f := range req.Fields {
		labels[f.Name] = f.DisplayName()
	}
	fallback := c.tmpl.recovery(req.Errors, labels)

	errs := make([]map[string]string, 0, len(req.Errors))
	for _, e := range req.Errors {
		errs = append(errs, map[string]string{"field": labelOf(labels, e.Field), "message": e.Message})
	}
	return c.generate(ctx, "recovery", Brief{
		Purpose:    "Tell the shopper which details were invalid and ask for corrected values.",
		Background: "You are a shopping assistant guiding a checkout by chat.",
		Input:      map[string]any{"errors": errs},
		Rules:      []string{"Mention every error.", "Do not invent new requirements."},
		Language:   c.tmpl.language,
	}, fallback, nil)
}

// Summary enumerates the collected values, sensitive ones excluded, and
// always contains ProceedPlaceholder.
func (c *Composer) Summary(ctx context.Context, req SummaryRequest) (Prompt, error) {
	entries := summaryEntries(req.Collected, req.Fields)
	fallback := c.tmpl.summary(req.Product, entries)

	return c.generate(ctx, "summary", Brief{
		Purpose:    "Summarize the shopper's checkout details and invite them to proceed.",
		Background: "You are a shopping assistant guiding a checkout by chat.",
		Input:      map[string]any{"product": req.Product, "details": entries},
		Rules: []string{
			"List every detail in input.details with its label.",
			"End with the exact text " + ProceedPlaceholder + " on its own line.",
		},
		Constraints: []string{"Never mention card numbers, security codes or passwords."},
		Language:    c.tmpl.language,
	}, fallback, func(text string) string {
		if !strings.Contains(text, ProceedPlaceholder) {
			text = strings.TrimRight(text, "\n") + "\n" + ProceedPlaceholder
		}
		return text
	})
}

// Apology tells the shopper the deep-link failed and points to the store.
func (c *Composer) Apology(ctx context.Context, req ApologyRequest) (Prompt, error) {
	fallback := c.tmpl.apologyText(req.Reason, req.Storefront)
	return c.generate(ctx, "apology", Brief{
		Purpose:    "Apologize that the checkout link could not be created and send the shopper to the store.",
		Background: "You are a shopping assistant guiding a checkout by chat.",
		Input:      map[string]any{"reason": req.Reason, "storefront": req.Storefront},
		Rules:      []string{"Include the storefront URL when given.", "Keep it to two sentences."},
		Language:   c.tmpl.language,
	}, fallback, nil)
}

// generate returns the model's text, post-processed by fix, or fallback
// when the model fails. Only context errors are returned.
func (c *Composer) generate(ctx context.Context, kind string, brief Brief, fallback string, fix func(string) string) (Prompt, error) {
	system, user, err := brief.Render()
	if err != nil {
		c.log.WithError(err).WithField("prompt", kind).Warn("prompt: render failed, using template")
		return Prompt{Text: fallback}, nil
	}
	text, err := c.client.Generate(ctx, system, user)
	if err == nil && strings.TrimSpace(text) != "" {
		text = strings.TrimSpace(text)
		if fix != nil {
			text = fix(text)
		}
		return Prompt{Text: text, Generated: true}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Prompt{}, ctxErr
	}
	if err != nil {
		c.log.WithError(err).WithField("prompt", kind).Debug("prompt: using template")
	}
	return Prompt{Text: fallback}, nil
}

type entry struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Value string `json:"value"`
}

func summaryEntries(collected map[string]string, fs []fields.Field) []entry {
	visible, _ := deeplink.Redact(collected)
	out := make([]entry, 0, len(visible))
	seen := make(map[string]bool, len(visible))
	for _, f := range fs {
		v, ok := visible[f.Name]
		if !ok || seen[f.Name] || f.Type == fields.TypeHidden {
			continue
		}
		seen[f.Name] = true
		out = append(out, entry{Name: f.Name, Label: f.DisplayName(), Value: optionLabel(f, v)})
	}
	for _, name := range sortedNames(visible) {
		if !seen[name] && !hidden(fs, name) {
			out = append(out, entry{Name: name, Label: name, Value: visible[name]})
		}
	}
	return out
}

// optionLabel shows the option text for a stored option value.
func optionLabel(f fields.Field, v string) string {
	for _, o := range f.Options {
		if o.Value == v && o.Text != "" {
			return o.Text
		}
	}
	return v
}

func hidden(fs []fields.Field, name string) bool {
	for _, f := range fs {
		if f.Name == name {
			return f.Type == fields.TypeHidden
		}
	}
	return false
}

func sortedNames(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

package prompt

import (
	"fmt"
	"strings"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/fields"
)

type templates struct {
	language    string
	askField    func(label string) string
	options     string // %s
	recoveryHdr string
	recoveryEnd string
	summaryHdr  string
	product     string // %s
	apology     string // %s
	visitStore  string // %s
}

var catalog = map[fields.Locale]templates{
	fields.LocaleKorean: {
		language:    "Korean",
		askField:    func(label string) string { return label + "을(를) 알려주세요." },
		options:     "(선택: %s)",
		recoveryHdr: "입력하신 정보를 확인해 주세요:",
		recoveryEnd: "올바른 값을 다시 알려주세요.",
		summaryHdr:  "주문 정보를 확인해 주세요:",
		product:     "상품: %s",
		apology:     "죄송합니다. 결제 링크를 만들지 못했습니다 (%s).",
		visitStore:  "스토어에서 직접 결제를 진행해 주세요: %s",
	},
	fields.LocalePortuguese: {
		language:    "Brazilian Portuguese",
		askField:    func(label string) string { return "Informe " + label + "." },
		options:     "(opções: %s)",
		recoveryHdr: "Alguns dados precisam de correção:",
		recoveryEnd: "Por favor, envie os valores corrigidos.",
		summaryHdr:  "Confira seus dados:",
		product:     "Produto: %s",
		apology:     "Desculpe, não consegui gerar o link de pagamento (%s).",
		visitStore:  "Por favor, finalize a compra diretamente na loja: %s",
	},
	fields.LocaleEnglish: {
		language:    "English",
		askField:    func(label string) string { return "Please provide your " + label + "." },
		options:     "(options: %s)",
		recoveryHdr: "Some details need correcting:",
		recoveryEnd: "Please send the corrected values.",
		summaryHdr:  "Please review your details:",
		product:     "Product: %s",
		apology:     "Sorry, I could not create the checkout link (%s).",
		visitStore:  "Please complete your purchase directly on the store: %s",
	},
}

func templatesFor(l fields.Locale) templates {
	if t, ok := catalog[l]; ok {
		return t
	}
	return catalog[fields.LocalePortuguese]
}

func (t templates) nextField(missing []fields.Field) string {
	lines := make([]string, 0, len(missing))
	for _, f := range missing {
		line := t.askField(f.DisplayName())
		if f.HasOptions() {
			line += " " + fmt.Sprintf(t.options, optionTexts(f.Options))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (t templates) recovery(errs []fields.FieldError, labels map[string]string) string {
	lines := []string{t.recoveryHdr}
	for _, e := range errs {
		lines = append(lines, fmt.Sprintf("- %s: %s", labelOf(labels, e.Field), e.Message))
	}
	lines = append(lines, t.recoveryEnd)
	return strings.Join(lines, "\n")
}

func (t templates) summary(product string, entries []entry) string {
	lines := []string{t.summaryHdr}
	if product != "" {
		lines = append(lines, fmt.Sprintf(t.product, product))
	}
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("- %s: %s", e.Label, e.Value))
	}
	lines = append(lines, ProceedPlaceholder)
	return strings.Join(lines, "\n")
}

func (t templates) apologyText(reason, storefront string) string {
	out := fmt.Sprintf(t.apology, reason)
	if storefront != "" {
		out += " " + fmt.Sprintf(t.visitStore, storefront)
	}
	return out
}

func optionTexts(opts []fields.Option) string {
	out := make([]string, 0, len(opts))
	for _, o := range opts {
		if o.Text != "" {
			out = append(out, o.Text)
		} else {
			out = append(out, o.Value)
		}
	}
	return strings.Join(out, ", ")
}

func labelOf(labels map[string]string, name string) string {
	if l, ok := labels[name]; ok && l != "" {
		return l
	}
	return name
}

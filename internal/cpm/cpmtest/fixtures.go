// Package cpmtest provides process models for tests.
package cpmtest

import (
	"github.com/imrishuroy/go-checkout-orchestrator/internal/cpm"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/fields"
)

// Storefront is the base URL used by the fixtures.
const Storefront = "https://loja.example.com"

// Scenario returns the three-step model: personal (name, email), shipping
// (cep, address) and payment (paymentType with pix/card options).
func Scenario(productKey string) *cpm.Model {
	return &cpm.Model{
		ProductKey: productKey,
		BaseURL:    Storefront,
		Steps: []fields.Step{
			{
				StepID: "s1",
				Name:   "personal",
				Order:  1,
				Fields: []fields.Field{
					{Name: "name", Label: "이름", Type: fields.TypeText, Required: true, Placeholder: "Nome completo"},
					{Name: "email", Label: "이메일", Type: fields.TypeEmail, Required: true, Validation: "rfc5322_email"},
				},
			},
			{
				StepID: "s2",
				Name:   "shipping",
				Order:  2,
				Fields: []fields.Field{
					{Name: "cep", Label: "CEP", Type: fields.TypePostalCode, Required: true, Validation: "brazil_cep"},
					{Name: "address", Label: "주소", Type: fields.TypeText, Required: true},
				},
			},
			{
				StepID:     "s3",
				Name:       "payment",
				Order:      3,
				IsTerminal: true,
				Fields: []fields.Field{
					{
						Name:     "paymentType",
						Label:    "결제 수단",
						Type:     fields.TypeSelect,
						Required: true,
						Options:  []fields.Option{{Value: "pix", Text: "Pix"}, {Value: "card", Text: "Cartão"}},
					},
				},
			},
		},
	}
}

// WithCardStep returns Scenario with an extra optional cardNumber field in
// the payment step.
func WithCardStep(productKey string) *cpm.Model {
	m := Scenario(productKey)
	last := &m.Steps[len(m.Steps)-1]
	last.Fields = append(last.Fields, fields.Field{Name: "cardNumber", Label: "Número do cartão", Type: fields.TypeText})
	return m
}

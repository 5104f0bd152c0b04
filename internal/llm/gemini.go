package llm

import (
	"context"
	"fmt"
	"strings"

	genai "google.golang.org/genai"
)

// Gemini is a Client backed by the Gemini API.
type Gemini struct {
	cli   *genai.Client
	model string
}

func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if strings.TrimSpace(model) == "" {
		model = "gemini-2.5-flash"
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: gemini client: %w", err)
	}
	return &Gemini{cli: cli, model: model}, nil
}

func (g *Gemini) Name() string { return "gemini:" + g.model }

func (g *Gemini) Generate(ctx context.Context, system, user string) (string, error) {
	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: user}}}},
		&genai.GenerateContentConfig{SystemInstruction: systemContent(system)},
	)
	if err != nil {
		return "", err
	}
	text, ok := firstText(resp)
	if !ok {
		return "", fmt.Errorf("llm: empty response from %s", g.model)
	}
	return strings.TrimSpace(text), nil
}

func (g *Gemini) Extract(ctx context.Context, system, user string, schema Schema) (map[string]string, error) {
	props := make(map[string]*genai.Schema, len(schema.Fields))
	order := make([]string, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		props[f.Name] = &genai.Schema{Type: genai.TypeString, Description: f.Description}
		order = append(order, f.Name)
	}
	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: user}}}},
		&genai.GenerateContentConfig{
			SystemInstruction: systemContent(system),
			ResponseMIMEType:  "application/json",
			ResponseSchema: &genai.Schema{
				Type:             genai.TypeObject,
				Properties:       props,
				PropertyOrdering: order,
			},
		},
	)
	if err != nil {
		return nil, err
	}
	text, ok := firstText(resp)
	if !ok {
		return nil, ErrInvalidJSON
	}
	return DecodeObject([]byte(text), schema)
}

func systemContent(system string) *genai.Content {
	if strings.TrimSpace(system) == "" {
		return nil
	}
	return &genai.Content{Parts: []*genai.Part{{Text: system}}}
}

func firstText(resp *genai.GenerateContentResponse) (string, bool) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", false
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil {
			b.WriteString(p.Text)
		}
	}
	return b.String(), b.Len() > 0
}

package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Brief is a grounded generation request rendered as titled sections.
type Brief struct {
	Purpose     string
	Background  string
	Input       any
	Rules       []string
	Constraints []string
	Language    string
}

// Render returns the system and user prompts for s. The input is encoded
// as indented JSON in the user prompt.
func (s Brief) Render() (system, user string, err error) {
	if strings.TrimSpace(s.Purpose) == "" {
		return "", "", fmt.Errorf("prompt: purpose is empty")
	}
	input := "null"
	if s.Input != nil {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(s.Input); err != nil {
			return "", "", fmt.Errorf("prompt: encode input: %w", err)
		}
		input = strings.TrimSpace(buf.String())
	}

	var sys bytes.Buffer
	writeSection(&sys, "PURPOSE", s.Purpose)
	writeSection(&sys, "BACKGROUND", s.Background)
	writeSection(&sys, "RULES", formatList(s.Rules))
	writeSection(&sys, "CONSTRAINTS", formatList(s.Constraints))
	writeSection(&sys, "LANGUAGE", s.Language)

	var usr bytes.Buffer
	writeSection(&usr, "INPUT", input)

	return strings.TrimSpace(sys.String()) + "\n", strings.TrimSpace(usr.String()) + "\n", nil
}

func formatList(items []string) string {
	var buf strings.Builder
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			fmt.Fprintf(&buf, "- %s\n", item)
		}
	}
	return strings.TrimRight(buf.String(), "\n")
}

func writeSection(buf *bytes.Buffer, title, body string) {
	if strings.TrimSpace(body) == "" {
		return
	}
	fmt.Fprintf(buf, "[%s]\n%s\n\n", title, strings.TrimSpace(body))
}

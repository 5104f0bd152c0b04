package checkout

import (
	"github.com/imrishuroy/go-checkout-orchestrator/internal/cpm"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/fields"
)

// Progress is floor(100 * collected / total) over the required fields of
// the whole model. With includeOptional, optional visible fields count in
// both terms. A model without countable fields is complete.
func Progress(m *cpm.Model, collected map[string]string, includeOptional bool) int {
	var total, have int
	for _, f := range m.Fields() {
		if !f.Required && (!includeOptional || f.Type == fields.TypeHidden) {
			continue
		}
		total++
		if fields.IsCollected(collected, f.Name) {
			have++
		}
	}
	if total == 0 {
		return 100
	}
	return have * 100 / total
}

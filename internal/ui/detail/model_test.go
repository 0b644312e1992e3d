package detail

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nhle/inbox-sweep/internal/buffer"
	"github.com/nhle/inbox-sweep/internal/model"
	"github.com/nhle/inbox-sweep/internal/ui/window"
)

func TestViewEmpty(t *testing.T) {
	m := New(80, PanelHeight)
	assert.Contains(t, m.View(), "Nothing selected")
}

func TestViewClassifiedEntry(t *testing.T) {
	it := model.NormalizedItem{
		ID:          "a",
		FromAddress: "alerts@bank.example",
		FromName:    "Bank",
		FromDomain:  "bank.example",
		Unsubscribe: model.Unsubscribe{HTTPURL: "https://bank.example/u", OneClick: true},
	}
	e := window.Entry{
		Item: buffer.Item{Item: it, Count: 1, IDs: []string{"a"}},
		Result: model.ClassificationResult{
			Type:       model.TypeTransactional,
			Confidence: 0.4,
			Signals: []model.Signal{
				{Name: "unsubscribe", Score: 1, Weight: 0.25},
				{Name: "category", Score: 0, Weight: 0.2},
				{Name: "transactional_override", Score: 1, Weight: 1},
			},
			Verdict: model.Deny("banking domain"),
		},
		Classified: true,
	}

	m := New(120, PanelHeight)
	m.SetEntry(&e)
	out := m.View()
	for _, want := range []string{"Bank <alerts@bank.example>", "one-click", "transactional", "0.40", "protected: banking domain"} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "category")
}

func TestSignalSummaryOrder(t *testing.T) {
	got := signalSummary([]model.Signal{
		{Name: "low", Score: 0.5, Weight: 0.1},
		{Name: "high", Score: 1, Weight: 0.3},
	})
	assert.Equal(t, "high 1.00×0.30, low 0.50×0.10", got)
	assert.Equal(t, "none", signalSummary(nil))
}

func TestUnsubscribeSummary(t *testing.T) {
	assert.Equal(t, "none (block fallback)", unsubscribeSummary(model.Unsubscribe{}))
	assert.Equal(t, "link + mailto", unsubscribeSummary(model.Unsubscribe{HTTPURL: "https://x", Mailto: "mailto:a@x"}))
}

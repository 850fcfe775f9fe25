package matcher

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceRatio(t *testing.T) {
	assert.Equal(t, 1.0, SequenceRatio("Claude", "CLAUDE"))
	assert.InDelta(t, 0.4, SequenceRatio("claude", "Your Claude subscription"), 1e-9)
	assert.Equal(t, 0.0, SequenceRatio("", "claude"))
	assert.Less(t, SequenceRatio("claude", "anthropic"), 0.3)
}

func TestTokenJaccard(t *testing.T) {
	assert.InDelta(t, 1.0/3.0, TokenJaccard("claude", "Your Claude subscription"), 1e-9)
	assert.Equal(t, 1.0, TokenJaccard("Coffee Shop", "shop coffee"))
	assert.Equal(t, 0.0, TokenJaccard("", "anything"))
	assert.Equal(t, 0.0, TokenJaccard("alpha", "beta"))
}

func TestTextSimilarityTakesMaximum(t *testing.T) {
	// Reordered words share every token but differ as sequences.
	assert.Equal(t, 1.0, TextSimilarity("coffee shop", "shop coffee"))
	assert.InDelta(t, 0.4, TextSimilarity("claude", "your claude subscription"), 1e-9)
}

func TestExtractAmounts(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"dollar prefix", "Amount charged: $20.00", []string{"20"}},
		{"bare cents and thousands", "Subtotal 1,234.50 plus tax 12.34", []string{"1234.5", "12.34"}},
		{"euro with space", "Total € 45", []string{"45"}},
		{"ignores order numbers", "Order 100234 shipped in 2025", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractAmounts(tt.text)
			var strs []string
			for _, d := range got {
				strs = append(strs, d.String())
			}
			assert.Equal(t, tt.want, strs)
		})
	}
}

func TestClosestAmount(t *testing.T) {
	amounts := ExtractAmounts("Items $18.00, $21.50 and shipping $5.00")
	closest, ok := ClosestAmount(amounts, decimal.NewFromInt(20))
	require.True(t, ok)
	assert.Equal(t, "21.5", closest.String())

	_, ok = ClosestAmount(nil, decimal.NewFromInt(20))
	assert.False(t, ok)
}
